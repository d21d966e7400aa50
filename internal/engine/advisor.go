package engine

import (
	"fmt"
	"math"
	"sort"

	"mfcnet/internal/model"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var priorityRank = map[Priority]int{PriorityHigh: 3, PriorityMedium: 2, PriorityLow: 1}

// Recommendation advises a stock change; the caller applies it through its
// own stock-update path, the engine never mutates stock.
type Recommendation struct {
	FacilityID       string   `json:"facilityId"`
	ProductID        string   `json:"productId"`
	CurrentStock     int      `json:"currentStock"`
	RecommendedStock int      `json:"recommendedStock"`
	Reason           string   `json:"reason"`
	Priority         Priority `json:"priority"`
}

// Advise compares stock against thresholds and demand forecasts for every
// (facility, stock record) pair that has a matching product and a forecast
// keyed by (productId, district). Rules are checked in order and the first
// match wins:
//
//  1. below minThreshold            -> high, restock to optimal
//  2. below optimal (1.5x demand)   -> medium, restock to optimal
//  3. above 90% of maxCapacity      -> low, draw down to 70%
//
// Comparisons are strict on both boundaries. Output is sorted by priority
// descending; equal priorities keep generation order.
func (e *Engine) Advise(snap model.Snapshot) []Recommendation {
	idx := indexSnapshot(snap)

	recs := []Recommendation{}
	for _, f := range snap.Facilities {
		for _, inv := range snap.Stock {
			if inv.FacilityID != f.ID {
				continue
			}
			if _, ok := idx.products[inv.ProductID]; !ok {
				continue
			}
			fc, ok := idx.forecasts[forecastKey{inv.ProductID, f.District}]
			if !ok {
				continue
			}
			optimal := inv.MinThreshold
			if demand := int(math.Ceil(fc.PredictedDemand * 1.5)); demand > optimal {
				optimal = demand
			}
			switch {
			case inv.Quantity < inv.MinThreshold:
				recs = append(recs, Recommendation{
					FacilityID:       f.ID,
					ProductID:        inv.ProductID,
					CurrentStock:     inv.Quantity,
					RecommendedStock: optimal,
					Reason:           fmt.Sprintf("below minimum threshold (%d)", inv.MinThreshold),
					Priority:         PriorityHigh,
				})
			case inv.Quantity < optimal:
				recs = append(recs, Recommendation{
					FacilityID:       f.ID,
					ProductID:        inv.ProductID,
					CurrentStock:     inv.Quantity,
					RecommendedStock: optimal,
					Reason:           fmt.Sprintf("demand forecast exceeds current stock (%g/day)", fc.PredictedDemand),
					Priority:         PriorityMedium,
				})
			case float64(inv.Quantity) > float64(inv.MaxCapacity)*0.9:
				recs = append(recs, Recommendation{
					FacilityID:       f.ID,
					ProductID:        inv.ProductID,
					CurrentStock:     inv.Quantity,
					RecommendedStock: int(math.Ceil(float64(inv.MaxCapacity) * 0.7)),
					Reason:           "excess stock, consider transfer",
					Priority:         PriorityLow,
				})
			}
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return priorityRank[recs[i].Priority] > priorityRank[recs[j].Priority]
	})
	return recs
}
