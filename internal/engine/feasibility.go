package engine

import (
	"encoding/json"
	"math"

	"mfcnet/internal/model"
)

type EliminationReason string

const (
	ReasonFacilityOffline   EliminationReason = "FACILITY_OFFLINE"
	ReasonInsufficientStock EliminationReason = "INSUFFICIENT_STOCK"
	ReasonNoAgentInRadius   EliminationReason = "NO_AGENT_IN_RADIUS"
)

// Outcome is the tagged per-facility result: either Scored or Eliminated.
// Callers switch on the concrete type; there is no half-filled record.
type Outcome interface {
	isOutcome()
}

type Eliminated struct {
	Reason EliminationReason `json:"reason"`
}

type Scored struct {
	Scores           ScoreBreakdown `json:"scores"`
	AgentID          string         `json:"agentId"`
	EstimatedMinutes float64        `json:"estimatedMinutes"`
	TotalCost        float64        `json:"totalCost"`
	CandidateAgents  int            `json:"candidateAgents"`
}

func (Eliminated) isOutcome() {}
func (Scored) isOutcome()     {}

// FacilityAnalysis is one entry of the explainability trace.
type FacilityAnalysis struct {
	FacilityID string
	DistanceKm float64 // facility to customer
	Outcome    Outcome
}

func (a FacilityAnalysis) overall() float64 {
	if s, ok := a.Outcome.(Scored); ok {
		return s.Scores.Overall
	}
	return 0
}

// MarshalJSON flattens the tagged outcome into the wire shape the
// explainability panels consume.
func (a FacilityAnalysis) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"facilityId": a.FacilityID,
		"distanceKm": a.DistanceKm,
	}
	switch o := a.Outcome.(type) {
	case Scored:
		out["scores"] = o.Scores
		out["agentId"] = o.AgentID
		out["estimatedMinutes"] = o.EstimatedMinutes
		out["totalCost"] = o.TotalCost
		out["candidateAgents"] = o.CandidateAgents
	case Eliminated:
		out["eliminationReason"] = o.Reason
	}
	return json.Marshal(out)
}

// snapshotIndex resolves the facility/stock/product/forecast joins once per
// call instead of repeated linear scans.
type snapshotIndex struct {
	stock     map[string]map[string]model.StockRecord // facilityID -> productID
	agents    map[string]model.Agent
	products  map[string]model.Product
	forecasts map[forecastKey]model.DemandForecast
}

type forecastKey struct {
	productID string
	district  string
}

func indexSnapshot(snap model.Snapshot) *snapshotIndex {
	idx := &snapshotIndex{
		stock:     make(map[string]map[string]model.StockRecord, len(snap.Facilities)),
		agents:    make(map[string]model.Agent, len(snap.Agents)),
		products:  make(map[string]model.Product, len(snap.Products)),
		forecasts: make(map[forecastKey]model.DemandForecast, len(snap.Forecasts)),
	}
	for _, r := range snap.Stock {
		m := idx.stock[r.FacilityID]
		if m == nil {
			m = map[string]model.StockRecord{}
			idx.stock[r.FacilityID] = m
		}
		m[r.ProductID] = r
	}
	for _, a := range snap.Agents {
		idx.agents[a.ID] = a
	}
	for _, p := range snap.Products {
		idx.products[p.ID] = p
	}
	for _, f := range snap.Forecasts {
		idx.forecasts[forecastKey{f.ProductID, f.District}] = f
	}
	return idx
}

// candidate is a facility that passed every hard constraint, carrying the
// filtered agent set (input order preserved) and its informational stock
// level for scoring.
type candidate struct {
	facility   model.Facility
	agents     []model.Agent
	stockLevel float64
}

// screenFacility applies the hard constraints in fixed order: operational
// status, then stock sufficiency, then agent coverage. The first failing
// check is the eliminating reason.
func screenFacility(idx *snapshotIndex, f model.Facility, req model.OrderRequest) (candidate, *Eliminated) {
	if f.Status != model.FacilityActive {
		return candidate{}, &Eliminated{Reason: ReasonFacilityOffline}
	}

	totalAvailable, totalRequired := 0, 0
	sufficient := true
	byProduct := idx.stock[f.ID]
	for _, item := range req.Items {
		rec, ok := byProduct[item.ProductID]
		avail := 0
		if ok {
			avail = rec.Quantity
		}
		totalAvailable += avail
		totalRequired += item.Quantity
		if avail < item.Quantity {
			sufficient = false
		}
	}
	if !sufficient {
		return candidate{}, &Eliminated{Reason: ReasonInsufficientStock}
	}
	stockLevel := 10.0
	if totalRequired > 0 {
		stockLevel = math.Min(10, float64(totalAvailable)/float64(totalRequired))
	}

	var agents []model.Agent
	for _, id := range f.AgentIDs {
		a, ok := idx.agents[id]
		if !ok || !a.Available {
			continue
		}
		if Distance(a.Location, req.Customer) <= a.DeliveryRadiusKm {
			agents = append(agents, a)
		}
	}
	if len(agents) == 0 {
		return candidate{}, &Eliminated{Reason: ReasonNoAgentInRadius}
	}

	return candidate{facility: f, agents: agents, stockLevel: stockLevel}, nil
}
