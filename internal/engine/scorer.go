package engine

import (
	"fmt"
	"math"
	"math/rand"

	"mfcnet/internal/model"
)

// Weights blends the four facility sub-scores into the overall score.
// The coefficients must sum to 1.
type Weights struct {
	ETA         float64 `json:"eta" yaml:"eta"`
	Cost        float64 `json:"cost" yaml:"cost"`
	Inventory   float64 `json:"inventory" yaml:"inventory"`
	LoadBalance float64 `json:"loadBalance" yaml:"loadBalance"`
}

func DefaultWeights() Weights {
	return Weights{ETA: 0.4, Cost: 0.3, Inventory: 0.2, LoadBalance: 0.1}
}

func (w Weights) Validate() error {
	for _, v := range []float64{w.ETA, w.Cost, w.Inventory, w.LoadBalance} {
		if v < 0 {
			return fmt.Errorf("facility weights must be >= 0")
		}
	}
	if s := w.ETA + w.Cost + w.Inventory + w.LoadBalance; math.Abs(s-1) > 1e-9 {
		return fmt.Errorf("facility weights must sum to 1, got %v", s)
	}
	return nil
}

// RouteWeights blends the route-priority sub-scores. AgentLoad measures the
// agent's assigned order count, deliberately distinct from the facility
// LoadBalance sub-score which measures capacity utilization.
type RouteWeights struct {
	ETA       float64 `json:"eta" yaml:"eta"`
	Cost      float64 `json:"cost" yaml:"cost"`
	AgentLoad float64 `json:"agentLoad" yaml:"agentLoad"`
}

func DefaultRouteWeights() RouteWeights {
	return RouteWeights{ETA: 0.4, Cost: 0.3, AgentLoad: 0.3}
}

func (w RouteWeights) Validate() error {
	for _, v := range []float64{w.ETA, w.Cost, w.AgentLoad} {
		if v < 0 {
			return fmt.Errorf("route weights must be >= 0")
		}
	}
	if s := w.ETA + w.Cost + w.AgentLoad; math.Abs(s-1) > 1e-9 {
		return fmt.Errorf("route weights must sum to 1, got %v", s)
	}
	return nil
}

// CostModel holds the delivery cost constants, in currency units.
type CostModel struct {
	FuelRatePerKm    float64 `json:"fuelRatePerKm" yaml:"fuelRatePerKm"`
	RatingCostFactor float64 `json:"ratingCostFactor" yaml:"ratingCostFactor"`
	// CostScale is the cost at which the cost score bottoms out over
	// five score steps (score = 100 - cost/scale*20).
	CostScale float64 `json:"costScale" yaml:"costScale"`
}

func DefaultCostModel() CostModel {
	return CostModel{FuelRatePerKm: 2000, RatingCostFactor: 10000, CostScale: 50000}
}

func (c CostModel) Validate() error {
	if c.FuelRatePerKm <= 0 || c.RatingCostFactor < 0 || c.CostScale <= 0 {
		return fmt.Errorf("cost model constants must be positive")
	}
	return nil
}

// ScoreBreakdown carries the clamped sub-scores and weighted overall score
// for one feasible facility.
type ScoreBreakdown struct {
	ETA         float64 `json:"eta"`
	Cost        float64 `json:"cost"`
	Inventory   float64 `json:"inventory"`
	LoadBalance float64 `json:"loadBalance"`
	Overall     float64 `json:"overall"`
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// scoreFacility scores one feasibility-passing candidate. The best agent is
// chosen here and attached to the record; route scoring reuses it later.
func (e *Engine) scoreFacility(rng *rand.Rand, c candidate, customer model.GeoPoint) Scored {
	agent, _ := SelectAgent(c.agents, customer)

	pickupMin := TravelTime(rng, Distance(agent.Location, c.facility.Location), agent.VehicleClass)
	dropoffMin := TravelTime(rng, Distance(c.facility.Location, customer), agent.VehicleClass)
	totalMin := pickupMin + c.facility.AvgDeliveryTime + dropoffMin
	etaScore := clampScore(100 - totalMin/60*20)

	totalCost := Distance(c.facility.Location, customer)*e.costs.FuelRatePerKm + agent.Rating*e.costs.RatingCostFactor
	costScore := clampScore(100 - totalCost/e.costs.CostScale*20)

	inventoryScore := clampScore(math.Min(100, c.stockLevel*20))

	loadPct := 50.0
	if c.facility.Capacity > 0 {
		loadPct = float64(c.facility.CurrentLoad) / float64(c.facility.Capacity) * 100
	}
	loadScore := clampScore(100 - loadPct)

	overall := e.weights.ETA*etaScore + e.weights.Cost*costScore +
		e.weights.Inventory*inventoryScore + e.weights.LoadBalance*loadScore

	return Scored{
		Scores: ScoreBreakdown{
			ETA:         etaScore,
			Cost:        costScore,
			Inventory:   inventoryScore,
			LoadBalance: loadScore,
			Overall:     overall,
		},
		AgentID:          agent.ID,
		EstimatedMinutes: totalMin,
		TotalCost:        totalCost,
		CandidateAgents:  len(c.agents),
	}
}
