// Package engine implements the delivery-allocation decision core: hard
// constraint screening, weighted multi-criteria facility scoring, agent
// selection, route priority, and the inventory rebalancing advisor. Every
// entry point is a pure function of the snapshot, the request and the seed;
// the engine holds no state across calls.
package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"mfcnet/internal/model"
)

// Engine evaluates allocation requests against a configured scoring policy.
type Engine struct {
	weights      Weights
	routeWeights RouteWeights
	costs        CostModel
}

func New(w Weights, rw RouteWeights, cm CostModel) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := rw.Validate(); err != nil {
		return nil, err
	}
	if err := cm.Validate(); err != nil {
		return nil, err
	}
	return &Engine{weights: w, routeWeights: rw, costs: cm}, nil
}

// Default returns an engine with the stock scoring policy.
func Default() *Engine {
	e, err := New(DefaultWeights(), DefaultRouteWeights(), DefaultCostModel())
	if err != nil {
		panic(err)
	}
	return e
}

// ErrNoAgentAvailable reports a facility whose agent set emptied between
// screening and selection. With a single consistent snapshot per call this
// cannot happen; it is kept terminal rather than silently defaulted.
var ErrNoAgentAvailable = errors.New("no agent available for selected facility")

// InvalidOrderError rejects a malformed order before any processing.
type InvalidOrderError struct {
	Detail string
}

func (e *InvalidOrderError) Error() string { return "invalid order: " + e.Detail }

// NoFeasibleFacilityError reports that every facility was eliminated. The
// trace is carried so callers can explain why.
type NoFeasibleFacilityError struct {
	Analysis []FacilityAnalysis
}

func (e *NoFeasibleFacilityError) Error() string {
	return fmt.Sprintf("no facility can fulfill this order (%d eliminated)", len(e.Analysis))
}

// AllocationResult is the immutable outcome of one allocation call.
type AllocationResult struct {
	FacilityID       string             `json:"facilityId"`
	AgentID          string             `json:"agentId"`
	OverallScore     float64            `json:"overallScore"`
	RoutePriority    float64            `json:"routePriority"`
	EstimatedMinutes float64            `json:"estimatedMinutes"`
	TotalCost        float64            `json:"totalCost"`
	Route            []model.GeoPoint   `json:"route"` // agent, facility, customer
	Analysis         []FacilityAnalysis `json:"analysis"`
	Seed             int64              `json:"seed"`
}

func validateOrder(req model.OrderRequest) error {
	if len(req.Items) == 0 {
		return &InvalidOrderError{Detail: "empty item list"}
	}
	for _, it := range req.Items {
		if it.ProductID == "" {
			return &InvalidOrderError{Detail: "item missing productId"}
		}
		if it.Quantity <= 0 {
			return &InvalidOrderError{Detail: fmt.Sprintf("quantity for %s must be > 0", it.ProductID)}
		}
	}
	return nil
}

// Allocate selects the facility and agent for one order. Facilities are
// evaluated in snapshot order and travel times draw from a seeded RNG, so
// identical snapshots and seeds yield identical results. seed == 0 derives
// the seed from the clock.
func (e *Engine) Allocate(snap model.Snapshot, req model.OrderRequest, seed int64) (AllocationResult, error) {
	if err := validateOrder(req); err != nil {
		return AllocationResult{}, err
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	idx := indexSnapshot(snap)

	analysis := make([]FacilityAnalysis, 0, len(snap.Facilities))
	bestIdx := -1
	for _, f := range snap.Facilities {
		entry := FacilityAnalysis{
			FacilityID: f.ID,
			DistanceKm: Distance(f.Location, req.Customer),
		}
		cand, elim := screenFacility(idx, f, req)
		if elim != nil {
			entry.Outcome = *elim
		} else {
			entry.Outcome = e.scoreFacility(rng, cand, req.Customer)
		}
		analysis = append(analysis, entry)
		if _, ok := entry.Outcome.(Scored); ok {
			if bestIdx < 0 || entry.overall() > analysis[bestIdx].overall() {
				bestIdx = len(analysis) - 1
			}
		}
	}

	// Trace sorted by overall descending; eliminated entries stay, at zero.
	sorted := append([]FacilityAnalysis(nil), analysis...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].overall() > sorted[j].overall() })

	if bestIdx < 0 {
		return AllocationResult{}, &NoFeasibleFacilityError{Analysis: sorted}
	}

	winner := analysis[bestIdx]
	scored := winner.Outcome.(Scored)
	agent, ok := idx.agents[scored.AgentID]
	if !ok {
		return AllocationResult{}, ErrNoAgentAvailable
	}
	var facility model.Facility
	for _, f := range snap.Facilities {
		if f.ID == winner.FacilityID {
			facility = f
			break
		}
	}

	return AllocationResult{
		FacilityID:       winner.FacilityID,
		AgentID:          agent.ID,
		OverallScore:     scored.Scores.Overall,
		RoutePriority:    e.routePriority(rng, agent, req.Customer),
		EstimatedMinutes: scored.EstimatedMinutes,
		TotalCost:        scored.TotalCost,
		Route:            []model.GeoPoint{agent.Location, facility.Location, req.Customer},
		Analysis:         sorted,
		Seed:             seed,
	}, nil
}
