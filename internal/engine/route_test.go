package engine

import (
	"math/rand"
	"testing"

	"mfcnet/internal/model"
)

func TestRoutePriorityRange(t *testing.T) {
	e := Default()
	agent := model.Agent{
		ID:       "ag",
		Location: model.GeoPoint{Lat: 10.772, Lng: 106.698},
		Rating:   4.5, VehicleClass: "motorbike",
	}
	p := e.routePriority(rand.New(rand.NewSource(11)), agent, testCustomer)
	if p < 0 || p > 100 {
		t.Fatalf("route priority %v outside [0,100]", p)
	}
}

func TestRoutePriorityAgentLoadDecay(t *testing.T) {
	e, err := New(DefaultWeights(), RouteWeights{AgentLoad: 1}, DefaultCostModel())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	at := func(orders int) float64 {
		agent := model.Agent{Location: testCustomer, AssignedOrderIDs: make([]string, orders)}
		return e.routePriority(rand.New(rand.NewSource(1)), agent, testCustomer)
	}
	// pure agent-load weighting: 25 points per assigned order, floor at 0
	for orders, want := range map[int]float64{0: 100, 1: 75, 2: 50, 4: 0, 6: 0} {
		if got := at(orders); got != want {
			t.Fatalf("%d assigned orders: priority %v, want %v", orders, got, want)
		}
	}
}

func TestRoutePriorityDoesNotAffectSelection(t *testing.T) {
	// two engines differing only in route weights choose the same facility
	a := Default()
	b, err := New(DefaultWeights(), RouteWeights{ETA: 1}, DefaultCostModel())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ra, err := a.Allocate(testSnapshot(), testOrder(10), 77)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	rb, err := b.Allocate(testSnapshot(), testOrder(10), 77)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if ra.FacilityID != rb.FacilityID || ra.AgentID != rb.AgentID {
		t.Fatal("route weights leaked into facility/agent selection")
	}
	if ra.OverallScore != rb.OverallScore {
		t.Fatal("route weights changed the overall facility score")
	}
}
