package engine

import (
	"testing"

	"mfcnet/internal/model"
)

func TestScreenInsufficientStock(t *testing.T) {
	snap := testSnapshot()
	snap.Stock[0].Quantity = 5 // f_a holds 5, order wants 10
	idx := indexSnapshot(snap)
	_, elim := screenFacility(idx, snap.Facilities[0], testOrder(10))
	if elim == nil || elim.Reason != ReasonInsufficientStock {
		t.Fatalf("got %+v, want INSUFFICIENT_STOCK", elim)
	}
}

func TestScreenNoAgentInRadius(t *testing.T) {
	snap := testSnapshot()
	// sufficient stock but the only agent is out of range
	snap.Agents[0].DeliveryRadiusKm = 0.1
	idx := indexSnapshot(snap)
	_, elim := screenFacility(idx, snap.Facilities[0], testOrder(10))
	if elim == nil || elim.Reason != ReasonNoAgentInRadius {
		t.Fatalf("got %+v, want NO_AGENT_IN_RADIUS", elim)
	}

	// unavailable agents are excluded even when in range
	snap = testSnapshot()
	snap.Agents[0].Available = false
	idx = indexSnapshot(snap)
	_, elim = screenFacility(idx, snap.Facilities[0], testOrder(10))
	if elim == nil || elim.Reason != ReasonNoAgentInRadius {
		t.Fatalf("got %+v, want NO_AGENT_IN_RADIUS", elim)
	}
}

func TestScreenStockBeatsAgentCoverage(t *testing.T) {
	// when both checks would fail, stock is the reported reason
	snap := testSnapshot()
	snap.Stock[0].Quantity = 0
	snap.Agents[0].Available = false
	idx := indexSnapshot(snap)
	_, elim := screenFacility(idx, snap.Facilities[0], testOrder(10))
	if elim == nil || elim.Reason != ReasonInsufficientStock {
		t.Fatalf("got %+v, want INSUFFICIENT_STOCK to take priority", elim)
	}
}

func TestScreenOfflineFacility(t *testing.T) {
	snap := testSnapshot()
	snap.Facilities[0].Status = model.FacilityMaintenance
	idx := indexSnapshot(snap)
	_, elim := screenFacility(idx, snap.Facilities[0], testOrder(10))
	if elim == nil || elim.Reason != ReasonFacilityOffline {
		t.Fatalf("got %+v, want FACILITY_OFFLINE", elim)
	}
}

func TestScreenStockLevelCapped(t *testing.T) {
	snap := testSnapshot()
	snap.Stock[0].Quantity = 5000
	idx := indexSnapshot(snap)
	cand, elim := screenFacility(idx, snap.Facilities[0], testOrder(10))
	if elim != nil {
		t.Fatalf("unexpected elimination: %+v", elim)
	}
	if cand.stockLevel != 10 {
		t.Fatalf("stock level %v, want cap of 10", cand.stockLevel)
	}
}

func TestScreenKeepsAgentInputOrder(t *testing.T) {
	snap := testSnapshot()
	extra := snap.Agents[0]
	extra.ID = "ag_c"
	snap.Agents = append(snap.Agents, extra)
	snap.Facilities[0].AgentIDs = []string{"ag_a", "ag_c"}
	idx := indexSnapshot(snap)
	cand, elim := screenFacility(idx, snap.Facilities[0], testOrder(10))
	if elim != nil {
		t.Fatalf("unexpected elimination: %+v", elim)
	}
	if len(cand.agents) != 2 || cand.agents[0].ID != "ag_a" || cand.agents[1].ID != "ag_c" {
		t.Fatalf("agent order not preserved: %+v", cand.agents)
	}
}
