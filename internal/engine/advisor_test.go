package engine

import (
	"testing"

	"mfcnet/internal/model"
)

func advisorSnapshot(stock []model.StockRecord, forecasts []model.DemandForecast) model.Snapshot {
	return model.Snapshot{
		Facilities: []model.Facility{
			{ID: "f_a", District: "d1", Status: model.FacilityActive},
			{ID: "f_b", District: "d2", Status: model.FacilityActive},
		},
		Products:  []model.Product{{ID: "p1"}, {ID: "p2"}},
		Stock:     stock,
		Forecasts: forecasts,
	}
}

func TestAdviseBelowThresholdIsHigh(t *testing.T) {
	// minThreshold=30, quantity=25, demand=20 -> high, recommend max(30, ceil(30))=30
	snap := advisorSnapshot(
		[]model.StockRecord{{FacilityID: "f_a", ProductID: "p1", Quantity: 25, MinThreshold: 30, MaxCapacity: 200}},
		[]model.DemandForecast{{ProductID: "p1", District: "d1", PredictedDemand: 20}},
	)
	recs := Default().Advise(snap)
	if len(recs) != 1 {
		t.Fatalf("got %d recommendations, want 1", len(recs))
	}
	r := recs[0]
	if r.Priority != PriorityHigh || r.RecommendedStock != 30 {
		t.Fatalf("got %+v, want high priority and recommendation of 30", r)
	}
}

func TestAdviseDemandExceedsStockIsMedium(t *testing.T) {
	// quantity above threshold but below 1.5x demand
	snap := advisorSnapshot(
		[]model.StockRecord{{FacilityID: "f_a", ProductID: "p1", Quantity: 20, MinThreshold: 10, MaxCapacity: 200}},
		[]model.DemandForecast{{ProductID: "p1", District: "d1", PredictedDemand: 20}},
	)
	recs := Default().Advise(snap)
	if len(recs) != 1 || recs[0].Priority != PriorityMedium || recs[0].RecommendedStock != 30 {
		t.Fatalf("got %+v, want one medium recommendation of 30", recs)
	}
}

func TestAdviseExcessStockIsLow(t *testing.T) {
	// quantity=95 > 90% of maxCapacity=100 -> low, recommend ceil(70)=70
	snap := advisorSnapshot(
		[]model.StockRecord{{FacilityID: "f_a", ProductID: "p1", Quantity: 95, MinThreshold: 10, MaxCapacity: 100}},
		[]model.DemandForecast{{ProductID: "p1", District: "d1", PredictedDemand: 10}},
	)
	recs := Default().Advise(snap)
	if len(recs) != 1 || recs[0].Priority != PriorityLow || recs[0].RecommendedStock != 70 {
		t.Fatalf("got %+v, want one low recommendation of 70", recs)
	}
}

func TestAdviseBoundariesAreStrict(t *testing.T) {
	// quantity == minThreshold must not be high; quantity == 0.9*maxCapacity
	// must not be low
	snap := advisorSnapshot(
		[]model.StockRecord{
			{FacilityID: "f_a", ProductID: "p1", Quantity: 30, MinThreshold: 30, MaxCapacity: 200},
			{FacilityID: "f_a", ProductID: "p2", Quantity: 90, MinThreshold: 10, MaxCapacity: 100},
		},
		[]model.DemandForecast{
			{ProductID: "p1", District: "d1", PredictedDemand: 20},
			{ProductID: "p2", District: "d1", PredictedDemand: 10},
		},
	)
	if recs := Default().Advise(snap); len(recs) != 0 {
		t.Fatalf("boundary quantities produced %+v, want none", recs)
	}
}

func TestAdviseRequiresForecastMatch(t *testing.T) {
	// forecast keyed to another district, and a record without a product row
	snap := advisorSnapshot(
		[]model.StockRecord{
			{FacilityID: "f_a", ProductID: "p1", Quantity: 1, MinThreshold: 30, MaxCapacity: 200},
			{FacilityID: "f_a", ProductID: "p_unknown", Quantity: 1, MinThreshold: 30, MaxCapacity: 200},
		},
		[]model.DemandForecast{
			{ProductID: "p1", District: "d2", PredictedDemand: 20},
			{ProductID: "p_unknown", District: "d1", PredictedDemand: 20},
		},
	)
	if recs := Default().Advise(snap); len(recs) != 0 {
		t.Fatalf("unmatched joins produced %+v, want none", recs)
	}
}

func TestAdvisePrioritySortIsStable(t *testing.T) {
	snap := advisorSnapshot(
		[]model.StockRecord{
			{FacilityID: "f_a", ProductID: "p1", Quantity: 95, MinThreshold: 10, MaxCapacity: 100}, // low
			{FacilityID: "f_a", ProductID: "p2", Quantity: 5, MinThreshold: 30, MaxCapacity: 200},  // high
			{FacilityID: "f_b", ProductID: "p1", Quantity: 2, MinThreshold: 30, MaxCapacity: 200},  // high
			{FacilityID: "f_b", ProductID: "p2", Quantity: 20, MinThreshold: 10, MaxCapacity: 200}, // medium
		},
		[]model.DemandForecast{
			{ProductID: "p1", District: "d1", PredictedDemand: 10},
			{ProductID: "p2", District: "d1", PredictedDemand: 10},
			{ProductID: "p1", District: "d2", PredictedDemand: 10},
			{ProductID: "p2", District: "d2", PredictedDemand: 20},
		},
	)
	recs := Default().Advise(snap)
	if len(recs) != 4 {
		t.Fatalf("got %d recommendations, want 4", len(recs))
	}
	wantOrder := []struct {
		facility string
		product  string
		priority Priority
	}{
		{"f_a", "p2", PriorityHigh},
		{"f_b", "p1", PriorityHigh},
		{"f_b", "p2", PriorityMedium},
		{"f_a", "p1", PriorityLow},
	}
	for i, w := range wantOrder {
		r := recs[i]
		if r.FacilityID != w.facility || r.ProductID != w.product || r.Priority != w.priority {
			t.Fatalf("position %d: got %s/%s/%s, want %s/%s/%s",
				i, r.FacilityID, r.ProductID, r.Priority, w.facility, w.product, w.priority)
		}
	}
}
