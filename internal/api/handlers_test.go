package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mfcnet/internal/config"
	"mfcnet/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.DatabaseURL = ""
	cfg.RedisURL = ""
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

// seedNetwork loads one active facility with an in-range agent and stocked
// product, matching the happy path of the allocation flow.
func seedNetwork(t *testing.T, s *Server) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Store.UpsertFacilities(ctx, []model.Facility{{
		ID:              "f_a",
		Name:            "District 1 Hub",
		District:        "d1",
		Location:        model.GeoPoint{Lat: 10.776, Lng: 106.695},
		Capacity:        100,
		CurrentLoad:     10,
		Status:          model.FacilityActive,
		AvgDeliveryTime: 18,
		AgentIDs:        []string{"ag_a"},
	}})
	if err != nil {
		t.Fatalf("seed facilities: %v", err)
	}
	if _, err := s.Store.UpsertProducts(ctx, []model.Product{{ID: "p1", Name: "Rice 5kg", Price: 120000}}); err != nil {
		t.Fatalf("seed products: %v", err)
	}
	if _, err := s.Store.UpsertAgents(ctx, []model.Agent{{
		ID:               "ag_a",
		Location:         model.GeoPoint{Lat: 10.78, Lng: 106.70},
		Available:        true,
		Rating:           4.5,
		DeliveryRadiusKm: 10,
		VehicleClass:     "motorbike",
	}}); err != nil {
		t.Fatalf("seed agents: %v", err)
	}
	if _, err := s.Store.UpsertStock(ctx, []model.StockRecord{{
		FacilityID:   "f_a",
		ProductID:    "p1",
		Quantity:     25,
		MinThreshold: 30,
		MaxCapacity:  200,
	}}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	if _, err := s.Store.UpsertForecasts(ctx, []model.DemandForecast{{
		ProductID: "p1", District: "d1", PredictedDemand: 20,
	}}); err != nil {
		t.Fatalf("seed forecasts: %v", err)
	}
}

func TestHealthReadyVersion(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.VersionHandler(rr, httptest.NewRequest(http.MethodGet, "/version", nil))
	if rr.Code != 200 {
		t.Fatalf("version: got %d", rr.Code)
	}
}

func TestAllocateAndHistory(t *testing.T) {
	s := newTestServer(t)
	seedNetwork(t, s)

	body := []byte(`{"customerLat":10.77,"customerLng":106.70,"items":[{"productId":"p1","quantity":2}],"seed":7}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/allocate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.AllocateHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("allocate: got %d body %s", rr.Code, rr.Body.String())
	}
	var res struct {
		AllocationID string `json:"allocationId"`
		Result       struct {
			FacilityID string           `json:"facilityId"`
			AgentID    string           `json:"agentId"`
			Route      []model.GeoPoint `json:"route"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Result.FacilityID != "f_a" || res.Result.AgentID != "ag_a" {
		t.Fatalf("unexpected winner: %+v", res.Result)
	}
	if len(res.Result.Route) != 3 {
		t.Fatalf("route should have 3 waypoints, got %d", len(res.Result.Route))
	}

	// List
	rr = httptest.NewRecorder()
	s.AllocationsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/allocations?limit=5", nil))
	if rr.Code != 200 {
		t.Fatalf("list allocations: %d", rr.Code)
	}
	var list struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil || len(list.Items) != 1 {
		t.Fatalf("expected one history item, got %v (err %v)", list.Items, err)
	}

	// Get by id
	rr = httptest.NewRecorder()
	s.AllocationByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/allocations/"+res.AllocationID, nil))
	if rr.Code != 200 {
		t.Fatalf("get allocation: %d", rr.Code)
	}
}

func TestAllocateInvalidOrderIs400(t *testing.T) {
	s := newTestServer(t)
	seedNetwork(t, s)
	body := []byte(`{"customerLat":10.77,"customerLng":106.70,"items":[]}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/allocate", bytes.NewReader(body))
	s.AllocateHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty order: got %d", rr.Code)
	}
}

func TestAllocateOutOfRangeCoordinatesIs400(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"customerLat":123.0,"customerLng":106.70,"items":[{"productId":"p1","quantity":1}]}`)
	rr := httptest.NewRecorder()
	s.AllocateHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/allocate", bytes.NewReader(body)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad lat: got %d", rr.Code)
	}
}

func TestAllocateNoFeasibleIs422WithAnalysis(t *testing.T) {
	s := newTestServer(t)
	seedNetwork(t, s)
	// p1 has only 25 units; asking for 100 eliminates the single facility
	body := []byte(`{"customerLat":10.77,"customerLng":106.70,"items":[{"productId":"p1","quantity":100}],"seed":7}`)
	rr := httptest.NewRecorder()
	s.AllocateHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/allocate", bytes.NewReader(body)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("infeasible order: got %d body %s", rr.Code, rr.Body.String())
	}
	var prob struct {
		Analysis []struct {
			FacilityID        string `json:"facilityId"`
			EliminationReason string `json:"eliminationReason"`
		} `json:"analysis"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &prob); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if len(prob.Analysis) != 1 || prob.Analysis[0].EliminationReason != "INSUFFICIENT_STOCK" {
		t.Fatalf("expected INSUFFICIENT_STOCK trace, got %+v", prob.Analysis)
	}
}

func TestRecommendationsEndpoint(t *testing.T) {
	s := newTestServer(t)
	seedNetwork(t, s)
	rr := httptest.NewRecorder()
	s.RecommendationsHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/recommendations", nil))
	if rr.Code != 200 {
		t.Fatalf("recommendations: %d", rr.Code)
	}
	var res struct {
		Items []struct {
			FacilityID       string `json:"facilityId"`
			Priority         string `json:"priority"`
			RecommendedStock int    `json:"recommendedStock"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// quantity 25 < minThreshold 30 -> one high-priority restock to 30
	if len(res.Items) != 1 || res.Items[0].Priority != "high" || res.Items[0].RecommendedStock != 30 {
		t.Fatalf("unexpected recommendations: %+v", res.Items)
	}
}

func TestRestockAndTransfer(t *testing.T) {
	s := newTestServer(t)
	seedNetwork(t, s)
	ctx := context.Background()
	if _, err := s.Store.UpsertFacilities(ctx, []model.Facility{{
		ID: "f_b", District: "d2", Status: model.FacilityActive,
	}}); err != nil {
		t.Fatalf("seed f_b: %v", err)
	}
	if _, err := s.Store.UpsertStock(ctx, []model.StockRecord{{
		FacilityID: "f_b", ProductID: "p1", Quantity: 0, MinThreshold: 0, MaxCapacity: 100,
	}}); err != nil {
		t.Fatalf("seed f_b stock: %v", err)
	}

	// Restock adds to quantity
	rr := httptest.NewRecorder()
	body := []byte(`{"facilityId":"f_a","productId":"p1","quantity":10}`)
	s.RestockHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/stock/restock", bytes.NewReader(body)))
	if rr.Code != 200 {
		t.Fatalf("restock: %d body %s", rr.Code, rr.Body.String())
	}
	var rec model.StockRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil || rec.Quantity != 35 {
		t.Fatalf("restock result: %+v (err %v)", rec, err)
	}

	// Transfer more than available conflicts
	rr = httptest.NewRecorder()
	body = []byte(`{"fromFacilityId":"f_a","toFacilityId":"f_b","productId":"p1","quantity":1000}`)
	s.TransferHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/stock/transfer", bytes.NewReader(body)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("oversized transfer: got %d", rr.Code)
	}

	// Valid transfer moves stock
	rr = httptest.NewRecorder()
	body = []byte(`{"fromFacilityId":"f_a","toFacilityId":"f_b","productId":"p1","quantity":5}`)
	s.TransferHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/stock/transfer", bytes.NewReader(body)))
	if rr.Code != 200 {
		t.Fatalf("transfer: %d body %s", rr.Code, rr.Body.String())
	}
	stock, err := s.Store.ListStock(ctx, "f_b")
	if err != nil || len(stock) != 1 || stock[0].Quantity != 5 {
		t.Fatalf("destination stock after transfer: %+v (err %v)", stock, err)
	}
}

func TestAllocateEnqueuesWebhook(t *testing.T) {
	s := newTestServer(t)
	seedNetwork(t, s)

	subBody := []byte(`{"url":"https://example.invalid/webhook","events":["allocation.completed"],"secret":"shh"}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader(subBody))
	req.Header.Set("Content-Type", "application/json")
	s.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create sub: %d", rr.Code)
	}

	body := []byte(`{"customerLat":10.77,"customerLng":106.70,"items":[{"productId":"p1","quantity":2}],"seed":7}`)
	rr = httptest.NewRecorder()
	s.AllocateHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/allocate", bytes.NewReader(body)))
	if rr.Code != 200 {
		t.Fatalf("allocate: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.WebhookDeliveriesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/webhook-deliveries?limit=5", nil))
	if rr.Code != 200 {
		t.Fatalf("deliveries: %d", rr.Code)
	}
	var dres struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &dres); err != nil {
		t.Fatalf("decode deliveries: %v", err)
	}
	if len(dres.Items) == 0 {
		t.Fatalf("expected at least one delivery")
	}
	if et, _ := dres.Items[0]["eventType"].(string); et != "allocation.completed" {
		t.Fatalf("eventType: got %q", et)
	}
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}
func (r *sseRecorder) WriteHeader(c int)           { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { return r.buf.Write(p) }
func (r *sseRecorder) Flush()                      {}

func TestAllocationStreamSSE(t *testing.T) {
	s := newTestServer(t)

	sseReq := httptest.NewRequest(http.MethodGet, "/v1/allocations/stream", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sseReq = sseReq.WithContext(ctx)

	rec := &sseRecorder{}
	done := make(chan struct{})
	go func() {
		s.AllocationStreamHandler(rec, sseReq)
		close(done)
	}()

	// Give handler time to subscribe and send heartbeat
	time.Sleep(50 * time.Millisecond)
	s.Broker.Publish(topicAllocations, SSEEvent{Type: "allocation.completed", Data: map[string]any{"facilityId": "f_a"}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if bytes.Contains(rec.buf.Bytes(), []byte("event: allocation.completed")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !bytes.Contains(rec.buf.Bytes(), []byte("event: allocation.completed")) {
		t.Fatalf("SSE did not contain expected event. Body: %s", rec.buf.String())
	}
	cancel()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("handler did not exit after cancel")
	}
}
