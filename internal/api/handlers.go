package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mfcnet/internal/buildinfo"
	"mfcnet/internal/engine"
	"mfcnet/internal/metrics"
	"mfcnet/internal/model"
	"mfcnet/internal/store"
	"mfcnet/internal/webhooks"

	"github.com/google/uuid"
)

// AllocateHandler handles POST /v1/allocate
func (s *Server) AllocateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateAllocateRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid allocate request", err.Error(), r.URL.Path)
		return
	}

	snap, err := s.Store.Snapshot(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Snapshot failed", err.Error(), r.URL.Path)
		return
	}

	start := time.Now()
	result, err := s.Engine.Allocate(snap, req.order(), req.Seed)
	metrics.AllocationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var inv *engine.InvalidOrderError
		var nof *engine.NoFeasibleFacilityError
		switch {
		case errors.As(err, &inv):
			metrics.Allocations.WithLabelValues("invalid_order").Inc()
			writeProblem(w, http.StatusBadRequest, "Invalid order", inv.Detail, r.URL.Path)
		case errors.As(err, &nof):
			metrics.Allocations.WithLabelValues("no_feasible_facility").Inc()
			countEliminations(nof.Analysis)
			writeJSON(w, http.StatusUnprocessableEntity, Problem{
				Type:     "about:blank",
				Title:    "No feasible facility",
				Status:   http.StatusUnprocessableEntity,
				Detail:   err.Error(),
				Instance: r.URL.Path,
				Analysis: nof.Analysis,
			})
			s.Pub.Emit(r.Context(), webhooks.EventAllocationRejected, map[string]any{
				"reason": "no_feasible_facility", "analysis": nof.Analysis,
			})
		case errors.Is(err, engine.ErrNoAgentAvailable):
			metrics.Allocations.WithLabelValues("no_agent_available").Inc()
			writeProblem(w, http.StatusUnprocessableEntity, "No agent available", err.Error(), r.URL.Path)
		default:
			writeProblem(w, http.StatusInternalServerError, "Allocation failed", err.Error(), r.URL.Path)
		}
		return
	}
	metrics.Allocations.WithLabelValues("allocated").Inc()
	countEliminations(result.Analysis)

	rec := store.AllocationRecord{
		ID:        "alc_" + uuid.New().String()[:8],
		CreatedAt: time.Now().UTC(),
		Request:   req.order(),
		Result:    result,
	}
	if err := s.Store.SaveAllocation(r.Context(), rec); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save allocation failed", err.Error(), r.URL.Path)
		return
	}

	data := map[string]any{
		"allocationId":     rec.ID,
		"facilityId":       result.FacilityID,
		"agentId":          result.AgentID,
		"overallScore":     result.OverallScore,
		"estimatedMinutes": result.EstimatedMinutes,
	}
	s.Broker.Publish(topicAllocations, SSEEvent{Type: webhooks.EventAllocationCompleted, Data: data})
	s.Pub.Emit(r.Context(), webhooks.EventAllocationCompleted, data)

	writeJSON(w, http.StatusOK, map[string]any{"allocationId": rec.ID, "result": result})
}

func countEliminations(analysis []engine.FacilityAnalysis) {
	for _, a := range analysis {
		if e, ok := a.Outcome.(engine.Eliminated); ok {
			metrics.Eliminations.WithLabelValues(string(e.Reason)).Inc()
		}
	}
}

// AllocationsHandler handles GET /v1/allocations
func (s *Server) AllocationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cursor := r.URL.Query().Get("cursor")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListAllocations(r.Context(), cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List allocations failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// AllocationByIDHandler handles GET /v1/allocations/{id}
func (s *Server) AllocationByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/allocations/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.Store.GetAllocation(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Allocation not found", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AllocationStreamHandler handles GET /v1/allocations/stream (SSE)
func (s *Server) AllocationStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(topicAllocations)
	defer s.Broker.Unsubscribe(topicAllocations, ch)
	// initial heartbeat
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"ts\":\"%s\"}\n\n", time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"ts\":\"%s\"}\n\n", time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// RecommendationsHandler handles POST /v1/recommendations
func (s *Server) RecommendationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap, err := s.Store.Snapshot(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Snapshot failed", err.Error(), r.URL.Path)
		return
	}
	recs := s.Engine.Advise(snap)
	for _, rec := range recs {
		metrics.Recommendations.WithLabelValues(string(rec.Priority)).Inc()
	}
	if len(recs) > 0 {
		s.Pub.Emit(r.Context(), webhooks.EventStockRecommendation, map[string]any{
			"count": len(recs), "recommendations": recs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}

// FacilitiesHandler handles GET/POST /v1/facilities
func (s *Server) FacilitiesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Facilities []model.Facility `json:"facilities"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		n, err := s.Store.UpsertFacilities(r.Context(), req.Facilities)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Upsert facilities failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"upserted": n})
	case http.MethodGet:
		items, err := s.Store.ListFacilities(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List facilities failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// FacilityByIDHandler handles GET /v1/facilities/{id}
func (s *Server) FacilityByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/facilities/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	f, err := s.Store.GetFacility(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Facility not found", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// ProductsHandler handles GET/POST /v1/products
func (s *Server) ProductsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Products []model.Product `json:"products"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		n, err := s.Store.UpsertProducts(r.Context(), req.Products)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Upsert products failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"upserted": n})
	case http.MethodGet:
		items, err := s.Store.ListProducts(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List products failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// AgentsHandler handles GET/POST /v1/agents
func (s *Server) AgentsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Agents []model.Agent `json:"agents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		n, err := s.Store.UpsertAgents(r.Context(), req.Agents)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Upsert agents failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"upserted": n})
	case http.MethodGet:
		items, err := s.Store.ListAgents(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List agents failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// AgentByIDHandler handles POST /v1/agents/{id}/availability
func (s *Server) AgentByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "availability" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	a, err := s.Store.SetAgentAvailability(r.Context(), parts[0], req.Available)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Agent not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Update agent failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// StockHandler handles GET/POST /v1/stock
func (s *Server) StockHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Stock []model.StockRecord `json:"stock"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		n, err := s.Store.UpsertStock(r.Context(), req.Stock)
		if err != nil {
			if errors.Is(err, store.ErrInvariant) {
				writeProblem(w, http.StatusUnprocessableEntity, "Stock invariant violation", err.Error(), r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Upsert stock failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"upserted": n})
	case http.MethodGet:
		items, err := s.Store.ListStock(r.Context(), r.URL.Query().Get("facilityId"))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List stock failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RestockHandler handles POST /v1/stock/restock
func (s *Server) RestockHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req stockOpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateRestock(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid restock request", err.Error(), r.URL.Path)
		return
	}
	rec, err := s.Store.Restock(r.Context(), req.FacilityID, req.ProductID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeProblem(w, http.StatusNotFound, "Stock record not found", "", r.URL.Path)
		case errors.Is(err, store.ErrInvariant):
			writeProblem(w, http.StatusConflict, "Stock invariant violation", "quantity cannot go negative", r.URL.Path)
		default:
			writeProblem(w, http.StatusInternalServerError, "Restock failed", err.Error(), r.URL.Path)
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// TransferHandler handles POST /v1/stock/transfer
func (s *Server) TransferHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req stockOpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateTransfer(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid transfer request", err.Error(), r.URL.Path)
		return
	}
	err := s.Store.Transfer(r.Context(), req.FromFacilityID, req.ToFacilityID, req.ProductID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeProblem(w, http.StatusNotFound, "Stock record not found", "", r.URL.Path)
		case errors.Is(err, store.ErrInvariant):
			writeProblem(w, http.StatusConflict, "Stock invariant violation", "insufficient stock at source", r.URL.Path)
		default:
			writeProblem(w, http.StatusInternalServerError, "Transfer failed", err.Error(), r.URL.Path)
		}
		return
	}
	s.Pub.Emit(r.Context(), webhooks.EventStockTransferred, map[string]any{
		"fromFacilityId": req.FromFacilityID,
		"toFacilityId":   req.ToFacilityID,
		"productId":      req.ProductID,
		"quantity":       req.Quantity,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ForecastsHandler handles GET/POST /v1/forecasts
func (s *Server) ForecastsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Forecasts []model.DemandForecast `json:"forecasts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		n, err := s.Store.UpsertForecasts(r.Context(), req.Forecasts)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Upsert forecasts failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"upserted": n})
	case http.MethodGet:
		items, err := s.Store.ListForecasts(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List forecasts failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateSubscription(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		items, err := s.Store.ListSubscriptions(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Subscription not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-deliveries" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := r.URL.Query().Get("status")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, err := s.Store.ListWebhookDeliveries(r.Context(), status, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	if err := s.Store.RetryWebhookDelivery(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Delivery not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Retry delivery failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using the Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info())
}
