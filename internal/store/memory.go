package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mfcnet/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is configured.
// Insertion order is preserved so snapshots (and therefore allocations under
// a fixed seed) are deterministic.
type Memory struct {
	mu         sync.Mutex
	facilities []model.Facility
	products   []model.Product
	agents     []model.Agent
	stock      []model.StockRecord
	forecasts  []model.DemandForecast

	allocations   map[string]AllocationRecord
	allocationIDs []string // newest first

	subs       []model.Subscription
	deliveries map[string]*memDelivery
	deliveryID []string
}

// memDelivery augments WebhookDelivery with scheduling state.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
}

func NewMemory() *Memory {
	return &Memory{
		allocations: map[string]AllocationRecord{},
		deliveries:  map[string]*memDelivery{},
	}
}

func (m *Memory) UpsertFacilities(ctx context.Context, items []model.Facility) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range items {
		if f.ID == "" {
			f.ID = "mfc_" + uuid.New().String()[:8]
		}
		if f.Status == "" {
			f.Status = model.FacilityActive
		}
		m.facilities = upsertByID(m.facilities, f, func(x model.Facility) string { return x.ID })
		n++
	}
	return n, nil
}

func (m *Memory) ListFacilities(ctx context.Context) ([]model.Facility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Facility(nil), m.facilities...), nil
}

func (m *Memory) GetFacility(ctx context.Context, id string) (model.Facility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.facilities {
		if f.ID == id {
			return f, nil
		}
	}
	return model.Facility{}, ErrNotFound
}

func (m *Memory) UpsertProducts(ctx context.Context, items []model.Product) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range items {
		if p.ID == "" {
			p.ID = "prd_" + uuid.New().String()[:8]
		}
		m.products = upsertByID(m.products, p, func(x model.Product) string { return x.ID })
	}
	return len(items), nil
}

func (m *Memory) ListProducts(ctx context.Context) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Product(nil), m.products...), nil
}

func (m *Memory) UpsertAgents(ctx context.Context, items []model.Agent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range items {
		if a.ID == "" {
			a.ID = "shp_" + uuid.New().String()[:8]
		}
		m.agents = upsertByID(m.agents, a, func(x model.Agent) string { return x.ID })
	}
	return len(items), nil
}

func (m *Memory) ListAgents(ctx context.Context) ([]model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Agent(nil), m.agents...), nil
}

func (m *Memory) SetAgentAvailability(ctx context.Context, id string, available bool) (model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if m.agents[i].ID == id {
			m.agents[i].Available = available
			return m.agents[i], nil
		}
	}
	return model.Agent{}, ErrNotFound
}

func (m *Memory) UpsertStock(ctx context.Context, items []model.StockRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range items {
		if r.Quantity < 0 || r.MinThreshold > r.MaxCapacity {
			return 0, ErrInvariant
		}
		if r.ID == "" {
			r.ID = "stk_" + uuid.New().String()[:8]
		}
		m.stock = upsertStockRecord(m.stock, r)
	}
	return len(items), nil
}

func (m *Memory) ListStock(ctx context.Context, facilityID string) ([]model.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.StockRecord{}
	for _, r := range m.stock {
		if facilityID == "" || r.FacilityID == facilityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) Restock(ctx context.Context, facilityID, productID string, qty int) (model.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.stockIndex(facilityID, productID)
	if i < 0 {
		return model.StockRecord{}, ErrNotFound
	}
	next := m.stock[i].Quantity + qty
	if next < 0 {
		return model.StockRecord{}, ErrInvariant
	}
	m.stock[i].Quantity = next
	if qty > 0 {
		m.stock[i].LastRestocked = time.Now().UTC().Format(time.RFC3339)
	}
	return m.stock[i], nil
}

func (m *Memory) Transfer(ctx context.Context, fromFacilityID, toFacilityID, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvariant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.stockIndex(fromFacilityID, productID)
	dst := m.stockIndex(toFacilityID, productID)
	if src < 0 || dst < 0 {
		return ErrNotFound
	}
	if m.stock[src].Quantity < qty {
		return ErrInvariant
	}
	now := time.Now().UTC().Format(time.RFC3339)
	m.stock[src].Quantity -= qty
	m.stock[dst].Quantity += qty
	m.stock[dst].LastRestocked = now
	return nil
}

func (m *Memory) stockIndex(facilityID, productID string) int {
	for i, r := range m.stock {
		if r.FacilityID == facilityID && r.ProductID == productID {
			return i
		}
	}
	return -1
}

func (m *Memory) UpsertForecasts(ctx context.Context, items []model.DemandForecast) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range items {
		replaced := false
		for i := range m.forecasts {
			if m.forecasts[i].ProductID == f.ProductID && m.forecasts[i].District == f.District {
				m.forecasts[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			m.forecasts = append(m.forecasts, f)
		}
	}
	return len(items), nil
}

func (m *Memory) ListForecasts(ctx context.Context) ([]model.DemandForecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.DemandForecast(nil), m.forecasts...), nil
}

func (m *Memory) Snapshot(ctx context.Context) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.Snapshot{
		Facilities: append([]model.Facility(nil), m.facilities...),
		Products:   append([]model.Product(nil), m.products...),
		Stock:      append([]model.StockRecord(nil), m.stock...),
		Agents:     append([]model.Agent(nil), m.agents...),
		Forecasts:  append([]model.DemandForecast(nil), m.forecasts...),
	}, nil
}

func (m *Memory) SaveAllocation(ctx context.Context, rec AllocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[rec.ID] = rec
	m.allocationIDs = append([]string{rec.ID}, m.allocationIDs...)
	return nil
}

func (m *Memory) GetAllocation(ctx context.Context, id string) (AllocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.allocations[id]
	if !ok {
		return AllocationRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListAllocations(ctx context.Context, cursor string, limit int) ([]AllocationRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	start := 0
	if cursor != "" {
		for i, id := range m.allocationIDs {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []AllocationRecord{}
	var next string
	for i := start; i < len(m.allocationIDs) && len(out) < limit; i++ {
		out = append(out, m.allocations[m.allocationIDs[i]])
		next = m.allocationIDs[i]
	}
	if start+len(out) >= len(m.allocationIDs) {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := model.Subscription{
		ID:     "sub_" + uuid.New().String()[:8],
		URL:    req.URL,
		Events: append([]string(nil), req.Events...),
		Secret: req.Secret,
	}
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Subscription, len(m.subs))
	for i, s := range m.subs {
		s.Secret = ""
		out[i] = s
	}
	return out, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.ID == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "whd_" + uuid.New().String()[:8]
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{
			ID:             id,
			SubscriptionID: subscriptionID,
			EventType:      eventType,
			URL:            url,
			Secret:         secret,
			Payload:        payload,
			Status:         "pending",
		},
		NextAttemptAt: time.Now(),
	}
	m.deliveryID = append(m.deliveryID, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryID {
		d := m.deliveries[id]
		if d.Status != "pending" || d.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, d.WebhookDelivery)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
	} else if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []WebhookDelivery{}
	for _, id := range m.deliveryID {
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		item := d.WebhookDelivery
		item.Secret = ""
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = "pending"
	d.NextAttemptAt = time.Now()
	return nil
}

func upsertByID[T any](list []T, item T, id func(T) string) []T {
	for i := range list {
		if id(list[i]) == id(item) {
			list[i] = item
			return list
		}
	}
	return append(list, item)
}

func upsertStockRecord(list []model.StockRecord, r model.StockRecord) []model.StockRecord {
	for i := range list {
		if list[i].FacilityID == r.FacilityID && list[i].ProductID == r.ProductID {
			r.ID = list[i].ID
			list[i] = r
			return list
		}
	}
	return append(list, r)
}
