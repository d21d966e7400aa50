package store

import (
	"context"
	"errors"
	"time"

	"mfcnet/internal/engine"
	"mfcnet/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrInvariant reports a stock mutation that would break a StockRecord
	// invariant (quantity >= 0, minThreshold <= maxCapacity).
	ErrInvariant = errors.New("stock invariant violation")
)

// AllocationRecord is a persisted allocation outcome, kept for the history
// and explainability endpoints.
type AllocationRecord struct {
	ID        string                  `json:"id"`
	CreatedAt time.Time               `json:"createdAt"`
	Request   model.OrderRequest      `json:"request"`
	Result    engine.AllocationResult `json:"result"`
}

// WebhookDelivery is one queued outbound delivery attempt.
type WebhookDelivery struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscriptionId"`
	EventType      string `json:"eventType"`
	URL            string `json:"url"`
	Secret         string `json:"secret,omitempty"`
	Payload        []byte `json:"payload"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
}

// Store is the persistence interface used by the API server. The engine
// never touches it; handlers materialize a Snapshot per call and hand that
// to the engine.
type Store interface {
	// Reference data owned by the caller-side repository layer
	UpsertFacilities(ctx context.Context, items []model.Facility) (int, error)
	ListFacilities(ctx context.Context) ([]model.Facility, error)
	GetFacility(ctx context.Context, id string) (model.Facility, error)

	UpsertProducts(ctx context.Context, items []model.Product) (int, error)
	ListProducts(ctx context.Context) ([]model.Product, error)

	UpsertAgents(ctx context.Context, items []model.Agent) (int, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)
	SetAgentAvailability(ctx context.Context, id string, available bool) (model.Agent, error)

	UpsertStock(ctx context.Context, items []model.StockRecord) (int, error)
	ListStock(ctx context.Context, facilityID string) ([]model.StockRecord, error)
	Restock(ctx context.Context, facilityID, productID string, qty int) (model.StockRecord, error)
	Transfer(ctx context.Context, fromFacilityID, toFacilityID, productID string, qty int) error

	UpsertForecasts(ctx context.Context, items []model.DemandForecast) (int, error)
	ListForecasts(ctx context.Context) ([]model.DemandForecast, error)

	// Snapshot returns one consistent view for a single engine call.
	Snapshot(ctx context.Context) (model.Snapshot, error)

	// Allocation history
	SaveAllocation(ctx context.Context, rec AllocationRecord) error
	GetAllocation(ctx context.Context, id string) (AllocationRecord, error)
	ListAllocations(ctx context.Context, cursor string, limit int) ([]AllocationRecord, string, error)

	// Webhook subscriptions and delivery queue
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error)
	RetryWebhookDelivery(ctx context.Context, id string) error
}
