package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"mfcnet/internal/model"
)

func seedStock(t *testing.T, m *Memory) {
	t.Helper()
	ctx := context.Background()
	if _, err := m.UpsertFacilities(ctx, []model.Facility{
		{ID: "f_a", District: "d1", Status: model.FacilityActive},
		{ID: "f_b", District: "d2", Status: model.FacilityActive},
	}); err != nil {
		t.Fatalf("facilities: %v", err)
	}
	if _, err := m.UpsertProducts(ctx, []model.Product{{ID: "p1"}}); err != nil {
		t.Fatalf("products: %v", err)
	}
	if _, err := m.UpsertStock(ctx, []model.StockRecord{
		{FacilityID: "f_a", ProductID: "p1", Quantity: 20, MinThreshold: 5, MaxCapacity: 100},
		{FacilityID: "f_b", ProductID: "p1", Quantity: 0, MinThreshold: 0, MaxCapacity: 100},
	}); err != nil {
		t.Fatalf("stock: %v", err)
	}
}

func TestUpsertStockRejectsInvariantViolations(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.UpsertStock(ctx, []model.StockRecord{{FacilityID: "f", ProductID: "p", Quantity: -1}})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("negative quantity: got %v", err)
	}
	_, err = m.UpsertStock(ctx, []model.StockRecord{{FacilityID: "f", ProductID: "p", MinThreshold: 10, MaxCapacity: 5}})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("threshold above capacity: got %v", err)
	}
}

func TestRestockDeltaAndFloor(t *testing.T) {
	m := NewMemory()
	seedStock(t, m)
	ctx := context.Background()

	rec, err := m.Restock(ctx, "f_a", "p1", 5)
	if err != nil || rec.Quantity != 25 {
		t.Fatalf("restock +5: %+v (err %v)", rec, err)
	}
	if rec.LastRestocked == "" {
		t.Fatal("positive restock should stamp lastRestockedAt")
	}

	// negative delta is a draw-down, floored at zero
	if _, err := m.Restock(ctx, "f_a", "p1", -26); !errors.Is(err, ErrInvariant) {
		t.Fatalf("underflow: got %v", err)
	}
	rec, err = m.Restock(ctx, "f_a", "p1", -25)
	if err != nil || rec.Quantity != 0 {
		t.Fatalf("drain to zero: %+v (err %v)", rec, err)
	}

	if _, err := m.Restock(ctx, "f_missing", "p1", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing record: got %v", err)
	}
}

func TestTransferMovesStockAtomically(t *testing.T) {
	m := NewMemory()
	seedStock(t, m)
	ctx := context.Background()

	if err := m.Transfer(ctx, "f_a", "f_b", "p1", 30); !errors.Is(err, ErrInvariant) {
		t.Fatalf("oversized transfer: got %v", err)
	}
	if err := m.Transfer(ctx, "f_a", "f_b", "p1", 0); !errors.Is(err, ErrInvariant) {
		t.Fatalf("zero transfer: got %v", err)
	}
	if err := m.Transfer(ctx, "f_a", "f_missing", "p1", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing destination: got %v", err)
	}

	if err := m.Transfer(ctx, "f_a", "f_b", "p1", 8); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	src, _ := m.ListStock(ctx, "f_a")
	dst, _ := m.ListStock(ctx, "f_b")
	if src[0].Quantity != 12 || dst[0].Quantity != 8 {
		t.Fatalf("after transfer: src=%d dst=%d", src[0].Quantity, dst[0].Quantity)
	}
}

func TestSnapshotIsDetachedCopy(t *testing.T) {
	m := NewMemory()
	seedStock(t, m)
	ctx := context.Background()

	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Facilities) != 2 || len(snap.Stock) != 2 {
		t.Fatalf("snapshot contents: %+v", snap)
	}
	// Mutating the store must not change a snapshot already taken
	if _, err := m.Restock(ctx, "f_a", "p1", 50); err != nil {
		t.Fatalf("restock: %v", err)
	}
	if snap.Stock[0].Quantity != 20 {
		t.Fatalf("snapshot mutated: %d", snap.Stock[0].Quantity)
	}
}

func TestListAllocationsCursorPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	ids := []string{"alc_a", "alc_b", "alc_c"}
	for _, id := range ids {
		if err := m.SaveAllocation(ctx, AllocationRecord{ID: id, CreatedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	// newest first
	page, next, err := m.ListAllocations(ctx, "", 2)
	if err != nil || len(page) != 2 {
		t.Fatalf("first page: %v items, err %v", len(page), err)
	}
	if page[0].ID != "alc_c" || page[1].ID != "alc_b" {
		t.Fatalf("first page order: %s, %s", page[0].ID, page[1].ID)
	}
	if next == "" {
		t.Fatal("expected a next cursor")
	}

	page, _, err = m.ListAllocations(ctx, next, 2)
	if err != nil || len(page) != 1 || page[0].ID != "alc_a" {
		t.Fatalf("second page: %+v (err %v)", page, err)
	}
}

func TestListSubscriptionsStripsSecrets(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.CreateSubscription(ctx, model.SubscriptionRequest{
		URL: "https://example.invalid/hook", Events: []string{"allocation.completed"}, Secret: "shh",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	subs, err := m.ListSubscriptions(ctx)
	if err != nil || len(subs) != 1 {
		t.Fatalf("list: %+v (err %v)", subs, err)
	}
	if subs[0].Secret != "" {
		t.Fatal("list must not expose secrets")
	}
	// but delivery fan-out still sees the secret
	matched, err := m.GetSubscriptionsForEvent(ctx, "allocation.completed")
	if err != nil || len(matched) != 1 || matched[0].Secret != "shh" {
		t.Fatalf("event match: %+v (err %v)", matched, err)
	}
}

func TestWebhookDeliveryLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, err := m.EnqueueWebhook(ctx, "sub_1", "allocation.completed", "https://example.invalid/hook", "s", []byte(`{}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil || len(due) != 1 || due[0].ID != id {
		t.Fatalf("due: %+v (err %v)", due, err)
	}

	// retryable failure schedules the next attempt in the future
	next := time.Now().Add(time.Hour)
	if err := m.MarkWebhookDelivery(ctx, id, false, &next, "boom", 500, 12); err != nil {
		t.Fatalf("mark: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("backed-off delivery should not be due, got %d", len(due))
	}

	// admin retry makes it due again
	if err := m.RetryWebhookDelivery(ctx, id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 {
		t.Fatalf("retried delivery should be due, got %d", len(due))
	}

	// terminal failure leaves the queue
	if err := m.FailWebhookDelivery(ctx, id, "gone", 410, 5); err != nil {
		t.Fatalf("fail: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("failed delivery should not be due, got %d", len(due))
	}
	failed, err := m.ListWebhookDeliveries(ctx, "failed", 10)
	if err != nil || len(failed) != 1 || failed[0].Attempts != 2 {
		t.Fatalf("failed list: %+v (err %v)", failed, err)
	}
}
