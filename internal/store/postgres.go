package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"mfcnet/internal/model"
)

// Postgres persists the network state. Allocation traces, agent order lists
// and forecast factors ride along as JSONB.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// MigrateDir applies *.sql files in lexical order. Dev helper; production
// deployments run migrations out-of-band.
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	files := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) UpsertFacilities(ctx context.Context, items []model.Facility) (int, error) {
	n := 0
	for _, f := range items {
		if f.ID == "" {
			f.ID = "mfc_" + uuid.New().String()[:8]
		}
		if f.Status == "" {
			f.Status = model.FacilityActive
		}
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO facilities (id, name, district, lat, lng, capacity, current_load, status, avg_delivery_min, opens_at, closes_at, agent_ids)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET
				name=EXCLUDED.name, district=EXCLUDED.district, lat=EXCLUDED.lat, lng=EXCLUDED.lng,
				capacity=EXCLUDED.capacity, current_load=EXCLUDED.current_load, status=EXCLUDED.status,
				avg_delivery_min=EXCLUDED.avg_delivery_min, opens_at=EXCLUDED.opens_at,
				closes_at=EXCLUDED.closes_at, agent_ids=EXCLUDED.agent_ids`,
			f.ID, f.Name, f.District, f.Location.Lat, f.Location.Lng, f.Capacity, f.CurrentLoad,
			f.Status, f.AvgDeliveryTime, f.OpensAt, f.ClosesAt, toJSON(f.AgentIDs))
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (p *Postgres) ListFacilities(ctx context.Context) ([]model.Facility, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, district, lat, lng, capacity, current_load, status, avg_delivery_min, opens_at, closes_at, agent_ids
		FROM facilities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Facility{}
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) GetFacility(ctx context.Context, id string) (model.Facility, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, district, lat, lng, capacity, current_load, status, avg_delivery_min, opens_at, closes_at, agent_ids
		FROM facilities WHERE id=$1`, id)
	f, err := scanFacility(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Facility{}, ErrNotFound
	}
	return f, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFacility(r rowScanner) (model.Facility, error) {
	var f model.Facility
	var name, district, opensAt, closesAt sql.NullString
	var agentIDs []byte
	err := r.Scan(&f.ID, &name, &district, &f.Location.Lat, &f.Location.Lng, &f.Capacity,
		&f.CurrentLoad, &f.Status, &f.AvgDeliveryTime, &opensAt, &closesAt, &agentIDs)
	if err != nil {
		return f, err
	}
	f.Name = name.String
	f.District = district.String
	f.OpensAt = opensAt.String
	f.ClosesAt = closesAt.String
	fromJSON(agentIDs, &f.AgentIDs)
	return f, nil
}

func (p *Postgres) UpsertProducts(ctx context.Context, items []model.Product) (int, error) {
	for i, pr := range items {
		if pr.ID == "" {
			pr.ID = "prd_" + uuid.New().String()[:8]
			items[i] = pr
		}
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO products (id, name, price, weight_kg, category) VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, price=EXCLUDED.price,
				weight_kg=EXCLUDED.weight_kg, category=EXCLUDED.category`,
			pr.ID, pr.Name, pr.Price, pr.WeightKg, pr.Category)
		if err != nil {
			return i, err
		}
	}
	return len(items), nil
}

func (p *Postgres) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, price, weight_kg, category FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Product{}
	for rows.Next() {
		var pr model.Product
		var name, category sql.NullString
		if err := rows.Scan(&pr.ID, &name, &pr.Price, &pr.WeightKg, &category); err != nil {
			return nil, err
		}
		pr.Name = name.String
		pr.Category = category.String
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertAgents(ctx context.Context, items []model.Agent) (int, error) {
	for i, a := range items {
		if a.ID == "" {
			a.ID = "shp_" + uuid.New().String()[:8]
			items[i] = a
		}
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO agents (id, name, lat, lng, available, rating, radius_km, vehicle_class, assigned_orders)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, lat=EXCLUDED.lat, lng=EXCLUDED.lng,
				available=EXCLUDED.available, rating=EXCLUDED.rating, radius_km=EXCLUDED.radius_km,
				vehicle_class=EXCLUDED.vehicle_class, assigned_orders=EXCLUDED.assigned_orders`,
			a.ID, a.Name, a.Location.Lat, a.Location.Lng, a.Available, a.Rating,
			a.DeliveryRadiusKm, a.VehicleClass, toJSON(a.AssignedOrderIDs))
		if err != nil {
			return i, err
		}
	}
	return len(items), nil
}

func (p *Postgres) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, lat, lng, available, rating, radius_km, vehicle_class, assigned_orders
		FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAgent(r rowScanner) (model.Agent, error) {
	var a model.Agent
	var name, vehicle sql.NullString
	var orders []byte
	err := r.Scan(&a.ID, &name, &a.Location.Lat, &a.Location.Lng, &a.Available,
		&a.Rating, &a.DeliveryRadiusKm, &vehicle, &orders)
	if err != nil {
		return a, err
	}
	a.Name = name.String
	a.VehicleClass = vehicle.String
	fromJSON(orders, &a.AssignedOrderIDs)
	return a, nil
}

func (p *Postgres) SetAgentAvailability(ctx context.Context, id string, available bool) (model.Agent, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE agents SET available=$2 WHERE id=$1
		RETURNING id, name, lat, lng, available, rating, radius_km, vehicle_class, assigned_orders`, id, available)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Agent{}, ErrNotFound
	}
	return a, err
}

func (p *Postgres) UpsertStock(ctx context.Context, items []model.StockRecord) (int, error) {
	for i, r := range items {
		if r.Quantity < 0 || r.MinThreshold > r.MaxCapacity {
			return i, ErrInvariant
		}
		if r.ID == "" {
			r.ID = "stk_" + uuid.New().String()[:8]
		}
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO stock_records (id, facility_id, product_id, quantity, min_threshold, max_capacity, last_restocked_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (facility_id, product_id) DO UPDATE SET quantity=EXCLUDED.quantity,
				min_threshold=EXCLUDED.min_threshold, max_capacity=EXCLUDED.max_capacity,
				last_restocked_at=EXCLUDED.last_restocked_at`,
			r.ID, r.FacilityID, r.ProductID, r.Quantity, r.MinThreshold, r.MaxCapacity, nullIfEmpty(r.LastRestocked))
		if err != nil {
			return i, err
		}
	}
	return len(items), nil
}

func (p *Postgres) ListStock(ctx context.Context, facilityID string) ([]model.StockRecord, error) {
	q := `SELECT id, facility_id, product_id, quantity, min_threshold, max_capacity, last_restocked_at
		FROM stock_records`
	args := []any{}
	if facilityID != "" {
		q += ` WHERE facility_id=$1`
		args = append(args, facilityID)
	}
	q += ` ORDER BY facility_id, product_id`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.StockRecord{}
	for rows.Next() {
		var r model.StockRecord
		var last sql.NullTime
		if err := rows.Scan(&r.ID, &r.FacilityID, &r.ProductID, &r.Quantity, &r.MinThreshold, &r.MaxCapacity, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			r.LastRestocked = last.Time.Format(time.RFC3339)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Restock(ctx context.Context, facilityID, productID string, qty int) (model.StockRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE stock_records
		SET quantity = quantity + $3,
			last_restocked_at = CASE WHEN $3 > 0 THEN now() ELSE last_restocked_at END
		WHERE facility_id=$1 AND product_id=$2 AND quantity + $3 >= 0
		RETURNING id, facility_id, product_id, quantity, min_threshold, max_capacity, last_restocked_at`,
		facilityID, productID, qty)
	var r model.StockRecord
	var last sql.NullTime
	err := row.Scan(&r.ID, &r.FacilityID, &r.ProductID, &r.Quantity, &r.MinThreshold, &r.MaxCapacity, &last)
	if errors.Is(err, sql.ErrNoRows) {
		// either the record is missing or the delta would go negative
		var n int
		if e := p.db.QueryRowContext(ctx, `SELECT count(*) FROM stock_records WHERE facility_id=$1 AND product_id=$2`,
			facilityID, productID).Scan(&n); e == nil && n > 0 {
			return model.StockRecord{}, ErrInvariant
		}
		return model.StockRecord{}, ErrNotFound
	}
	if err != nil {
		return model.StockRecord{}, err
	}
	if last.Valid {
		r.LastRestocked = last.Time.Format(time.RFC3339)
	}
	return r, nil
}

func (p *Postgres) Transfer(ctx context.Context, fromFacilityID, toFacilityID, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvariant
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE stock_records SET quantity = quantity - $3
		WHERE facility_id=$1 AND product_id=$2 AND quantity >= $3`,
		fromFacilityID, productID, qty)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var cnt int
		if e := tx.QueryRowContext(ctx, `SELECT count(*) FROM stock_records WHERE facility_id=$1 AND product_id=$2`,
			fromFacilityID, productID).Scan(&cnt); e == nil && cnt > 0 {
			return ErrInvariant
		}
		return ErrNotFound
	}
	res, err = tx.ExecContext(ctx, `
		UPDATE stock_records SET quantity = quantity + $3, last_restocked_at = now()
		WHERE facility_id=$1 AND product_id=$2`,
		toFacilityID, productID, qty)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (p *Postgres) UpsertForecasts(ctx context.Context, items []model.DemandForecast) (int, error) {
	for i, f := range items {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO demand_forecasts (product_id, district, predicted_demand, confidence, factors)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (product_id, district) DO UPDATE SET predicted_demand=EXCLUDED.predicted_demand,
				confidence=EXCLUDED.confidence, factors=EXCLUDED.factors`,
			f.ProductID, f.District, f.PredictedDemand, f.Confidence, toJSON(f.Factors))
		if err != nil {
			return i, err
		}
	}
	return len(items), nil
}

func (p *Postgres) ListForecasts(ctx context.Context) ([]model.DemandForecast, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT product_id, district, predicted_demand, confidence, factors
		FROM demand_forecasts ORDER BY product_id, district`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DemandForecast{}
	for rows.Next() {
		var f model.DemandForecast
		var factors []byte
		if err := rows.Scan(&f.ProductID, &f.District, &f.PredictedDemand, &f.Confidence, &factors); err != nil {
			return nil, err
		}
		fromJSON(factors, &f.Factors)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Snapshot reads all reference data for one engine call. Reads happen in
// sequence; allocation tolerates the small skew since reference data changes
// slowly relative to request rate.
func (p *Postgres) Snapshot(ctx context.Context) (model.Snapshot, error) {
	var err error
	snap := model.Snapshot{}
	if snap.Facilities, err = p.ListFacilities(ctx); err != nil {
		return model.Snapshot{}, err
	}
	if snap.Products, err = p.ListProducts(ctx); err != nil {
		return model.Snapshot{}, err
	}
	if snap.Stock, err = p.ListStock(ctx, ""); err != nil {
		return model.Snapshot{}, err
	}
	if snap.Agents, err = p.ListAgents(ctx); err != nil {
		return model.Snapshot{}, err
	}
	if snap.Forecasts, err = p.ListForecasts(ctx); err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}

func (p *Postgres) SaveAllocation(ctx context.Context, rec AllocationRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO allocations (id, created_at, request, result) VALUES ($1,$2,$3,$4)`,
		rec.ID, rec.CreatedAt, toJSON(rec.Request), toJSON(rec.Result))
	return err
}

func (p *Postgres) GetAllocation(ctx context.Context, id string) (AllocationRecord, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, created_at, request, result FROM allocations WHERE id=$1`, id)
	rec, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AllocationRecord{}, ErrNotFound
	}
	return rec, err
}

func (p *Postgres) ListAllocations(ctx context.Context, cursor string, limit int) ([]AllocationRecord, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, created_at, request, result FROM allocations
			WHERE id < $1 ORDER BY id DESC LIMIT $2`, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, created_at, request, result FROM allocations ORDER BY id DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []AllocationRecord{}
	var last string
	for rows.Next() {
		rec, err := scanAllocation(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, rec)
		last = rec.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func scanAllocation(r rowScanner) (AllocationRecord, error) {
	var rec AllocationRecord
	var req, res []byte
	if err := r.Scan(&rec.ID, &rec.CreatedAt, &req, &res); err != nil {
		return rec, err
	}
	fromJSON(req, &rec.Request)
	fromJSON(res, &rec.Result)
	return rec, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{
		ID:     "sub_" + uuid.New().String()[:8],
		URL:    req.URL,
		Events: append([]string(nil), req.Events...),
		Secret: req.Secret,
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`,
		sub.ID, sub.URL, toJSON(sub.Events), sub.Secret)
	return sub, err
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	subs, err := p.listSubscriptions(ctx, true)
	if err != nil {
		return nil, err
	}
	out := []model.Subscription{}
	for _, s := range subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	return p.listSubscriptions(ctx, false)
}

func (p *Postgres) listSubscriptions(ctx context.Context, includeSecret bool) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, events, secret FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		fromJSON(events, &s.Events)
		if !includeSecret {
			s.Secret = ""
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := "whd_" + uuid.New().String()[:8]
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now())`,
		id, nullIfEmpty(subscriptionID), eventType, url, secret, payload)
	return id, err
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, coalesce(subscription_id,''), event_type, url, secret, payload, status, attempts
		FROM webhook_deliveries
		WHERE status='pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	status := "pending"
	if success {
		status = "delivered"
	}
	var next any
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status=$2, attempts=attempts+1, last_error=$3, response_code=$4, latency_ms=$5,
			next_attempt_at=coalesce($6::timestamptz, next_attempt_at)
		WHERE id=$1`, id, status, nullIfEmpty(lastError), responseCode, latencyMs, next)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status='failed', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4
		WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, coalesce(subscription_id,''), event_type, url, '', payload, status, attempts FROM webhook_deliveries`
	args := []any{}
	if status != "" {
		q += ` WHERE status=$1 ORDER BY next_attempt_at DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		q += ` ORDER BY next_attempt_at DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func toJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func fromJSON(b []byte, v any) {
	if len(b) > 0 {
		_ = json.Unmarshal(b, v)
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
