package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"catersync/internal/model"
	"catersync/internal/pricing"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres implements Store on top of database/sql with the pgx driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies embedded migrations in file-name order, recording each in
// schema_migrations so that reruns are no-ops.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, name).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `id::text, partner, partner_order_id, order_number, status,
	pickup_display, pickup_lat, pickup_lng, delivery_display, delivery_lat, delivery_lng,
	distance_miles, headcount, tip_option, tip_amount_cents,
	base_fee_cents, distance_surcharge_cents, headcount_surcharge_cents, subtotal_cents, tip_cents, total_cents,
	requested_delivery_time, COALESCE(cancel_reason,''), version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var o model.Order
	var status, tipOption string
	var tipAmount, base, dist, head, sub, tip, total int64
	err := row.Scan(&o.ID, &o.Partner, &o.PartnerOrderID, &o.OrderNumber, &status,
		&o.Pickup.Display, &o.Pickup.Point.Lat, &o.Pickup.Point.Lng,
		&o.Delivery.Display, &o.Delivery.Point.Lat, &o.Delivery.Point.Lng,
		&o.DistanceMiles, &o.Headcount, &tipOption, &tipAmount,
		&base, &dist, &head, &sub, &tip, &total,
		&o.RequestedDeliveryTime, &o.CancelReason, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, ErrNotFound
		}
		return model.Order{}, err
	}
	o.Status = model.Status(status)
	o.Tip = pricing.TipSelection{Option: pricing.TipOption(tipOption), Amount: pricing.Cents(tipAmount)}
	o.Pricing = pricing.Breakdown{
		BaseFee:            pricing.Cents(base),
		DistanceSurcharge:  pricing.Cents(dist),
		HeadcountSurcharge: pricing.Cents(head),
		Subtotal:           pricing.Cents(sub),
		Tip:                pricing.Cents(tip),
		Total:              pricing.Cents(total),
	}
	o.RequestedDeliveryTime = o.RequestedDeliveryTime.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

// InsertOrderIfAbsent relies on the (partner, partner_order_id) unique
// constraint: a losing concurrent insert waits for the winner to commit and
// then reads the winner's row. Sequence values consumed by a lost insert are
// not reused, so order numbers are unique but not gapless.
func (p *Postgres) InsertOrderIfAbsent(ctx context.Context, o model.Order) (model.Order, bool, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	row := p.db.QueryRowContext(ctx, `INSERT INTO partner_orders (
		id, partner, partner_order_id, order_number, status,
		pickup_display, pickup_lat, pickup_lng, delivery_display, delivery_lat, delivery_lng,
		distance_miles, headcount, tip_option, tip_amount_cents,
		base_fee_cents, distance_surcharge_cents, headcount_surcharge_cents, subtotal_cents, tip_cents, total_cents,
		requested_delivery_time, cancel_reason, version, created_at, updated_at)
	VALUES ($1,$2,$3,'CAT-' || lpad(nextval('order_number_seq')::text, 6, '0'),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,1,$23,$24)
	ON CONFLICT ON CONSTRAINT partner_orders_partner_order_id_key DO NOTHING
	RETURNING `+orderColumns,
		o.ID, o.Partner, o.PartnerOrderID, string(o.Status),
		o.Pickup.Display, o.Pickup.Point.Lat, o.Pickup.Point.Lng,
		o.Delivery.Display, o.Delivery.Point.Lat, o.Delivery.Point.Lng,
		o.DistanceMiles, o.Headcount, string(o.Tip.Option), int64(o.Tip.Amount),
		int64(o.Pricing.BaseFee), int64(o.Pricing.DistanceSurcharge), int64(o.Pricing.HeadcountSurcharge),
		int64(o.Pricing.Subtotal), int64(o.Pricing.Tip), int64(o.Pricing.Total),
		o.RequestedDeliveryTime, nullIfEmpty(o.CancelReason), o.CreatedAt, o.UpdatedAt)
	stored, err := scanOrder(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Order{}, false, err
	}
	existing, err := p.GetOrderByPartnerID(ctx, o.Partner, o.PartnerOrderID)
	if err != nil {
		return model.Order{}, false, err
	}
	return existing, false, nil
}

func (p *Postgres) GetOrderByPartnerID(ctx context.Context, partner, partnerOrderID string) (model.Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM partner_orders WHERE partner=$1 AND partner_order_id=$2`, partner, partnerOrderID))
}

func (p *Postgres) GetOrderByNumber(ctx context.Context, orderNumber string) (model.Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM partner_orders WHERE order_number=$1`, orderNumber))
}

func (p *Postgres) UpdateOrder(ctx context.Context, o model.Order) (model.Order, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE partner_orders SET
		status=$3,
		pickup_display=$4, pickup_lat=$5, pickup_lng=$6,
		delivery_display=$7, delivery_lat=$8, delivery_lng=$9,
		distance_miles=$10, headcount=$11, tip_option=$12, tip_amount_cents=$13,
		base_fee_cents=$14, distance_surcharge_cents=$15, headcount_surcharge_cents=$16,
		subtotal_cents=$17, tip_cents=$18, total_cents=$19,
		requested_delivery_time=$20, cancel_reason=$21, updated_at=$22,
		version=version+1
	WHERE id=$1 AND version=$2
	RETURNING `+orderColumns,
		o.ID, o.Version, string(o.Status),
		o.Pickup.Display, o.Pickup.Point.Lat, o.Pickup.Point.Lng,
		o.Delivery.Display, o.Delivery.Point.Lat, o.Delivery.Point.Lng,
		o.DistanceMiles, o.Headcount, string(o.Tip.Option), int64(o.Tip.Amount),
		int64(o.Pricing.BaseFee), int64(o.Pricing.DistanceSurcharge), int64(o.Pricing.HeadcountSurcharge),
		int64(o.Pricing.Subtotal), int64(o.Pricing.Tip), int64(o.Pricing.Total),
		o.RequestedDeliveryTime, nullIfEmpty(o.CancelReason), o.UpdatedAt)
	stored, err := scanOrder(row)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Order{}, err
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM partner_orders WHERE id=$1)`, o.ID).Scan(&exists); err != nil {
		return model.Order{}, err
	}
	if !exists {
		return model.Order{}, ErrNotFound
	}
	return model.Order{}, ErrStaleVersion
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.NewString()
	var out string
	err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, event_type, url, secret, payload, dedup_key, status, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',now())
		ON CONFLICT ON CONSTRAINT webhook_deliveries_dedup_key DO UPDATE SET updated_at=webhook_deliveries.updated_at
		RETURNING id::text`, id, eventType, url, nullIfEmpty(secret), payload, computeDedupKey(payload)).Scan(&out)
	return out, err
}

// FetchDueWebhookDeliveries claims due rows with SKIP LOCKED and pushes their
// next_attempt_at out by the lease, so concurrent workers never pick the same
// row and a crashed worker's rows become due again once the lease lapses.
func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `UPDATE webhook_deliveries d SET next_attempt_at = now() + $2::interval, updated_at = now()
		FROM (
			SELECT id FROM webhook_deliveries
			WHERE status IN ('pending','retry') AND next_attempt_at <= now()
			ORDER BY next_attempt_at ASC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		) due
		WHERE d.id = due.id
		RETURNING d.id::text, d.event_type, d.url, COALESCE(d.secret,''), d.payload, d.status, d.attempts, d.next_attempt_at, d.created_at`,
		limit, fmt.Sprintf("%d seconds", int(deliveryLease/time.Second)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return affectedOne(res, err)
	}
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', last_error=NULL, delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
		id, responseCode, latencyMs)
	return affectedOne(res, err)
}

// affectedOne maps an update that touched no row to ErrNotFound.
func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailWebhookDelivery marks the delivery failed and copies it to the DLQ in one transaction.
func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (delivery_id, event_type, url, payload, attempts, last_error, response_code)
		SELECT id, event_type, url, payload, attempts, last_error, response_code FROM webhook_deliveries WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text, event_type, url, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0), delivered_at, created_at FROM webhook_deliveries`
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = p.db.QueryContext(ctx, q+` WHERE status=$1 ORDER BY created_at, id LIMIT $2`, status, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, q+` ORDER BY created_at, id LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		var delivered sql.NullTime
		if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs, &delivered, &d.CreatedAt); err != nil {
			return nil, err
		}
		if delivered.Valid {
			t := delivered.Time
			d.DeliveredAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', attempts=0, next_attempt_at=now(), updated_at=now() WHERE id=$1 AND status<>'delivered'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_deliveries WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) PurgeWebhookDeliveries(ctx context.Context, deliveredBefore time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE status='delivered' AND delivered_at < $1`, deliveredBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
