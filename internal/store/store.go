package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catersync/internal/model"
)

// Store is the persistence interface used by the controller, the webhook
// worker and the HTTP layer.
type Store interface {
	// Orders

	// InsertOrderIfAbsent atomically inserts o unless an order with the same
	// (Partner, PartnerOrderID) exists; in that case the stored order is
	// returned with created=false. ID, OrderNumber and Version are assigned here.
	InsertOrderIfAbsent(ctx context.Context, o model.Order) (stored model.Order, created bool, err error)
	GetOrderByPartnerID(ctx context.Context, partner, partnerOrderID string) (model.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (model.Order, error)
	// UpdateOrder writes o if the stored version still equals o.Version and
	// returns it with the incremented version; otherwise ErrStaleVersion.
	UpdateOrder(ctx context.Context, o model.Order) (model.Order, error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error)
	RetryWebhookDelivery(ctx context.Context, id string) error
	PurgeWebhookDeliveries(ctx context.Context, deliveredBefore time.Time) (int64, error)

	Ping(ctx context.Context) error
}

var (
	ErrNotFound     = errors.New("not found")
	ErrStaleVersion = errors.New("stale version")
)

// deliveryLease is how long a fetched delivery stays invisible to other
// fetchers while an attempt is in flight.
const deliveryLease = 2 * time.Minute

// FormatOrderNumber renders the human-readable order number for sequence value n.
func FormatOrderNumber(n int64) string {
	return fmt.Sprintf("CAT-%06d", n)
}
