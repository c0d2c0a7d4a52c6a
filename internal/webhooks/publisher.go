package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"catersync/internal/config"
	"catersync/internal/model"
	"catersync/internal/statusmap"
	"catersync/internal/store"
)

const EventOrderStatus = "order.status"

// Event is the body POSTed to the partner webhook.
type Event struct {
	ID             string              `json:"id"`
	Type           string              `json:"type"`
	OrderNumber    string              `json:"orderNumber"`
	PartnerOrderID string              `json:"partnerOrderId"`
	Status         model.PartnerStatus `json:"status"`
	InternalStatus model.Status        `json:"internalStatus"`
	Reason         string              `json:"reason,omitempty"`
	OccurredAt     time.Time           `json:"occurredAt"`
}

// Publisher turns order status changes into queued webhook deliveries.
// Statuses without a partner equivalent are skipped.
type Publisher struct {
	Store   store.Store
	URL     string
	Secret  string
	Worker  *Worker // optional; woken after each enqueue
	Log     *slog.Logger
	Timeout time.Duration
}

func NewPublisher(s store.Store, partner config.Partner, w *Worker, log *slog.Logger) *Publisher {
	return &Publisher{
		Store:   s,
		URL:     partner.WebhookURL,
		Secret:  partner.WebhookSecret,
		Worker:  w,
		Log:     log.With("component", "webhook_publisher"),
		Timeout: 3 * time.Second,
	}
}

// NewEvent builds the event for o, or reports false when o's status is not
// reported to the partner.
func NewEvent(o model.Order) (Event, bool) {
	ps, ok := statusmap.Translate(o.Status)
	if !ok {
		return Event{}, false
	}
	ev := Event{
		// one event per persisted version, so resends dedupe in the queue
		ID:             fmt.Sprintf("evt_%s_v%d", o.OrderNumber, o.Version),
		Type:           EventOrderStatus,
		OrderNumber:    o.OrderNumber,
		PartnerOrderID: o.PartnerOrderID,
		Status:         ps,
		InternalStatus: o.Status,
		OccurredAt:     o.UpdatedAt.UTC(),
	}
	if o.Status == model.StatusCancelled {
		ev.Reason = o.CancelReason
	}
	return ev, true
}

// StatusChanged enqueues a delivery for o. Failures are logged, never returned.
func (p *Publisher) StatusChanged(ctx context.Context, o model.Order, from model.Status) {
	ev, ok := NewEvent(o)
	if !ok {
		return
	}
	log := p.logger().With("orderNumber", o.OrderNumber, "status", o.Status, "from", from)
	if p.URL == "" {
		log.Debug("webhook url not configured; skipping notification")
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		log.Error("encode webhook event", "error", err)
		return
	}
	// the triggering request may already be finishing
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout())
	defer cancel()
	id, err := p.Store.EnqueueWebhook(ctx, ev.Type, p.URL, p.Secret, body)
	if err != nil {
		log.Error("enqueue webhook", "error", err)
		return
	}
	log.Debug("webhook queued", "deliveryId", id, "partnerStatus", ev.Status)
	p.Worker.Notify()
}

func (p *Publisher) timeout() time.Duration {
	if p.Timeout <= 0 {
		return 3 * time.Second
	}
	return p.Timeout
}

func (p *Publisher) logger() *slog.Logger {
	if p.Log == nil {
		return slog.Default()
	}
	return p.Log
}
