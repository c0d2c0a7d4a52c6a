package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"catersync/internal/model"
)

// Memory is an in-process Store used when no DATABASE_URL is configured and
// in tests. All methods are safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	now       func() time.Time
	seq       int64
	orders    map[string]*model.Order // by id
	byPartner map[partnerKey]string
	byNumber  map[string]string

	// Webhooks queue state
	deliveries map[string]*WebhookDelivery
	dedup      map[string]string
	dlq        []WebhookDelivery
}

type partnerKey struct{ partner, partnerOrderID string }

func NewMemory() *Memory {
	return &Memory{
		now:        time.Now,
		orders:     map[string]*model.Order{},
		byPartner:  map[partnerKey]string{},
		byNumber:   map[string]string{},
		deliveries: map[string]*WebhookDelivery{},
		dedup:      map[string]string{},
	}
}

// SetClock overrides the clock used for delivery scheduling.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) InsertOrderIfAbsent(ctx context.Context, o model.Order) (model.Order, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Order{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := partnerKey{o.Partner, o.PartnerOrderID}
	if id, ok := m.byPartner[key]; ok {
		return *m.orders[id], false, nil
	}
	m.seq++
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.OrderNumber = FormatOrderNumber(m.seq)
	o.Version = 1
	now := m.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	stored := o
	m.orders[o.ID] = &stored
	m.byPartner[key] = o.ID
	m.byNumber[o.OrderNumber] = o.ID
	return o, true, nil
}

func (m *Memory) GetOrderByPartnerID(ctx context.Context, partner, partnerOrderID string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPartner[partnerKey{partner, partnerOrderID}]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return *m.orders[id], nil
}

func (m *Memory) GetOrderByNumber(ctx context.Context, orderNumber string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byNumber[orderNumber]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return *m.orders[id], nil
}

func (m *Memory) UpdateOrder(ctx context.Context, o model.Order) (model.Order, error) {
	if err := ctx.Err(); err != nil {
		return model.Order{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	if cur.Version != o.Version {
		return model.Order{}, ErrStaleVersion
	}
	// identity fields never change
	o.Partner, o.PartnerOrderID, o.OrderNumber, o.CreatedAt = cur.Partner, cur.PartnerOrderID, cur.OrderNumber, cur.CreatedAt
	o.Version = cur.Version + 1
	stored := o
	m.orders[o.ID] = &stored
	return o, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	now := m.now()
	d := &WebhookDelivery{
		ID:            uuid.NewString(),
		EventType:     eventType,
		URL:           url,
		Secret:        secret,
		Payload:       append([]byte(nil), payload...),
		Status:        DeliveryPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	m.deliveries[d.ID] = d
	m.dedup[key] = d.ID
	return d.ID, nil
}

// iterDeliveryIDs returns ids in creation order so that deliveries for the
// same order are attempted in the order they were enqueued.
func (m *Memory) iterDeliveryIDs() []string {
	ids := make([]string, 0, len(m.deliveries))
	for id := range m.deliveries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.deliveries[ids[i]], m.deliveries[ids[j]]
		if !a.NextAttemptAt.Equal(b.NextAttemptAt) {
			return a.NextAttemptAt.Before(b.NextAttemptAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ids
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := []WebhookDelivery{}
	for _, id := range m.iterDeliveryIDs() {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			// lease until the attempt is marked
			d.NextAttemptAt = now.Add(deliveryLease)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	now := m.now()
	if success {
		d.Status = DeliveryDelivered
		d.LastError = ""
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = now.Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	m.dlq = append(m.dlq, *d)
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.deliveries))
	for id, d := range m.deliveries {
		if status == "" || d.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.deliveries[ids[i]], m.deliveries[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	out := []WebhookDelivery{}
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		out = append(out, *m.deliveries[id])
	}
	return out, nil
}

// RetryWebhookDelivery requeues a failed delivery with a fresh attempt budget.
func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	if d.Status == DeliveryDelivered {
		return nil
	}
	d.Status = DeliveryPending
	d.Attempts = 0
	d.NextAttemptAt = m.now()
	return nil
}

// PurgeWebhookDeliveries removes delivered rows older than the cutoff.
func (m *Memory) PurgeWebhookDeliveries(ctx context.Context, deliveredBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, d := range m.deliveries {
		if d.Status == DeliveryDelivered && d.DeliveredAt != nil && d.DeliveredAt.Before(deliveredBefore) {
			delete(m.deliveries, id)
			n++
		}
	}
	for k, id := range m.dedup {
		if _, ok := m.deliveries[id]; !ok {
			delete(m.dedup, k)
		}
	}
	return n, nil
}

// DLQ returns a copy of the dead-letter entries.
func (m *Memory) DLQ() []WebhookDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WebhookDelivery(nil), m.dlq...)
}
