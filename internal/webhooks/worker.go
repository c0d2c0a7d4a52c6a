package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"catersync/internal/config"
	"catersync/internal/metrics"
	"catersync/internal/store"
)

// Worker drains the store-backed delivery queue. It polls every
// PollInterval and can be woken early with Notify.
type Worker struct {
	Store        store.Store
	HTTP         *http.Client
	Stop         chan struct{}
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	PollInterval time.Duration
	BatchSize    int
	Log          *slog.Logger

	kick     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

func NewWorker(s store.Store, cfg config.Webhook, log *slog.Logger) *Worker {
	return &Worker{
		Store:        s,
		HTTP:         &http.Client{Timeout: cfg.Timeout},
		Stop:         make(chan struct{}),
		MaxAttempts:  cfg.MaxAttempts,
		BackoffBase:  cfg.BackoffBase,
		BackoffMax:   cfg.BackoffMax,
		PollInterval: cfg.PollInterval,
		BatchSize:    50,
		Log:          log.With("component", "webhook_worker"),
		kick:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

func (w *Worker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	interval := w.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			case <-w.kick:
				w.processOnce()
			}
		}
	}()
}

// Notify wakes the worker without waiting for the next tick. Never blocks.
func (w *Worker) Notify() {
	if w == nil || w.kick == nil {
		return
	}
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Close stops the loop and waits for an in-flight batch to finish.
func (w *Worker) Close() {
	w.stopOnce.Do(func() { close(w.Stop) })
	if w.started.Load() {
		<-w.done
	}
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.batchSize())
	cancel()
	if err != nil {
		w.logger().Warn("fetch due webhook deliveries", "error", err)
		return
	}
	for _, it := range items {
		w.deliver(it)
	}
}

func (w *Worker) deliver(it store.WebhookDelivery) {
	timeout := 5 * time.Second
	if w.HTTP != nil && w.HTTP.Timeout > 0 {
		timeout = w.HTTP.Timeout
	}
	// room for the bookkeeping writes after the POST
	ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel()

	success := false
	code := 0
	lastErr := ""
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Delivery-Id", it.ID)
		if it.Secret != "" {
			req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
			req.Header.Set("X-Event-Type", it.EventType)
		}
		var resp *http.Response
		resp, err = w.HTTP.Do(req)
		if err == nil {
			code = resp.StatusCode
			_ = resp.Body.Close()
			if code >= 200 && code < 300 {
				success = true
			} else {
				lastErr = fmt.Sprintf("unexpected status %d", code)
			}
		}
	}
	if err != nil {
		lastErr = err.Error()
	}
	latency := int(time.Since(start).Milliseconds())

	log := w.logger().With("deliveryId", it.ID, "eventType", it.EventType, "orderNumber", orderNumberOf(it.Payload), "attempt", it.Attempts+1)
	switch {
	case success:
		w.observe(it.EventType, store.DeliveryDelivered, latency)
		if err := w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency); err != nil {
			log.Warn("mark webhook delivered", "error", err)
		}
	case it.Attempts+1 >= w.maxAttempts():
		w.observe(it.EventType, store.DeliveryFailed, latency)
		metrics.WebhookDeadLettered.WithLabelValues(it.EventType).Inc()
		log.Error("webhook delivery gave up", "attempts", it.Attempts+1, "lastError", lastErr, "responseCode", code)
		if err := w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency); err != nil {
			log.Warn("record webhook failure", "error", err)
		}
	default:
		w.observe(it.EventType, store.DeliveryRetry, latency)
		next := time.Now().Add(nextBackoff(it.Attempts, w.BackoffBase, w.BackoffMax))
		log.Info("webhook delivery failed; will retry", "lastError", lastErr, "responseCode", code, "nextAttemptAt", next)
		if err := w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency); err != nil {
			log.Warn("schedule webhook retry", "error", err)
		}
	}
}

func (w *Worker) observe(eventType, status string, latencyMs int) {
	metrics.WebhookDeliveries.WithLabelValues(eventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(eventType, status).Observe(float64(latencyMs))
}

func (w *Worker) maxAttempts() int {
	if w.MaxAttempts <= 0 {
		return 1
	}
	return w.MaxAttempts
}

func (w *Worker) batchSize() int {
	if w.BatchSize <= 0 {
		return 50
	}
	return w.BatchSize
}

func (w *Worker) logger() *slog.Logger {
	if w.Log == nil {
		return slog.Default()
	}
	return w.Log
}

// nextBackoff doubles base per completed attempt, capped at max.
func nextBackoff(attempts int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = time.Hour
	}
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 30 {
		attempts = 30
	}
	d := base * time.Duration(1<<attempts)
	if d <= 0 || d > max {
		d = max
	}
	return d
}

func orderNumberOf(payload []byte) string {
	var p struct {
		OrderNumber string `json:"orderNumber"`
	}
	_ = json.Unmarshal(payload, &p)
	return p.OrderNumber
}
