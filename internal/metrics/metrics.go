// Package metrics holds the Prometheus collectors shared by the HTTP layer,
// the order controller and the webhook worker.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry served on /metrics.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "partner_rate_limited_total", Help: "Partner requests rejected by the rate limiter."},
		[]string{"partner"},
	)

	// OrderOperations counts controller operations by outcome (ok, idempotent, validation, not_found, conflict, error).
	OrderOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_operations_total", Help: "Order lifecycle operations by outcome."},
		[]string{"op", "outcome"},
	)
	OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_status_transitions_total", Help: "Persisted order status transitions."},
		[]string{"from", "to"},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event type and outcome."},
		[]string{"event_type", "status"},
	)
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
	WebhookDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_dead_lettered_total", Help: "Webhook deliveries given up after the final attempt."},
		[]string{"event_type"},
	)
	WebhookPurged = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_deliveries_purged_total", Help: "Delivered webhook records removed by the retention job."},
	)

	GeocodeCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geocode_cache_lookups_total", Help: "Geocode cache lookups by result (hit, miss, error)."},
		[]string{"result"},
	)
)

// RegisterDefault registers every collector on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests, HTTPDuration, RateLimited,
			OrderOperations, OrderTransitions,
			WebhookDeliveries, WebhookLatency, WebhookDeadLettered, WebhookPurged,
			GeocodeCache,
		)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
