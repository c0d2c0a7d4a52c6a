package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"catersync/internal/auth"
	"catersync/internal/metrics"
)

// NewRouter mounts every route on a chi router.
func NewRouter(s *Server) http.Handler {
	metrics.RegisterDefault()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Get("/status", s.StatusHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/orders", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.requirePartner)
		r.Post("/draft", s.DraftHandler)
		r.Post("/update", s.UpdateHandler)
		r.Post("/confirm", s.ConfirmHandler)
		r.Get("/{orderNumber}", s.GetOrderHandler)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireRole(auth.RoleDispatch))
		r.Post("/orders/{orderNumber}/status", s.TransitionHandler)
		r.Get("/dispatch/ws", s.DispatchWSHandler)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireRole(auth.RoleAdmin))
		r.Get("/webhook-deliveries", s.WebhookDeliveriesHandler)
		r.Post("/webhook-deliveries/{id}/retry", s.WebhookDeliveryRetryHandler)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
	})
	return r
}
