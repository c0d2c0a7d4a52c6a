package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"catersync/internal/store"
)

// WebhookDeliveriesHandler handles GET /admin/webhook-deliveries?status=&limit=.
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", store.DeliveryPending, store.DeliveryRetry, store.DeliveryDelivered, store.DeliveryFailed:
	default:
		writeProblem(w, http.StatusBadRequest, "Invalid status", "status must be pending, retry, delivered or failed", r.URL.Path)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer", r.URL.Path)
			return
		}
		limit = n
	}
	items, err := s.Store.ListWebhookDeliveries(r.Context(), status, limit)
	if err != nil {
		s.Log.ErrorContext(r.Context(), "list webhook deliveries", "error", err)
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", "", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// WebhookDeliveryRetryHandler handles POST /admin/webhook-deliveries/{id}/retry.
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Store.RetryWebhookDelivery(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "delivery not found", r.URL.Path)
			return
		}
		s.Log.ErrorContext(r.Context(), "retry webhook delivery", "id", id, "error", err)
		writeProblem(w, http.StatusInternalServerError, "Retry delivery failed", "", r.URL.Path)
		return
	}
	s.Worker.Notify()
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}
