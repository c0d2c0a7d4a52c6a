package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"catersync/internal/model"
	"catersync/internal/orders"
	"catersync/internal/pricing"
	"catersync/internal/statusmap"
)

// orderView is the order representation returned to partners and dispatch.
type orderView struct {
	OrderNumber           string               `json:"orderNumber"`
	PartnerOrderID        string               `json:"partnerOrderId"`
	Status                model.Status         `json:"status"`
	PartnerStatus         model.PartnerStatus  `json:"partnerStatus,omitempty"`
	Pickup                model.Location       `json:"pickup"`
	Delivery              model.Location       `json:"delivery"`
	DistanceMiles         float64              `json:"distanceMiles"`
	Headcount             int                  `json:"headcount"`
	Tip                   pricing.TipSelection `json:"tip"`
	Pricing               pricing.Breakdown    `json:"pricing"`
	RequestedDeliveryTime time.Time            `json:"requestedDeliveryTime"`
	CancelReason          string               `json:"cancelReason,omitempty"`
	CreatedAt             time.Time            `json:"createdAt"`
	UpdatedAt             time.Time            `json:"updatedAt"`
}

func viewOf(o model.Order) orderView {
	v := orderView{
		OrderNumber:           o.OrderNumber,
		PartnerOrderID:        o.PartnerOrderID,
		Status:                o.Status,
		Pickup:                o.Pickup,
		Delivery:              o.Delivery,
		DistanceMiles:         o.DistanceMiles,
		Headcount:             o.Headcount,
		Tip:                   o.Tip,
		Pricing:               o.Pricing,
		RequestedDeliveryTime: o.RequestedDeliveryTime,
		CancelReason:          o.CancelReason,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
	if ps, ok := statusmap.Translate(o.Status); ok {
		v.PartnerStatus = ps
	}
	return v
}

// DraftHandler handles POST /orders/draft. 201 on creation, 200 when the
// partnerOrderId was already drafted.
func (s *Server) DraftHandler(w http.ResponseWriter, r *http.Request) {
	var in orders.DraftInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	o, created, err := s.Orders.Draft(r.Context(), partnerFrom(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, viewOf(o))
}

// UpdateHandler handles POST /orders/update.
func (s *Server) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	var in orders.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	o, err := s.Orders.Update(r.Context(), partnerFrom(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o))
}

// ConfirmHandler handles POST /orders/confirm.
func (s *Server) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	var in orders.ConfirmInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	o, _, err := s.Orders.Confirm(r.Context(), partnerFrom(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o))
}

// GetOrderHandler handles GET /orders/{orderNumber}.
func (s *Server) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	o, err := s.Orders.Get(r.Context(), partnerFrom(r.Context()), chi.URLParam(r, "orderNumber"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o))
}

type transitionRequest struct {
	Status model.Status `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

// TransitionHandler handles POST /internal/orders/{orderNumber}/status.
func (s *Server) TransitionHandler(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	o, changed, err := s.Orders.Transition(r.Context(), chi.URLParam(r, "orderNumber"), req.Status, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": viewOf(o), "changed": changed})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
