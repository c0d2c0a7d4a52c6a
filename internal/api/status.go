package api

import (
	"context"
	"net/http"
	"time"

	"catersync/internal/buildinfo"
	"catersync/internal/pricing"
	"catersync/internal/statusmap"
)

type statusDatabase struct {
	Kind      string `json:"kind"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type statusPartner struct {
	Name              string `json:"name"`
	APIKeyConfigured  bool   `json:"apiKeyConfigured"`
	WebhookConfigured bool   `json:"webhookConfigured"`
	WebhookSigned     bool   `json:"webhookSigned"`
}

type statusHours struct {
	Timezone    string `json:"timezone"`
	Open        string `json:"open"`
	Close       string `json:"close"`
	MinLeadTime string `json:"minLeadTime"`
}

type statusResponse struct {
	Service   string            `json:"service"`
	Build     map[string]string `json:"build"`
	Time      time.Time         `json:"time"`
	Database  statusDatabase    `json:"database"`
	Partner   statusPartner     `json:"partner"`
	Dispatch  bool              `json:"dispatchAuthConfigured"`
	StatusMap []statusmap.Entry `json:"statusMap"`
	Pricing   pricing.Tables    `json:"pricing"`
	Hours     statusHours       `json:"businessHours"`
	Endpoints []string          `json:"endpoints"`
}

var endpoints = []string{
	"POST /orders/draft",
	"POST /orders/update",
	"POST /orders/confirm",
	"GET /orders/{orderNumber}",
	"POST /internal/orders/{orderNumber}/status",
	"GET /internal/dispatch/ws",
	"GET /admin/webhook-deliveries",
	"POST /admin/webhook-deliveries/{id}/retry",
	"GET /healthz",
	"GET /readyz",
	"GET /status",
	"GET /metrics",
}

// StatusHandler reports configuration and dependency health. It always
// answers 200; degraded dependencies show up in the body.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	db := statusDatabase{Kind: s.storeKind, Connected: true}
	if err := s.Store.Ping(ctx); err != nil {
		db.Connected = false
		db.Error = err.Error()
	}

	bh := s.Orders.Hours()
	cfg := s.Config
	writeJSON(w, http.StatusOK, statusResponse{
		Service:  "catersync",
		Build:    buildinfo.Info(),
		Time:     time.Now().UTC(),
		Database: db,
		Partner: statusPartner{
			Name:              cfg.Partner.Name,
			APIKeyConfigured:  cfg.Partner.Configured(),
			WebhookConfigured: cfg.Partner.WebhookURL != "",
			WebhookSigned:     cfg.Partner.WebhookSecret != "",
		},
		Dispatch:  s.Dispatch.Configured(),
		StatusMap: statusmap.Table(),
		Pricing:   cfg.Pricing,
		Hours: statusHours{
			Timezone:    bh.Location.String(),
			Open:        bh.OpenClock(),
			Close:       bh.CloseClock(),
			MinLeadTime: bh.MinLeadTime.String(),
		},
		Endpoints: endpoints,
	})
}
