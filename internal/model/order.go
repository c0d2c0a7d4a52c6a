// Package model holds the order domain types shared by the controller, the
// stores and the HTTP layer.
package model

import (
	"time"

	"catersync/internal/pricing"
)

// GeoPoint is a resolved coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a geocoded address.
type Location struct {
	Display string   `json:"display"`
	Point   GeoPoint `json:"point"`
}

// AddressIn is an address as sent by the partner. Lat/Lng are optional;
// when both are present the address is treated as pre-resolved.
type AddressIn struct {
	Display string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// Resolved reports whether the partner supplied coordinates.
func (a AddressIn) Resolved() bool { return a.Lat != nil && a.Lng != nil }

// Order is a partner catering order.
type Order struct {
	ID                    string               `json:"id"`
	Partner               string               `json:"partner"`
	PartnerOrderID        string               `json:"partnerOrderId"`
	OrderNumber           string               `json:"orderNumber"`
	Status                Status               `json:"status"`
	Pickup                Location             `json:"pickup"`
	Delivery              Location             `json:"delivery"`
	DistanceMiles         float64              `json:"distanceMiles"`
	Headcount             int                  `json:"headcount"`
	Tip                   pricing.TipSelection `json:"tip"`
	Pricing               pricing.Breakdown    `json:"pricing"`
	RequestedDeliveryTime time.Time            `json:"requestedDeliveryTime"`
	CancelReason          string               `json:"cancelReason,omitempty"`
	Version               int                  `json:"-"`
	CreatedAt             time.Time            `json:"createdAt"`
	UpdatedAt             time.Time            `json:"updatedAt"`
}

// Quote returns the priced subset of the order.
func (o Order) Quote() pricing.Quote {
	return pricing.Quote{DistanceMiles: o.DistanceMiles, Headcount: o.Headcount, Tip: o.Tip}
}
