// Package orders implements the partner order lifecycle: draft, update,
// confirm and the internal dispatch transitions that follow confirmation.
package orders

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"catersync/internal/config"
	"catersync/internal/geo"
	"catersync/internal/metrics"
	"catersync/internal/model"
	"catersync/internal/pricing"
	"catersync/internal/store"
)

const maxPartnerOrderIDLen = 128

// Notifier is told about every persisted status change. Implementations
// must not block on delivery and must not fail the caller.
type Notifier interface {
	StatusChanged(ctx context.Context, o model.Order, from model.Status)
}

type DraftInput struct {
	PartnerOrderID        string               `json:"partnerOrderId"`
	Pickup                model.AddressIn      `json:"pickup"`
	Delivery              model.AddressIn      `json:"delivery"`
	Headcount             int                  `json:"headcount"`
	Tip                   pricing.TipSelection `json:"tip"`
	RequestedDeliveryTime time.Time            `json:"requestedDeliveryTime"`
}

// UpdateInput carries only the fields the partner wants to change.
type UpdateInput struct {
	PartnerOrderID        string                `json:"partnerOrderId"`
	Pickup                *model.AddressIn      `json:"pickup,omitempty"`
	Delivery              *model.AddressIn      `json:"delivery,omitempty"`
	Headcount             *int                  `json:"headcount,omitempty"`
	Tip                   *pricing.TipSelection `json:"tip,omitempty"`
	RequestedDeliveryTime *time.Time            `json:"requestedDeliveryTime,omitempty"`
}

type ConfirmInput struct {
	PartnerOrderID        string     `json:"partnerOrderId"`
	RequestedDeliveryTime *time.Time `json:"requestedDeliveryTime,omitempty"`
}

type Deps struct {
	Store    store.Store
	Pricing  *pricing.Engine
	Hours    config.BusinessHours
	Geocoder geo.Geocoder           // nil: partners must send coordinates
	Distance geo.DistanceCalculator // nil: haversine
	Notifier Notifier               // nil: no outbound notifications
	Logger   *slog.Logger
	Now      func() time.Time
	// StoreTimeout bounds each persistence call; zero means no extra bound.
	StoreTimeout time.Duration
}

type Controller struct {
	store        store.Store
	pricing      *pricing.Engine
	hours        config.BusinessHours
	geocoder     geo.Geocoder
	distance     geo.DistanceCalculator
	notifier     Notifier
	log          *slog.Logger
	now          func() time.Time
	storeTimeout time.Duration
}

func NewController(d Deps) *Controller {
	c := &Controller{
		store:        d.Store,
		pricing:      d.Pricing,
		hours:        d.Hours,
		geocoder:     d.Geocoder,
		distance:     d.Distance,
		notifier:     d.Notifier,
		log:          d.Logger,
		now:          d.Now,
		storeTimeout: d.StoreTimeout,
	}
	if c.distance == nil {
		c.distance = geo.Haversine{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "orders")
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Hours returns the business-hours window used by Confirm.
func (c *Controller) Hours() config.BusinessHours { return c.hours }

// Draft creates a DRAFT order, or returns the existing order when the partner
// has already drafted partnerOrderId; created reports which.
func (c *Controller) Draft(ctx context.Context, partner string, in DraftInput) (o model.Order, created bool, err error) {
	const op = "draft"
	defer func() { c.record(op, err, err == nil && !created) }()

	id, err := partnerOrderID(op, in.PartnerOrderID)
	if err != nil {
		return model.Order{}, false, err
	}
	existing, err := c.lookup(ctx, op, partner, id)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Order{}, false, err
	}

	if in.Headcount <= 0 {
		return model.Order{}, false, validation(op, "headcount must be a positive integer, got %d", in.Headcount)
	}
	tip := in.Tip.Normalize()
	if err := tip.Validate(); err != nil {
		return model.Order{}, false, validation(op, "tip: %v", err)
	}
	if in.RequestedDeliveryTime.IsZero() {
		return model.Order{}, false, validation(op, "requestedDeliveryTime is required")
	}
	pickup, err := c.resolve(ctx, op, "pickup", in.Pickup)
	if err != nil {
		return model.Order{}, false, err
	}
	delivery, err := c.resolve(ctx, op, "delivery", in.Delivery)
	if err != nil {
		return model.Order{}, false, err
	}
	miles, err := c.measure(ctx, op, pickup, delivery)
	if err != nil {
		return model.Order{}, false, err
	}

	now := c.now().UTC()
	o = model.Order{
		Partner:               partner,
		PartnerOrderID:        id,
		Status:                model.StatusDraft,
		Pickup:                pickup,
		Delivery:              delivery,
		DistanceMiles:         miles,
		Headcount:             in.Headcount,
		Tip:                   tip,
		RequestedDeliveryTime: normalizeTime(in.RequestedDeliveryTime),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if o.Pricing, err = c.price(op, o.Quote()); err != nil {
		return model.Order{}, false, err
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	stored, created, err := c.store.InsertOrderIfAbsent(sctx, o)
	if err != nil {
		return model.Order{}, false, c.storeErr(op, err)
	}
	if created {
		c.log.InfoContext(ctx, "order drafted",
			"orderNumber", stored.OrderNumber, "partnerOrderId", id,
			"distanceMiles", miles, "headcount", stored.Headcount, "total", stored.Pricing.Total.String())
	}
	return stored, created, nil
}

// Update changes mutable fields of a DRAFT order and reprices it.
func (c *Controller) Update(ctx context.Context, partner string, in UpdateInput) (o model.Order, err error) {
	const op = "update"
	defer func() { c.record(op, err, false) }()

	id, err := partnerOrderID(op, in.PartnerOrderID)
	if err != nil {
		return model.Order{}, err
	}
	cur, err := c.lookup(ctx, op, partner, id)
	if err != nil {
		return model.Order{}, err
	}
	if !cur.Status.Mutable() {
		return model.Order{}, conflict(op, "order %s is %s; updates are only accepted while %s", cur.OrderNumber, cur.Status, model.StatusDraft)
	}

	next := cur
	if in.Headcount != nil {
		if *in.Headcount <= 0 {
			return model.Order{}, validation(op, "headcount must be a positive integer, got %d", *in.Headcount)
		}
		next.Headcount = *in.Headcount
	}
	if in.Tip != nil {
		tip := in.Tip.Normalize()
		if err := tip.Validate(); err != nil {
			return model.Order{}, validation(op, "tip: %v", err)
		}
		next.Tip = tip
	}
	if in.RequestedDeliveryTime != nil {
		if in.RequestedDeliveryTime.IsZero() {
			return model.Order{}, validation(op, "requestedDeliveryTime must not be empty")
		}
		next.RequestedDeliveryTime = normalizeTime(*in.RequestedDeliveryTime)
	}
	if in.Pickup != nil || in.Delivery != nil {
		if in.Pickup != nil {
			if next.Pickup, err = c.resolve(ctx, op, "pickup", *in.Pickup); err != nil {
				return model.Order{}, err
			}
		}
		if in.Delivery != nil {
			if next.Delivery, err = c.resolve(ctx, op, "delivery", *in.Delivery); err != nil {
				return model.Order{}, err
			}
		}
		if next.DistanceMiles, err = c.measure(ctx, op, next.Pickup, next.Delivery); err != nil {
			return model.Order{}, err
		}
	}
	if next.Pricing, err = c.price(op, next.Quote()); err != nil {
		return model.Order{}, err
	}
	if sameMutableFields(cur, next) {
		return cur, nil
	}

	next.UpdatedAt = c.now().UTC()
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	stored, err := c.store.UpdateOrder(sctx, next)
	if err != nil {
		return model.Order{}, c.storeErr(op, err)
	}
	c.log.InfoContext(ctx, "order updated",
		"orderNumber", stored.OrderNumber, "partnerOrderId", id, "total", stored.Pricing.Total.String())
	return stored, nil
}

// Confirm moves a DRAFT order to CONFIRMED after checking business hours and
// lead time. Confirming an already CONFIRMED order with the same (or no)
// requested time succeeds without change; changed reports which.
func (c *Controller) Confirm(ctx context.Context, partner string, in ConfirmInput) (o model.Order, changed bool, err error) {
	const op = "confirm"
	defer func() { c.record(op, err, err == nil && !changed) }()

	id, err := partnerOrderID(op, in.PartnerOrderID)
	if err != nil {
		return model.Order{}, false, err
	}
	if in.RequestedDeliveryTime != nil && in.RequestedDeliveryTime.IsZero() {
		return model.Order{}, false, validation(op, "requestedDeliveryTime must not be empty")
	}
	cur, err := c.lookup(ctx, op, partner, id)
	if err != nil {
		return model.Order{}, false, err
	}
	o, changed, err = c.confirm(ctx, cur, in.RequestedDeliveryTime)
	if errors.Is(err, store.ErrStaleVersion) {
		// Lost a race; judge the request against what won.
		if cur, err = c.lookup(ctx, op, partner, id); err != nil {
			return model.Order{}, false, err
		}
		o, changed, err = c.confirm(ctx, cur, in.RequestedDeliveryTime)
	}
	if err != nil {
		return model.Order{}, false, c.storeErr(op, err)
	}
	return o, changed, nil
}

func (c *Controller) confirm(ctx context.Context, cur model.Order, requested *time.Time) (model.Order, bool, error) {
	const op = "confirm"
	switch cur.Status {
	case model.StatusConfirmed:
		if requested == nil || sameInstant(*requested, cur.RequestedDeliveryTime) {
			return cur, false, nil
		}
		return model.Order{}, false, conflict(op, "order %s is already confirmed for %s",
			cur.OrderNumber, cur.RequestedDeliveryTime.Format(time.RFC3339))
	case model.StatusDraft:
	default:
		return model.Order{}, false, conflict(op, "order %s is %s and cannot be confirmed", cur.OrderNumber, cur.Status)
	}

	when := cur.RequestedDeliveryTime
	if requested != nil {
		when = normalizeTime(*requested)
	}
	if !c.hours.Within(when) {
		return model.Order{}, false, validation(op, "requestedDeliveryTime %s is outside business hours %s",
			when.In(c.hours.Location).Format(time.RFC3339), c.hours)
	}
	now := c.now()
	if !c.hours.LeadTimeOK(when, now) {
		return model.Order{}, false, validation(op, "requestedDeliveryTime must be at least %s from now", c.hours.MinLeadTime)
	}

	next := cur
	next.Status = model.StatusConfirmed
	next.RequestedDeliveryTime = when
	next.UpdatedAt = now.UTC()
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	stored, err := c.store.UpdateOrder(sctx, next)
	if err != nil {
		return model.Order{}, false, err
	}
	metrics.OrderTransitions.WithLabelValues(string(cur.Status), string(stored.Status)).Inc()
	c.log.InfoContext(ctx, "order confirmed",
		"orderNumber", stored.OrderNumber, "requestedDeliveryTime", when.Format(time.RFC3339))
	c.notify(ctx, stored, cur.Status)
	return stored, true, nil
}

// Get returns the partner's order by order number. Orders of other partners
// are reported as not found.
func (c *Controller) Get(ctx context.Context, partner, orderNumber string) (model.Order, error) {
	const op = "get"
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	o, err := c.store.GetOrderByNumber(sctx, strings.TrimSpace(orderNumber))
	if err != nil {
		return model.Order{}, c.storeErr(op, err)
	}
	if o.Partner != partner {
		return model.Order{}, notFound(op, "order")
	}
	return o, nil
}

// Transition applies a dispatch status change. Repeating the current status
// is a no-op so dispatch can resend; changed reports whether anything was written.
func (c *Controller) Transition(ctx context.Context, orderNumber string, to model.Status, reason string) (o model.Order, changed bool, err error) {
	const op = "transition"
	defer func() { c.record(op, err, err == nil && !changed) }()

	if !to.Valid() {
		return model.Order{}, false, validation(op, "unknown status %q", to)
	}
	if to == model.StatusDraft || to == model.StatusConfirmed {
		return model.Order{}, false, validation(op, "%s is set by the partner, not dispatch", to)
	}
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	cur, err := c.store.GetOrderByNumber(sctx, strings.TrimSpace(orderNumber))
	if err != nil {
		return model.Order{}, false, c.storeErr(op, err)
	}
	if cur.Status == to {
		return cur, false, nil
	}
	if !cur.Status.CanTransitionTo(to) {
		return model.Order{}, false, conflict(op, "order %s cannot move from %s to %s", cur.OrderNumber, cur.Status, to)
	}
	next := cur
	next.Status = to
	if to == model.StatusCancelled {
		next.CancelReason = strings.TrimSpace(reason)
	}
	next.UpdatedAt = c.now().UTC()
	stored, err := c.store.UpdateOrder(sctx, next)
	if err != nil {
		return model.Order{}, false, c.storeErr(op, err)
	}
	metrics.OrderTransitions.WithLabelValues(string(cur.Status), string(to)).Inc()
	c.log.InfoContext(ctx, "order status changed",
		"orderNumber", stored.OrderNumber, "from", cur.Status, "to", to)
	c.notify(ctx, stored, cur.Status)
	return stored, true, nil
}

func (c *Controller) lookup(ctx context.Context, op, partner, partnerOrderID string) (model.Order, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	o, err := c.store.GetOrderByPartnerID(sctx, partner, partnerOrderID)
	if err != nil {
		return model.Order{}, c.storeErr(op, err)
	}
	return o, nil
}

func (c *Controller) resolve(ctx context.Context, op, field string, a model.AddressIn) (model.Location, error) {
	loc, err := geo.Resolve(ctx, c.geocoder, a)
	if err == nil {
		return loc, nil
	}
	if errors.Is(err, geo.ErrInvalidAddress) || errors.Is(err, geo.ErrAddressNotFound) || errors.Is(err, geo.ErrGeocodingUnavailable) {
		return model.Location{}, validation(op, "%s: %v", field, err)
	}
	return model.Location{}, &Error{Kind: ErrUpstream, Op: op, Msg: "could not geocode " + field + " address", Err: err}
}

func (c *Controller) measure(ctx context.Context, op string, from, to model.Location) (float64, error) {
	miles, err := c.distance.DistanceMiles(ctx, from.Point, to.Point)
	if err != nil {
		return 0, &Error{Kind: ErrUpstream, Op: op, Msg: "could not compute distance", Err: err}
	}
	if miles < 0 {
		return 0, &Error{Kind: ErrUpstream, Op: op, Msg: "distance calculator returned a negative distance"}
	}
	return miles, nil
}

func (c *Controller) price(op string, q pricing.Quote) (pricing.Breakdown, error) {
	b, err := c.pricing.Price(q)
	if err != nil {
		return pricing.Breakdown{}, validation(op, "%v", err)
	}
	return b, nil
}

func (c *Controller) notify(ctx context.Context, o model.Order, from model.Status) {
	if c.notifier != nil {
		c.notifier.StatusChanged(ctx, o, from)
	}
}

func (c *Controller) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.storeTimeout)
}

func (c *Controller) storeErr(op string, err error) error {
	var oe *Error
	switch {
	case errors.As(err, &oe):
		return err
	case errors.Is(err, store.ErrNotFound):
		return notFound(op, "order")
	case errors.Is(err, store.ErrStaleVersion):
		return &Error{Kind: ErrConflict, Op: op, Msg: "order was modified concurrently; retry the request", Err: err}
	default:
		return &Error{Kind: ErrPersistence, Op: op, Msg: "order store unavailable", Err: err}
	}
}

func (c *Controller) record(op string, err error, idempotent bool) {
	label := outcome(err)
	if idempotent {
		label = "idempotent"
	}
	metrics.OrderOperations.WithLabelValues(op, label).Inc()
	if errors.Is(err, ErrPersistence) || errors.Is(err, ErrUpstream) {
		c.log.Error("order operation failed", "op", op, "error", err)
	}
}

func partnerOrderID(op, raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", validation(op, "partnerOrderId is required")
	}
	if len(id) > maxPartnerOrderIDLen {
		return "", validation(op, "partnerOrderId must be at most %d characters", maxPartnerOrderIDLen)
	}
	return id, nil
}

// normalizeTime drops precision the database cannot keep so that stored and
// re-sent times compare equal.
func normalizeTime(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

func sameInstant(a, b time.Time) bool { return normalizeTime(a).Equal(normalizeTime(b)) }

func sameMutableFields(a, b model.Order) bool {
	return a.Pickup == b.Pickup &&
		a.Delivery == b.Delivery &&
		a.DistanceMiles == b.DistanceMiles &&
		a.Headcount == b.Headcount &&
		a.Tip == b.Tip &&
		a.Pricing == b.Pricing &&
		a.RequestedDeliveryTime.Equal(b.RequestedDeliveryTime)
}
