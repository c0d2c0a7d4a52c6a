// Package pricing computes delivery prices from distance, headcount and tip.
// Every function here is pure: identical inputs always give an identical Breakdown.
package pricing

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidQuote = errors.New("invalid quote")

// MaxDistanceMiles bounds the distance a quote may carry.
const MaxDistanceMiles = 10000

// Quote is the priced subset of an order.
type Quote struct {
	DistanceMiles float64
	Headcount     int
	Tip           TipSelection
}

// Breakdown is a priced quote. Total always equals
// BaseFee + DistanceSurcharge + HeadcountSurcharge + Tip.
type Breakdown struct {
	BaseFee            Cents `json:"baseFee"`
	DistanceSurcharge  Cents `json:"distanceSurcharge"`
	HeadcountSurcharge Cents `json:"headcountSurcharge"`
	Subtotal           Cents `json:"subtotal"`
	Tip                Cents `json:"tip"`
	Total              Cents `json:"total"`
}

// Sum adds the named components; it must always equal Total.
func (b Breakdown) Sum() Cents {
	return b.BaseFee + b.DistanceSurcharge + b.HeadcountSurcharge + b.Tip
}

// Engine prices quotes against a fixed set of tier tables.
type Engine struct {
	tables Tables
}

func NewEngine(t Tables) (*Engine, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("pricing tables: %w", err)
	}
	return &Engine{tables: t.clone()}, nil
}

// Tables returns a copy of the engine's tier tables.
func (e *Engine) Tables() Tables { return e.tables.clone() }

func (e *Engine) DistanceSurcharge(miles float64) (Cents, error) {
	if miles < 0 || math.IsNaN(miles) {
		return 0, fmt.Errorf("%w: distance must be >= 0, got %v", ErrInvalidQuote, miles)
	}
	if miles > MaxDistanceMiles {
		return 0, fmt.Errorf("%w: distance %v exceeds %d miles", ErrInvalidQuote, miles, MaxDistanceMiles)
	}
	h := hundredths(miles)
	for _, t := range e.tables.Distance {
		if h >= hundredths(t.MinMiles) && (t.MaxMiles == 0 || h < hundredths(t.MaxMiles)) {
			return t.charge(h), nil
		}
	}
	// unreachable with validated tables
	return 0, fmt.Errorf("%w: no distance tier for %v miles", ErrInvalidQuote, miles)
}

func (e *Engine) HeadcountSurcharge(n int) (Cents, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: headcount must be > 0, got %d", ErrInvalidQuote, n)
	}
	for _, t := range e.tables.Headcount {
		if n >= t.Min && (t.Max == 0 || n < t.Max) {
			return t.Surcharge, nil
		}
	}
	return 0, fmt.Errorf("%w: no headcount tier for %d", ErrInvalidQuote, n)
}

// Price computes the full breakdown for q.
func (e *Engine) Price(q Quote) (Breakdown, error) {
	dist, err := e.DistanceSurcharge(q.DistanceMiles)
	if err != nil {
		return Breakdown{}, err
	}
	head, err := e.HeadcountSurcharge(q.Headcount)
	if err != nil {
		return Breakdown{}, err
	}
	b := Breakdown{
		BaseFee:            e.tables.BaseFee,
		DistanceSurcharge:  dist,
		HeadcountSurcharge: head,
	}
	sub, ok := addCents(b.BaseFee, b.DistanceSurcharge)
	if ok {
		sub, ok = addCents(sub, b.HeadcountSurcharge)
	}
	if !ok {
		return Breakdown{}, fmt.Errorf("%w: subtotal overflows", ErrInvalidQuote)
	}
	b.Subtotal = sub
	tip, err := TipAmount(q.Tip, b.Subtotal)
	if err != nil {
		return Breakdown{}, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}
	b.Tip = tip
	if b.Total, ok = addCents(b.Subtotal, b.Tip); !ok {
		return Breakdown{}, fmt.Errorf("%w: total overflows", ErrInvalidQuote)
	}
	return b, nil
}
