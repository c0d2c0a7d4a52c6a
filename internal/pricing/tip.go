package pricing

import (
	"fmt"
	"math"
)

// TipOption is the closed set of tip choices a partner may send.
type TipOption string

const (
	TipNone      TipOption = "none"
	TipPercent10 TipOption = "percent_10"
	TipPercent15 TipOption = "percent_15"
	TipPercent20 TipOption = "percent_20"
	TipCustom    TipOption = "custom"
)

var tipPercents = map[TipOption]int64{
	TipPercent10: 10,
	TipPercent15: 15,
	TipPercent20: 20,
}

// MaxCustomTip caps a custom tip at 100,000.00.
const MaxCustomTip Cents = 10_000_000

// TipOptions lists every accepted option in display order.
func TipOptions() []TipOption {
	return []TipOption{TipNone, TipPercent10, TipPercent15, TipPercent20, TipCustom}
}

// TipSelection is the partner's tip choice. Amount is only meaningful for TipCustom.
type TipSelection struct {
	Option TipOption `json:"option"`
	Amount Cents     `json:"amount,omitempty"`
}

// Normalize maps the zero value to TipNone and drops amounts on non-custom options.
func (t TipSelection) Normalize() TipSelection {
	if t.Option == "" {
		t.Option = TipNone
	}
	if t.Option != TipCustom {
		t.Amount = 0
	}
	return t
}

func (t TipSelection) Validate() error {
	t = t.Normalize()
	switch t.Option {
	case TipNone, TipPercent10, TipPercent15, TipPercent20:
		return nil
	case TipCustom:
		if t.Amount < 0 {
			return fmt.Errorf("custom tip amount must be >= 0, got %s", t.Amount)
		}
		if t.Amount > MaxCustomTip {
			return fmt.Errorf("custom tip amount must be <= %s, got %s", MaxCustomTip, t.Amount)
		}
		return nil
	default:
		return fmt.Errorf("unknown tip option %q", t.Option)
	}
}

// TipAmount returns the tip for sel given the pre-tip subtotal. Percentage
// options round half-up to the nearest cent.
func TipAmount(sel TipSelection, subtotal Cents) (Cents, error) {
	if err := sel.Validate(); err != nil {
		return 0, err
	}
	sel = sel.Normalize()
	switch sel.Option {
	case TipCustom:
		return sel.Amount, nil
	case TipNone:
		return 0, nil
	}
	pct := tipPercents[sel.Option]
	if subtotal < 0 || int64(subtotal) > math.MaxInt64/pct {
		return 0, fmt.Errorf("subtotal %s out of range for a percentage tip", subtotal)
	}
	return Cents(roundHalfUp(int64(subtotal)*pct, 100)), nil
}
