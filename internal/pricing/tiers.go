package pricing

import (
	"errors"
	"fmt"
	"math"
)

// DistanceTier prices a distance band. MaxMiles of zero marks the final,
// open-ended tier. The charge inside a tier is FlatFee + FeePerMile*distance.
type DistanceTier struct {
	MinMiles   float64 `json:"minMiles"`
	MaxMiles   float64 `json:"maxMiles,omitempty"`
	FlatFee    Cents   `json:"flatFee"`
	FeePerMile Cents   `json:"feePerMile"`
}

// HeadcountTier adds a flat surcharge for a headcount band. Max of zero marks
// the final, open-ended tier.
type HeadcountTier struct {
	Min       int   `json:"min"`
	Max       int   `json:"max,omitempty"`
	Surcharge Cents `json:"surcharge"`
}

// Tables is the full pricing configuration.
type Tables struct {
	BaseFee   Cents           `json:"baseFee"`
	Distance  []DistanceTier  `json:"distanceTiers"`
	Headcount []HeadcountTier `json:"headcountTiers"`
}

// DefaultTables returns the built-in tier tables used when no pricing file is configured.
func DefaultTables() Tables {
	return Tables{
		BaseFee: 5000,
		Distance: []DistanceTier{
			{MinMiles: 0, MaxMiles: 10},
			{MinMiles: 10, MaxMiles: 25, FeePerMile: 300},
			{MinMiles: 25, FeePerMile: 350},
		},
		Headcount: []HeadcountTier{
			{Min: 1, Max: 25},
			{Min: 25, Max: 50, Surcharge: 1000},
			{Min: 50, Max: 100, Surcharge: 2500},
			{Min: 100, Surcharge: 5000},
		},
	}
}

// hundredths converts miles to hundredths of a mile so tier matching and
// per-mile charges are integer operations.
func hundredths(miles float64) int64 {
	return int64(math.Round(miles * 100))
}

func (t DistanceTier) charge(h int64) Cents {
	return t.FlatFee + Cents(roundHalfUp(int64(t.FeePerMile)*h, 100))
}

// Validate checks that both tables are contiguous, start at the lowest legal
// value, end with an open tier and never decrease across a boundary.
func (t Tables) Validate() error {
	if t.BaseFee < 0 {
		return errors.New("base fee must be >= 0")
	}
	if len(t.Distance) == 0 {
		return errors.New("distance tiers are empty")
	}
	if len(t.Headcount) == 0 {
		return errors.New("headcount tiers are empty")
	}
	for i, d := range t.Distance {
		last := i == len(t.Distance)-1
		if d.FlatFee < 0 || d.FeePerMile < 0 {
			return fmt.Errorf("distance tier %d: fees must be >= 0", i)
		}
		if i == 0 && d.MinMiles != 0 {
			return fmt.Errorf("distance tier 0 must start at 0 miles, starts at %v", d.MinMiles)
		}
		if last && d.MaxMiles != 0 {
			return fmt.Errorf("last distance tier must be open-ended, has max %v", d.MaxMiles)
		}
		if !last && hundredths(d.MaxMiles) <= hundredths(d.MinMiles) {
			return fmt.Errorf("distance tier %d: max %v must exceed min %v", i, d.MaxMiles, d.MinMiles)
		}
		if i > 0 {
			prev := t.Distance[i-1]
			if hundredths(prev.MaxMiles) != hundredths(d.MinMiles) {
				return fmt.Errorf("distance tier %d: gap or overlap at %v miles", i, d.MinMiles)
			}
			// highest charge reachable in the previous tier vs lowest in this one
			edge := hundredths(d.MinMiles)
			if prev.charge(edge-1) > d.charge(edge) {
				return fmt.Errorf("distance tier %d: charge decreases at %v miles", i, d.MinMiles)
			}
		}
	}
	for i, h := range t.Headcount {
		last := i == len(t.Headcount)-1
		if h.Surcharge < 0 {
			return fmt.Errorf("headcount tier %d: surcharge must be >= 0", i)
		}
		if i == 0 && h.Min != 1 {
			return fmt.Errorf("headcount tier 0 must start at 1, starts at %d", h.Min)
		}
		if last && h.Max != 0 {
			return fmt.Errorf("last headcount tier must be open-ended, has max %d", h.Max)
		}
		if !last && h.Max <= h.Min {
			return fmt.Errorf("headcount tier %d: max %d must exceed min %d", i, h.Max, h.Min)
		}
		if i > 0 {
			prev := t.Headcount[i-1]
			if prev.Max != h.Min {
				return fmt.Errorf("headcount tier %d: gap or overlap at %d", i, h.Min)
			}
			if prev.Surcharge > h.Surcharge {
				return fmt.Errorf("headcount tier %d: surcharge decreases at %d", i, h.Min)
			}
		}
	}
	return nil
}

func (t Tables) clone() Tables {
	out := Tables{BaseFee: t.BaseFee}
	out.Distance = append([]DistanceTier(nil), t.Distance...)
	out.Headcount = append([]HeadcountTier(nil), t.Headcount...)
	return out
}
