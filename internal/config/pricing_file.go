package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"catersync/internal/pricing"
)

// pricingFile is the on-disk YAML shape. Amounts are decimal strings in the
// major currency unit, e.g. "50.00".
//
//	base_fee: "50.00"
//	distance_tiers:
//	  - {min_miles: 0, max_miles: 10}
//	  - {min_miles: 10, fee_per_mile: "3.00"}
//	headcount_tiers:
//	  - {min: 1, max: 25}
//	  - {min: 25, surcharge: "10.00"}
type pricingFile struct {
	BaseFee       string `yaml:"base_fee"`
	DistanceTiers []struct {
		MinMiles   float64 `yaml:"min_miles"`
		MaxMiles   float64 `yaml:"max_miles"`
		FlatFee    string  `yaml:"flat_fee"`
		FeePerMile string  `yaml:"fee_per_mile"`
	} `yaml:"distance_tiers"`
	HeadcountTiers []struct {
		Min       int    `yaml:"min"`
		Max       int    `yaml:"max"`
		Surcharge string `yaml:"surcharge"`
	} `yaml:"headcount_tiers"`
}

// LoadPricingFile reads and validates tier tables from a YAML file.
func LoadPricingFile(path string) (pricing.Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pricing.Tables{}, fmt.Errorf("pricing file: %w", err)
	}
	return ParsePricing(data)
}

func ParsePricing(data []byte) (pricing.Tables, error) {
	var f pricingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return pricing.Tables{}, fmt.Errorf("pricing file: %w", err)
	}
	var t pricing.Tables
	var err error
	if t.BaseFee, err = amount(f.BaseFee); err != nil {
		return pricing.Tables{}, fmt.Errorf("base_fee: %w", err)
	}
	for i, d := range f.DistanceTiers {
		tier := pricing.DistanceTier{MinMiles: d.MinMiles, MaxMiles: d.MaxMiles}
		if tier.FlatFee, err = amount(d.FlatFee); err != nil {
			return pricing.Tables{}, fmt.Errorf("distance_tiers[%d].flat_fee: %w", i, err)
		}
		if tier.FeePerMile, err = amount(d.FeePerMile); err != nil {
			return pricing.Tables{}, fmt.Errorf("distance_tiers[%d].fee_per_mile: %w", i, err)
		}
		t.Distance = append(t.Distance, tier)
	}
	for i, h := range f.HeadcountTiers {
		tier := pricing.HeadcountTier{Min: h.Min, Max: h.Max}
		if tier.Surcharge, err = amount(h.Surcharge); err != nil {
			return pricing.Tables{}, fmt.Errorf("headcount_tiers[%d].surcharge: %w", i, err)
		}
		t.Headcount = append(t.Headcount, tier)
	}
	if err := t.Validate(); err != nil {
		return pricing.Tables{}, fmt.Errorf("pricing file: %w", err)
	}
	return t, nil
}

func amount(s string) (pricing.Cents, error) {
	if s == "" {
		return 0, nil
	}
	return pricing.ParseCents(s)
}
