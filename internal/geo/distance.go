// Package geo resolves partner addresses to coordinates and measures the
// distance between them.
package geo

import (
	"context"
	"math"

	"catersync/internal/model"
)

// EarthRadiusMiles is Earth's mean radius used by the Haversine formula.
const EarthRadiusMiles = 3958.7613

// HaversineMiles returns the great-circle distance between two points in miles.
func HaversineMiles(a, b model.GeoPoint) float64 {
	const degToRad = math.Pi / 180
	dLat := (b.Lat - a.Lat) * degToRad
	dLng := (b.Lng - a.Lng) * degToRad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*degToRad)*math.Cos(b.Lat*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusMiles * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// DistanceCalculator measures the delivery distance between pickup and drop-off.
type DistanceCalculator interface {
	DistanceMiles(ctx context.Context, from, to model.GeoPoint) (float64, error)
}

// Haversine is the straight-line DistanceCalculator. Results are rounded to
// hundredths of a mile so repeated drafts price identically.
type Haversine struct{}

func (Haversine) DistanceMiles(_ context.Context, from, to model.GeoPoint) (float64, error) {
	return math.Round(HaversineMiles(from, to)*100) / 100, nil
}

// FixedDistance always reports the same distance. Useful when the partner's
// own routing distance is authoritative, and in tests.
type FixedDistance float64

func (f FixedDistance) DistanceMiles(context.Context, model.GeoPoint, model.GeoPoint) (float64, error) {
	return float64(f), nil
}
