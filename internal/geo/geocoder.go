package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"catersync/internal/model"
)

var (
	ErrInvalidAddress       = errors.New("invalid address")
	ErrAddressNotFound      = errors.New("address not found")
	ErrGeocodingUnavailable = errors.New("geocoding not configured")
)

// Geocoder turns a free-form address into a Location.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (model.Location, error)
}

// Resolve returns the Location for a partner address, using the supplied
// coordinates when present and the geocoder otherwise. g may be nil.
func Resolve(ctx context.Context, g Geocoder, a model.AddressIn) (model.Location, error) {
	display := strings.TrimSpace(a.Display)
	if a.Resolved() {
		p := model.GeoPoint{Lat: *a.Lat, Lng: *a.Lng}
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return model.Location{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidAddress)
		}
		return model.Location{Display: display, Point: p}, nil
	}
	if a.Lat != nil || a.Lng != nil {
		return model.Location{}, fmt.Errorf("%w: lat and lng must be sent together", ErrInvalidAddress)
	}
	if display == "" {
		return model.Location{}, fmt.Errorf("%w: address is required", ErrInvalidAddress)
	}
	if g == nil {
		return model.Location{}, fmt.Errorf("%w: coordinates are required", ErrGeocodingUnavailable)
	}
	return g.Geocode(ctx, display)
}

// HTTPGeocoder calls a JSON geocoding endpoint:
//
//	GET {BaseURL}?address=...&key=...  ->  {"lat": 40.7, "lng": -73.9, "display": "..."}
//
// 404 maps to ErrAddressNotFound; 5xx and transport errors are retried with
// exponential backoff up to MaxRetries times.
type HTTPGeocoder struct {
	BaseURL    string
	APIKey     string
	HTTP       *http.Client
	MaxRetries uint64
}

func NewHTTPGeocoder(baseURL, apiKey string) *HTTPGeocoder {
	return &HTTPGeocoder{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTP:       &http.Client{Timeout: 5 * time.Second},
		MaxRetries: 3,
	}
}

type geocodeResponse struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Display string   `json:"display"`
}

func (g *HTTPGeocoder) Geocode(ctx context.Context, address string) (model.Location, error) {
	q := url.Values{}
	q.Set("address", address)
	if g.APIKey != "" {
		q.Set("key", g.APIKey)
	}
	endpoint := g.BaseURL + "?" + q.Encode()

	var loc model.Location
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := g.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrAddressNotFound, address))
		case resp.StatusCode >= 500:
			return fmt.Errorf("geocoder: status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("geocoder: status %d", resp.StatusCode))
		}
		var body geocodeResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(fmt.Errorf("geocoder: decode: %w", err))
		}
		if body.Lat == nil || body.Lng == nil {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrAddressNotFound, address))
		}
		loc = model.Location{Display: body.Display, Point: model.GeoPoint{Lat: *body.Lat, Lng: *body.Lng}}
		if loc.Display == "" {
			loc.Display = address
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, g.MaxRetries), ctx)); err != nil {
		return model.Location{}, err
	}
	return loc, nil
}
