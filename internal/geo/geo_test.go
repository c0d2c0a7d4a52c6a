package geo

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catersync/internal/logging"
	"catersync/internal/model"
)

func TestHaversineMiles(t *testing.T) {
	// Downtown LA to Santa Monica pier is roughly 15 miles as the crow flies.
	la := model.GeoPoint{Lat: 34.0522, Lng: -118.2437}
	sm := model.GeoPoint{Lat: 34.0083, Lng: -118.4988}
	d := HaversineMiles(la, sm)
	assert.InDelta(t, 14.9, d, 0.3)
	assert.Equal(t, 0.0, HaversineMiles(la, la))
}

func TestHaversineCalculatorRounds(t *testing.T) {
	d, err := Haversine{}.DistanceMiles(context.Background(), model.GeoPoint{Lat: 0, Lng: 0}, model.GeoPoint{Lat: 0, Lng: 0.1})
	require.NoError(t, err)
	assert.Equal(t, math.Round(d*100)/100, d)
}

func ptr(f float64) *float64 { return &f }

func TestResolve(t *testing.T) {
	ctx := context.Background()

	loc, err := Resolve(ctx, nil, model.AddressIn{Display: "1 Main St", Lat: ptr(40), Lng: ptr(-73)})
	require.NoError(t, err)
	assert.Equal(t, model.GeoPoint{Lat: 40, Lng: -73}, loc.Point)

	_, err = Resolve(ctx, nil, model.AddressIn{Display: "1 Main St"})
	require.ErrorIs(t, err, ErrGeocodingUnavailable)

	_, err = Resolve(ctx, nil, model.AddressIn{Display: "x", Lat: ptr(91), Lng: ptr(0)})
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = Resolve(ctx, nil, model.AddressIn{Display: "x", Lat: ptr(10)})
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = Resolve(ctx, nil, model.AddressIn{})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestHTTPGeocoder_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "500 Market St", r.URL.Query().Get("address"))
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"lat":37.79,"lng":-122.4,"display":"500 Market St, San Francisco"}`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, "k")
	g.HTTP = srv.Client()
	loc, err := g.Geocode(context.Background(), "500 Market St")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "500 Market St, San Francisco", loc.Display)
	assert.Equal(t, 37.79, loc.Point.Lat)
}

func TestHTTPGeocoder_NotFoundIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, "")
	g.HTTP = srv.Client()
	_, err := g.Geocode(context.Background(), "nowhere")
	require.True(t, errors.Is(err, ErrAddressNotFound), "got %v", err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCachedGeocoderKeyIsNormalized(t *testing.T) {
	c := NewCachedGeocoder(nil, nil, 0, logging.Discard())
	assert.Equal(t, c.Key("1 Main St"), c.Key("  1 MAIN st "))
	assert.NotEqual(t, c.Key("1 Main St"), c.Key("2 Main St"))
}

type countingGeocoder struct{ calls int32 }

func (c *countingGeocoder) Geocode(context.Context, string) (model.Location, error) {
	atomic.AddInt32(&c.calls, 1)
	return model.Location{Display: "1 Main St", Point: model.GeoPoint{Lat: 1, Lng: 2}}, nil
}

func TestCachedGeocoderBypassesUnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	next := &countingGeocoder{}
	c := NewCachedGeocoder(next, rdb, time.Minute, logging.Discard())

	loc, err := c.Geocode(context.Background(), "1 Main St")
	require.NoError(t, err)
	assert.Equal(t, 1.0, loc.Point.Lat)
	assert.Equal(t, int32(1), atomic.LoadInt32(&next.calls))
}
