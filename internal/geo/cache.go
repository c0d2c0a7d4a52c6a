package geo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"catersync/internal/metrics"
	"catersync/internal/model"
)

// CachedGeocoder memoizes geocoding results in Redis. Cache failures are
// logged and bypassed; they never fail the lookup.
type CachedGeocoder struct {
	Next   Geocoder
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

func NewCachedGeocoder(next Geocoder, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *CachedGeocoder {
	return &CachedGeocoder{Next: next, rdb: rdb, ttl: ttl, prefix: "catersync:geocode:", log: log.With("component", "geocode_cache")}
}

// Key returns the cache key for address; case and surrounding space are ignored.
func (c *CachedGeocoder) Key(address string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(address))))
	return c.prefix + hex.EncodeToString(sum[:16])
}

func (c *CachedGeocoder) Geocode(ctx context.Context, address string) (model.Location, error) {
	key := c.Key(address)
	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var loc model.Location
		if jerr := json.Unmarshal([]byte(raw), &loc); jerr == nil {
			metrics.GeocodeCache.WithLabelValues("hit").Inc()
			return loc, nil
		}
		c.log.WarnContext(ctx, "discarding corrupt geocode cache entry", "key", key)
		metrics.GeocodeCache.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		metrics.GeocodeCache.WithLabelValues("miss").Inc()
	default:
		c.log.WarnContext(ctx, "geocode cache read failed", "error", err)
		metrics.GeocodeCache.WithLabelValues("error").Inc()
	}

	loc, err := c.Next.Geocode(ctx, address)
	if err != nil {
		return model.Location{}, err
	}
	if b, jerr := json.Marshal(loc); jerr == nil {
		if serr := c.rdb.Set(ctx, key, b, c.ttl).Err(); serr != nil {
			c.log.WarnContext(ctx, "geocode cache write failed", "error", serr)
		}
	}
	return loc, nil
}
