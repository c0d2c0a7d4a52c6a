// Package config builds the process-wide, read-only configuration. It is
// loaded once in main and passed by pointer to every component; nothing
// mutates it afterwards, so credential rotation requires a restart.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"catersync/internal/pricing"
)

// Partner holds the single partner's credentials and webhook target.
type Partner struct {
	Name          string
	APIKey        string
	WebhookURL    string
	WebhookSecret string
}

// Configured reports whether partner requests can be authenticated at all.
func (p Partner) Configured() bool { return p.APIKey != "" }

type Webhook struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	Timeout      time.Duration
	PollInterval time.Duration
	Retention    time.Duration
}

type Geocoder struct {
	URL      string
	APIKey   string
	CacheTTL time.Duration
}

type Config struct {
	Port              string
	DatabaseURL       string
	DBMigrate         bool
	RedisURL          string
	LogLevel          string
	StoreTimeout      time.Duration
	RateRPS           float64
	RateBurst         int
	DispatchJWTSecret string

	Partner  Partner
	Business BusinessHours
	Webhook  Webhook
	Geocoder Geocoder
	Pricing  pricing.Tables
}

// Default returns a configuration with every optional value set to its
// default and no partner credentials.
func Default() Config {
	bh, _ := NewBusinessHours("UTC", "07:00", "22:00", 2*time.Hour)
	return Config{
		Port:         "8080",
		DBMigrate:    true,
		LogLevel:     "info",
		StoreTimeout: 3 * time.Second,
		RateRPS:      20,
		RateBurst:    40,
		Partner:      Partner{Name: "catermarket"},
		Business:     bh,
		Webhook: Webhook{
			MaxAttempts:  6,
			BackoffBase:  2 * time.Second,
			BackoffMax:   10 * time.Minute,
			Timeout:      5 * time.Second,
			PollInterval: time.Second,
			Retention:    7 * 24 * time.Hour,
		},
		Geocoder: Geocoder{CacheTTL: 24 * time.Hour},
		Pricing:  pricing.DefaultTables(),
	}
}

// Load reads an optional .env file, then the environment, then the optional
// pricing file named by PRICING_FILE.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()
	p := envParser{get: getenv}

	cfg.Port = p.str("PORT", cfg.Port)
	cfg.DatabaseURL = strings.TrimSpace(getenv("DATABASE_URL"))
	cfg.DBMigrate = p.get("DB_MIGRATE") != "false"
	cfg.RedisURL = getenv("REDIS_URL")
	cfg.LogLevel = p.str("LOG_LEVEL", cfg.LogLevel)
	cfg.StoreTimeout = p.duration("STORE_TIMEOUT", cfg.StoreTimeout)
	cfg.RateRPS = p.number("RATE_RPS", cfg.RateRPS)
	cfg.RateBurst = p.integer("RATE_BURST", cfg.RateBurst)
	cfg.DispatchJWTSecret = getenv("DISPATCH_JWT_SECRET")

	cfg.Partner = Partner{
		Name:          p.str("PARTNER_NAME", cfg.Partner.Name),
		APIKey:        strings.TrimSpace(getenv("PARTNER_API_KEY")),
		WebhookURL:    strings.TrimSpace(getenv("PARTNER_WEBHOOK_URL")),
		WebhookSecret: getenv("PARTNER_WEBHOOK_SECRET"),
	}

	cfg.Webhook.MaxAttempts = p.integer("WEBHOOK_MAX_ATTEMPTS", cfg.Webhook.MaxAttempts)
	cfg.Webhook.BackoffBase = p.duration("WEBHOOK_BACKOFF_BASE", cfg.Webhook.BackoffBase)
	cfg.Webhook.BackoffMax = p.duration("WEBHOOK_BACKOFF_MAX", cfg.Webhook.BackoffMax)
	cfg.Webhook.Timeout = p.duration("WEBHOOK_TIMEOUT", cfg.Webhook.Timeout)
	cfg.Webhook.PollInterval = p.duration("WEBHOOK_POLL_INTERVAL", cfg.Webhook.PollInterval)
	cfg.Webhook.Retention = p.duration("WEBHOOK_RETENTION", cfg.Webhook.Retention)

	cfg.Geocoder = Geocoder{
		URL:      getenv("GEOCODER_URL"),
		APIKey:   getenv("GEOCODER_API_KEY"),
		CacheTTL: p.duration("GEOCODE_CACHE_TTL", cfg.Geocoder.CacheTTL),
	}

	bh, err := NewBusinessHours(
		p.str("BUSINESS_TIMEZONE", "UTC"),
		p.str("BUSINESS_HOURS_OPEN", "07:00"),
		p.str("BUSINESS_HOURS_CLOSE", "22:00"),
		p.duration("MIN_LEAD_TIME", 2*time.Hour),
	)
	if err != nil {
		p.errs = append(p.errs, err)
	}
	cfg.Business = bh

	if path := getenv("PRICING_FILE"); path != "" {
		tables, err := LoadPricingFile(path)
		if err != nil {
			p.errs = append(p.errs, err)
		} else {
			cfg.Pricing = tables
		}
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints. A missing API key is not an error
// here: the service starts and the AuthGate fails closed.
func (c *Config) Validate() error {
	var errs []error
	if c.Partner.Name == "" {
		errs = append(errs, errors.New("PARTNER_NAME must not be empty"))
	}
	if c.Webhook.MaxAttempts <= 0 {
		errs = append(errs, errors.New("WEBHOOK_MAX_ATTEMPTS must be > 0"))
	}
	for name, d := range map[string]time.Duration{
		"STORE_TIMEOUT":         c.StoreTimeout,
		"WEBHOOK_BACKOFF_BASE":  c.Webhook.BackoffBase,
		"WEBHOOK_BACKOFF_MAX":   c.Webhook.BackoffMax,
		"WEBHOOK_TIMEOUT":       c.Webhook.Timeout,
		"WEBHOOK_POLL_INTERVAL": c.Webhook.PollInterval,
		"WEBHOOK_RETENTION":     c.Webhook.Retention,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.RateRPS <= 0 || c.RateBurst <= 0 {
		errs = append(errs, errors.New("RATE_RPS and RATE_BURST must be positive"))
	}
	if err := c.Pricing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pricing: %w", err))
	}
	return errors.Join(errs...)
}

type envParser struct {
	get  func(string) string
	errs []error
}

func (p *envParser) str(k, d string) string {
	if v := strings.TrimSpace(p.get(k)); v != "" {
		return v
	}
	return d
}

func (p *envParser) integer(k string, d int) int {
	v := strings.TrimSpace(p.get(k))
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return d
	}
	return n
}

func (p *envParser) number(k string, d float64) float64 {
	v := strings.TrimSpace(p.get(k))
	if v == "" {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return d
	}
	return f
}

func (p *envParser) duration(k string, d time.Duration) time.Duration {
	v := strings.TrimSpace(p.get(k))
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return d
	}
	return dur
}
