package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"catersync/internal/auth"
	"catersync/internal/config"
	"catersync/internal/geo"
	"catersync/internal/jobs"
	"catersync/internal/model"
	"catersync/internal/orders"
	"catersync/internal/pricing"
	"catersync/internal/statusmap"
	"catersync/internal/store"
	"catersync/internal/webhooks"
)

// Server wires the order controller, authentication and background workers
// behind the HTTP router.
type Server struct {
	Config    *config.Config
	Store     store.Store
	Orders    *orders.Controller
	Partner   *auth.PartnerGate
	Dispatch  *auth.DispatchVerifier
	Broker    EventBroker
	Worker    *webhooks.Worker
	Retention *jobs.RetentionJob
	Log       *slog.Logger

	storeKind string
	limiter   *partnerLimiter
	closers   []func() error
}

// Options override collaborators normally built from Config; zero values
// select the defaults.
type Options struct {
	Store      store.Store
	Geocoder   geo.Geocoder
	Distance   geo.DistanceCalculator
	Now        func() time.Time
	HTTPClient *http.Client
}

// NewServer builds the service from cfg. Without DATABASE_URL it uses the
// in-memory store.
func NewServer(cfg *config.Config, log *slog.Logger, opts Options) (*Server, error) {
	s := &Server{
		Config:   cfg,
		Partner:  auth.NewPartnerGate(cfg.Partner),
		Dispatch: auth.NewDispatchVerifier(cfg.DispatchJWTSecret),
		Log:      log,
		limiter:  newPartnerLimiter(cfg.RateRPS, cfg.RateBurst),
	}

	switch {
	case opts.Store != nil:
		s.Store, s.storeKind = opts.Store, "custom"
	case strings.TrimSpace(cfg.DatabaseURL) == "":
		s.Store, s.storeKind = store.NewMemory(), "memory"
	default:
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, pg.Close)
		if cfg.DBMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			err := pg.Migrate(ctx)
			cancel()
			if err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		s.Store, s.storeKind = pg, "postgres"
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		c, err := geo.NewRedisClient(cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		rdb = c
		s.closers = append(s.closers, rdb.Close)
	}

	geocoder := opts.Geocoder
	if geocoder == nil && cfg.Geocoder.URL != "" {
		hg := geo.NewHTTPGeocoder(cfg.Geocoder.URL, cfg.Geocoder.APIKey)
		geocoder = hg
		if rdb != nil {
			geocoder = geo.NewCachedGeocoder(hg, rdb, cfg.Geocoder.CacheTTL, log)
		}
	}

	if rdb != nil {
		s.Broker = NewRedisBroker(rdb, log)
	} else {
		s.Broker = NewBroker()
	}

	s.Worker = webhooks.NewWorker(s.Store, cfg.Webhook, log)
	if opts.HTTPClient != nil {
		s.Worker.HTTP = opts.HTTPClient
	}
	publisher := webhooks.NewPublisher(s.Store, cfg.Partner, s.Worker, log)
	s.Retention = jobs.NewRetentionJob(s.Store, cfg.Webhook.Retention, log)

	engine, err := pricing.NewEngine(cfg.Pricing)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Orders = orders.NewController(orders.Deps{
		Store:        s.Store,
		Pricing:      engine,
		Hours:        cfg.Business,
		Geocoder:     geocoder,
		Distance:     opts.Distance,
		Notifier:     orders.Notifiers{publisher, feedNotifier{s.Broker}},
		Logger:       log,
		Now:          opts.Now,
		StoreTimeout: cfg.StoreTimeout,
	})
	return s, nil
}

// Start launches the webhook worker and the retention job.
func (s *Server) Start() error {
	s.Worker.Start()
	return s.Retention.Start()
}

// Shutdown stops background work; Close releases connections.
func (s *Server) Shutdown() {
	s.Retention.Stop()
	s.Worker.Close()
}

func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Log.Warn("close", "error", err)
		}
	}
	s.closers = nil
}

// feedNotifier publishes status changes to dispatch WebSocket clients.
type feedNotifier struct{ broker EventBroker }

func (f feedNotifier) StatusChanged(_ context.Context, o model.Order, from model.Status) {
	evt := FeedEvent{Type: "order.status", OrderNumber: o.OrderNumber, Status: o.Status, From: from, At: o.UpdatedAt}
	if ps, ok := statusmap.Translate(o.Status); ok {
		evt.PartnerStatus = ps
	}
	f.broker.Publish(FeedTopic, evt)
}
