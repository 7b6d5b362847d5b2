package pulse

import (
	"log/slog"
	"time"

	"github.com/pulsekit/pulse/catalog"
	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/observability"
	"github.com/pulsekit/pulse/routing"
	"github.com/pulsekit/pulse/signal"
	"github.com/pulsekit/pulse/store"
	"github.com/pulsekit/pulse/subscription"
	"github.com/pulsekit/pulse/webhook"
)

// Pulse is the root event routing and webhook delivery engine.
type Pulse struct {
	config     Config
	store      store.Store
	bus        *signal.Bus
	catalog    *catalog.Service
	validator  *catalog.Validator
	subs       *subscription.Service
	webhookSvc *webhook.Service
	dispatcher *routing.Dispatcher
	router     *routing.Engine
	engine     *delivery.Engine
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger
}

// Option configures a Pulse instance.
type Option func(*Pulse) error

// New creates a new Pulse with the given options.
func New(opts ...Option) (*Pulse, error) {
	p := &Pulse{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.store == nil {
		return nil, ErrNoStore
	}
	p.wireServices()
	return p, nil
}

// WithStore sets the persistence backend for the Pulse instance.
func WithStore(s store.Store) Option {
	return func(p *Pulse) error {
		p.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Pulse instance.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pulse) error {
		p.logger = logger
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(p *Pulse) error {
		p.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for due webhook events.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pulse) error {
		p.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of webhook events dequeued per poll cycle.
func WithBatchSize(n int) Option {
	return func(p *Pulse) error {
		p.config.BatchSize = n
		return nil
	}
}

// WithQueueSize sets the per-action-kind queue capacity of the rule action dispatcher.
func WithQueueSize(n int) Option {
	return func(p *Pulse) error {
		p.config.QueueSize = n
		return nil
	}
}

// WithResyncInterval sets how often the subscription and rule caches reload.
func WithResyncInterval(d time.Duration) Option {
	return func(p *Pulse) error {
		p.config.ResyncInterval = d
		return nil
	}
}

// WithCacheTTL sets the TTL for the catalog's in-memory event type cache.
func WithCacheTTL(d time.Duration) Option {
	return func(p *Pulse) error {
		p.config.CacheTTL = d
		return nil
	}
}

// WithMetrics attaches Prometheus instruments to the routing and delivery paths.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pulse) error {
		p.metrics = m
		return nil
	}
}

// WithTracer attaches an OpenTelemetry tracer to the delivery path.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Pulse) error {
		p.tracer = t
		return nil
	}
}
