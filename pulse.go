package pulse

import (
	"context"
	"errors"
	"fmt"

	"github.com/pulsekit/pulse/catalog"
	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/routing"
	"github.com/pulsekit/pulse/signal"
	"github.com/pulsekit/pulse/store"
	"github.com/pulsekit/pulse/subscription"
	"github.com/pulsekit/pulse/webhook"
)

// wireServices initializes the internal services after options have been applied.
func (p *Pulse) wireServices() {
	p.bus = signal.NewBus(p.config.SignalBuffer, p.logger)

	p.catalog = catalog.NewService(p.store, catalog.Config{
		CacheTTL: p.config.CacheTTL,
	}, p.logger)

	p.validator = catalog.NewValidator()

	p.subs = subscription.NewService(p.store, p.bus, subscription.Config{
		ResyncInterval: p.config.ResyncInterval,
	}, p.logger)

	p.webhookSvc = webhook.NewService(p.store, p.logger)

	p.engine = delivery.NewEngine(p.store, delivery.EngineConfig{
		Concurrency:  p.config.Concurrency,
		PollInterval: p.config.PollInterval,
		BatchSize:    p.config.BatchSize,
		Metrics:      p.metrics,
		Tracer:       p.tracer,
	}, p.logger)

	p.dispatcher = routing.NewDispatcher(p.bus, p.engine, routing.DispatcherConfig{
		QueueSize: p.config.QueueSize,
	}, p.logger)

	p.router = routing.NewEngine(p.subs, p.dispatcher, p.bus, p.logger)
}

// Start begins the background loops: the subscription cache resync, the
// rule action workers, and the delivery engine.
func (p *Pulse) Start(ctx context.Context) {
	p.subs.Start(ctx)
	p.dispatcher.Start(ctx)
	p.engine.Start(ctx)
}

// Stop gracefully shuts everything down, delivery engine first so no new
// actions arrive at stopped workers.
func (p *Pulse) Stop() {
	p.engine.Stop()
	p.dispatcher.Stop()
	p.subs.Stop()
	p.bus.Close()
}

// ProcessEvent runs an event through subscription matching and rule
// evaluation. Matched subscriptions come back sorted by descending score;
// rule actions fire as side effects.
func (p *Pulse) ProcessEvent(ctx context.Context, evt routing.Event) ([]routing.MatchResult, error) {
	if err := p.checkEventType(ctx, evt.Type, evt.Data); err != nil {
		return nil, err
	}

	results := p.router.ProcessEvent(ctx, evt)
	if p.metrics != nil {
		p.metrics.EventsProcessed.Inc()
	}
	return results, nil
}

// TriggerEvent fans an event out to the webhooks subscribed to its type,
// scoped to agencyID when given. Delivery is asynchronous; failures are
// retried per webhook configuration and never reported back to the caller.
func (p *Pulse) TriggerEvent(ctx context.Context, eventType string, data map[string]any, agencyID string) error {
	if err := p.checkEventType(ctx, eventType, data); err != nil {
		return err
	}
	return p.engine.Trigger(ctx, eventType, data, agencyID)
}

// checkEventType validates the payload of catalog-registered event types.
// Unregistered types pass through: the catalog is an optional vocabulary,
// not a gate.
func (p *Pulse) checkEventType(ctx context.Context, eventType string, data map[string]any) error {
	et, err := p.catalog.Get(ctx, eventType)
	if err != nil {
		if errors.Is(err, ErrEventTypeNotFound) {
			return nil
		}
		return err
	}

	if !et.IsActive {
		return fmt.Errorf("%w: %s is inactive", ErrEventTypeNotFound, eventType)
	}

	if len(et.Schema) > 0 {
		if validateErr := p.validator.Validate(et.Schema, data); validateErr != nil {
			return fmt.Errorf("%w: %s", ErrPayloadValidationFailed, validateErr.Error())
		}
	}
	return nil
}

// Subscriptions returns the subscription and rule management service.
func (p *Pulse) Subscriptions() *subscription.Service {
	return p.subs
}

// Webhooks returns the webhook registry service.
func (p *Pulse) Webhooks() *webhook.Service {
	return p.webhookSvc
}

// Catalog returns the event type catalog.
func (p *Pulse) Catalog() *catalog.Service {
	return p.catalog
}

// Deliveries returns the webhook dispatch engine.
func (p *Pulse) Deliveries() *delivery.Engine {
	return p.engine
}

// Signals returns the signal bus carrying action and lifecycle signals.
func (p *Pulse) Signals() *signal.Bus {
	return p.bus
}

// Store returns the underlying store.
func (p *Pulse) Store() store.Store {
	return p.store
}
