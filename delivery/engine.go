package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
	"github.com/pulsekit/pulse/observability"
	"github.com/pulsekit/pulse/ratelimit"
	"github.com/pulsekit/pulse/webhook"
)

// EngineStore is the persistence surface the dispatch engine needs:
// the delivery records plus the webhook registry lookups on its hot path.
type EngineStore interface {
	Store

	GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error)
	ResolveWebhooks(ctx context.Context, eventType, agencyID string) ([]*webhook.Webhook, error)
	TouchLastTriggered(ctx context.Context, whID id.ID, at time.Time) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency  int
	PollInterval time.Duration
	BatchSize    int
	Metrics      *observability.Metrics
	Tracer       *observability.Tracer
}

// Engine is the webhook dispatch engine: it fans triggered events out to
// matching webhooks and drives each WebhookEvent through the send/retry
// state machine.
//
// Retries are durable: due records are polled from the store rather than
// scheduled on process-local timers, so an event mid-retry survives a
// restart and is picked up by the next poll.
type Engine struct {
	store   EngineStore
	sender  *Sender
	retrier *Retrier
	limiter *ratelimit.Limiter
	config  EngineConfig
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a dispatch engine.
func NewEngine(store EngineStore, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Engine{
		store:   store,
		sender:  NewSender(),
		retrier: NewRetrier(),
		limiter: ratelimit.New(),
		config:  cfg,
		logger:  logger,
	}
}

// Start begins the delivery poll loop and workers.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight deliveries to complete.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Trigger fans an event out to every active webhook subscribed to its
// type (scoped to agencyID when given), creating one pending WebhookEvent
// per webhook that passes its filters. Fire-and-forget: delivery outcomes
// are never reported back to the caller.
func (e *Engine) Trigger(ctx context.Context, eventType string, data map[string]any, agencyID string) error {
	webhooks, err := e.store.ResolveWebhooks(ctx, eventType, agencyID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	for _, wh := range webhooks {
		if !wh.MatchesFilters(data) {
			continue
		}

		evt := &WebhookEvent{
			Entity:        entity.New(),
			ID:            id.NewWebhookEventID(),
			WebhookID:     wh.ID,
			EventType:     eventType,
			EventData:     data,
			Status:        StatusPending,
			TriggeredAt:   now,
			NextAttemptAt: now,
		}

		if err := e.store.CreateWebhookEvent(ctx, evt); err != nil {
			e.logger.ErrorContext(ctx, "create webhook event failed",
				"webhook_id", wh.ID, "event_type", eventType, "error", err)
			continue
		}

		if err := e.store.TouchLastTriggered(ctx, wh.ID, now); err != nil {
			e.logger.ErrorContext(ctx, "touch last triggered failed",
				"webhook_id", wh.ID, "error", err)
		}

		if e.config.Metrics != nil {
			e.config.Metrics.EventsTriggered.Inc()
			e.config.Metrics.PendingDeliveries.Inc()
		}
	}

	return nil
}

// pollLoop periodically dequeues due webhook events and dispatches them
// to workers, bounded by a concurrency semaphore.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.DequeueDue(ctx, e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, evt := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(evt *WebhookEvent) {
					defer e.wg.Done()
					defer func() { <-sem }()
					e.process(ctx, evt)
				}(evt)
			}
		}
	}
}

// process runs a single delivery attempt: fetch the webhook, send,
// classify, persist. Within one WebhookEvent attempts are strictly
// sequential because the record stays locked until updated.
func (e *Engine) process(ctx context.Context, evt *WebhookEvent) {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, evt.ID.String(), evt.WebhookID.String(), evt.EventType)
	}

	wh, err := e.store.GetWebhook(ctx, evt.WebhookID)
	if err != nil {
		e.fail(ctx, evt, "webhook no longer exists: "+err.Error())
		e.endSpan(span, evt)
		return
	}
	if !wh.IsActive {
		e.fail(ctx, evt, "webhook is disabled")
		e.endSpan(span, evt)
		return
	}

	if err := e.limiter.Wait(ctx, wh.ID.String(), wh.RateLimit); err != nil {
		// Shutdown while waiting: leave the record due for the next poll.
		evt.Status = StatusPending
		e.update(ctx, evt)
		e.endSpan(span, evt)
		return
	}

	evt.AttemptNumber++
	evt.Status = StatusSending
	e.update(ctx, evt)

	result := e.sender.Send(ctx, wh, BuildPayload(wh, evt.EventType, evt.EventData))

	evt.HTTPStatusCode = result.StatusCode
	evt.ResponseBody = truncate(result.ResponseBody, MaxResponseBody)
	evt.ErrorMessage = result.Error
	evt.DurationMs = result.DurationMs
	evt.RequestHeaders = result.RequestHeaders
	evt.RequestBody = result.RequestBody

	seconds := float64(result.DurationMs) / 1000.0

	switch e.retrier.Decide(result, evt, wh) {
	case Succeed:
		now := time.Now().UTC()
		evt.Status = StatusSuccess
		evt.CompletedAt = &now
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("success", seconds)
			e.config.Metrics.PendingDeliveries.Dec()
		}
		e.logger.DebugContext(ctx, "delivered",
			"webhook_event_id", evt.ID, "status", result.StatusCode,
			"attempt", evt.AttemptNumber, "duration_ms", result.DurationMs)

	case Retry:
		evt.Status = StatusRetrying
		evt.NextAttemptAt = e.retrier.NextAttempt(wh)
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("retried", seconds)
		}
		e.logger.DebugContext(ctx, "retry scheduled",
			"webhook_event_id", evt.ID, "attempt", evt.AttemptNumber,
			"next_at", evt.NextAttemptAt)

	case Fail:
		now := time.Now().UTC()
		evt.Status = StatusFailed
		evt.CompletedAt = &now
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("failed", seconds)
			e.config.Metrics.PendingDeliveries.Dec()
		}
		e.logger.WarnContext(ctx, "delivery failed permanently",
			"webhook_event_id", evt.ID, "status", result.StatusCode,
			"attempt", evt.AttemptNumber, "error", result.Error)
	}

	e.update(ctx, evt)
	e.endSpan(span, evt)
}

// Test performs a synchronous one-shot delivery of a canned payload
// against the webhook's current configuration. Nothing is persisted,
// making it safe to call before activation.
func (e *Engine) Test(ctx context.Context, whID id.ID) (*TestResult, error) {
	wh, err := e.store.GetWebhook(ctx, whID)
	if err != nil {
		return nil, err
	}

	payload := BuildPayload(wh, "webhook.test", map[string]any{
		"test":    true,
		"message": "Test delivery from Pulse",
	})

	result := e.sender.Send(ctx, wh, payload)

	return &TestResult{
		Success:      result.Error == "" && result.StatusCode >= 200 && result.StatusCode < 300,
		StatusCode:   result.StatusCode,
		ResponseBody: truncate(result.ResponseBody, MaxResponseBody),
		Error:        result.Error,
		DurationMs:   result.DurationMs,
	}, nil
}

// RetryEvent manually re-drives an existing (typically failed) webhook
// event, independent of the automatic retry schedule.
func (e *Engine) RetryEvent(ctx context.Context, evtID id.ID) error {
	evt, err := e.store.GetWebhookEvent(ctx, evtID)
	if err != nil {
		return err
	}

	evt.CompletedAt = nil
	evt.NextAttemptAt = time.Now().UTC()

	e.process(ctx, evt)
	return nil
}

// ListEvents returns delivery history, newest first. A zero limit
// defaults to 50.
func (e *Engine) ListEvents(ctx context.Context, opts ListOpts) ([]*WebhookEvent, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	return e.store.ListWebhookEvents(ctx, opts)
}

// GetStats aggregates webhook and delivery counts from persisted rows.
func (e *Engine) GetStats(ctx context.Context, opts StatsOpts) (*Stats, error) {
	stats, err := e.store.DeliveryStats(ctx, opts)
	if err != nil {
		return nil, err
	}

	if stats.TotalEvents > 0 {
		stats.SuccessRate = float64(stats.SuccessfulEvents) / float64(stats.TotalEvents)
	}
	return stats, nil
}

// TestResult is the synchronous outcome of a configuration test delivery.
type TestResult struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	Error        string `json:"error,omitempty"`
	DurationMs   int    `json:"duration_ms"`
}

// fail marks a webhook event terminally failed outside the normal
// attempt flow (e.g. the webhook was deleted mid-retry).
func (e *Engine) fail(ctx context.Context, evt *WebhookEvent, msg string) {
	now := time.Now().UTC()
	evt.Status = StatusFailed
	evt.ErrorMessage = msg
	evt.CompletedAt = &now
	if e.config.Metrics != nil {
		e.config.Metrics.RecordDelivery("failed", 0)
		e.config.Metrics.PendingDeliveries.Dec()
	}
	e.update(ctx, evt)
}

func (e *Engine) update(ctx context.Context, evt *WebhookEvent) {
	if err := e.store.UpdateWebhookEvent(ctx, evt); err != nil {
		e.logger.ErrorContext(ctx, "update webhook event failed",
			"webhook_event_id", evt.ID, "error", err)
	}
}

func (e *Engine) endSpan(span trace.Span, evt *WebhookEvent) {
	if span != nil && e.config.Tracer != nil {
		e.config.Tracer.EndDeliverySpan(span, evt.HTTPStatusCode, evt.DurationMs, evt.ErrorMessage)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
