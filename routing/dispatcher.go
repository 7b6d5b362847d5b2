package routing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsekit/pulse/signal"
	"github.com/pulsekit/pulse/subscription"
)

// WebhookTrigger hands rule-driven webhook actions to the dispatch engine.
// Implemented by delivery.Engine.
type WebhookTrigger interface {
	Trigger(ctx context.Context, eventType string, data map[string]any, agencyID string) error
}

// actionJob is one queued action execution.
type actionJob struct {
	rule   *subscription.Rule
	action subscription.Action
	event  Event
}

// Dispatcher decouples rule matching from side-effect execution: each
// action kind has its own queue drained by a dedicated worker goroutine,
// so a slow channel never stalls matching or sibling actions.
type Dispatcher struct {
	bus      *signal.Bus
	webhooks WebhookTrigger
	logger   *slog.Logger

	queues map[subscription.ActionType]chan actionJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherConfig configures the action dispatcher.
type DispatcherConfig struct {
	// QueueSize is the per-action-kind queue capacity.
	QueueSize int
}

// NewDispatcher creates an action dispatcher publishing to the given bus.
// webhooks may be nil; webhook actions then only emit their signal.
func NewDispatcher(bus *signal.Bus, webhooks WebhookTrigger, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}

	queues := make(map[subscription.ActionType]chan actionJob)
	for _, kind := range []subscription.ActionType{
		subscription.ActionSendNotification,
		subscription.ActionSendEmail,
		subscription.ActionSendSMS,
		subscription.ActionSendWhatsApp,
		subscription.ActionCreateTask,
		subscription.ActionWebhook,
	} {
		queues[kind] = make(chan actionJob, cfg.QueueSize)
	}

	return &Dispatcher{
		bus:      bus,
		webhooks: webhooks,
		logger:   logger,
		queues:   queues,
		ctx:      context.Background(),
	}
}

// Start launches one worker goroutine per action kind.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)

	for kind, queue := range d.queues {
		d.wg.Add(1)
		go func(kind subscription.ActionType, queue chan actionJob) {
			defer d.wg.Done()
			for {
				select {
				case <-d.ctx.Done():
					return
				case job := <-queue:
					d.execute(d.ctx, job)
				}
			}
		}(kind, queue)
	}
}

// Stop cancels all workers and waits for in-flight actions to finish.
// Actions still waiting on a delay timer are abandoned.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Dispatch queues an action for execution. Actions with a configured delay
// are scheduled after it elapses; immediate actions apply back-pressure to
// the caller when the kind's queue is full.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *subscription.Rule, action subscription.Action, evt Event) {
	queue, ok := d.queues[action.Type]
	if !ok {
		d.logger.WarnContext(ctx, "unknown action type",
			"rule_id", rule.ID, "action_type", action.Type)
		return
	}

	job := actionJob{rule: rule, action: action, event: evt}

	if action.DelaySeconds > 0 {
		delay := time.Duration(action.DelaySeconds) * time.Second
		time.AfterFunc(delay, func() {
			select {
			case queue <- job:
			case <-d.ctx.Done():
			}
		})
		return
	}

	select {
	case queue <- job:
	case <-ctx.Done():
	}
}

// execute runs a single action. Failures and panics are logged and never
// affect sibling actions.
func (d *Dispatcher) execute(ctx context.Context, job actionJob) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "action panicked",
				"rule_id", job.rule.ID, "action_type", job.action.Type, "panic", r)
		}
	}()

	if job.action.Type == subscription.ActionWebhook && d.webhooks != nil {
		if err := d.webhooks.Trigger(ctx, job.event.Type, job.event.Data, job.event.AgencyID); err != nil {
			d.logger.ErrorContext(ctx, "webhook action failed",
				"rule_id", job.rule.ID, "error", err)
		}
	}

	if d.bus != nil {
		d.bus.Publish(signalKind(job.action.Type), map[string]any{
			"rule_id":    job.rule.ID.String(),
			"rule_name":  job.rule.Name,
			"agency_id":  job.rule.AgencyID,
			"event_type": job.event.Type,
			"event_data": job.event.Data,
			"config":     job.action.Config,
			"retry": map[string]any{
				"max_retries":         job.action.MaxRetries,
				"retry_delay_seconds": job.action.RetryDelaySeconds,
				"backoff_multiplier":  job.action.BackoffMultiplier,
			},
		})
	}
}

// signalKind maps an action type to its emitted signal kind.
func signalKind(t subscription.ActionType) signal.Kind {
	switch t {
	case subscription.ActionSendEmail:
		return signal.ActionSendEmail
	case subscription.ActionSendSMS:
		return signal.ActionSendSMS
	case subscription.ActionSendWhatsApp:
		return signal.ActionSendWhatsApp
	case subscription.ActionCreateTask:
		return signal.ActionCreateTask
	case subscription.ActionWebhook:
		return signal.ActionWebhook
	default:
		return signal.ActionSendNotification
	}
}
