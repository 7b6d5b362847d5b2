// Package signal provides the typed in-process bus that Pulse uses to hand
// side effects to external channel senders (email, SMS, push, task creation).
//
// Publishing never blocks: a subscriber that cannot keep up has signals
// dropped rather than stalling event matching.
package signal

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies a signal topic.
type Kind string

// Signal kinds emitted by the engines.
const (
	SubscriptionCreated Kind = "subscription_created"
	SubscriptionUpdated Kind = "subscription_updated"
	SubscriptionDeleted Kind = "subscription_deleted"
	RuleCreated         Kind = "rule_created"
	EventProcessed      Kind = "event_processed"

	ActionSendNotification Kind = "action_send_notification"
	ActionSendEmail        Kind = "action_send_email"
	ActionSendSMS          Kind = "action_send_sms"
	ActionSendWhatsApp     Kind = "action_send_whatsapp"
	ActionWebhook          Kind = "action_webhook"
	ActionCreateTask       Kind = "action_create_task"
)

// Signal is a single emitted notification.
type Signal struct {
	Kind    Kind           `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// Bus is a topic-keyed fan-out of signals to subscriber channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Kind][]chan Signal
	buffer  int
	closed  bool
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewBus creates a bus whose subscriber channels hold up to buffer signals.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[Kind][]chan Signal),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel receiving every signal of the given kinds.
// The channel is closed when the bus is closed.
func (b *Bus) Subscribe(kinds ...Kind) <-chan Signal {
	ch := make(chan Signal, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	for _, k := range kinds {
		b.subs[k] = append(b.subs[k], ch)
	}
	return ch
}

// Publish delivers a signal to all subscribers of its kind without blocking.
// Signals to a full subscriber channel are dropped and counted.
func (b *Bus) Publish(kind Kind, payload map[string]any) {
	sig := Signal{Kind: kind, Payload: payload, At: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[kind] {
		select {
		case ch <- sig:
		default:
			b.dropped.Add(1)
			b.logger.Warn("signal dropped", "kind", kind)
		}
	}
}

// Dropped returns the number of signals dropped due to full subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Signal]bool)
	for _, chans := range b.subs {
		for _, ch := range chans {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
	}
	b.subs = make(map[Kind][]chan Signal)
}
