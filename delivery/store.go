package delivery

import (
	"context"

	"github.com/pulsekit/pulse/id"
)

// Store defines the persistence contract for webhook events.
type Store interface {
	// CreateWebhookEvent persists a new delivery record.
	CreateWebhookEvent(ctx context.Context, evt *WebhookEvent) error

	// UpdateWebhookEvent modifies a delivery record and releases any
	// dequeue lock held on it.
	UpdateWebhookEvent(ctx context.Context, evt *WebhookEvent) error

	// GetWebhookEvent returns a delivery record by ID.
	GetWebhookEvent(ctx context.Context, evtID id.ID) (*WebhookEvent, error)

	// ListWebhookEvents returns delivery records, newest first.
	ListWebhookEvents(ctx context.Context, opts ListOpts) ([]*WebhookEvent, error)

	// DequeueDue fetches pending/retrying records whose next attempt is
	// due (concurrent-safe). Implementations must ensure no record is
	// handed to two workers at once (e.g. SKIP LOCKED).
	DequeueDue(ctx context.Context, limit int) ([]*WebhookEvent, error)

	// DeliveryStats aggregates delivery counts from persisted rows.
	DeliveryStats(ctx context.Context, opts StatsOpts) (*Stats, error)
}

// StatsOpts restricts a stats aggregation to one webhook or one tenant.
type StatsOpts struct {
	WebhookID id.ID // Nil matches all webhooks
	AgencyID  string
}

// Stats summarizes webhook delivery outcomes. Everything is recomputed
// from the persisted history; there are no running counters to drift.
type Stats struct {
	TotalWebhooks    int64   `json:"total_webhooks"`
	ActiveWebhooks   int64   `json:"active_webhooks"`
	TotalEvents      int64   `json:"total_events"`
	SuccessfulEvents int64   `json:"successful_events"`
	FailedEvents     int64   `json:"failed_events"`
	EventsLast24h    int64   `json:"events_last_24h"`
	SuccessRate      float64 `json:"success_rate"`
}
