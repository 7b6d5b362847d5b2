package webhook

import (
	"context"
	"time"

	"github.com/pulsekit/pulse/id"
)

// Store defines the persistence contract for webhooks.
type Store interface {
	// CreateWebhook persists a new webhook.
	CreateWebhook(ctx context.Context, wh *Webhook) error

	// GetWebhook returns a webhook by ID.
	GetWebhook(ctx context.Context, whID id.ID) (*Webhook, error)

	// UpdateWebhook modifies an existing webhook.
	UpdateWebhook(ctx context.Context, wh *Webhook) error

	// DeleteWebhook removes a webhook and its delivery history.
	DeleteWebhook(ctx context.Context, whID id.ID) error

	// ListWebhooks returns webhooks, optionally filtered by scope and activity.
	ListWebhooks(ctx context.Context, opts ListOpts) ([]*Webhook, error)

	// ResolveWebhooks finds active webhooks subscribed to an event type.
	// An empty agencyID matches every scope. This is the dispatch hot path.
	ResolveWebhooks(ctx context.Context, eventType, agencyID string) ([]*Webhook, error)

	// TouchLastTriggered records when a delivery was last created.
	TouchLastTriggered(ctx context.Context, whID id.ID, at time.Time) error
}
