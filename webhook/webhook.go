// Package webhook manages registered external HTTP endpoints and their
// event type subscriptions.
package webhook

import (
	"time"

	"github.com/pulsekit/pulse/condition"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
)

// Webhook represents an external HTTP endpoint registered by a tenant.
type Webhook struct {
	entity.Entity

	// ID is the unique TypeID for this webhook.
	ID id.ID `json:"id"`

	// AgencyID optionally scopes the webhook to a tenant.
	AgencyID string `json:"agency_id,omitempty"`

	// Name is a human-readable webhook name.
	Name string `json:"name"`

	// Description explains what the webhook is for.
	Description string `json:"description,omitempty"`

	// URL is the delivery URL.
	URL string `json:"url"`

	// Method is the HTTP method used for delivery (default POST).
	Method string `json:"method"`

	// Headers are custom HTTP headers merged into each delivery request.
	// Caller-supplied keys override the defaults, except the signature header.
	Headers map[string]string `json:"headers,omitempty"`

	// SecretToken is the HMAC signing secret. Never serialized.
	SecretToken string `json:"-"`

	// Events are the subscribed event type names.
	Events []string `json:"events"`

	// IsActive indicates whether the webhook receives deliveries.
	IsActive bool `json:"is_active"`

	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int `json:"retry_attempts"`

	// RetryDelaySeconds is the delay between attempts.
	RetryDelaySeconds int `json:"retry_delay_seconds"`

	// TimeoutSeconds bounds each HTTP attempt.
	TimeoutSeconds int `json:"timeout_seconds"`

	// RateLimit caps deliveries per second to this webhook. Zero means
	// unlimited.
	RateLimit int `json:"rate_limit,omitempty"`

	// Filters gate deliveries: every key must equal the corresponding
	// event data value, or the webhook is skipped for that event.
	Filters map[string]any `json:"filters,omitempty"`

	// LastTriggered is when a delivery was last created for this webhook.
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
}

// SubscribedTo reports whether the webhook subscribes to the event type.
func (w *Webhook) SubscribedTo(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// MatchesFilters reports whether the event data passes the webhook's
// equality filters. Filters are deliberately coarser than subscription
// conditions: a missing or unequal value skips the webhook.
func (w *Webhook) MatchesFilters(data map[string]any) bool {
	for key, want := range w.Filters {
		eq := condition.Condition{Field: key, Operator: condition.Eq, Value: want}
		if !eq.Evaluate(data) {
			return false
		}
	}
	return true
}

// ListOpts configures filtering for webhook listing.
type ListOpts struct {
	AgencyID   string
	ActiveOnly bool
}
