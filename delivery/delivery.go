// Package delivery drives triggered events through the webhook send/retry
// state machine and exposes the delivery history read path.
package delivery

import (
	"time"

	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
)

// Status is the current state of a webhook event's delivery lifecycle.
type Status string

// Delivery states. Success and failed are terminal.
const (
	StatusPending  Status = "pending"
	StatusSending  Status = "sending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRetrying Status = "retrying"
)

// Terminal reports whether the status ends the delivery lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// MaxResponseBody caps how much of a response body is persisted.
const MaxResponseBody = 10000

// WebhookEvent is one delivery lifecycle record: a single triggered webhook
// invocation spanning all of its attempts.
type WebhookEvent struct {
	entity.Entity

	// ID is the unique TypeID for this webhook event.
	ID id.ID `json:"id"`

	// WebhookID references the target webhook.
	WebhookID id.ID `json:"webhook_id"`

	// EventType is the triggering event type name.
	EventType string `json:"event_type"`

	// EventData is the payload snapshot taken at trigger time.
	EventData map[string]any `json:"event_data"`

	// Status is the current delivery state.
	Status Status `json:"status"`

	// HTTPStatusCode is the response status of the most recent attempt.
	HTTPStatusCode int `json:"http_status_code,omitempty"`

	// ResponseBody is the response body of the most recent attempt,
	// truncated to MaxResponseBody characters.
	ResponseBody string `json:"response_body,omitempty"`

	// ErrorMessage is the error from the most recent failed attempt.
	ErrorMessage string `json:"error_message,omitempty"`

	// TriggeredAt is when the delivery was created.
	TriggeredAt time.Time `json:"triggered_at"`

	// CompletedAt is when the delivery reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// DurationMs is the latency of the most recent attempt.
	DurationMs int `json:"duration_ms,omitempty"`

	// AttemptNumber counts completed attempts. At most RetryAttempts+1
	// automatic attempts are made.
	AttemptNumber int `json:"attempt_number"`

	// NextAttemptAt is when the next attempt becomes due.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// RequestHeaders snapshots the headers actually sent.
	RequestHeaders map[string]string `json:"request_headers,omitempty"`

	// RequestBody snapshots the body actually sent.
	RequestBody string `json:"request_body,omitempty"`
}

// ListOpts configures filtering for webhook event listing.
type ListOpts struct {
	WebhookID id.ID // Nil matches all webhooks
	EventType string
	Status    *Status
	Limit     int
}
