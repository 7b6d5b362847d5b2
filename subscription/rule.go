package subscription

import (
	"github.com/pulsekit/pulse/condition"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
)

// Rule is a tenant- or globally-scoped condition-to-action mapping,
// evaluated independently of user subscriptions.
type Rule struct {
	entity.Entity

	// ID is the unique TypeID for this rule.
	ID id.ID `json:"id"`

	// Name is a human-readable rule name.
	Name string `json:"name"`

	// AgencyID scopes the rule to a tenant. Empty means global.
	AgencyID string `json:"agency_id,omitempty"`

	// EventTypes are the event type names this rule applies to, or "all".
	EventTypes []string `json:"event_types"`

	// Conditions are AND-combined clauses over the event data.
	Conditions []condition.Condition `json:"conditions,omitempty"`

	// Actions run when the rule fires, in order.
	Actions []Action `json:"actions"`

	// Priority orders rules within a scope (higher runs first).
	Priority int `json:"priority"`

	// Enabled indicates whether the rule participates in evaluation.
	Enabled bool `json:"enabled"`
}

// AppliesTo reports whether the rule covers the given event type.
func (r *Rule) AppliesTo(eventType string) bool {
	for _, t := range r.EventTypes {
		if t == eventType || t == AllEventTypes {
			return true
		}
	}
	return false
}

// Fires reports whether every condition passes against the event data.
// A rule with no conditions always fires for its event types.
func (r *Rule) Fires(eventType string, data map[string]any) bool {
	if !r.AppliesTo(eventType) {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Evaluate(data) {
			return false
		}
	}
	return true
}

// ActionType names the kind of side effect a rule action produces.
type ActionType string

// Supported action types.
const (
	ActionSendNotification ActionType = "send_notification"
	ActionSendEmail        ActionType = "send_email"
	ActionSendSMS          ActionType = "send_sms"
	ActionSendWhatsApp     ActionType = "send_whatsapp"
	ActionCreateTask       ActionType = "create_task"
	ActionWebhook          ActionType = "webhook"
)

// ValidActionType reports whether t is a known action type.
func ValidActionType(t ActionType) bool {
	switch t {
	case ActionSendNotification, ActionSendEmail, ActionSendSMS,
		ActionSendWhatsApp, ActionCreateTask, ActionWebhook:
		return true
	}
	return false
}

// Action is a single side effect attached to a rule. The actual work is
// delegated to external channel senders via the signal bus; the retry
// policy fields travel with the emitted signal for those senders to honor.
type Action struct {
	// Type selects the worker that executes this action.
	Type ActionType `json:"type"`

	// Config is the opaque action configuration.
	Config map[string]any `json:"config,omitempty"`

	// DelaySeconds defers execution after the rule fires.
	DelaySeconds int `json:"delay_seconds,omitempty"`

	// MaxRetries is the sender-side retry budget.
	MaxRetries int `json:"max_retries,omitempty"`

	// RetryDelaySeconds is the sender-side delay between retries.
	RetryDelaySeconds int `json:"retry_delay_seconds,omitempty"`

	// BackoffMultiplier scales successive sender-side retry delays.
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`
}
