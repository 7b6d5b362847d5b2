package subscription

import "github.com/pulsekit/pulse/condition"

// Input is the creation/update payload for subscriptions.
type Input struct {
	// UserID identifies the owning user. Required on create.
	UserID string `json:"user_id"`

	// AgencyID optionally scopes the subscription to a tenant.
	AgencyID string `json:"agency_id,omitempty"`

	// EventTypes are the subscribed event type names, or "all".
	EventTypes []string `json:"event_types"`

	// Channels are delivery channel tags for external senders.
	Channels []string `json:"channels,omitempty"`

	// Filters are AND-combined conditions over the event data.
	Filters []condition.Condition `json:"filters,omitempty"`

	// PriorityThreshold is the minimum event priority that matches.
	// Defaults to low (match everything) when empty.
	PriorityThreshold Priority `json:"priority_threshold,omitempty"`

	// Enabled toggles the subscription. New subscriptions default to enabled.
	Enabled *bool `json:"enabled,omitempty"`
}

// RuleInput is the creation payload for rules.
type RuleInput struct {
	// Name is a human-readable rule name. Required.
	Name string `json:"name"`

	// AgencyID scopes the rule to a tenant. Empty means global.
	AgencyID string `json:"agency_id,omitempty"`

	// EventTypes are the event type names this rule applies to, or "all".
	EventTypes []string `json:"event_types"`

	// Conditions are AND-combined clauses over the event data.
	Conditions []condition.Condition `json:"conditions,omitempty"`

	// Actions run when the rule fires.
	Actions []Action `json:"actions"`

	// Priority orders rules within a scope.
	Priority int `json:"priority"`
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "subscription validation: " + e.Field + ": " + e.Message
}
