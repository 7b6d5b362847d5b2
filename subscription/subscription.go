// Package subscription manages per-user event subscriptions and
// tenant-scoped rules, including the in-memory caches that back the
// matching engine's hot path.
package subscription

import (
	"github.com/pulsekit/pulse/condition"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
)

// AllEventTypes is the wildcard entry that subscribes to every event type.
const AllEventTypes = "all"

// Priority is the ordinal urgency attached to events and used as a
// subscription's minimum threshold.
type Priority string

// Priority levels, lowest to highest.
const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// Ordinal returns the numeric rank of a priority (low=1 … critical=5).
// Unknown values rank as normal.
func (p Priority) Ordinal() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	case PriorityCritical:
		return 5
	default:
		return 2
	}
}

// Subscription is a per-user registration of interest in certain event types.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// UserID identifies the owning user.
	UserID string `json:"user_id"`

	// AgencyID optionally scopes the subscription to a tenant.
	AgencyID string `json:"agency_id,omitempty"`

	// EventTypes are the subscribed event type names, or the literal "all".
	EventTypes []string `json:"event_types"`

	// Channels are delivery channel tags consumed by external senders.
	// Opaque to the matching engine.
	Channels []string `json:"channels,omitempty"`

	// Filters are AND-combined conditions over the event data.
	Filters []condition.Condition `json:"filters,omitempty"`

	// PriorityThreshold is the minimum event priority that matches.
	PriorityThreshold Priority `json:"priority_threshold"`

	// Enabled indicates whether the subscription participates in matching.
	Enabled bool `json:"enabled"`
}

// WantsType reports whether the subscription covers the given event type.
func (s *Subscription) WantsType(eventType string) bool {
	for _, t := range s.EventTypes {
		if t == eventType || t == AllEventTypes {
			return true
		}
	}
	return false
}
