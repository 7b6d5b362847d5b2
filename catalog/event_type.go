package catalog

import (
	"encoding/json"

	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
)

// EventType is one entry of the event vocabulary consumed by both engines.
// Read-mostly reference data: registered at boot or by an administrator,
// then served from cache.
type EventType struct {
	entity.Entity

	// ID is the unique TypeID for this event type.
	ID id.ID `json:"id"`

	// Name is the event type name (e.g. "invoice.paid").
	Name string `json:"name"`

	// Category groups event types for docs and filtered listings.
	Category string `json:"category,omitempty"`

	// Description is a human-readable explanation of when this event fires.
	Description string `json:"description,omitempty"`

	// Schema is an optional JSON Schema describing the payload shape.
	// When set, triggered payloads are validated against it.
	Schema json.RawMessage `json:"schema,omitempty"`

	// IsActive indicates whether the event type is available for use.
	IsActive bool `json:"is_active"`
}

// ListOpts configures filtering for event type listing.
type ListOpts struct {
	Category        string
	IncludeInactive bool
}
