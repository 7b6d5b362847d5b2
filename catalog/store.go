package catalog

import "context"

// Store defines the persistence contract for the event type catalog.
type Store interface {
	// RegisterEventType creates or updates an event type (upsert by name).
	RegisterEventType(ctx context.Context, et *EventType) error

	// GetEventType returns an event type by name.
	GetEventType(ctx context.Context, name string) (*EventType, error)

	// ListEventTypes returns event types, optionally filtered by category.
	ListEventTypes(ctx context.Context, opts ListOpts) ([]*EventType, error)
}
