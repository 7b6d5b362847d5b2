// Package store defines the composite Store interface for all Pulse persistence.
//
// Each subsystem defines its own store interface, and the aggregate Store
// composes them all. Backends implement the whole surface.
package store

import (
	"context"

	"github.com/pulsekit/pulse/catalog"
	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/subscription"
	"github.com/pulsekit/pulse/webhook"
)

// Store is the aggregate persistence interface.
type Store interface {
	catalog.Store
	subscription.Store
	webhook.Store
	delivery.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
