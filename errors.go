package pulse

import "errors"

// Sentinel errors returned by Pulse operations.
var (
	// ErrNoStore is returned when a Pulse is created without a store.
	ErrNoStore = errors.New("pulse: store is required")

	// ErrWebhookNotFound is returned when a webhook cannot be found.
	ErrWebhookNotFound = errors.New("pulse: webhook not found")

	// ErrSubscriptionNotFound is returned when a subscription cannot be found.
	ErrSubscriptionNotFound = errors.New("pulse: subscription not found")

	// ErrRuleNotFound is returned when a rule cannot be found.
	ErrRuleNotFound = errors.New("pulse: rule not found")

	// ErrEventTypeNotFound is returned when an event type is not registered in the catalog.
	ErrEventTypeNotFound = errors.New("pulse: event type not found")

	// ErrPayloadValidationFailed is returned when event data fails JSON Schema validation.
	ErrPayloadValidationFailed = errors.New("pulse: payload validation failed")

	// ErrWebhookEventNotFound is returned when a delivery record cannot be found.
	ErrWebhookEventNotFound = errors.New("pulse: webhook event not found")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("pulse: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("pulse: migration failed")
)
