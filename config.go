package pulse

import "time"

// Config holds the configuration for a Pulse instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery engine checks for due webhook events.
	PollInterval time.Duration

	// BatchSize is the maximum number of webhook events dequeued per poll cycle.
	BatchSize int

	// QueueSize is the per-action-kind queue capacity of the rule action dispatcher.
	QueueSize int

	// SignalBuffer is the channel buffer size handed to signal subscribers.
	SignalBuffer int

	// ResyncInterval is how often the subscription and rule caches are
	// dropped for a fresh load from the store.
	ResyncInterval time.Duration

	// CacheTTL is the TTL for the catalog's in-memory event type cache.
	// Set to 0 to disable expiry.
	CacheTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:    10,
		PollInterval:   1 * time.Second,
		BatchSize:      50,
		QueueSize:      128,
		SignalBuffer:   64,
		ResyncInterval: 5 * time.Minute,
		CacheTTL:       30 * time.Second,
	}
}
