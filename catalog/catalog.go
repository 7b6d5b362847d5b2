// Package catalog manages the event type vocabulary: the read-only
// reference data describing which events exist and what their payloads
// look like.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
)

// Service is the in-memory cached view over the event type catalog.
type Service struct {
	store    Store
	cache    map[string]*EventType
	cacheTTL time.Duration
	lastLoad time.Time
	mu       sync.RWMutex
	logger   *slog.Logger
}

// Config configures the catalog service.
type Config struct {
	CacheTTL time.Duration
}

// NewService creates a catalog service backed by the given store.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		cache:    make(map[string]*EventType),
		cacheTTL: cfg.CacheTTL,
		logger:   logger,
	}
}

// Register creates or updates an event type in the catalog.
func (svc *Service) Register(ctx context.Context, name, category, description string, schema []byte) (*EventType, error) {
	et := &EventType{
		Entity:      entity.New(),
		ID:          id.NewEventTypeID(),
		Name:        name,
		Category:    category,
		Description: description,
		Schema:      schema,
		IsActive:    true,
	}

	if err := svc.store.RegisterEventType(ctx, et); err != nil {
		return nil, err
	}

	svc.mu.Lock()
	svc.cache[name] = et
	svc.mu.Unlock()

	return et, nil
}

// Get returns an event type by name, using the cache when fresh.
func (svc *Service) Get(ctx context.Context, name string) (*EventType, error) {
	svc.mu.RLock()
	if et, ok := svc.cache[name]; ok && !svc.cacheExpired() {
		svc.mu.RUnlock()
		return et, nil
	}
	svc.mu.RUnlock()

	et, err := svc.store.GetEventType(ctx, name)
	if err != nil {
		return nil, err
	}

	svc.mu.Lock()
	svc.cache[name] = et
	svc.mu.Unlock()

	return et, nil
}

// List returns active event types, optionally restricted to a category.
func (svc *Service) List(ctx context.Context, category string) ([]*EventType, error) {
	return svc.store.ListEventTypes(ctx, ListOpts{Category: category})
}

// InvalidateCache clears the in-memory cache, forcing fresh reads.
func (svc *Service) InvalidateCache() {
	svc.mu.Lock()
	svc.cache = make(map[string]*EventType)
	svc.lastLoad = time.Time{}
	svc.mu.Unlock()
}

// WarmCache preloads every active event type from the store.
func (svc *Service) WarmCache(ctx context.Context) error {
	types, err := svc.store.ListEventTypes(ctx, ListOpts{})
	if err != nil {
		return err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.cache = make(map[string]*EventType, len(types))
	for _, et := range types {
		svc.cache[et.Name] = et
	}
	svc.lastLoad = time.Now()
	return nil
}

// cacheExpired returns true if the cache TTL has elapsed. Must be called
// with at least RLock held.
func (svc *Service) cacheExpired() bool {
	if svc.cacheTTL == 0 {
		return false
	}
	return time.Since(svc.lastLoad) > svc.cacheTTL
}
