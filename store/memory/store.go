// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulsekit/pulse"
	"github.com/pulsekit/pulse/catalog"
	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/id"
	pulsestore "github.com/pulsekit/pulse/store"
	"github.com/pulsekit/pulse/subscription"
	"github.com/pulsekit/pulse/webhook"
)

// compile-time interface check.
var _ pulsestore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	eventTypes    map[string]*catalog.EventType          // keyed by name
	subscriptions map[string]*subscription.Subscription  // keyed by ID string
	rules         map[string]*subscription.Rule          // keyed by ID string
	webhooks      map[string]*webhook.Webhook            // keyed by ID string
	webhookEvents map[string]*delivery.WebhookEvent      // keyed by ID string
	locked        map[string]bool                        // simulates SKIP LOCKED

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		eventTypes:    make(map[string]*catalog.EventType),
		subscriptions: make(map[string]*subscription.Subscription),
		rules:         make(map[string]*subscription.Rule),
		webhooks:      make(map[string]*webhook.Webhook),
		webhookEvents: make(map[string]*delivery.WebhookEvent),
		locked:        make(map[string]bool),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return pulse.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// catalog.Store
// ──────────────────────────────────────────────────

// RegisterEventType creates or updates an event type (upsert by name).
func (s *Store) RegisterEventType(_ context.Context, et *catalog.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.eventTypes[et.Name]; ok {
		existing.Category = et.Category
		existing.Description = et.Description
		existing.Schema = et.Schema
		existing.IsActive = et.IsActive
		existing.UpdatedAt = time.Now().UTC()
		et.ID = existing.ID
		return nil
	}

	s.eventTypes[et.Name] = et
	return nil
}

// GetEventType returns an event type by name.
func (s *Store) GetEventType(_ context.Context, name string) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return nil, pulse.ErrEventTypeNotFound
	}
	return et, nil
}

// ListEventTypes returns event types, optionally filtered by category.
func (s *Store) ListEventTypes(_ context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.EventType, 0, len(s.eventTypes))
	for _, et := range s.eventTypes {
		if !opts.IncludeInactive && !et.IsActive {
			continue
		}
		if opts.Category != "" && et.Category != opts.Category {
			continue
		}
		result = append(result, et)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = sub
	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, pulse.ErrSubscriptionNotFound
	}
	return sub, nil
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID.String()]; !ok {
		return pulse.ErrSubscriptionNotFound
	}
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[sub.ID.String()] = sub
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subID.String()]; !ok {
		return pulse.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, subID.String())
	return nil
}

// ListSubscriptionsByUser returns all subscriptions owned by a user.
func (s *Store) ListSubscriptionsByUser(_ context.Context, userID string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			result = append(result, sub)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CreateRule persists a new rule.
func (s *Store) CreateRule(_ context.Context, rule *subscription.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[rule.ID.String()] = rule
	return nil
}

// GetRule returns a rule by ID.
func (s *Store) GetRule(_ context.Context, ruleID id.ID) (*subscription.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[ruleID.String()]
	if !ok {
		return nil, pulse.ErrRuleNotFound
	}
	return rule, nil
}

// ListRulesByScope returns all rules for an agency scope.
// An empty agencyID selects the global rules.
func (s *Store) ListRulesByScope(_ context.Context, agencyID string) ([]*subscription.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Rule
	for _, rule := range s.rules {
		if rule.AgencyID == agencyID {
			result = append(result, rule)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// CreateWebhook persists a new webhook.
func (s *Store) CreateWebhook(_ context.Context, wh *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.webhooks[wh.ID.String()] = wh
	return nil
}

// GetWebhook returns a webhook by ID.
func (s *Store) GetWebhook(_ context.Context, whID id.ID) (*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wh, ok := s.webhooks[whID.String()]
	if !ok {
		return nil, pulse.ErrWebhookNotFound
	}
	return wh, nil
}

// UpdateWebhook modifies an existing webhook.
func (s *Store) UpdateWebhook(_ context.Context, wh *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[wh.ID.String()]; !ok {
		return pulse.ErrWebhookNotFound
	}
	wh.UpdatedAt = time.Now().UTC()
	s.webhooks[wh.ID.String()] = wh
	return nil
}

// DeleteWebhook removes a webhook and its delivery history.
func (s *Store) DeleteWebhook(_ context.Context, whID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[whID.String()]; !ok {
		return pulse.ErrWebhookNotFound
	}
	delete(s.webhooks, whID.String())

	for k, evt := range s.webhookEvents {
		if evt.WebhookID.String() == whID.String() {
			delete(s.webhookEvents, k)
			delete(s.locked, k)
		}
	}
	return nil
}

// ListWebhooks returns webhooks, optionally filtered by scope and activity.
func (s *Store) ListWebhooks(_ context.Context, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*webhook.Webhook, 0, len(s.webhooks))
	for _, wh := range s.webhooks {
		if opts.AgencyID != "" && wh.AgencyID != opts.AgencyID {
			continue
		}
		if opts.ActiveOnly && !wh.IsActive {
			continue
		}
		result = append(result, wh)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ResolveWebhooks finds active webhooks subscribed to an event type.
// A non-empty agencyID matches that agency's webhooks plus unscoped ones;
// an empty agencyID matches every scope.
func (s *Store) ResolveWebhooks(_ context.Context, eventType, agencyID string) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*webhook.Webhook
	for _, wh := range s.webhooks {
		if !wh.IsActive || !wh.SubscribedTo(eventType) {
			continue
		}
		if agencyID != "" && wh.AgencyID != "" && wh.AgencyID != agencyID {
			continue
		}
		result = append(result, wh)
	}
	return result, nil
}

// TouchLastTriggered records when a delivery was last created.
func (s *Store) TouchLastTriggered(_ context.Context, whID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wh, ok := s.webhooks[whID.String()]
	if !ok {
		return pulse.ErrWebhookNotFound
	}
	wh.LastTriggered = &at
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// copyEvent returns a shallow copy of the webhook event.
func copyEvent(evt *delivery.WebhookEvent) *delivery.WebhookEvent {
	cp := *evt
	return &cp
}

// CreateWebhookEvent persists a new delivery record.
func (s *Store) CreateWebhookEvent(_ context.Context, evt *delivery.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.webhookEvents[evt.ID.String()] = copyEvent(evt)
	return nil
}

// UpdateWebhookEvent modifies a delivery record and releases its lock.
func (s *Store) UpdateWebhookEvent(_ context.Context, evt *delivery.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhookEvents[evt.ID.String()]; !ok {
		return pulse.ErrWebhookEventNotFound
	}
	evt.UpdatedAt = time.Now().UTC()
	s.webhookEvents[evt.ID.String()] = copyEvent(evt)
	delete(s.locked, evt.ID.String())
	return nil
}

// GetWebhookEvent returns a copy of a delivery record by ID.
func (s *Store) GetWebhookEvent(_ context.Context, evtID id.ID) (*delivery.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.webhookEvents[evtID.String()]
	if !ok {
		return nil, pulse.ErrWebhookEventNotFound
	}
	return copyEvent(evt), nil
}

// ListWebhookEvents returns delivery records, newest first.
func (s *Store) ListWebhookEvents(_ context.Context, opts delivery.ListOpts) ([]*delivery.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.WebhookEvent, 0, len(s.webhookEvents))
	for _, evt := range s.webhookEvents {
		if !opts.WebhookID.IsNil() && evt.WebhookID.String() != opts.WebhookID.String() {
			continue
		}
		if opts.EventType != "" && evt.EventType != opts.EventType {
			continue
		}
		if opts.Status != nil && evt.Status != *opts.Status {
			continue
		}
		result = append(result, copyEvent(evt))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TriggeredAt.After(result[j].TriggeredAt)
	})

	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

// DequeueDue fetches due pending/retrying records (concurrent-safe).
// Returns copies so callers can mutate without holding a lock.
func (s *Store) DequeueDue(_ context.Context, limit int) ([]*delivery.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	candidates := make([]*delivery.WebhookEvent, 0, len(s.webhookEvents))

	for _, evt := range s.webhookEvents {
		if evt.Status != delivery.StatusPending && evt.Status != delivery.StatusRetrying {
			continue
		}
		if evt.NextAttemptAt.After(now) {
			continue
		}
		if s.locked[evt.ID.String()] {
			continue
		}
		candidates = append(candidates, evt)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextAttemptAt.Before(candidates[j].NextAttemptAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.WebhookEvent, 0, len(candidates))
	for _, evt := range candidates {
		s.locked[evt.ID.String()] = true
		result = append(result, copyEvent(evt))
	}
	return result, nil
}

// DeliveryStats aggregates delivery counts from persisted rows.
func (s *Store) DeliveryStats(_ context.Context, opts delivery.StatsOpts) (*delivery.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &delivery.Stats{}
	inScope := make(map[string]bool, len(s.webhooks))

	for _, wh := range s.webhooks {
		if !opts.WebhookID.IsNil() && wh.ID.String() != opts.WebhookID.String() {
			continue
		}
		if opts.AgencyID != "" && wh.AgencyID != opts.AgencyID {
			continue
		}
		inScope[wh.ID.String()] = true
		stats.TotalWebhooks++
		if wh.IsActive {
			stats.ActiveWebhooks++
		}
	}

	dayAgo := time.Now().Add(-24 * time.Hour)
	for _, evt := range s.webhookEvents {
		if !inScope[evt.WebhookID.String()] {
			continue
		}
		stats.TotalEvents++
		switch evt.Status {
		case delivery.StatusSuccess:
			stats.SuccessfulEvents++
		case delivery.StatusFailed:
			stats.FailedEvents++
		}
		if evt.TriggeredAt.After(dayAgo) {
			stats.EventsLast24h++
		}
	}
	return stats, nil
}
