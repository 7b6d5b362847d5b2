package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
	"github.com/pulsekit/pulse/signal"
)

// Service provides subscription and rule management with per-owner caching.
//
// Caches are read-through and invalidated synchronously on any mutation,
// plus cleared unconditionally by a background resync ticker. The store is
// the single source of truth; the caches are eventually consistent.
type Service struct {
	store  Store
	bus    *signal.Bus
	logger *slog.Logger

	mu         sync.RWMutex
	subsByUser map[string][]*Subscription
	rulesScope map[string][]*Rule // keyed by agency ID, "" = global

	resyncEvery time.Duration
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Config configures the subscription service.
type Config struct {
	// ResyncInterval is how often caches are dropped for a fresh load.
	ResyncInterval time.Duration
}

// NewService creates a subscription service backed by the given store.
func NewService(store Store, bus *signal.Bus, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = 5 * time.Minute
	}
	return &Service{
		store:       store,
		bus:         bus,
		logger:      logger,
		subsByUser:  make(map[string][]*Subscription),
		rulesScope:  make(map[string][]*Rule),
		resyncEvery: cfg.ResyncInterval,
	}
}

// Start begins the background cache resync loop.
func (svc *Service) Start(ctx context.Context) {
	ctx, svc.cancel = context.WithCancel(ctx)

	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		ticker := time.NewTicker(svc.resyncEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.InvalidateAll()
			}
		}
	}()
}

// Stop cancels the resync loop.
func (svc *Service) Stop() {
	if svc.cancel != nil {
		svc.cancel()
	}
	svc.wg.Wait()
}

// InvalidateAll drops every cached subscription and rule list.
func (svc *Service) InvalidateAll() {
	svc.mu.Lock()
	svc.subsByUser = make(map[string][]*Subscription)
	svc.rulesScope = make(map[string][]*Rule)
	svc.mu.Unlock()
}

// ──────────────────────────────────────────────────
// Subscription CRUD
// ──────────────────────────────────────────────────

// Create registers a new subscription for a user.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	if in.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "required"}
	}
	if len(in.EventTypes) == 0 {
		return nil, &ValidationError{Field: "event_types", Message: "at least one event type required"}
	}

	threshold := in.PriorityThreshold
	if threshold == "" {
		threshold = PriorityLow
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	sub := &Subscription{
		Entity:            entity.New(),
		ID:                id.NewSubscriptionID(),
		UserID:            in.UserID,
		AgencyID:          in.AgencyID,
		EventTypes:        in.EventTypes,
		Channels:          in.Channels,
		Filters:           in.Filters,
		PriorityThreshold: threshold,
		Enabled:           enabled,
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.invalidateUser(sub.UserID)
	svc.publish(signal.SubscriptionCreated, sub)
	return sub, nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// Update modifies an existing subscription.
func (svc *Service) Update(ctx context.Context, subID id.ID, in Input) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if len(in.EventTypes) > 0 {
		sub.EventTypes = in.EventTypes
	}
	if in.Channels != nil {
		sub.Channels = in.Channels
	}
	if in.Filters != nil {
		sub.Filters = in.Filters
	}
	if in.PriorityThreshold != "" {
		sub.PriorityThreshold = in.PriorityThreshold
	}
	if in.AgencyID != "" {
		sub.AgencyID = in.AgencyID
	}
	if in.Enabled != nil {
		sub.Enabled = *in.Enabled
	}

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.invalidateUser(sub.UserID)
	svc.publish(signal.SubscriptionUpdated, sub)
	return sub, nil
}

// Delete removes a subscription.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	if err := svc.store.DeleteSubscription(ctx, subID); err != nil {
		return err
	}

	svc.invalidateUser(sub.UserID)
	svc.publish(signal.SubscriptionDeleted, sub)
	return nil
}

// ForUser returns the user's subscriptions, served from the cache when warm.
//
// Store failures are logged and degrade to an empty list: matching treats
// the event as simply unmatched rather than failing the caller.
func (svc *Service) ForUser(ctx context.Context, userID string) []*Subscription {
	svc.mu.RLock()
	if subs, ok := svc.subsByUser[userID]; ok {
		svc.mu.RUnlock()
		return subs
	}
	svc.mu.RUnlock()

	subs, err := svc.store.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		svc.logger.ErrorContext(ctx, "load subscriptions failed",
			"user_id", userID, "error", err)
		return nil
	}

	svc.mu.Lock()
	svc.subsByUser[userID] = subs
	svc.mu.Unlock()
	return subs
}

// ──────────────────────────────────────────────────
// Rules
// ──────────────────────────────────────────────────

// CreateRule registers a new scoped or global rule.
func (svc *Service) CreateRule(ctx context.Context, in RuleInput) (*Rule, error) {
	if in.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "required"}
	}
	if len(in.EventTypes) == 0 {
		return nil, &ValidationError{Field: "event_types", Message: "at least one event type required"}
	}
	for i, action := range in.Actions {
		if !ValidActionType(action.Type) {
			return nil, &ValidationError{Field: "actions", Message: fmt.Sprintf("unknown action type at index %d", i)}
		}
	}

	rule := &Rule{
		Entity:     entity.New(),
		ID:         id.NewRuleID(),
		Name:       in.Name,
		AgencyID:   in.AgencyID,
		EventTypes: in.EventTypes,
		Conditions: in.Conditions,
		Actions:    in.Actions,
		Priority:   in.Priority,
		Enabled:    true,
	}

	if err := svc.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	svc.invalidateScope(rule.AgencyID)
	svc.publish(signal.RuleCreated, rule)
	return rule, nil
}

// RulesInScope returns the rules visible to an agency: its own rules
// first, then the global ones. Served from cache when warm; store
// failures degrade to an empty list. The returned slice is the caller's
// to reorder.
func (svc *Service) RulesInScope(ctx context.Context, agencyID string) []*Rule {
	scoped := svc.rulesForScope(ctx, agencyID)

	var global []*Rule
	if agencyID != "" {
		global = svc.rulesForScope(ctx, "")
	}

	rules := make([]*Rule, 0, len(scoped)+len(global))
	rules = append(rules, scoped...)
	rules = append(rules, global...)
	return rules
}

func (svc *Service) rulesForScope(ctx context.Context, agencyID string) []*Rule {
	svc.mu.RLock()
	if rules, ok := svc.rulesScope[agencyID]; ok {
		svc.mu.RUnlock()
		return rules
	}
	svc.mu.RUnlock()

	rules, err := svc.store.ListRulesByScope(ctx, agencyID)
	if err != nil {
		svc.logger.ErrorContext(ctx, "load rules failed",
			"agency_id", agencyID, "error", err)
		return nil
	}

	svc.mu.Lock()
	svc.rulesScope[agencyID] = rules
	svc.mu.Unlock()
	return rules
}

// ──────────────────────────────────────────────────
// internals
// ──────────────────────────────────────────────────

func (svc *Service) invalidateUser(userID string) {
	svc.mu.Lock()
	delete(svc.subsByUser, userID)
	svc.mu.Unlock()
}

func (svc *Service) invalidateScope(agencyID string) {
	svc.mu.Lock()
	delete(svc.rulesScope, agencyID)
	svc.mu.Unlock()
}

func (svc *Service) publish(kind signal.Kind, payload any) {
	if svc.bus == nil {
		return
	}
	switch v := payload.(type) {
	case *Subscription:
		svc.bus.Publish(kind, map[string]any{
			"subscription_id": v.ID.String(),
			"user_id":         v.UserID,
		})
	case *Rule:
		svc.bus.Publish(kind, map[string]any{
			"rule_id":   v.ID.String(),
			"agency_id": v.AgencyID,
		})
	}
}
