package subscription

import (
	"context"

	"github.com/pulsekit/pulse/id"
)

// Store defines the persistence contract for subscriptions and rules.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription modifies an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptionsByUser returns all subscriptions owned by a user.
	ListSubscriptionsByUser(ctx context.Context, userID string) ([]*Subscription, error)

	// CreateRule persists a new rule.
	CreateRule(ctx context.Context, rule *Rule) error

	// GetRule returns a rule by ID.
	GetRule(ctx context.Context, ruleID id.ID) (*Rule, error)

	// ListRulesByScope returns all rules for an agency scope.
	// An empty agencyID selects the global rules.
	ListRulesByScope(ctx context.Context, agencyID string) ([]*Rule, error)
}
