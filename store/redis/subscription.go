package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pulsekit/pulse"
	"github.com/pulsekit/pulse/condition"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
	"github.com/pulsekit/pulse/subscription"
)

// subscriptionModel is the JSON representation stored in Redis.
type subscriptionModel struct {
	ID                string                `json:"id"`
	UserID            string                `json:"user_id"`
	AgencyID          string                `json:"agency_id"`
	EventTypes        []string              `json:"event_types"`
	Channels          []string              `json:"channels,omitempty"`
	Filters           []condition.Condition `json:"filters,omitempty"`
	PriorityThreshold string                `json:"priority_threshold"`
	Enabled           bool                  `json:"enabled"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                sub.ID.String(),
		UserID:            sub.UserID,
		AgencyID:          sub.AgencyID,
		EventTypes:        sub.EventTypes,
		Channels:          sub.Channels,
		Filters:           sub.Filters,
		PriorityThreshold: string(sub.PriorityThreshold),
		Enabled:           sub.Enabled,
		CreatedAt:         sub.CreatedAt,
		UpdatedAt:         sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                subID,
		UserID:            m.UserID,
		AgencyID:          m.AgencyID,
		EventTypes:        m.EventTypes,
		Channels:          m.Channels,
		Filters:           m.Filters,
		PriorityThreshold: subscription.Priority(m.PriorityThreshold),
		Enabled:           m.Enabled,
	}, nil
}

// ruleModel is the JSON representation stored in Redis.
type ruleModel struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	AgencyID   string                `json:"agency_id"`
	EventTypes []string              `json:"event_types"`
	Conditions []condition.Condition `json:"conditions,omitempty"`
	Actions    []subscription.Action `json:"actions"`
	Priority   int                   `json:"priority"`
	Enabled    bool                  `json:"enabled"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

func toRuleModel(rule *subscription.Rule) *ruleModel {
	return &ruleModel{
		ID:         rule.ID.String(),
		Name:       rule.Name,
		AgencyID:   rule.AgencyID,
		EventTypes: rule.EventTypes,
		Conditions: rule.Conditions,
		Actions:    rule.Actions,
		Priority:   rule.Priority,
		Enabled:    rule.Enabled,
		CreatedAt:  rule.CreatedAt,
		UpdatedAt:  rule.UpdatedAt,
	}
}

func fromRuleModel(m *ruleModel) (*subscription.Rule, error) {
	ruleID, err := id.ParseRuleID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse rule ID %q: %w", m.ID, err)
	}
	return &subscription.Rule{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         ruleID,
		Name:       m.Name,
		AgencyID:   m.AgencyID,
		EventTypes: m.EventTypes,
		Conditions: m.Conditions,
		Actions:    m.Actions,
		Priority:   m.Priority,
		Enabled:    m.Enabled,
	}, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	if err := s.setEntity(ctx, entityKey(prefixSubscription, m.ID), m); err != nil {
		return fmt.Errorf("redis: create subscription: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, zSubUser+m.UserID, goredis.Z{
		Score:  scoreFromTime(m.CreatedAt),
		Member: m.ID,
	}).Err(); err != nil {
		return fmt.Errorf("redis: create subscription index: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, pulse.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("redis: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := entityKey(prefixSubscription, sub.ID.String())
	if err := s.rdb.Get(ctx, key).Err(); err != nil {
		if isRedisNil(err) {
			return pulse.ErrSubscriptionNotFound
		}
		return fmt.Errorf("redis: update subscription: %w", err)
	}
	if err := s.setEntity(ctx, key, toSubscriptionModel(sub)); err != nil {
		return fmt.Errorf("redis: update subscription: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID.String()), &m); err != nil {
		if isRedisNil(err) {
			return pulse.ErrSubscriptionNotFound
		}
		return fmt.Errorf("redis: delete subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, entityKey(prefixSubscription, m.ID))
	pipe.ZRem(ctx, zSubUser+m.UserID, m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete subscription: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubUser+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list subscriptions: %w", err)
	}

	out := make([]*subscription.Subscription, 0, len(ids))
	for _, subID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, subID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *Store) CreateRule(ctx context.Context, rule *subscription.Rule) error {
	m := toRuleModel(rule)
	if err := s.setEntity(ctx, entityKey(prefixRule, m.ID), m); err != nil {
		return fmt.Errorf("redis: create rule: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, zRuleScope+m.AgencyID, goredis.Z{
		Score:  scoreFromTime(m.CreatedAt),
		Member: m.ID,
	}).Err(); err != nil {
		return fmt.Errorf("redis: create rule index: %w", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, ruleID id.ID) (*subscription.Rule, error) {
	var m ruleModel
	if err := s.getEntity(ctx, entityKey(prefixRule, ruleID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, pulse.ErrRuleNotFound
		}
		return nil, fmt.Errorf("redis: get rule: %w", err)
	}
	return fromRuleModel(&m)
}

func (s *Store) ListRulesByScope(ctx context.Context, agencyID string) ([]*subscription.Rule, error) {
	ids, err := s.rdb.ZRange(ctx, zRuleScope+agencyID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list rules: %w", err)
	}

	out := make([]*subscription.Rule, 0, len(ids))
	for _, ruleID := range ids {
		var m ruleModel
		if err := s.getEntity(ctx, entityKey(prefixRule, ruleID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		rule, err := fromRuleModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}

	// Higher priority first, then oldest first within a priority.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}
