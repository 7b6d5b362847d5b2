package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pulsekit/pulse"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
	"github.com/pulsekit/pulse/webhook"
)

// webhookModel is the JSON representation stored in Redis. Unlike the
// domain type it serializes the secret token, so it must never leak to an
// API response.
type webhookModel struct {
	ID                string            `json:"id"`
	AgencyID          string            `json:"agency_id"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	URL               string            `json:"url"`
	Method            string            `json:"method"`
	Headers           map[string]string `json:"headers,omitempty"`
	SecretToken       string            `json:"secret_token"`
	Events            []string          `json:"events"`
	IsActive          bool              `json:"is_active"`
	RetryAttempts     int               `json:"retry_attempts"`
	RetryDelaySeconds int               `json:"retry_delay_seconds"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
	RateLimit         int               `json:"rate_limit"`
	Filters           map[string]any    `json:"filters,omitempty"`
	LastTriggered     *time.Time        `json:"last_triggered,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func toWebhookModel(wh *webhook.Webhook) *webhookModel {
	return &webhookModel{
		ID:                wh.ID.String(),
		AgencyID:          wh.AgencyID,
		Name:              wh.Name,
		Description:       wh.Description,
		URL:               wh.URL,
		Method:            wh.Method,
		Headers:           wh.Headers,
		SecretToken:       wh.SecretToken,
		Events:            wh.Events,
		IsActive:          wh.IsActive,
		RetryAttempts:     wh.RetryAttempts,
		RetryDelaySeconds: wh.RetryDelaySeconds,
		TimeoutSeconds:    wh.TimeoutSeconds,
		RateLimit:         wh.RateLimit,
		Filters:           wh.Filters,
		LastTriggered:     wh.LastTriggered,
		CreatedAt:         wh.CreatedAt,
		UpdatedAt:         wh.UpdatedAt,
	}
}

func fromWebhookModel(m *webhookModel) (*webhook.Webhook, error) {
	whID, err := id.ParseWebhookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.ID, err)
	}
	return &webhook.Webhook{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                whID,
		AgencyID:          m.AgencyID,
		Name:              m.Name,
		Description:       m.Description,
		URL:               m.URL,
		Method:            m.Method,
		Headers:           m.Headers,
		SecretToken:       m.SecretToken,
		Events:            m.Events,
		IsActive:          m.IsActive,
		RetryAttempts:     m.RetryAttempts,
		RetryDelaySeconds: m.RetryDelaySeconds,
		TimeoutSeconds:    m.TimeoutSeconds,
		RateLimit:         m.RateLimit,
		Filters:           m.Filters,
		LastTriggered:     m.LastTriggered,
	}, nil
}

func (s *Store) CreateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	m := toWebhookModel(wh)
	if err := s.setEntity(ctx, entityKey(prefixWebhook, m.ID), m); err != nil {
		return fmt.Errorf("redis: create webhook: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, zWebhookAll, goredis.Z{
		Score:  scoreFromTime(m.CreatedAt),
		Member: m.ID,
	}).Err(); err != nil {
		return fmt.Errorf("redis: create webhook index: %w", err)
	}
	return nil
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	var m webhookModel
	if err := s.getEntity(ctx, entityKey(prefixWebhook, whID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, pulse.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("redis: get webhook: %w", err)
	}
	return fromWebhookModel(&m)
}

func (s *Store) UpdateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	key := entityKey(prefixWebhook, wh.ID.String())
	if err := s.rdb.Get(ctx, key).Err(); err != nil {
		if isRedisNil(err) {
			return pulse.ErrWebhookNotFound
		}
		return fmt.Errorf("redis: update webhook: %w", err)
	}
	if err := s.setEntity(ctx, key, toWebhookModel(wh)); err != nil {
		return fmt.Errorf("redis: update webhook: %w", err)
	}
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	key := entityKey(prefixWebhook, whID.String())
	if err := s.rdb.Get(ctx, key).Err(); err != nil {
		if isRedisNil(err) {
			return pulse.ErrWebhookNotFound
		}
		return fmt.Errorf("redis: delete webhook: %w", err)
	}

	// Delivery history goes with the webhook.
	evtIDs, err := s.rdb.ZRange(ctx, zEventWebhook+whID.String(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis: delete webhook history: %w", err)
	}

	pipe := s.rdb.Pipeline()
	for _, evtID := range evtIDs {
		pipe.Del(ctx, entityKey(prefixWebhookEvent, evtID))
		pipe.ZRem(ctx, zEventAll, evtID)
		pipe.ZRem(ctx, zEventDue, evtID)
	}
	pipe.Del(ctx, zEventWebhook+whID.String())
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, zWebhookAll, whID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete webhook: %w", err)
	}
	return nil
}

func (s *Store) ListWebhooks(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	return s.filterWebhooks(ctx, func(m *webhookModel) bool {
		if opts.AgencyID != "" && m.AgencyID != opts.AgencyID {
			return false
		}
		if opts.ActiveOnly && !m.IsActive {
			return false
		}
		return true
	})
}

func (s *Store) ResolveWebhooks(ctx context.Context, eventType, agencyID string) ([]*webhook.Webhook, error) {
	// A tenant sees its own webhooks plus the unscoped ones. An empty
	// agencyID matches every scope.
	return s.filterWebhooks(ctx, func(m *webhookModel) bool {
		if !m.IsActive {
			return false
		}
		if agencyID != "" && m.AgencyID != "" && m.AgencyID != agencyID {
			return false
		}
		for _, e := range m.Events {
			if e == eventType {
				return true
			}
		}
		return false
	})
}

func (s *Store) filterWebhooks(ctx context.Context, keep func(*webhookModel) bool) ([]*webhook.Webhook, error) {
	ids, err := s.rdb.ZRange(ctx, zWebhookAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list webhooks: %w", err)
	}

	out := make([]*webhook.Webhook, 0, len(ids))
	for _, whID := range ids {
		var m webhookModel
		if err := s.getEntity(ctx, entityKey(prefixWebhook, whID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if !keep(&m) {
			continue
		}
		wh, err := fromWebhookModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, nil
}

func (s *Store) TouchLastTriggered(ctx context.Context, whID id.ID, at time.Time) error {
	var m webhookModel
	key := entityKey(prefixWebhook, whID.String())
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return pulse.ErrWebhookNotFound
		}
		return fmt.Errorf("redis: touch webhook: %w", err)
	}
	m.LastTriggered = &at
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("redis: touch webhook: %w", err)
	}
	return nil
}
