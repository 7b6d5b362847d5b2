package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pulsekit/pulse"
	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
)

// webhookEventModel is the JSON representation stored in Redis.
type webhookEventModel struct {
	ID             string            `json:"id"`
	WebhookID      string            `json:"webhook_id"`
	EventType      string            `json:"event_type"`
	EventData      map[string]any    `json:"event_data,omitempty"`
	Status         string            `json:"status"`
	HTTPStatusCode int               `json:"http_status_code"`
	ResponseBody   string            `json:"response_body"`
	ErrorMessage   string            `json:"error_message"`
	TriggeredAt    time.Time         `json:"triggered_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	DurationMs     int               `json:"duration_ms"`
	AttemptNumber  int               `json:"attempt_number"`
	NextAttemptAt  time.Time         `json:"next_attempt_at"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	RequestBody    string            `json:"request_body"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toWebhookEventModel(evt *delivery.WebhookEvent) *webhookEventModel {
	return &webhookEventModel{
		ID:             evt.ID.String(),
		WebhookID:      evt.WebhookID.String(),
		EventType:      evt.EventType,
		EventData:      evt.EventData,
		Status:         string(evt.Status),
		HTTPStatusCode: evt.HTTPStatusCode,
		ResponseBody:   evt.ResponseBody,
		ErrorMessage:   evt.ErrorMessage,
		TriggeredAt:    evt.TriggeredAt,
		CompletedAt:    evt.CompletedAt,
		DurationMs:     evt.DurationMs,
		AttemptNumber:  evt.AttemptNumber,
		NextAttemptAt:  evt.NextAttemptAt,
		RequestHeaders: evt.RequestHeaders,
		RequestBody:    evt.RequestBody,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.UpdatedAt,
	}
}

func fromWebhookEventModel(m *webhookEventModel) (*delivery.WebhookEvent, error) {
	evtID, err := id.ParseWebhookEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook event ID %q: %w", m.ID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}
	return &delivery.WebhookEvent{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             evtID,
		WebhookID:      whID,
		EventType:      m.EventType,
		EventData:      m.EventData,
		Status:         delivery.Status(m.Status),
		HTTPStatusCode: m.HTTPStatusCode,
		ResponseBody:   m.ResponseBody,
		ErrorMessage:   m.ErrorMessage,
		TriggeredAt:    m.TriggeredAt,
		CompletedAt:    m.CompletedAt,
		DurationMs:     m.DurationMs,
		AttemptNumber:  m.AttemptNumber,
		NextAttemptAt:  m.NextAttemptAt,
		RequestHeaders: m.RequestHeaders,
		RequestBody:    m.RequestBody,
	}, nil
}

// dequeueScript atomically claims due webhook event IDs from the due queue.
// KEYS[1] = pulse:z:whevt:due
// ARGV[1] = current unix timestamp (score threshold)
// ARGV[2] = limit
var dequeueScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
end
return ids
`)

func (s *Store) CreateWebhookEvent(ctx context.Context, evt *delivery.WebhookEvent) error {
	m := toWebhookEventModel(evt)
	if err := s.setEntity(ctx, entityKey(prefixWebhookEvent, m.ID), m); err != nil {
		return fmt.Errorf("redis: create webhook event: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zEventAll, goredis.Z{Score: scoreFromTime(m.TriggeredAt), Member: m.ID})
	pipe.ZAdd(ctx, zEventWebhook+m.WebhookID, goredis.Z{Score: scoreFromTime(m.TriggeredAt), Member: m.ID})
	if evt.Status == delivery.StatusPending || evt.Status == delivery.StatusRetrying {
		pipe.ZAdd(ctx, zEventDue, goredis.Z{Score: scoreFromTime(m.NextAttemptAt), Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: create webhook event indexes: %w", err)
	}
	return nil
}

func (s *Store) UpdateWebhookEvent(ctx context.Context, evt *delivery.WebhookEvent) error {
	key := entityKey(prefixWebhookEvent, evt.ID.String())
	if err := s.rdb.Get(ctx, key).Err(); err != nil {
		if isRedisNil(err) {
			return pulse.ErrWebhookEventNotFound
		}
		return fmt.Errorf("redis: update webhook event: %w", err)
	}

	m := toWebhookEventModel(evt)
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("redis: update webhook event: %w", err)
	}

	// Membership in the due queue tracks the status: a record headed for
	// another attempt is re-queued, a terminal or in-flight one is not.
	if evt.Status == delivery.StatusPending || evt.Status == delivery.StatusRetrying {
		return s.rdb.ZAdd(ctx, zEventDue, goredis.Z{
			Score:  scoreFromTime(m.NextAttemptAt),
			Member: m.ID,
		}).Err()
	}
	return s.rdb.ZRem(ctx, zEventDue, m.ID).Err()
}

func (s *Store) GetWebhookEvent(ctx context.Context, evtID id.ID) (*delivery.WebhookEvent, error) {
	var m webhookEventModel
	if err := s.getEntity(ctx, entityKey(prefixWebhookEvent, evtID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, pulse.ErrWebhookEventNotFound
		}
		return nil, fmt.Errorf("redis: get webhook event: %w", err)
	}
	return fromWebhookEventModel(&m)
}

func (s *Store) ListWebhookEvents(ctx context.Context, opts delivery.ListOpts) ([]*delivery.WebhookEvent, error) {
	indexKey := zEventAll
	if !opts.WebhookID.IsNil() {
		indexKey = zEventWebhook + opts.WebhookID.String()
	}
	ids, err := s.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list webhook events: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	out := make([]*delivery.WebhookEvent, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- { // newest first
		var m webhookEventModel
		if err := s.getEntity(ctx, entityKey(prefixWebhookEvent, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.EventType != "" && m.EventType != opts.EventType {
			continue
		}
		if opts.Status != nil && delivery.Status(m.Status) != *opts.Status {
			continue
		}
		evt, err := fromWebhookEventModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

func (s *Store) DequeueDue(ctx context.Context, limit int) ([]*delivery.WebhookEvent, error) {
	nowScore := strconv.FormatFloat(scoreFromTime(now()), 'f', -1, 64)
	claimed, err := dequeueScript.Run(ctx, s.rdb, []string{zEventDue}, nowScore, limit).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: dequeue script: %w", err)
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	out := make([]*delivery.WebhookEvent, 0, len(claimed))
	for _, evtID := range claimed {
		key := entityKey(prefixWebhookEvent, evtID)
		var m webhookEventModel
		if err := s.getEntity(ctx, key, &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("redis: dequeue get: %w", err)
		}

		// Mark in-flight so a crashed claim is visible; the engine's
		// outcome update re-queues or finalizes it.
		m.Status = string(delivery.StatusSending)
		m.UpdatedAt = now()
		if err := s.setEntity(ctx, key, &m); err != nil {
			return nil, fmt.Errorf("redis: dequeue update: %w", err)
		}

		evt, err := fromWebhookEventModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

func (s *Store) DeliveryStats(ctx context.Context, opts delivery.StatsOpts) (*delivery.Stats, error) {
	webhooks, err := s.filterWebhooks(ctx, func(m *webhookModel) bool {
		if !opts.WebhookID.IsNil() && m.ID != opts.WebhookID.String() {
			return false
		}
		if opts.AgencyID != "" && m.AgencyID != opts.AgencyID {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	stats := &delivery.Stats{}
	cutoff := now().Add(-24 * time.Hour)
	for _, wh := range webhooks {
		stats.TotalWebhooks++
		if wh.IsActive {
			stats.ActiveWebhooks++
		}

		ids, err := s.rdb.ZRange(ctx, zEventWebhook+wh.ID.String(), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: delivery stats: %w", err)
		}
		for _, evtID := range ids {
			var m webhookEventModel
			if err := s.getEntity(ctx, entityKey(prefixWebhookEvent, evtID), &m); err != nil {
				if isRedisNil(err) {
					continue
				}
				return nil, err
			}
			stats.TotalEvents++
			switch delivery.Status(m.Status) {
			case delivery.StatusSuccess:
				stats.SuccessfulEvents++
			case delivery.StatusFailed:
				stats.FailedEvents++
			}
			if m.TriggeredAt.After(cutoff) {
				stats.EventsLast24h++
			}
		}
	}

	if stats.TotalEvents > 0 {
		stats.SuccessRate = float64(stats.SuccessfulEvents) / float64(stats.TotalEvents)
	}
	return stats, nil
}
