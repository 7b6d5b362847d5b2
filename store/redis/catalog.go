package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pulsekit/pulse"
	"github.com/pulsekit/pulse/catalog"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
)

// eventTypeModel is the JSON representation stored in Redis.
type eventTypeModel struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	return &eventTypeModel{
		ID:          et.ID.String(),
		Name:        et.Name,
		Category:    et.Category,
		Description: et.Description,
		Schema:      et.Schema,
		IsActive:    et.IsActive,
		CreatedAt:   et.CreatedAt,
		UpdatedAt:   et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}
	return &catalog.EventType{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          etID,
		Name:        m.Name,
		Category:    m.Category,
		Description: m.Description,
		Schema:      m.Schema,
		IsActive:    m.IsActive,
	}, nil
}

func (s *Store) RegisterEventType(ctx context.Context, et *catalog.EventType) error {
	key := entityKey(prefixEventType, et.Name)

	// Upsert by name: a re-registration keeps the original ID and
	// creation time.
	var existing eventTypeModel
	switch err := s.getEntity(ctx, key, &existing); {
	case err == nil:
		prevID, perr := id.ParseEventTypeID(existing.ID)
		if perr != nil {
			return fmt.Errorf("redis: register event type: %w", perr)
		}
		et.ID = prevID
		et.CreatedAt = existing.CreatedAt
	case !isRedisNil(err):
		return fmt.Errorf("redis: register event type: %w", err)
	}

	if err := s.setEntity(ctx, key, toEventTypeModel(et)); err != nil {
		return fmt.Errorf("redis: register event type: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, zEventTypeAll, goredis.Z{
		Score:  scoreFromTime(et.CreatedAt),
		Member: et.Name,
	}).Err(); err != nil {
		return fmt.Errorf("redis: register event type index: %w", err)
	}
	return nil
}

func (s *Store) GetEventType(ctx context.Context, name string) (*catalog.EventType, error) {
	var m eventTypeModel
	if err := s.getEntity(ctx, entityKey(prefixEventType, name), &m); err != nil {
		if isRedisNil(err) {
			return nil, pulse.ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("redis: get event type: %w", err)
	}
	return fromEventTypeModel(&m)
}

func (s *Store) ListEventTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	names, err := s.rdb.ZRange(ctx, zEventTypeAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list event types: %w", err)
	}

	out := make([]*catalog.EventType, 0, len(names))
	for _, name := range names {
		var m eventTypeModel
		if err := s.getEntity(ctx, entityKey(prefixEventType, name), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Category != "" && m.Category != opts.Category {
			continue
		}
		if !opts.IncludeInactive && !m.IsActive {
			continue
		}
		et, err := fromEventTypeModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, et)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
