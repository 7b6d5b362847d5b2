// Package postgres implements the aggregate store on PostgreSQL via pgx.
//
// Delivery records use FOR UPDATE SKIP LOCKED for dequeueing, so multiple
// engine instances can poll the same database without handing a record to
// two workers.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsekit/pulse"
	"github.com/pulsekit/pulse/catalog"
	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/store"
	"github.com/pulsekit/pulse/subscription"
	"github.com/pulsekit/pulse/webhook"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing connection pool. The caller keeps ownership of the
// pool's lifecycle configuration; Close still closes it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pooled connection to the given DSN and verifies it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// noRows maps pgx's not-found error onto a domain sentinel.
func noRows(err error, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// ──────────────────────────────────────────────────
// Event types
// ──────────────────────────────────────────────────

func (s *Store) RegisterEventType(ctx context.Context, et *catalog.EventType) error {
	schema, err := marshalJSONB(et.Schema)
	if err != nil {
		return err
	}

	// Upsert by name. A re-registration keeps the original ID and creation
	// time, which the RETURNING clause copies back onto et.
	return s.pool.QueryRow(ctx, `
		INSERT INTO pulse_event_types (id, name, category, description, schema, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			schema = EXCLUDED.schema,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		et.ID, et.Name, et.Category, et.Description, schema, et.IsActive,
		et.CreatedAt, et.UpdatedAt,
	).Scan(&et.ID, &et.CreatedAt)
}

func (s *Store) GetEventType(ctx context.Context, name string) (*catalog.EventType, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventTypeColumns+` FROM pulse_event_types WHERE name = $1`, name)
	et, err := scanEventType(row)
	if err != nil {
		return nil, noRows(err, pulse.ErrEventTypeNotFound)
	}
	return et, nil
}

func (s *Store) ListEventTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventTypeColumns+` FROM pulse_event_types
		WHERE ($1 = '' OR category = $1) AND ($2 OR is_active)
		ORDER BY name`,
		opts.Category, opts.IncludeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*catalog.EventType
	for rows.Next() {
		et, err := scanEventType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

// ──────────────────────────────────────────────────
// Subscriptions and rules
// ──────────────────────────────────────────────────

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	filters, err := marshalJSONB(sub.Filters)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pulse_subscriptions (id, user_id, agency_id, event_types, channels, filters,
			priority_threshold, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.UserID, sub.AgencyID, sub.EventTypes, sub.Channels, filters,
		string(sub.PriorityThreshold), sub.Enabled, sub.CreatedAt, sub.UpdatedAt)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM pulse_subscriptions WHERE id = $1`, subID)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, noRows(err, pulse.ErrSubscriptionNotFound)
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	filters, err := marshalJSONB(sub.Filters)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse_subscriptions SET
			user_id = $2, agency_id = $3, event_types = $4, channels = $5,
			filters = $6, priority_threshold = $7, enabled = $8, updated_at = $9
		WHERE id = $1`,
		sub.ID, sub.UserID, sub.AgencyID, sub.EventTypes, sub.Channels, filters,
		string(sub.PriorityThreshold), sub.Enabled, sub.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pulse_subscriptions WHERE id = $1`, subID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM pulse_subscriptions
		WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) CreateRule(ctx context.Context, rule *subscription.Rule) error {
	conditions, err := marshalJSONB(rule.Conditions)
	if err != nil {
		return err
	}
	actions, err := marshalJSONB(rule.Actions)
	if err != nil {
		return err
	}
	if actions == nil {
		actions = []byte(`[]`)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pulse_rules (id, name, agency_id, event_types, conditions, actions,
			priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rule.ID, rule.Name, rule.AgencyID, rule.EventTypes, conditions, actions,
		rule.Priority, rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (s *Store) GetRule(ctx context.Context, ruleID id.ID) (*subscription.Rule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM pulse_rules WHERE id = $1`, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		return nil, noRows(err, pulse.ErrRuleNotFound)
	}
	return rule, nil
}

func (s *Store) ListRulesByScope(ctx context.Context, agencyID string) ([]*subscription.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM pulse_rules
		WHERE agency_id = $1 ORDER BY priority DESC, created_at`, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*subscription.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ──────────────────────────────────────────────────
// Webhooks
// ──────────────────────────────────────────────────

func (s *Store) CreateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	headers, err := marshalJSONB(wh.Headers)
	if err != nil {
		return err
	}
	filters, err := marshalJSONB(wh.Filters)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pulse_webhooks (id, agency_id, name, description, url, method, headers,
			secret_token, events, is_active, retry_attempts, retry_delay_seconds,
			timeout_seconds, rate_limit, filters, last_triggered, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		wh.ID, wh.AgencyID, wh.Name, wh.Description, wh.URL, wh.Method, headers,
		wh.SecretToken, wh.Events, wh.IsActive, wh.RetryAttempts, wh.RetryDelaySeconds,
		wh.TimeoutSeconds, wh.RateLimit, filters, wh.LastTriggered, wh.CreatedAt, wh.UpdatedAt)
	return err
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM pulse_webhooks WHERE id = $1`, whID)
	wh, err := scanWebhook(row)
	if err != nil {
		return nil, noRows(err, pulse.ErrWebhookNotFound)
	}
	return wh, nil
}

func (s *Store) UpdateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	headers, err := marshalJSONB(wh.Headers)
	if err != nil {
		return err
	}
	filters, err := marshalJSONB(wh.Filters)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse_webhooks SET
			agency_id = $2, name = $3, description = $4, url = $5, method = $6,
			headers = $7, secret_token = $8, events = $9, is_active = $10,
			retry_attempts = $11, retry_delay_seconds = $12, timeout_seconds = $13,
			rate_limit = $14, filters = $15, updated_at = $16
		WHERE id = $1`,
		wh.ID, wh.AgencyID, wh.Name, wh.Description, wh.URL, wh.Method,
		headers, wh.SecretToken, wh.Events, wh.IsActive,
		wh.RetryAttempts, wh.RetryDelaySeconds, wh.TimeoutSeconds,
		wh.RateLimit, filters, wh.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrWebhookNotFound
	}
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	// Delivery history goes with it via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM pulse_webhooks WHERE id = $1`, whID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrWebhookNotFound
	}
	return nil
}

func (s *Store) ListWebhooks(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+` FROM pulse_webhooks
		WHERE ($1 = '' OR agency_id = $1) AND (NOT $2 OR is_active)
		ORDER BY created_at`,
		opts.AgencyID, opts.ActiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*webhook.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (s *Store) ResolveWebhooks(ctx context.Context, eventType, agencyID string) ([]*webhook.Webhook, error) {
	// A tenant sees its own webhooks plus the unscoped ones. An empty
	// agencyID matches every scope.
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+` FROM pulse_webhooks
		WHERE is_active
		  AND events @> ARRAY[$1]::TEXT[]
		  AND ($2 = '' OR agency_id = '' OR agency_id = $2)
		ORDER BY created_at`,
		eventType, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*webhook.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (s *Store) TouchLastTriggered(ctx context.Context, whID id.ID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pulse_webhooks SET last_triggered = $2 WHERE id = $1`, whID, at)
	return err
}

// ──────────────────────────────────────────────────
// Webhook events
// ──────────────────────────────────────────────────

func (s *Store) CreateWebhookEvent(ctx context.Context, evt *delivery.WebhookEvent) error {
	eventData, err := marshalJSONB(evt.EventData)
	if err != nil {
		return err
	}
	reqHeaders, err := marshalJSONB(evt.RequestHeaders)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pulse_webhook_events (id, webhook_id, event_type, event_data, status,
			http_status_code, response_body, error_message, triggered_at, completed_at,
			duration_ms, attempt_number, next_attempt_at, request_headers, request_body,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		evt.ID, evt.WebhookID, evt.EventType, eventData, string(evt.Status),
		evt.HTTPStatusCode, evt.ResponseBody, evt.ErrorMessage, evt.TriggeredAt, evt.CompletedAt,
		evt.DurationMs, evt.AttemptNumber, evt.NextAttemptAt, reqHeaders, evt.RequestBody,
		evt.CreatedAt, evt.UpdatedAt)
	return err
}

func (s *Store) UpdateWebhookEvent(ctx context.Context, evt *delivery.WebhookEvent) error {
	eventData, err := marshalJSONB(evt.EventData)
	if err != nil {
		return err
	}
	reqHeaders, err := marshalJSONB(evt.RequestHeaders)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse_webhook_events SET
			event_data = $2, status = $3, http_status_code = $4, response_body = $5,
			error_message = $6, completed_at = $7, duration_ms = $8, attempt_number = $9,
			next_attempt_at = $10, request_headers = $11, request_body = $12, updated_at = $13
		WHERE id = $1`,
		evt.ID, eventData, string(evt.Status), evt.HTTPStatusCode, evt.ResponseBody,
		evt.ErrorMessage, evt.CompletedAt, evt.DurationMs, evt.AttemptNumber,
		evt.NextAttemptAt, reqHeaders, evt.RequestBody, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrWebhookEventNotFound
	}
	return nil
}

func (s *Store) GetWebhookEvent(ctx context.Context, evtID id.ID) (*delivery.WebhookEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+webhookEventColumns+` FROM pulse_webhook_events WHERE id = $1`, evtID)
	evt, err := scanWebhookEvent(row)
	if err != nil {
		return nil, noRows(err, pulse.ErrWebhookEventNotFound)
	}
	return evt, nil
}

func (s *Store) ListWebhookEvents(ctx context.Context, opts delivery.ListOpts) ([]*delivery.WebhookEvent, error) {
	var status string
	if opts.Status != nil {
		status = string(*opts.Status)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookEventColumns+` FROM pulse_webhook_events
		WHERE ($1 = '' OR webhook_id = $1)
		  AND ($2 = '' OR event_type = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY triggered_at DESC
		LIMIT $4`,
		opts.WebhookID.String(), opts.EventType, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*delivery.WebhookEvent
	for rows.Next() {
		evt, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// DequeueDue claims due pending/retrying records by flipping them to
// "sending" inside a SKIP LOCKED sub-select, so concurrent pollers never
// pick up the same record. The claim is released when the engine persists
// the attempt outcome.
func (s *Store) DequeueDue(ctx context.Context, limit int) ([]*delivery.WebhookEvent, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE pulse_webhook_events SET status = 'sending', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM pulse_webhook_events
			WHERE status IN ('pending', 'retrying') AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+webhookEventColumns,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*delivery.WebhookEvent
	for rows.Next() {
		evt, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (s *Store) DeliveryStats(ctx context.Context, opts delivery.StatsOpts) (*delivery.Stats, error) {
	whID := opts.WebhookID.String()
	stats := &delivery.Stats{}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active)
		FROM pulse_webhooks
		WHERE ($1 = '' OR id = $1) AND ($2 = '' OR agency_id = $2)`,
		whID, opts.AgencyID,
	).Scan(&stats.TotalWebhooks, &stats.ActiveWebhooks)
	if err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE e.status = 'success'),
			COUNT(*) FILTER (WHERE e.status = 'failed'),
			COUNT(*) FILTER (WHERE e.triggered_at > NOW() - INTERVAL '24 hours')
		FROM pulse_webhook_events e
		JOIN pulse_webhooks w ON w.id = e.webhook_id
		WHERE ($1 = '' OR e.webhook_id = $1) AND ($2 = '' OR w.agency_id = $2)`,
		whID, opts.AgencyID,
	).Scan(&stats.TotalEvents, &stats.SuccessfulEvents, &stats.FailedEvents, &stats.EventsLast24h)
	if err != nil {
		return nil, err
	}

	if stats.TotalEvents > 0 {
		stats.SuccessRate = float64(stats.SuccessfulEvents) / float64(stats.TotalEvents)
	}
	return stats, nil
}
