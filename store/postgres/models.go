package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/pulsekit/pulse/catalog"
	"github.com/pulsekit/pulse/condition"
	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/subscription"
	"github.com/pulsekit/pulse/webhook"
)

// Column lists shared between SELECT and RETURNING clauses. Scan helpers
// below depend on this exact ordering.
const (
	eventTypeColumns = `id, name, category, description, schema, is_active, created_at, updated_at`

	subscriptionColumns = `id, user_id, agency_id, event_types, channels, filters,
		priority_threshold, enabled, created_at, updated_at`

	ruleColumns = `id, name, agency_id, event_types, conditions, actions,
		priority, enabled, created_at, updated_at`

	webhookColumns = `id, agency_id, name, description, url, method, headers,
		secret_token, events, is_active, retry_attempts, retry_delay_seconds,
		timeout_seconds, rate_limit, filters, last_triggered, created_at, updated_at`

	webhookEventColumns = `id, webhook_id, event_type, event_data, status,
		http_status_code, response_body, error_message, triggered_at, completed_at,
		duration_ms, attempt_number, next_attempt_at, request_headers, request_body,
		created_at, updated_at`
)

// scanner abstracts pgx.Row and pgx.Rows so one scan helper serves both
// single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

// marshalJSONB encodes a value for a JSONB column, mapping empty values to
// NULL so the column stays sparse.
func marshalJSONB(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	case []condition.Condition:
		if len(t) == 0 {
			return nil, nil
		}
	case []subscription.Action:
		if len(t) == 0 {
			return nil, nil
		}
	case json.RawMessage:
		if len(t) == 0 {
			return nil, nil
		}
		return []byte(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal jsonb: %w", err)
	}
	return b, nil
}

func unmarshalJSONB(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("postgres: unmarshal jsonb: %w", err)
	}
	return nil
}

func scanEventType(row scanner) (*catalog.EventType, error) {
	var (
		et     catalog.EventType
		schema []byte
	)
	err := row.Scan(
		&et.ID, &et.Name, &et.Category, &et.Description, &schema,
		&et.IsActive, &et.CreatedAt, &et.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(schema) > 0 {
		et.Schema = json.RawMessage(schema)
	}
	return &et, nil
}

func scanSubscription(row scanner) (*subscription.Subscription, error) {
	var (
		sub       subscription.Subscription
		filters   []byte
		threshold string
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.AgencyID, &sub.EventTypes, &sub.Channels,
		&filters, &threshold, &sub.Enabled, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(filters, &sub.Filters); err != nil {
		return nil, err
	}
	sub.PriorityThreshold = subscription.Priority(threshold)
	return &sub, nil
}

func scanRule(row scanner) (*subscription.Rule, error) {
	var (
		rule       subscription.Rule
		conditions []byte
		actions    []byte
	)
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.AgencyID, &rule.EventTypes, &conditions,
		&actions, &rule.Priority, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(conditions, &rule.Conditions); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(actions, &rule.Actions); err != nil {
		return nil, err
	}
	return &rule, nil
}

func scanWebhook(row scanner) (*webhook.Webhook, error) {
	var (
		wh      webhook.Webhook
		headers []byte
		filters []byte
	)
	err := row.Scan(
		&wh.ID, &wh.AgencyID, &wh.Name, &wh.Description, &wh.URL, &wh.Method,
		&headers, &wh.SecretToken, &wh.Events, &wh.IsActive, &wh.RetryAttempts,
		&wh.RetryDelaySeconds, &wh.TimeoutSeconds, &wh.RateLimit, &filters,
		&wh.LastTriggered, &wh.CreatedAt, &wh.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(headers, &wh.Headers); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(filters, &wh.Filters); err != nil {
		return nil, err
	}
	return &wh, nil
}

func scanWebhookEvent(row scanner) (*delivery.WebhookEvent, error) {
	var (
		evt        delivery.WebhookEvent
		eventData  []byte
		status     string
		reqHeaders []byte
	)
	err := row.Scan(
		&evt.ID, &evt.WebhookID, &evt.EventType, &eventData, &status,
		&evt.HTTPStatusCode, &evt.ResponseBody, &evt.ErrorMessage,
		&evt.TriggeredAt, &evt.CompletedAt, &evt.DurationMs, &evt.AttemptNumber,
		&evt.NextAttemptAt, &reqHeaders, &evt.RequestBody,
		&evt.CreatedAt, &evt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(eventData, &evt.EventData); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(reqHeaders, &evt.RequestHeaders); err != nil {
		return nil, err
	}
	evt.Status = delivery.Status(status)
	return &evt, nil
}
