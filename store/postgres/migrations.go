package postgres

import (
	"context"
	"fmt"

	"github.com/pulsekit/pulse"
)

// migration is one versioned schema change. Versions are lexicographically
// ordered timestamps; applied versions are recorded in pulse_migrations and
// never re-run.
type migration struct {
	version string
	sql     string
}

var migrations = []migration{
	{
		version: "202601010001",
		sql: `
CREATE TABLE IF NOT EXISTS pulse_event_types (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	category    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	schema      JSONB,
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pulse_event_types_category ON pulse_event_types (category);
`,
	},
	{
		version: "202601010002",
		sql: `
CREATE TABLE IF NOT EXISTS pulse_subscriptions (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	agency_id          TEXT NOT NULL DEFAULT '',
	event_types        TEXT[] NOT NULL,
	channels           TEXT[],
	filters            JSONB,
	priority_threshold TEXT NOT NULL,
	enabled            BOOLEAN NOT NULL DEFAULT TRUE,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pulse_subscriptions_user ON pulse_subscriptions (user_id);
`,
	},
	{
		version: "202601010003",
		sql: `
CREATE TABLE IF NOT EXISTS pulse_rules (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	agency_id   TEXT NOT NULL DEFAULT '',
	event_types TEXT[] NOT NULL,
	conditions  JSONB,
	actions     JSONB NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 0,
	enabled     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pulse_rules_agency ON pulse_rules (agency_id);
`,
	},
	{
		version: "202601010004",
		sql: `
CREATE TABLE IF NOT EXISTS pulse_webhooks (
	id                  TEXT PRIMARY KEY,
	agency_id           TEXT NOT NULL DEFAULT '',
	name                TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	url                 TEXT NOT NULL,
	method              TEXT NOT NULL,
	headers             JSONB,
	secret_token        TEXT NOT NULL DEFAULT '',
	events              TEXT[] NOT NULL,
	is_active           BOOLEAN NOT NULL DEFAULT TRUE,
	retry_attempts      INTEGER NOT NULL,
	retry_delay_seconds INTEGER NOT NULL,
	timeout_seconds     INTEGER NOT NULL,
	rate_limit          INTEGER NOT NULL DEFAULT 0,
	filters             JSONB,
	last_triggered      TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pulse_webhooks_events ON pulse_webhooks USING GIN (events);
CREATE INDEX IF NOT EXISTS idx_pulse_webhooks_agency ON pulse_webhooks (agency_id) WHERE is_active;
`,
	},
	{
		version: "202601010005",
		sql: `
CREATE TABLE IF NOT EXISTS pulse_webhook_events (
	id               TEXT PRIMARY KEY,
	webhook_id       TEXT NOT NULL REFERENCES pulse_webhooks (id) ON DELETE CASCADE,
	event_type       TEXT NOT NULL,
	event_data       JSONB,
	status           TEXT NOT NULL,
	http_status_code INTEGER NOT NULL DEFAULT 0,
	response_body    TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	triggered_at     TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	duration_ms      INTEGER NOT NULL DEFAULT 0,
	attempt_number   INTEGER NOT NULL DEFAULT 0,
	next_attempt_at  TIMESTAMPTZ NOT NULL,
	request_headers  JSONB,
	request_body     TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pulse_webhook_events_webhook ON pulse_webhook_events (webhook_id, triggered_at DESC);
CREATE INDEX IF NOT EXISTS idx_pulse_webhook_events_due ON pulse_webhook_events (next_attempt_at)
	WHERE status IN ('pending', 'retrying');
`,
	},
}

// Migrate applies all pending schema migrations in order, each inside its
// own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS pulse_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %v", pulse.ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("%w: version %s: %v", pulse.ErrMigrationFailed, m.version, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var applied bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pulse_migrations WHERE version = $1)`, m.version,
	).Scan(&applied)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO pulse_migrations (version) VALUES ($1)`, m.version,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
