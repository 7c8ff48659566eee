package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Beacon SQLite store.
var Migrations = migrate.NewGroup("beacon")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_beacon_subscriptions",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS beacon_subscriptions (
    id                     TEXT PRIMARY KEY,
    target_url             TEXT NOT NULL,
    secret                 TEXT NOT NULL,
    event_types            TEXT NOT NULL DEFAULT '[]',
    headers                TEXT NOT NULL DEFAULT '{}',
    is_active              INTEGER NOT NULL DEFAULT 1,
    consecutive_failures   INTEGER NOT NULL DEFAULT 0,
    disabled_reason        TEXT NOT NULL DEFAULT '',
    disabled_at            TEXT,
    max_retries            INTEGER NOT NULL DEFAULT 5,
    base_retry_delay_ms    INTEGER NOT NULL DEFAULT 60000,
    backoff_multiplier     REAL NOT NULL DEFAULT 2.0,
    auto_disable_threshold INTEGER NOT NULL DEFAULT 10,
    rate_limit             INTEGER NOT NULL DEFAULT 0,
    description            TEXT NOT NULL DEFAULT '',
    metadata               TEXT NOT NULL DEFAULT '{}',
    created_at             TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at             TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_beacon_subscriptions_active ON beacon_subscriptions (is_active);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS beacon_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_beacon_events",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS beacon_events (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL,
    payload     TEXT NOT NULL,
    occurred_at TEXT NOT NULL DEFAULT (datetime('now')),
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_beacon_events_type ON beacon_events (type);
CREATE INDEX IF NOT EXISTS idx_beacon_events_created ON beacon_events (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS beacon_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_beacon_delivery_attempts",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS beacon_delivery_attempts (
    id              TEXT PRIMARY KEY,
    delivery_id     TEXT NOT NULL,
    subscription_id TEXT NOT NULL,
    event_id        TEXT NOT NULL,
    event_type      TEXT NOT NULL DEFAULT '',
    attempt_number  INTEGER NOT NULL DEFAULT 1,
    status          TEXT NOT NULL DEFAULT 'pending',
    scheduled_at    TEXT NOT NULL DEFAULT (datetime('now')),
    executed_at     TEXT,
    response_code   INTEGER,
    response_body   TEXT NOT NULL DEFAULT '',
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    next_retry_at   TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (delivery_id, attempt_number)
);

CREATE INDEX IF NOT EXISTS idx_beacon_attempts_due ON beacon_delivery_attempts (status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_beacon_attempts_pair ON beacon_delivery_attempts (event_id, subscription_id);
CREATE INDEX IF NOT EXISTS idx_beacon_attempts_subscription ON beacon_delivery_attempts (subscription_id);
CREATE INDEX IF NOT EXISTS idx_beacon_attempts_created ON beacon_delivery_attempts (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS beacon_delivery_attempts`)
				return err
			},
		},
	)
}
