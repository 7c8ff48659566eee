package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Beacon store.
// It can be registered with the grove extension for orchestrated migration
// management (locking, version tracking, rollback support).
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
    event_types            TEXT[] NOT NULL DEFAULT '{}',
    headers                JSONB NOT NULL DEFAULT '{}',
    is_active              BOOLEAN NOT NULL DEFAULT TRUE,
    consecutive_failures   INT NOT NULL DEFAULT 0,
    disabled_reason        TEXT NOT NULL DEFAULT '',
    disabled_at            TIMESTAMPTZ,
    max_retries            INT NOT NULL DEFAULT 5,
    base_retry_delay_ms    BIGINT NOT NULL DEFAULT 60000,
    backoff_multiplier     DOUBLE PRECISION NOT NULL DEFAULT 2.0,
    auto_disable_threshold INT NOT NULL DEFAULT 10,
    rate_limit             INT NOT NULL DEFAULT 0,
    description            TEXT NOT NULL DEFAULT '',
    metadata               JSONB NOT NULL DEFAULT '{}',
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_beacon_subscriptions_event_types ON beacon_subscriptions USING GIN (event_types);
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
    payload     JSONB NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_beacon_events_type ON beacon_events (type);
CREATE INDEX IF NOT EXISTS idx_beacon_events_created ON beacon_events (created_at DESC);
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
    attempt_number  INT NOT NULL DEFAULT 1,
    status          TEXT NOT NULL DEFAULT 'pending',
    scheduled_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    executed_at     TIMESTAMPTZ,
    response_code   INT,
    response_body   TEXT NOT NULL DEFAULT '',
    duration_ms     BIGINT NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    next_retry_at   TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (delivery_id, attempt_number)
);

CREATE INDEX IF NOT EXISTS idx_beacon_attempts_due ON beacon_delivery_attempts (scheduled_at) WHERE status IN ('pending', 'retrying');
CREATE INDEX IF NOT EXISTS idx_beacon_attempts_pair ON beacon_delivery_attempts (event_id, subscription_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_beacon_attempts_subscription ON beacon_delivery_attempts (subscription_id);
CREATE INDEX IF NOT EXISTS idx_beacon_attempts_created ON beacon_delivery_attempts (created_at DESC);
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
