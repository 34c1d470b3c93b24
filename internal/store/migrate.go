package store

import (
	"context"
	"database/sql"
)

// The uniqueness rules the engine depends on live here, not in application
// code: one active session per class, one record per (session, attendee),
// and one non-manual record per (session, device). Concurrent claims race on
// these indexes and the loser is translated into a DUPLICATE_* rejection.
const schema = `
CREATE TABLE IF NOT EXISTS devices (
    device_id text PRIMARY KEY,
    registered_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sessions (
    id uuid PRIMARY KEY,
    class_id text NOT NULL,
    presenter_id text NOT NULL,
    current_token text NOT NULL,
    token_expires_at timestamptz NOT NULL,
    start_time timestamptz NOT NULL,
    window_end timestamptz NOT NULL,
    end_time timestamptz,
    latitude double precision NOT NULL,
    longitude double precision NOT NULL,
    accuracy_m double precision NOT NULL DEFAULT 0,
    is_active boolean NOT NULL DEFAULT true,
    accepted_count integer NOT NULL DEFAULT 0,
    created_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS sessions_one_active_per_class
ON sessions (class_id) WHERE is_active;

CREATE INDEX IF NOT EXISTS sessions_current_token_idx
ON sessions (current_token);

CREATE TABLE IF NOT EXISTS presence_records (
    id uuid PRIMARY KEY,
    session_id uuid NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    attendee_id text NOT NULL,
    class_id text NOT NULL,
    status text NOT NULL,
    device_id text NOT NULL,
    distance_m double precision NOT NULL DEFAULT 0,
    latitude double precision NOT NULL DEFAULT 0,
    longitude double precision NOT NULL DEFAULT 0,
    accuracy_m double precision NOT NULL DEFAULT 0,
    suspicious boolean NOT NULL DEFAULT false,
    is_manual boolean NOT NULL DEFAULT false,
    marked_at timestamptz NOT NULL DEFAULT NOW(),
    CONSTRAINT presence_one_per_attendee UNIQUE (session_id, attendee_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS presence_one_per_device
ON presence_records (session_id, device_id) WHERE NOT is_manual;

CREATE TABLE IF NOT EXISTS audit_entries (
    id uuid PRIMARY KEY,
    attendee_id text NOT NULL,
    session_id uuid,
    reason text NOT NULL,
    device_id text NOT NULL DEFAULT '',
    latitude double precision NOT NULL DEFAULT 0,
    longitude double precision NOT NULL DEFAULT 0,
    accuracy_m double precision NOT NULL DEFAULT 0,
    details text NOT NULL DEFAULT '',
    created_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS audit_entries_session_idx
ON audit_entries (session_id);
`

// Migrate applies the engine schema. Every statement is idempotent so the
// migration can run on every boot.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
