package db

import (
	"context"
	"fmt"

	"github.com/mcdev12/tourney/go/internal/sqlutil"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tournaments (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL,
    game_name   TEXT NOT NULL,
    stream_url  TEXT NOT NULL,
    image_url   TEXT NOT NULL,
    api_url     TEXT,
    status      TEXT NOT NULL DEFAULT 'UPCOMING'
                CHECK (status IN ('LIVE', 'UPCOMING', 'COMPLETED')),
    start_time  TIMESTAMPTZ NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tournaments_status_start ON tournaments (status, start_time);

CREATE TABLE IF NOT EXISTS tournament_outbox (
    id            TEXT PRIMARY KEY,
    tournament_id TEXT NOT NULL,
    event_type    TEXT NOT NULL,
    payload       TEXT NOT NULL,
    created_at    TEXT NOT NULL,
    sent_at       TEXT,
    attempts      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tournament_outbox_unsent ON tournament_outbox (created_at) WHERE sent_at IS NULL;
`

// start_time is stored as sqlutil.TimestampLayout text so that it sorts correctly.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tournaments (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL,
    game_name   TEXT NOT NULL,
    stream_url  TEXT NOT NULL,
    image_url   TEXT NOT NULL,
    api_url     TEXT,
    status      TEXT NOT NULL DEFAULT 'UPCOMING'
                CHECK (status IN ('LIVE', 'UPCOMING', 'COMPLETED')),
    start_time  TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_tournaments_status_start ON tournaments (status, start_time);

CREATE TABLE IF NOT EXISTS tournament_outbox (
    id            TEXT PRIMARY KEY,
    tournament_id TEXT NOT NULL,
    event_type    TEXT NOT NULL,
    payload       TEXT NOT NULL,
    created_at    TEXT NOT NULL,
    sent_at       TEXT,
    attempts      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tournament_outbox_unsent ON tournament_outbox (created_at) WHERE sent_at IS NULL;
`

// Schema returns the DDL for the dialect.
func Schema(d sqlutil.Dialect) string {
	if d == sqlutil.SQLite {
		return sqliteSchema
	}
	return postgresSchema
}

// EnsureSchema creates the tournaments table if it does not exist.
func (q *Queries) EnsureSchema(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, Schema(q.dialect)); err != nil {
		return fmt.Errorf("create tournaments schema: %w", err)
	}
	return nil
}
