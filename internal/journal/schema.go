package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the connection_events table if it does not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS connection_events (
	id          UUID PRIMARY KEY,
	instance_id TEXT        NOT NULL,
	type        TEXT        NOT NULL,
	source      TEXT        NOT NULL,
	symbol      TEXT        NOT NULL DEFAULT '',
	state       TEXT        NOT NULL DEFAULT '',
	message     TEXT        NOT NULL DEFAULT '',
	payload     BYTEA,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS connection_events_occurred_at_idx ON connection_events (occurred_at);
`

// Execer is satisfied by *pgxpool.Pool and *pgx.Conn.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create connection_events: %w", err)
	}
	return nil
}
