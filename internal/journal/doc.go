// Package journal persists connection events to PostgreSQL.
//
// Writer implements event.Sink. Publish never blocks: events go into a
// bounded ring (oldest dropped when full) and a consumer batches them into
// the connection_events table. Inserts are append-only and idempotent on
// event ID.
package journal
