// Package database creates the PostgreSQL connection pool used by the
// connection event journal.
package database
