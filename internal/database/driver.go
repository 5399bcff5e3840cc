// Package database is a read-only introspection and query gateway over
// two relational engines: an embedded SQLite file and a PostgreSQL
// server. Both adapters satisfy the same Driver contract so callers never
// need to know which engine sits behind a connection; the safety guard
// ensures no mutating statement ever reaches either one.
package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/xo/dburl"
)

// Driver is the uniform contract over both backends. Implementations own
// exactly one connection (SQLite) or one bounded pool (PostgreSQL),
// created at construction and released by Close. No operation mutates
// data or schema, nothing is cached across calls, and no call is retried
// internally.
type Driver interface {
	// ListTables returns every user table and view.
	ListTables(ctx context.Context) ([]Table, error)

	// DescribeTable returns columns, indexes and foreign keys for one
	// table, read from the live catalog.
	DescribeTable(ctx context.Context, table string) (*TableSchema, error)

	// Query runs a read-only SQL statement through the safety guard.
	// limit caps the returned rows; limit <= 0 means the default cap
	// (MaxQueryRows). Caller limits above MaxQueryRows are clamped.
	Query(ctx context.Context, sql string, limit int) (*QueryResult, error)

	// GetSchema returns DDL text for every table and view: verbatim
	// creation statements on SQLite, synthesized CREATE TABLE text on
	// PostgreSQL.
	GetSchema(ctx context.Context) (string, error)

	// GetStats returns per-table row and column counts, ordered by table
	// name. Row counts are exact on SQLite and planner estimates on
	// PostgreSQL.
	GetStats(ctx context.Context) ([]TableStats, error)

	// GetRelationships returns every foreign-key edge in the database.
	GetRelationships(ctx context.Context) ([]Relationship, error)

	// Close releases the underlying connection or pool. Calls after
	// Close fail with the engine's closed-connection error.
	Close() error
}

// Open selects and constructs the adapter for a connection descriptor: a
// postgres:// or postgresql:// URL for the client-server engine, a
// sqlite:// or file: URL or a bare filesystem path for the embedded one.
// Connection failure is fatal here and is never retried.
func Open(ctx context.Context, descriptor string) (Driver, error) {
	if u, err := dburl.Parse(descriptor); err == nil {
		switch u.Driver {
		case "postgres":
			return OpenPostgres(ctx, descriptor)
		case "sqlite", "sqlite3", "moderncsqlite":
			return OpenSQLite(ctx, u.DSN)
		default:
			return nil, &ConnectionError{
				Descriptor: descriptor,
				Cause:      fmt.Errorf("unsupported database scheme %q", u.OriginalScheme),
			}
		}
	}

	// Not a URL at all: treat it as a path to a SQLite file.
	if strings.Contains(descriptor, "://") {
		return nil, &ConnectionError{
			Descriptor: descriptor,
			Cause:      fmt.Errorf("unrecognized connection descriptor"),
		}
	}
	return OpenSQLite(ctx, descriptor)
}
