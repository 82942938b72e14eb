// Package sqlite stores telemetry events and execution history in a local
// SQLite file. It backs paper and monitor runs that have no PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a single-connection SQLite handle.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	d := &DB{db: db}
	if err := d.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Health pings the database file.
func (d *DB) Health(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

func (d *DB) migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  event_type TEXT NOT NULL,
  at_ns INTEGER NOT NULL,
  venue TEXT NOT NULL DEFAULT '',
  symbol TEXT NOT NULL DEFAULT '',
  fields TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type_at ON events(event_type, at_ns);

CREATE TABLE IF NOT EXISTS executions (
  id TEXT PRIMARY KEY,
  opportunity_key TEXT NOT NULL,
  symbol TEXT NOT NULL,
  buy_venue TEXT NOT NULL,
  sell_venue TEXT NOT NULL,
  trade_size TEXT NOT NULL,
  expected_profit TEXT NOT NULL,
  realized_profit TEXT NOT NULL,
  status TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  attempts INTEGER NOT NULL DEFAULT 0,
  handle TEXT NOT NULL DEFAULT '',
  started_at_ns INTEGER NOT NULL,
  completed_at_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at_ns);
`)
	if err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}
