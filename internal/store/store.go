// Package store persists canonical events and collection watermarks in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	dedupe_key TEXT NOT NULL UNIQUE,
	ts INTEGER NOT NULL,
	host TEXT NOT NULL,
	category TEXT NOT NULL,
	event_code INTEGER NOT NULL,
	severity TEXT NOT NULL,
	source TEXT,
	principal TEXT,
	message TEXT,
	raw BLOB,
	ingested_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_host_ts ON events(host, ts);
CREATE INDEX IF NOT EXISTS idx_events_code ON events(event_code);
CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity);

CREATE TABLE IF NOT EXISTS watermarks (
	host TEXT NOT NULL,
	category TEXT NOT NULL,
	ts INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (host, category)
);
`

// Store is the SQLite-backed event store. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open creates or opens the database at path and ensures the schema exists.
// An unreachable database here is fatal for the caller.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer at a time; WAL still lets readers through.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: log.With().Str("component", "store").Logger(),
	}, nil
}

// DB exposes the handle so sibling stores (alert state) share the file.
func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database still answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
