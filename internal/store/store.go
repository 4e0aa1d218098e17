package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed relational store for servers, users and
// promocodes. Sessions are per-call: every method acquires a connection
// from the database/sql pool for the duration of one statement and never
// holds it across remote fan-out work.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path and initialises the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS servers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  host TEXT NOT NULL,
  max_clients INTEGER NOT NULL DEFAULT 0,
  location TEXT NOT NULL DEFAULT '',
  online INTEGER NOT NULL DEFAULT 0,
  current_clients INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY,
  server_id INTEGER NOT NULL DEFAULT 0,
  sub_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS users_sub_id ON users (sub_id);

CREATE TABLE IF NOT EXISTS promocodes (
  code TEXT PRIMARY KEY,
  duration_days INTEGER NOT NULL,
  activated INTEGER NOT NULL DEFAULT 0,
  activated_by INTEGER NOT NULL DEFAULT 0
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}
