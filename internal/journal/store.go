// Package journal provides the durable catalog of projects, agents, and
// runs plus the append-only trace event log, backed by SQLite.
//
// Writes are serialized through a single-writer mutex; reads proceed
// concurrently. WAL journaling keeps acknowledged writes across power
// loss.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Store errors. Conflict is distinct so callers may coalesce duplicate
// create requests.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("name already exists")
	ErrInvalidTransition = errors.New("status transition not allowed")
)

// Observer receives notifications after the store commits a write.
// The commit always happens before the callback fires.
type Observer interface {
	EventInserted(event *Event)
	RunChanged(run *Run)
}

// Store is the journal. All mutating methods go through a single
// writer; the Observer (when set) fires after each acknowledged write.
type Store struct {
	db       *sql.DB
	writeMu  chan struct{} // single-writer token
	observer Observer
	logger   *slog.Logger
}

// Open opens (and migrates) a journal at path. Use ":memory:" for an
// ephemeral store in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// The sqlite driver serializes at the connection level; a single
	// connection avoids table-lock contention between writer and reader
	// transactions on the same file.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:      db,
		writeMu: make(chan struct{}, 1),
		logger:  logger,
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetObserver wires the fan-out hook. Call before concurrent use.
func (s *Store) SetObserver(obs Observer) {
	s.observer = obs
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at  DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name         TEXT NOT NULL,
			target       TEXT NOT NULL,
			chaos_config TEXT,
			created_at   DATETIME NOT NULL,
			UNIQUE (project_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id              TEXT PRIMARY KEY,
			agent_id        TEXT REFERENCES agents(id) ON DELETE CASCADE,
			kind            TEXT NOT NULL,
			target          TEXT NOT NULL,
			chaos_config    TEXT,
			status          TEXT NOT NULL,
			total_calls     INTEGER NOT NULL DEFAULT 0,
			total_errors    INTEGER NOT NULL DEFAULT 0,
			stress_passed   INTEGER NOT NULL DEFAULT 0,
			stress_graceful INTEGER NOT NULL DEFAULT 0,
			stress_crashed  INTEGER NOT NULL DEFAULT 0,
			stress_score    INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL,
			started_at      DATETIME,
			ended_at        DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS trace_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			kind       TEXT NOT NULL,
			ts         DATETIME NOT NULL,
			method     TEXT,
			tool_name  TEXT,
			params     TEXT,
			result     TEXT,
			error      TEXT,
			chaos      TEXT,
			latency_ms INTEGER
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_agents_project ON agents(project_id)",
		"CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent_id)",
		"CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)",
		"CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind)",
		"CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_events_run ON trace_events(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_events_method ON trace_events(method)",
		"CREATE INDEX IF NOT EXISTS idx_events_tool ON trace_events(tool_name)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

// acquireWriter blocks until this goroutine holds the writer token.
func (s *Store) acquireWriter(ctx context.Context) error {
	select {
	case s.writeMu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) releaseWriter() {
	<-s.writeMu
}

// isUniqueViolation detects the sqlite unique-constraint error so it
// can surface as ErrConflict.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullBytes(v []byte) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
