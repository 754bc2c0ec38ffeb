// Package journal keeps a local history of settled tasks and resumed
// deliveries in a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Entry kinds.
const (
	KindTask   = "task"
	KindResume = "resume"
)

// Entry outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeFailed     = "failed"
	OutcomeRedirected = "redirected"
	OutcomeAbandoned  = "abandoned"
	OutcomeKept       = "kept"
)

// Entry is one journal row.
type Entry struct {
	ID        string
	Kind      string
	TaskID    string
	Platform  string
	Outcome   string
	Error     string
	URL       string
	Delivered bool
	Duration  time.Duration
	At        time.Time
}

// Recorder accepts entries. Store implements it.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Store is a SQLite-backed journal.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS task_journal (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	task_id     TEXT NOT NULL,
	platform    TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	delivered   INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS task_journal_at ON task_journal(at);`

// Open opens (or creates) the journal at path. Use ":memory:" for a
// throwaway journal.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Store{db: db, log: logger.Named("journal"), now: time.Now}, nil
}

// Record appends e, filling in ID and At when they are unset.
func (s *Store) Record(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_journal (id, kind, task_id, platform, outcome, error, url, delivered, duration_ms, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.TaskID, e.Platform, e.Outcome, e.Error, e.URL,
		e.Delivered, e.Duration.Milliseconds(), e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record journal entry for task %q: %w", e.TaskID, err)
	}
	s.log.Debug("Journal entry recorded.", zap.String("task_id", e.TaskID), zap.String("outcome", e.Outcome))
	return nil
}

// List returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := `SELECT id, kind, task_id, platform, outcome, error, url, delivered, duration_ms, at
	      FROM task_journal ORDER BY at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			duration int64
			at       string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.TaskID, &e.Platform, &e.Outcome, &e.Error, &e.URL, &e.Delivered, &duration, &at); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Duration = time.Duration(duration) * time.Millisecond
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
