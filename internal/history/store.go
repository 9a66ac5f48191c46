// Package history persists completed dictations to a local SQLite database.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxkey/voxkey/internal/config"
	"github.com/voxkey/voxkey/internal/session"
)

// Entry is one stored dictation.
type Entry struct {
	ID         int64
	SessionID  string
	StartedAt  time.Time
	DurationMS int64
	EngineMS   int64
	Outcome    string
	Text       string
	CreatedAt  time.Time
}

// Store records dictation results. Unless retention mode is "persistent"
// the store keeps nothing on disk and every method is a no-op.
type Store struct {
	cfg config.HistoryConfig
	log *slog.Logger
	db  *sql.DB

	clock func() time.Time
}

func Open(cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	s := &Store{
		cfg:   cfg,
		log:   log.With(slog.String("component", "history")),
		clock: time.Now,
	}
	if cfg.RetentionMode != "persistent" {
		s.log.Info("history disabled", slog.String("retention_mode", cfg.RetentionMode))
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.VacuumOnStart {
		if _, err := db.Exec("VACUUM"); err != nil {
			s.log.Warn("vacuum failed", slogError(err))
		}
	}

	s.log.Info("history database opened", slog.String("path", cfg.Path))
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS dictations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL,
	engine_ms INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dictations_created_at ON dictations(created_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate history schema: %w", err)
	}
	return nil
}

// Append stores one completed cycle. Failed cycles are recorded with their
// failure kind as the outcome and empty text.
func (s *Store) Append(result session.Result) error {
	if s.db == nil {
		return nil
	}

	outcome := "ok"
	if result.Failure != session.FailureNone {
		outcome = string(result.Failure)
	}

	_, err := s.db.Exec(
		`INSERT INTO dictations (session_id, started_at, duration_ms, engine_ms, outcome, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.SessionID,
		result.StartedAt.UTC(),
		result.Duration.Milliseconds(),
		result.EngineLatency.Milliseconds(),
		outcome,
		result.Text,
		s.clock().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert dictation: %w", err)
	}
	return nil
}

// Recent returns up to limit dictations, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, session_id, started_at, duration_ms, engine_ms, outcome, text, created_at
		 FROM dictations ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dictations: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.StartedAt, &e.DurationMS, &e.EngineMS, &e.Outcome, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dictation: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune enforces the retention window and the entry cap.
func (s *Store) Prune() error {
	if s.db == nil {
		return nil
	}

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
		if _, err := s.db.Exec("DELETE FROM dictations WHERE created_at < ?", cutoff); err != nil {
			return fmt.Errorf("prune by age: %w", err)
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err := s.db.Exec(
			`DELETE FROM dictations WHERE id NOT IN (
				SELECT id FROM dictations ORDER BY created_at DESC, id DESC LIMIT ?
			)`, s.cfg.MaxEntries)
		if err != nil {
			return fmt.Errorf("prune by count: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
