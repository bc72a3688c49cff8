package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avelis/stepstream/internal/domain"
	"github.com/avelis/stepstream/internal/stream"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serialize writes to avoid SQLITE_BUSY under load
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS runs (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_steps INTEGER NOT NULL,
		completed_steps INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);

	CREATE TABLE IF NOT EXISTS run_steps (
		session_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		step_content TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		PRIMARY KEY (session_id, step_index)
	);

	CREATE TABLE IF NOT EXISTS run_events (
		event_id TEXT PRIMARY KEY,
		stream_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_run_events_session ON run_events(session_id, occurred_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}

// ArchiveRun records a finished workflow run.
func (s *SQLiteStore) ArchiveRun(ctx context.Context, run RunRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (session_id, status, total_steps, completed_steps, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			completed_steps = excluded.completed_steps,
			finished_at = excluded.finished_at,
			error = excluded.error`,
		run.SessionID, run.Status, run.TotalSteps, run.CompletedSteps,
		run.StartedAt.Unix(), run.FinishedAt.Unix(), run.Error)
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}
	return nil
}

// ArchiveStep records one executed step of a run.
func (s *SQLiteStore) ArchiveStep(ctx context.Context, sessionID string, step domain.StepExecutionSummary) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_steps (session_id, step_index, step_content, status, started_at, finished_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, step_index) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms,
			error = excluded.error`,
		sessionID, step.StepIndex, step.StepContent, step.Status,
		step.StartedAt.Unix(), step.FinishedAt.Unix(), step.Duration.Milliseconds(), step.Error)
	if err != nil {
		return fmt.Errorf("archive step: %w", err)
	}
	return nil
}

// RecordEvent records a published stream event.
func (s *SQLiteStore) RecordEvent(ctx context.Context, streamID string, ev stream.Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO run_events (event_id, stream_id, session_id, event_type, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, streamID, ev.SessionID, string(ev.Type), ev.Timestamp.UnixMilli(), string(payload))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// ListRecentRuns returns the most recently finished runs, newest first.
func (s *SQLiteStore) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, status, total_steps, completed_steps, started_at, finished_at, COALESCE(error, '')
		FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished int64
		if err := rows.Scan(&r.SessionID, &r.Status, &r.TotalSteps, &r.CompletedSteps, &started, &finished, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		r.FinishedAt = time.Unix(finished, 0).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
