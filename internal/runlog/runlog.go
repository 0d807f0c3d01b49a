// Package runlog keeps the history of replace runs in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// timeLayout has fixed-width fractions so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Status is the outcome of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one replace attempt
type Run struct {
	ID         string     `json:"id"`
	Table      string     `json:"table"`
	Trigger    string     `json:"trigger"`
	Source     string     `json:"source"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Records    int        `json:"records"`
	Scanned    int        `json:"scanned"`
	Deleted    int        `json:"deleted"`
	Written    int        `json:"written"`
	Truncated  bool       `json:"truncated"`
	Error      string     `json:"error,omitempty"`
}

// Repository persists runs
type Repository struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewRepository opens (creating if needed) the run history database at dbPath
func NewRepository(dbPath string, logger zerolog.Logger) (*Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connections for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &Repository{
		db:     db,
		logger: logger,
	}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func (r *Repository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS replace_runs (
		id TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		records INTEGER DEFAULT 0,
		scanned INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		written INTEGER DEFAULT 0,
		truncated INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_replace_runs_started_at ON replace_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_replace_runs_table ON replace_runs(table_name);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database
func (r *Repository) Close() error {
	return r.db.Close()
}

// Record inserts run, or updates it when a run with the same ID exists
func (r *Repository) Record(ctx context.Context, run *Run) error {
	query := `
	INSERT INTO replace_runs (
		id, table_name, trigger_type, source, status, started_at, finished_at,
		records, scanned, deleted, written, truncated, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		finished_at = excluded.finished_at,
		records = excluded.records,
		scanned = excluded.scanned,
		deleted = excluded.deleted,
		written = excluded.written,
		truncated = excluded.truncated,
		error_message = excluded.error_message
	`

	var finishedAt sql.NullString
	if run.FinishedAt != nil {
		finishedAt = sql.NullString{String: run.FinishedAt.UTC().Format(timeLayout), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Table,
		run.Trigger,
		run.Source,
		string(run.Status),
		run.StartedAt.UTC().Format(timeLayout),
		finishedAt,
		run.Records,
		run.Scanned,
		run.Deleted,
		run.Written,
		boolToInt(run.Truncated),
		nullableString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	r.logger.Debug().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Msg("Recorded run")

	return nil
}

// Get retrieves a run by ID. It returns nil, nil when no such run exists.
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	query := `
	SELECT id, table_name, trigger_type, source, status, started_at, finished_at,
		records, scanned, deleted, written, truncated, error_message
	FROM replace_runs
	WHERE id = ?
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// List returns the most recent runs, newest first
func (r *Repository) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
	SELECT id, table_name, trigger_type, source, status, started_at, finished_at,
		records, scanned, deleted, written, truncated, error_message
	FROM replace_runs
	ORDER BY started_at DESC
	LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status, startedAt string
	var finishedAt, errorMessage sql.NullString
	var truncated int

	err := row.Scan(
		&run.ID, &run.Table, &run.Trigger, &run.Source, &status,
		&startedAt, &finishedAt, &run.Records, &run.Scanned,
		&run.Deleted, &run.Written, &truncated, &errorMessage,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = Status(status)
	run.StartedAt, _ = time.Parse(timeLayout, startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(timeLayout, finishedAt.String)
		run.FinishedAt = &t
	}
	run.Truncated = truncated == 1
	run.Error = errorMessage.String

	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
