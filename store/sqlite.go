// ABOUTME: SQLite-backed run store for single-node deployments.
// ABOUTME: Runs and stage attempts live in two tables kept in sync with upserts.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/2389-research/buddy/workflow"
)

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		input TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		degraded INTEGER NOT NULL DEFAULT 0,
		failure TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS runs_session_started ON runs (session_id, started_at);

	CREATE TABLE IF NOT EXISTS stage_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		duration_ns INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		UNIQUE (run_id, stage, attempt),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);`

// SQLite is a RunStore backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and migrates its schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveRun upserts the run row and every attempt it carries.
func (s *SQLite) SaveRun(ctx context.Context, run workflow.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var completed *string
	if run.CompletedAt != nil {
		v := run.CompletedAt.UTC().Format(sqliteTimeLayout)
		completed = &v
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, session_id, status, input, output, degraded, failure, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			degraded = excluded.degraded,
			failure = excluded.failure,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		run.ID,
		run.SessionID,
		string(run.Status),
		run.Input,
		run.Output,
		run.Degraded,
		string(run.Failure),
		run.Error,
		run.StartedAt.UTC().Format(sqliteTimeLayout),
		completed,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	for _, a := range run.Attempts {
		if err := upsertSQLiteAttempt(ctx, tx, run.ID, a); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// SaveAttempt upserts one attempt of an existing run.
func (s *SQLite) SaveAttempt(ctx context.Context, runID string, a workflow.StageAttempt) error {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM runs WHERE run_id = ?", runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup run: %w", err)
	}
	return upsertSQLiteAttempt(ctx, s.db, runID, a)
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSQLiteAttempt(ctx context.Context, db sqlExecer, runID string, a workflow.StageAttempt) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO stage_attempts (run_id, stage, attempt, started_at, duration_ns, outcome, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, stage, attempt) DO UPDATE SET
			started_at = excluded.started_at,
			duration_ns = excluded.duration_ns,
			outcome = excluded.outcome,
			error = excluded.error`,
		runID,
		string(a.Stage),
		a.Attempt,
		a.StartedAt.UTC().Format(sqliteTimeLayout),
		int64(a.Duration),
		string(a.Outcome),
		a.Error,
	)
	if err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}
	return nil
}

// GetRun loads a run with its attempts.
func (s *SQLite) GetRun(ctx context.Context, id string) (workflow.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, session_id, status, input, output, degraded, failure, error, started_at, completed_at
		 FROM runs WHERE run_id = ?`, id)
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Run{}, ErrNotFound
	}
	if err != nil {
		return workflow.Run{}, err
	}
	if run.Attempts, err = s.attempts(ctx, id); err != nil {
		return workflow.Run{}, err
	}
	return run, nil
}

// ListRuns returns runs newest first, with their attempts.
func (s *SQLite) ListRuns(ctx context.Context, opts ListOptions) ([]workflow.Run, error) {
	query := `SELECT run_id, session_id, status, input, output, degraded, failure, error, started_at, completed_at
		 FROM runs`
	args := []any{}
	if opts.SessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, opts.SessionID)
	}
	query += " ORDER BY started_at DESC, run_id DESC LIMIT ?"
	args = append(args, opts.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []workflow.Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Release the cursor before loading attempts.
	_ = rows.Close()
	for i := range runs {
		if runs[i].Attempts, err = s.attempts(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *SQLite) attempts(ctx context.Context, runID string) ([]workflow.StageAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, attempt, started_at, duration_ns, outcome, error
		 FROM stage_attempts WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []workflow.StageAttempt
	for rows.Next() {
		var (
			a                      workflow.StageAttempt
			stage, started, result string
			duration               int64
		)
		if err := rows.Scan(&stage, &a.Attempt, &started, &duration, &result, &a.Error); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		a.Stage = workflow.Stage(stage)
		a.Outcome = workflow.Outcome(result)
		a.Duration = time.Duration(duration)
		if a.StartedAt, err = time.Parse(sqliteTimeLayout, started); err != nil {
			return nil, fmt.Errorf("parse attempt time: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (workflow.Run, error) {
	var (
		run             workflow.Run
		status, failure string
		started         string
		completed       sql.NullString
	)
	err := row.Scan(&run.ID, &run.SessionID, &status, &run.Input, &run.Output, &run.Degraded,
		&failure, &run.Error, &started, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("scan run row: %w", err)
	}
	run.Status = workflow.Status(status)
	run.Failure = workflow.FailureKind(failure)
	if run.StartedAt, err = time.Parse(sqliteTimeLayout, started); err != nil {
		return run, fmt.Errorf("parse run start: %w", err)
	}
	if completed.Valid {
		t, err := time.Parse(sqliteTimeLayout, completed.String)
		if err != nil {
			return run, fmt.Errorf("parse run completion: %w", err)
		}
		run.CompletedAt = &t
	}
	return run, nil
}
