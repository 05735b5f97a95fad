// ABOUTME: PostgreSQL-backed run store for shared deployments.
// ABOUTME: Uses a pgx connection pool and migrates its tables on open.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/2389-research/buddy/workflow"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		input TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		degraded BOOLEAN NOT NULL DEFAULT FALSE,
		failure TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS runs_session_started ON runs (session_id, started_at);

	CREATE TABLE IF NOT EXISTS stage_attempts (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		stage TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		duration_ns BIGINT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		UNIQUE (run_id, stage, attempt)
	);`

// Postgres is a RunStore backed by a PostgreSQL database.
type Postgres struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing pool and migrates the schema.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Postgres{db: pool}, nil
}

// Close releases the pool.
func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

// SaveRun upserts the run row and every attempt it carries.
func (s *Postgres) SaveRun(ctx context.Context, run workflow.Run) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (run_id, session_id, status, input, output, degraded, failure, error, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			output = EXCLUDED.output,
			degraded = EXCLUDED.degraded,
			failure = EXCLUDED.failure,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at`,
		run.ID, run.SessionID, string(run.Status), run.Input, run.Output, run.Degraded,
		string(run.Failure), run.Error, run.StartedAt.UTC(), utcPtr(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	for _, a := range run.Attempts {
		if err := upsertPostgresAttempt(ctx, tx, run.ID, a); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// SaveAttempt upserts one attempt of an existing run.
func (s *Postgres) SaveAttempt(ctx context.Context, runID string, a workflow.StageAttempt) error {
	var exists int
	err := s.db.QueryRow(ctx, "SELECT 1 FROM runs WHERE run_id = $1", runID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup run: %w", err)
	}
	return upsertPostgresAttempt(ctx, s.db, runID, a)
}

type pgExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func upsertPostgresAttempt(ctx context.Context, db pgExecutor, runID string, a workflow.StageAttempt) error {
	_, err := db.Exec(ctx,
		`INSERT INTO stage_attempts (run_id, stage, attempt, started_at, duration_ns, outcome, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id, stage, attempt) DO UPDATE SET
			started_at = EXCLUDED.started_at,
			duration_ns = EXCLUDED.duration_ns,
			outcome = EXCLUDED.outcome,
			error = EXCLUDED.error`,
		runID, string(a.Stage), a.Attempt, a.StartedAt.UTC(), int64(a.Duration), string(a.Outcome), a.Error,
	)
	if err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}
	return nil
}

// GetRun loads a run with its attempts.
func (s *Postgres) GetRun(ctx context.Context, id string) (workflow.Run, error) {
	row := s.db.QueryRow(ctx,
		`SELECT run_id, session_id, status, input, output, degraded, failure, error, started_at, completed_at
		 FROM runs WHERE run_id = $1`, id)
	run, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (s *Postgres) ListRuns(ctx context.Context, opts ListOptions) ([]workflow.Run, error) {
	rows, err := s.db.Query(ctx,
		`SELECT run_id, session_id, status, input, output, degraded, failure, error, started_at, completed_at
		 FROM runs
		 WHERE $1 = '' OR session_id = $1
		 ORDER BY started_at DESC, run_id DESC
		 LIMIT $2`, opts.SessionID, opts.limit())
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	var runs []workflow.Run
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	for i := range runs {
		if runs[i].Attempts, err = s.attempts(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Postgres) attempts(ctx context.Context, runID string) ([]workflow.StageAttempt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT stage, attempt, started_at, duration_ns, outcome, error
		 FROM stage_attempts WHERE run_id = $1 ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []workflow.StageAttempt
	for rows.Next() {
		var (
			a             workflow.StageAttempt
			stage, result string
			duration      int64
		)
		if err := rows.Scan(&stage, &a.Attempt, &a.StartedAt, &duration, &result, &a.Error); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		a.Stage = workflow.Stage(stage)
		a.Outcome = workflow.Outcome(result)
		a.Duration = time.Duration(duration)
		a.StartedAt = a.StartedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanPostgresRun(row pgx.Row) (workflow.Run, error) {
	var (
		run             workflow.Run
		status, failure string
		completed       *time.Time
	)
	err := row.Scan(&run.ID, &run.SessionID, &status, &run.Input, &run.Output, &run.Degraded,
		&failure, &run.Error, &run.StartedAt, &completed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("scan run row: %w", err)
	}
	run.Status = workflow.Status(status)
	run.Failure = workflow.FailureKind(failure)
	run.StartedAt = run.StartedAt.UTC()
	if completed != nil {
		t := completed.UTC()
		run.CompletedAt = &t
	}
	return run, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
