// ABOUTME: Run store contract shared by the memory, SQLite and PostgreSQL backends.
// ABOUTME: Open selects a backend by driver name; records survive process restarts except in memory.

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389-research/buddy/workflow"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 50

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ListOptions filters ListRuns.
type ListOptions struct {
	SessionID string
	Limit     int
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// RunStore persists runs and their stage attempts. SaveRun and SaveAttempt
// are upserts and may be called repeatedly for the same record.
type RunStore interface {
	SaveRun(ctx context.Context, run workflow.Run) error
	SaveAttempt(ctx context.Context, runID string, attempt workflow.StageAttempt) error
	GetRun(ctx context.Context, id string) (workflow.Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, opts ListOptions) ([]workflow.Run, error)
	Close() error
}

// Open returns the store for driver. dsn is a file path for sqlite and a
// connection string for postgres; it is ignored for memory.
func Open(ctx context.Context, driver, dsn string) (RunStore, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if dsn == "" {
			return nil, errors.New("sqlite store needs a database path")
		}
		return OpenSQLite(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("postgres store needs a connection string")
		}
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

var (
	_ workflow.RunRecorder = RunStore(nil)
	_ RunStore             = (*Memory)(nil)
	_ RunStore             = (*SQLite)(nil)
	_ RunStore             = (*Postgres)(nil)
)
