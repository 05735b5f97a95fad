// ABOUTME: In-process run store used when no database is configured.
// ABOUTME: Keeps deep copies so callers can never mutate stored records.

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/2389-research/buddy/workflow"
)

// Memory is a RunStore backed by a map.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]*workflow.Run
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*workflow.Run)}
}

// SaveRun inserts or replaces the run. Attempts already recorded through
// SaveAttempt are kept when the incoming run carries fewer.
func (m *Memory) SaveRun(ctx context.Context, run workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := run.Clone()
	if prev, ok := m.runs[run.ID]; ok && len(prev.Attempts) > len(c.Attempts) {
		c.Attempts = prev.Attempts
	}
	m.runs[run.ID] = &c
	return nil
}

// SaveAttempt upserts one attempt on an existing run.
func (m *Memory) SaveAttempt(ctx context.Context, runID string, a workflow.StageAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	for i, existing := range r.Attempts {
		if existing.Stage == a.Stage && existing.Attempt == a.Attempt {
			r.Attempts[i] = a
			return nil
		}
	}
	r.Attempts = append(r.Attempts, a)
	return nil
}

// GetRun returns a copy of the run.
func (m *Memory) GetRun(ctx context.Context, id string) (workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return workflow.Run{}, ErrNotFound
	}
	return r.Clone(), nil
}

// ListRuns returns runs newest first.
func (m *Memory) ListRuns(ctx context.Context, opts ListOptions) ([]workflow.Run, error) {
	m.mu.RLock()
	out := make([]workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.SessionID != "" && r.SessionID != opts.SessionID {
			continue
		}
		out = append(out, r.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit := opts.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
