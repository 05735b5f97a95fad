// ABOUTME: Supervisor accepts submissions, assigns run identity and runs pipelines on a bounded worker pool.
// ABOUTME: RunHandle lets callers await the final text; errors never escape as anything but text.

package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/2389-research/buddy/conversation"
	"github.com/2389-research/buddy/logging"
)

// ErrSupervisorClosed is recorded on runs submitted after Close.
var ErrSupervisorClosed = errors.New("supervisor closed")

const (
	// DefaultRunTimeout bounds one run from start to terminal status.
	DefaultRunTimeout = 5 * time.Minute
	// DefaultWorkers is the number of runs executed concurrently.
	DefaultWorkers = 8
	// DefaultQueueSize is the number of submissions buffered ahead of the workers.
	DefaultQueueSize = 64
)

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Workers    int
	QueueSize  int
	RunTimeout time.Duration
	Logger     zerolog.Logger
}

// RunHandle tracks one submitted run.
type RunHandle struct {
	id        string
	sessionID string
	done      chan struct{}
	cancel    context.CancelFunc

	mu     sync.RWMutex
	run    Run
	output string
}

// ID returns the run identifier.
func (h *RunHandle) ID() string { return h.id }

// SessionID returns the session the run belongs to.
func (h *RunHandle) SessionID() string { return h.sessionID }

// Done is closed once the run is terminal and its history is committed.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Run returns a copy of the run's latest recorded state.
func (h *RunHandle) Run() Run {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.run.Clone()
}

// Cancel asks the run to stop at its next stage boundary.
func (h *RunHandle) Cancel() {
	h.cancel()
}

// Await blocks until the run finishes and returns its final text. If ctx ends
// first the generic apology is returned; the run keeps going.
func (h *RunHandle) Await(ctx context.Context) string {
	select {
	case <-h.done:
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.output
	case <-ctx.Done():
		return GenericErrorMessage
	}
}

func (h *RunHandle) observe(r Run) {
	h.mu.Lock()
	h.run = r
	h.mu.Unlock()
}

func (h *RunHandle) resolve(output string) {
	h.mu.Lock()
	h.output = output
	h.mu.Unlock()
	close(h.done)
}

type job struct {
	ctx    context.Context
	run    *Run
	handle *RunHandle
}

// Supervisor runs pipelines concurrently. Runs of different sessions are
// independent; runs of one session share history through the pipeline's
// History, whose writes are serialised per session.
type Supervisor struct {
	pipeline   *Pipeline
	runTimeout time.Duration
	logger     zerolog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	queue      chan job
	workers    *pool.Pool
	dispatched chan struct{}

	closeMu sync.RWMutex
	closed  bool

	mu     sync.Mutex
	active map[string]*RunHandle
}

// NewSupervisor starts a supervisor around p.
func NewSupervisor(p *Pipeline, opts SupervisorOptions) *Supervisor {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if p.Events == nil {
		p.Events = NewEventBroadcaster()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		pipeline:   p,
		runTimeout: opts.RunTimeout,
		logger:     logging.Component(opts.Logger, "supervisor"),
		baseCtx:    ctx,
		baseCancel: cancel,
		queue:      make(chan job, opts.QueueSize),
		workers:    pool.New().WithMaxGoroutines(opts.Workers),
		dispatched: make(chan struct{}),
		active:     make(map[string]*RunHandle),
	}
	go s.dispatch()
	return s
}

// Events returns the broadcaster carrying every run's lifecycle events.
func (s *Supervisor) Events() *EventBroadcaster {
	return s.pipeline.Events
}

// dispatch feeds queued jobs to the pool; Go blocks while every worker is busy.
func (s *Supervisor) dispatch() {
	defer close(s.dispatched)
	for j := range s.queue {
		j := j
		s.workers.Go(func() { s.execute(j) })
	}
}

func (s *Supervisor) execute(j job) {
	defer j.handle.cancel()
	defer s.untrack(j.handle.id)

	ctx, cancel := context.WithTimeout(j.ctx, s.runTimeout)
	defer cancel()

	out := s.pipeline.Execute(ctx, j.run, j.handle.observe)
	j.handle.observe(j.run.Clone())
	j.handle.resolve(out)
}

// Submit creates a run for input and queues it. An empty sessionID starts a
// fresh session. Submit blocks while the queue is full. The returned handle
// always resolves to text; an invalid session id, a closed supervisor or ctx
// ending before the run is queued all yield a failed run carrying the
// generic apology.
func (s *Supervisor) Submit(ctx context.Context, sessionID, input string) *RunHandle {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	run := NewRun(sessionID, input, s.pipeline.now())
	runCtx, cancel := context.WithCancel(s.baseCtx)
	h := &RunHandle{
		id:        run.ID,
		sessionID: sessionID,
		done:      make(chan struct{}),
		cancel:    cancel,
		run:       run.Clone(),
	}

	if !conversation.ValidSessionID(sessionID) {
		s.reject(h, run, FailureInternal, conversation.ErrInvalidSessionID)
		return h
	}

	// Senders hold the read lock so Close never closes the queue under them.
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.reject(h, run, FailureCancelled, ErrSupervisorClosed)
		return h
	}

	s.track(h)
	select {
	case s.queue <- job{ctx: runCtx, run: run, handle: h}:
		s.logger.Debug().Str("action", "submit").Str("run_id", run.ID).Str("session_id", sessionID).Msg("run queued")
		return h
	case <-ctx.Done():
	}
	s.untrack(h.id)
	s.reject(h, run, FailureCancelled, ctx.Err())
	return h
}

func (s *Supervisor) track(h *RunHandle) {
	s.mu.Lock()
	s.active[h.id] = h
	s.mu.Unlock()
}

func (s *Supervisor) untrack(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

func (s *Supervisor) reject(h *RunHandle, run *Run, kind FailureKind, cause error) {
	_ = run.fail(kind, cause, s.pipeline.now())
	if s.pipeline.Recorder != nil {
		if err := s.pipeline.Recorder.SaveRun(context.Background(), run.Clone()); err != nil {
			s.logger.Warn().Err(err).Str("action", "record_run").Msg("rejected run not recorded")
		}
	}
	s.logger.Warn().Err(cause).Str("action", "reject").Str("run_id", run.ID).Msg("run not started")
	h.cancel()
	h.observe(run.Clone())
	h.resolve(run.Output)
}

// Ask submits input and waits for the answer.
func (s *Supervisor) Ask(ctx context.Context, sessionID, input string) string {
	return s.Submit(ctx, sessionID, input).Await(ctx)
}

// Active returns the runs that have been submitted but not yet resolved,
// ordered by run id.
func (s *Supervisor) Active() []Run {
	s.mu.Lock()
	handles := make([]*RunHandle, 0, len(s.active))
	for _, h := range s.active {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	runs := make([]Run, 0, len(handles))
	for _, h := range handles {
		runs = append(runs, h.Run())
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })
	return runs
}

// Close stops accepting runs and waits for queued and running ones to
// finish. Cancelling ctx cancels the remaining runs at their next stage
// boundary and keeps waiting for them to resolve.
func (s *Supervisor) Close(ctx context.Context) {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.closeMu.Unlock()

	finished := make(chan struct{})
	go func() {
		<-s.dispatched
		s.workers.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		s.baseCancel()
		<-finished
	}
	s.baseCancel()
}
