// ABOUTME: Per-session conversation actors keyed by caller-supplied session ids.
// ABOUTME: Each session's history has exactly one writer goroutine; batches are applied atomically.

package conversation

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/2389-research/buddy/llm"
	"github.com/2389-research/buddy/logging"
)

// DefaultIdleTimeout is how long a session actor waits for a command before
// it shuts down and releases its history.
const DefaultIdleTimeout = 30 * time.Minute

var (
	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("conversation store closed")
	// ErrInvalidSessionID is returned for ids outside [A-Za-z0-9._-]{1,128}.
	ErrInvalidSessionID = errors.New("invalid session id")

	errActorStopped = errors.New("session actor stopped")
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidSessionID reports whether id can name a session.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id) && id != "." && id != ".."
}

// Store owns one actor per active session. Actors idle for longer than the
// idle timeout are reaped; a journaled session is replayed when it is next
// used, an unjournaled one starts empty.
type Store struct {
	window  int
	journal Journal
	logger  zerolog.Logger
	idle    time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionActor
	closed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithJournal persists every committed batch and replays it when a session
// actor starts.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithLogger sets the store's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithIdleTimeout sets how long an unused session actor lives. Zero or a
// negative value keeps actors until Forget or Close.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Store) { s.idle = d }
}

// NewStore creates a Store whose sessions keep at most window messages.
func NewStore(window int, opts ...Option) *Store {
	if window < 1 {
		window = DefaultWindow
	}
	s := &Store{
		window:   window,
		sessions: make(map[string]*sessionActor),
		logger:   zerolog.Nop(),
		idle:     DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the per-session message limit.
func (s *Store) Window() int {
	return s.window
}

// Snapshot returns a copy of the session's messages, oldest first. Unknown
// sessions have an empty history.
func (s *Store) Snapshot(ctx context.Context, sessionID string) ([]llm.Message, error) {
	res, err := s.send(ctx, sessionID, command{kind: cmdSnapshot})
	if err != nil {
		return nil, err
	}
	return res.messages, nil
}

// Commit appends msgs to the session as one batch. Batches from concurrent
// callers never interleave and land in the order the actor receives them.
func (s *Store) Commit(ctx context.Context, sessionID string, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		batch[i] = m.Clone()
	}
	_, err := s.send(ctx, sessionID, command{kind: cmdCommit, messages: batch})
	return err
}

// Forget stops the session's actor and deletes its history, including any
// journal file.
func (s *Store) Forget(ctx context.Context, sessionID string) error {
	if !ValidSessionID(sessionID) {
		return ErrInvalidSessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	a, ok := s.sessions[sessionID]
	if !ok {
		if s.journal != nil {
			return s.journal.Remove(sessionID)
		}
		return nil
	}
	delete(s.sessions, sessionID)
	_, err := a.do(ctx, command{kind: cmdForget})
	return err
}

// Sessions returns the ids of sessions with a live actor, sorted.
func (s *Store) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every actor. Later calls fail with ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	actors := make([]*sessionActor, 0, len(s.sessions))
	for _, a := range s.sessions {
		actors = append(actors, a)
	}
	s.sessions = map[string]*sessionActor{}
	s.mu.Unlock()

	for _, a := range actors {
		close(a.stop)
		<-a.done
	}
}

func (s *Store) actor(sessionID string) (*sessionActor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if a, ok := s.sessions[sessionID]; ok {
		return a, nil
	}
	a := spawnActor(sessionID, s.window, s.journal, s.logger, s.idle, s.reap)
	s.sessions[sessionID] = a
	return a, nil
}

// reap removes an idle actor from the session map. It reports false when the
// store lock is busy, so an actor never blocks on a Forget that is waiting
// for it; the actor then stays up for another idle period.
func (s *Store) reap(a *sessionActor) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	if cur, ok := s.sessions[a.id]; ok && cur == a {
		delete(s.sessions, a.id)
	}
	return true
}

func (s *Store) send(ctx context.Context, sessionID string, cmd command) (commandResult, error) {
	if !ValidSessionID(sessionID) {
		return commandResult{}, ErrInvalidSessionID
	}
	for {
		a, err := s.actor(sessionID)
		if err != nil {
			return commandResult{}, err
		}
		res, err := a.do(ctx, cmd)
		if errors.Is(err, errActorStopped) {
			// Forgotten between lookup and send; the next lookup spawns a fresh actor.
			continue
		}
		return res, err
	}
}

type commandKind int

const (
	cmdSnapshot commandKind = iota
	cmdCommit
	cmdForget
)

type command struct {
	kind     commandKind
	messages []llm.Message
	reply    chan commandResult
}

type commandResult struct {
	messages []llm.Message
	err      error
}

type sessionActor struct {
	id      string
	cmdCh   chan command
	stop    chan struct{}
	done    chan struct{}
	state   *State
	journal Journal
	logger  zerolog.Logger
	idle    time.Duration
	reap    func(*sessionActor) bool
}

func spawnActor(id string, window int, journal Journal, logger zerolog.Logger, idle time.Duration, reap func(*sessionActor) bool) *sessionActor {
	a := &sessionActor{
		id:      id,
		cmdCh:   make(chan command),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		state:   NewState(window),
		journal: journal,
		logger:  logging.Component(logger, "conversation").With().Str("session_id", id).Logger(),
		idle:    idle,
		reap:    reap,
	}
	go a.run()
	return a
}

// do sends cmd and waits for the reply.
func (a *sessionActor) do(ctx context.Context, cmd command) (commandResult, error) {
	cmd.reply = make(chan commandResult, 1)
	select {
	case a.cmdCh <- cmd:
	case <-a.done:
		return commandResult{}, errActorStopped
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

func (a *sessionActor) run() {
	defer close(a.done)

	if a.journal != nil {
		msgs, err := a.journal.Load(a.id)
		if err != nil {
			a.logger.Warn().Err(err).Str("action", "replay").Msg("journal replay failed; starting empty")
		} else if len(msgs) > 0 {
			a.state.Append(msgs...)
			a.logger.Debug().Str("action", "replay").Int("messages", a.state.Len()).Msg("history restored")
		}
	}

	// idle stays nil, and never fires, when reaping is disabled.
	var (
		timer *time.Timer
		idle  <-chan time.Time
	)
	if a.idle > 0 {
		timer = time.NewTimer(a.idle)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-a.stop:
			return
		case <-idle:
			if a.reap(a) {
				a.logger.Debug().Str("action", "reap").Msg("idle session released")
				return
			}
			timer.Reset(a.idle)
		case cmd := <-a.cmdCh:
			if a.handle(cmd) {
				return
			}
			if timer != nil {
				timer.Reset(a.idle)
			}
		}
	}
}

// handle processes cmd and replies. It reports whether the actor should stop.
func (a *sessionActor) handle(cmd command) bool {
	cmd.reply <- a.process(cmd)
	return cmd.kind == cmdForget
}

func (a *sessionActor) process(cmd command) commandResult {
	switch cmd.kind {
	case cmdSnapshot:
		return commandResult{messages: a.state.Snapshot()}
	case cmdCommit:
		if a.journal != nil {
			if err := a.journal.Append(a.id, cmd.messages); err != nil {
				a.logger.Error().Err(err).Str("action", "commit").Msg("journal append failed")
				return commandResult{err: err}
			}
		}
		a.state.Append(cmd.messages...)
		return commandResult{}
	case cmdForget:
		if a.journal != nil {
			if err := a.journal.Remove(a.id); err != nil {
				return commandResult{err: err}
			}
		}
		a.state = NewState(a.state.Max())
		return commandResult{}
	default:
		return commandResult{}
	}
}
