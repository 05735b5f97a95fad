// ABOUTME: Tests for the run supervisor: submission, awaiting, session identity and shutdown.
// ABOUTME: Runs real pipelines with fake generators on a small worker pool.

package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/2389-research/buddy/llm"
)

func newTestSupervisor(t *testing.T, gen Generator, opts SupervisorOptions) (*Supervisor, *Pipeline) {
	t.Helper()
	p, _, _ := newTestPipeline(t, gen)
	opts.Logger = zerolog.Nop()
	s := NewSupervisor(p, opts)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, p
}

func echoGenerator() Generator {
	return generatorFunc(func(ctx context.Context, input string, history []llm.Message) (Generation, error) {
		return Generation{Text: fmt.Sprintf("echo %s (%d)", input, len(history)), Live: true}, nil
	})
}

func TestSupervisorAsk(t *testing.T) {
	s, _ := newTestSupervisor(t, echoGenerator(), SupervisorOptions{Workers: 2})

	if got := s.Ask(context.Background(), "s1", "  ping  "); got != "echo ping (0)" {
		t.Errorf("Ask = %q", got)
	}
	if got := s.Ask(context.Background(), "s1", "again"); got != "echo again (2)" {
		t.Errorf("second Ask = %q, want history of 2", got)
	}
}

func TestSupervisorHandleSnapshot(t *testing.T) {
	s, _ := newTestSupervisor(t, echoGenerator(), SupervisorOptions{})

	h := s.Submit(context.Background(), "s1", "hi")
	if h.ID() == "" || h.SessionID() != "s1" {
		t.Fatalf("handle = %s/%s", h.ID(), h.SessionID())
	}
	out := h.Await(context.Background())
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Await")
	}
	run := h.Run()
	if run.ID != h.ID() || run.Status != StatusCompleted || run.Output != out {
		t.Errorf("run = %+v", run)
	}
	if len(s.Active()) != 0 {
		t.Errorf("Active = %v, want none", s.Active())
	}
}

func TestSupervisorFreshSessionPerEmptyID(t *testing.T) {
	s, _ := newTestSupervisor(t, echoGenerator(), SupervisorOptions{})

	a := s.Submit(context.Background(), "", "one")
	b := s.Submit(context.Background(), "", "two")
	if a.SessionID() == "" || a.SessionID() == b.SessionID() {
		t.Errorf("session ids %q and %q should be distinct and non-empty", a.SessionID(), b.SessionID())
	}
	if got := b.Await(context.Background()); got != "echo two (0)" {
		t.Errorf("fresh session saw history: %q", got)
	}
	a.Await(context.Background())
}

func TestSupervisorInvalidSessionID(t *testing.T) {
	s, _ := newTestSupervisor(t, echoGenerator(), SupervisorOptions{})

	h := s.Submit(context.Background(), "../etc", "hi")
	if got := h.Await(context.Background()); got != GenericErrorMessage {
		t.Errorf("Await = %q", got)
	}
	if run := h.Run(); run.Status != StatusFailed || run.Failure != FailureInternal {
		t.Errorf("run = %s/%s", run.Status, run.Failure)
	}
}

func TestSupervisorConcurrentSessions(t *testing.T) {
	s, _ := newTestSupervisor(t, echoGenerator(), SupervisorOptions{Workers: 4, QueueSize: 4})

	const sessions = 6
	const turns = 3
	var wg sync.WaitGroup
	results := make([][]string, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i)
			for j := 0; j < turns; j++ {
				results[i] = append(results[i], s.Ask(context.Background(), id, fmt.Sprintf("msg%d", j)))
			}
		}(i)
	}
	wg.Wait()

	for i, outs := range results {
		for j, out := range outs {
			want := fmt.Sprintf("echo msg%d (%d)", j, 2*j)
			if out != want {
				t.Errorf("session %d turn %d = %q, want %q", i, j, out, want)
			}
		}
	}
}

func TestSupervisorBoundsConcurrency(t *testing.T) {
	var running, peak int32
	release := make(chan struct{})
	gen := generatorFunc(func(ctx context.Context, input string, history []llm.Message) (Generation, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return Generation{Text: "ok", Live: true}, nil
	})
	s, _ := newTestSupervisor(t, gen, SupervisorOptions{Workers: 2, QueueSize: 8})

	var handles []*RunHandle
	for i := 0; i < 6; i++ {
		handles = append(handles, s.Submit(context.Background(), fmt.Sprintf("s%d", i), "go"))
	}
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&running) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(s.Active()); n != 6 {
		t.Errorf("Active = %d, want 6", n)
	}
	close(release)
	for _, h := range handles {
		if got := h.Await(context.Background()); got != "ok" {
			t.Errorf("Await = %q", got)
		}
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestSupervisorAwaitContextEnds(t *testing.T) {
	release := make(chan struct{})
	gen := generatorFunc(func(ctx context.Context, input string, history []llm.Message) (Generation, error) {
		<-release
		return Generation{Text: "late", Live: true}, nil
	})
	s, _ := newTestSupervisor(t, gen, SupervisorOptions{})

	h := s.Submit(context.Background(), "s", "hi")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if got := h.Await(ctx); got != GenericErrorMessage {
		t.Errorf("Await = %q, want generic apology", got)
	}
	close(release)
	if got := h.Await(context.Background()); got != "late" {
		t.Errorf("run should keep going, got %q", got)
	}
}

func TestSupervisorCancelRun(t *testing.T) {
	started := make(chan struct{})
	gen := generatorFunc(func(ctx context.Context, input string, history []llm.Message) (Generation, error) {
		close(started)
		<-ctx.Done()
		return Generation{}, ctx.Err()
	})
	s, _ := newTestSupervisor(t, gen, SupervisorOptions{})

	h := s.Submit(context.Background(), "s", "hi")
	<-started
	h.Cancel()
	if got := h.Await(context.Background()); got != GenericErrorMessage {
		t.Errorf("Await = %q", got)
	}
	if run := h.Run(); run.Failure != FailureCancelled {
		t.Errorf("failure = %s, want cancelled", run.Failure)
	}
}

func TestSupervisorRunTimeout(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, input string, history []llm.Message) (Generation, error) {
		<-ctx.Done()
		return Generation{}, ctx.Err()
	})
	s, p := newTestSupervisor(t, gen, SupervisorOptions{RunTimeout: 50 * time.Millisecond})
	p.AttemptTimeout = time.Minute

	h := s.Submit(context.Background(), "s", "hi")
	if got := h.Await(context.Background()); got != GenericErrorMessage {
		t.Errorf("Await = %q", got)
	}
	if run := h.Run(); run.Status != StatusFailed || run.Failure != FailureCancelled {
		t.Errorf("run = %s/%s", run.Status, run.Failure)
	}
}

func TestSupervisorClose(t *testing.T) {
	s, _ := newTestSupervisor(t, echoGenerator(), SupervisorOptions{})

	h := s.Submit(context.Background(), "s", "before")
	s.Close(context.Background())
	if got := h.Await(context.Background()); !strings.HasPrefix(got, "echo before") {
		t.Errorf("queued run should finish before Close returns, got %q", got)
	}

	late := s.Submit(context.Background(), "s", "after")
	if got := late.Await(context.Background()); got != GenericErrorMessage {
		t.Errorf("Await after Close = %q", got)
	}
	if run := late.Run(); run.Status != StatusFailed {
		t.Errorf("late run status = %s", run.Status)
	}
	s.Close(context.Background())
}

func TestSupervisorCloseContextCancelsRuns(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, input string, history []llm.Message) (Generation, error) {
		<-ctx.Done()
		return Generation{}, ctx.Err()
	})
	s, p := newTestSupervisor(t, gen, SupervisorOptions{})
	p.AttemptTimeout = time.Minute

	h := s.Submit(context.Background(), "s", "hang")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Close(ctx)

	select {
	case <-h.Done():
	default:
		t.Fatal("Close returned before the run resolved")
	}
	if run := h.Run(); run.Failure != FailureCancelled {
		t.Errorf("failure = %s, want cancelled", run.Failure)
	}
}

func TestSupervisorEvents(t *testing.T) {
	s, _ := newTestSupervisor(t, echoGenerator(), SupervisorOptions{})
	sub := s.Events().Subscribe()
	defer s.Events().Unsubscribe(sub)

	h := s.Submit(context.Background(), "s", "hi")
	h.Await(context.Background())

	var last RunEvent
	for done := false; !done; {
		select {
		case ev := <-sub:
			if ev.Kind == EventStatus {
				last = ev
			}
		default:
			done = true
		}
	}
	if last.RunID != h.ID() || last.Status != StatusCompleted {
		t.Errorf("last status event = %+v", last)
	}
}
