// ABOUTME: Tests for the run status state machine and run identity.
// ABOUTME: Covers allowed and forbidden transitions, terminal handling and cloning.

package workflow

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPreprocessing, true},
		{StatusPending, StatusGenerating, false},
		{StatusPending, StatusFailed, true},
		{StatusPreprocessing, StatusGenerating, true},
		{StatusPreprocessing, StatusPostprocessing, true},
		{StatusPreprocessing, StatusCompleted, false},
		{StatusGenerating, StatusPostprocessing, true},
		{StatusGenerating, StatusPreprocessing, false},
		{StatusGenerating, StatusFailed, true},
		{StatusPostprocessing, StatusCompleted, true},
		{StatusPostprocessing, StatusGenerating, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusPreprocessing, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusPreprocessing, StatusGenerating, StatusPostprocessing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestNewRun(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRun("s1", "hi", now)
	if r.Status != StatusPending {
		t.Errorf("Status = %s, want pending", r.Status)
	}
	if len(r.ID) != 26 {
		t.Errorf("ID %q is not a ULID", r.ID)
	}
	if !r.StartedAt.Equal(now) || r.CompletedAt != nil {
		t.Errorf("timestamps = %v / %v", r.StartedAt, r.CompletedAt)
	}
	other := NewRun("s1", "hi", now)
	if other.ID == r.ID {
		t.Error("run ids must be unique")
	}
}

func TestRunHappyPath(t *testing.T) {
	now := time.Now()
	r := NewRun("s", "in", now)
	for _, s := range []Status{StatusPreprocessing, StatusGenerating, StatusPostprocessing} {
		if err := r.transition(s); err != nil {
			t.Fatalf("transition(%s): %v", s, err)
		}
	}
	if err := r.complete("out", now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.Status != StatusCompleted || r.Output != "out" || r.CompletedAt == nil {
		t.Errorf("run = %+v", r)
	}
	if err := r.fail(FailureInternal, errors.New("late"), now); err == nil {
		t.Error("fail after completion should be rejected")
	}
	if r.Status != StatusCompleted {
		t.Errorf("terminal status changed to %s", r.Status)
	}
}

func TestRunFail(t *testing.T) {
	r := NewRun("s", "in", time.Now())
	_ = r.transition(StatusPreprocessing)
	if err := r.fail(FailurePreprocessUnavailable, errors.New("down"), time.Now()); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if r.Output != GenericErrorMessage {
		t.Errorf("Output = %q", r.Output)
	}
	if r.Failure != FailurePreprocessUnavailable || r.Error != "down" {
		t.Errorf("failure = %s / %q", r.Failure, r.Error)
	}
	var te *TransitionError
	if err := r.transition(StatusGenerating); !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.From != StatusFailed || te.To != StatusGenerating {
		t.Errorf("TransitionError = %+v", te)
	}
}

func TestRunCloneIsDeep(t *testing.T) {
	now := time.Now()
	r := NewRun("s", "in", now)
	r.Attempts = []StageAttempt{{Stage: StageGenerate, Attempt: 1}}
	r.CompletedAt = &now

	c := r.Clone()
	c.Attempts[0].Attempt = 9
	*c.CompletedAt = now.Add(time.Hour)

	if r.Attempts[0].Attempt != 1 {
		t.Error("clone shares attempts slice")
	}
	if !r.CompletedAt.Equal(now) {
		t.Error("clone shares completion time")
	}
}
