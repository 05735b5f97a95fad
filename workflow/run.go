// ABOUTME: Run record and its monotonic status state machine.
// ABOUTME: Defines run statuses, stages, failure kinds and ULID run identity.

package workflow

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPreprocessing  Status = "preprocessing"
	StatusGenerating     Status = "generating"
	StatusPostprocessing Status = "postprocessing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage names one step of the pipeline.
type Stage string

const (
	StagePreprocess  Stage = "preprocess"
	StageGenerate    Stage = "generate"
	StagePostprocess Stage = "postprocess"
)

// FailureKind explains why a run ended in StatusFailed.
type FailureKind string

const (
	FailureNone                  FailureKind = ""
	FailurePreprocessUnavailable FailureKind = "preprocess_unavailable"
	FailureFatalStage            FailureKind = "fatal_stage_failure"
	FailureCancelled             FailureKind = "cancelled"
	FailureInternal              FailureKind = "internal"
)

// Run is one execution of the pipeline for a single input.
type Run struct {
	ID          string         `json:"id" yaml:"id"`
	SessionID   string         `json:"session_id" yaml:"session_id"`
	Status      Status         `json:"status" yaml:"status"`
	Input       string         `json:"input" yaml:"input"`
	Output      string         `json:"output,omitempty" yaml:"output,omitempty"`
	Degraded    bool           `json:"degraded" yaml:"degraded"`
	Failure     FailureKind    `json:"failure,omitempty" yaml:"failure,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Attempts    []StageAttempt `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// NewRunID returns a new lexically sortable run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// NewRun creates a pending run.
func NewRun(sessionID, input string, now time.Time) *Run {
	return &Run{
		ID:        NewRunID(),
		SessionID: sessionID,
		Status:    StatusPending,
		Input:     input,
		StartedAt: now,
	}
}

var allowedTransitions = map[Status][]Status{
	StatusPending:        {StatusPreprocessing, StatusFailed},
	StatusPreprocessing:  {StatusGenerating, StatusPostprocessing, StatusFailed},
	StatusGenerating:     {StatusPostprocessing, StatusFailed},
	StatusPostprocessing: {StatusCompleted, StatusFailed},
}

// TransitionError reports a status change the state machine forbids.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid run transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves the run to a new status.
func (r *Run) transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return &TransitionError{From: r.Status, To: to}
	}
	r.Status = to
	return nil
}

// complete finishes the run successfully.
func (r *Run) complete(output string, now time.Time) error {
	if err := r.transition(StatusCompleted); err != nil {
		return err
	}
	r.Output = output
	r.CompletedAt = &now
	return nil
}

// fail ends the run with a failure kind and the caller-visible apology.
func (r *Run) fail(kind FailureKind, cause error, now time.Time) error {
	if err := r.transition(StatusFailed); err != nil {
		return err
	}
	r.Failure = kind
	if cause != nil {
		r.Error = cause.Error()
	}
	r.Output = GenericErrorMessage
	r.CompletedAt = &now
	return nil
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() Run {
	c := *r
	if r.Attempts != nil {
		c.Attempts = make([]StageAttempt, len(r.Attempts))
		copy(c.Attempts, r.Attempts)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
