// ABOUTME: Stage executor with per-attempt timeouts and capped exponential backoff.
// ABOUTME: Classifies each failure as transient or fatal and reports every attempt to an observer.

package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// Policy controls how many times a stage is attempted and how long to wait
// between attempts. Policies are immutable values shared across runs.
type Policy struct {
	InitialInterval   time.Duration
	MaxInterval       time.Duration
	BackoffMultiplier float64
	MaxAttempts       int // minimum 1 (1 = no retries)
}

// DefaultPolicy returns 3 attempts with 1s initial backoff doubling to a 10s cap.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:   time.Second,
		MaxInterval:       10 * time.Second,
		BackoffMultiplier: 2.0,
		MaxAttempts:       3,
	}
}

// DefaultAttemptTimeout bounds a single stage attempt.
const DefaultAttemptTimeout = 2 * time.Minute

// Attempts returns MaxAttempts clamped to at least one.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after the given 1-based attempt fails:
// InitialInterval * BackoffMultiplier^(attempt-1), capped at MaxInterval.
// There is no jitter, so delays never decrease as attempts grow.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialInterval) * math.Pow(mult, float64(attempt-1))
	if p.MaxInterval > 0 && delay > float64(p.MaxInterval) {
		delay = float64(p.MaxInterval)
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Outcome classifies one attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomeFatalFailure     Outcome = "fatal_failure"
)

// StageAttempt describes one try at a stage.
type StageAttempt struct {
	Stage     Stage         `json:"stage" yaml:"stage"`
	Attempt   int           `json:"attempt" yaml:"attempt"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Outcome   Outcome       `json:"outcome" yaml:"outcome"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// fatalError marks a failure that must not be retried.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string     { return e.err.Error() }
func (e *fatalError) Unwrap() error     { return e.err }
func (e *fatalError) IsRetryable() bool { return false }

// PanicError is a panic recovered from a stage operation. It is never retried.
type PanicError struct {
	Recovered *panics.Recovered
}

func (e *PanicError) Error() string     { return fmt.Sprintf("stage panicked: %v", e.Recovered.Value) }
func (e *PanicError) Unwrap() error     { return e.Recovered.AsError() }
func (e *PanicError) IsRetryable() bool { return false }

// Fatal wraps err so the executor aborts without further attempts.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Classify maps an attempt error onto an Outcome. Errors that report
// IsRetryable() == false anywhere in their chain are fatal; timeouts and
// unrecognised errors are transient.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransientFailure
	}
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) && !r.IsRetryable() {
		return OutcomeFatalFailure
	}
	return OutcomeTransientFailure
}

// Executor runs stage operations under a Policy.
type Executor struct {
	Policy         Policy
	AttemptTimeout time.Duration

	// OnAttempt, if set, is called after every attempt resolves.
	OnAttempt func(StageAttempt)

	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now supplies attempt timestamps. Nil uses time.Now.
	Now func() time.Time
}

// NewExecutor creates an Executor with the given policy and attempt timeout.
func NewExecutor(policy Policy, attemptTimeout time.Duration) *Executor {
	return &Executor{Policy: policy, AttemptTimeout: attemptTimeout}
}

// Result is the resolution of a stage under an Executor.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int

	// Exhausted is set when every allowed attempt failed transiently.
	Exhausted bool
	// Fatal is set when an attempt failed with a non-retryable error.
	Fatal bool
	// Cancelled is set when the parent context ended before the stage resolved.
	Cancelled bool
}

// OK reports whether the stage produced a value.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

type attemptResult[T any] struct {
	value T
	err   error
}

// Execute runs op until it succeeds, fails fatally, runs out of attempts, or
// ctx ends. Each attempt gets its own deadline; the executor stops waiting at
// that deadline even if op ignores its context.
func Execute[T any](ctx context.Context, e *Executor, stage Stage, op func(ctx context.Context) (T, error)) Result[T] {
	policy := e.Policy
	maxAttempts := policy.Attempts()
	now := e.Now
	if now == nil {
		now = time.Now
	}

	var res Result[T]
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			res.Cancelled = true
			return res
		}

		started := now()
		value, err := runAttempt(ctx, e.AttemptTimeout, op)
		res.Attempts = attempt

		outcome := Classify(err)
		if err != nil && ctx.Err() != nil {
			// The parent ended mid-attempt; that is a cancellation, not a stage failure.
			outcome = OutcomeFatalFailure
		}
		if e.OnAttempt != nil {
			sa := StageAttempt{
				Stage:     stage,
				Attempt:   attempt,
				StartedAt: started,
				Duration:  now().Sub(started),
				Outcome:   outcome,
			}
			if err != nil {
				sa.Error = err.Error()
			}
			e.OnAttempt(sa)
		}

		switch {
		case err == nil:
			res.Value = value
			res.Err = nil
			return res
		case ctx.Err() != nil:
			res.Err = err
			res.Cancelled = true
			return res
		case outcome == OutcomeFatalFailure:
			res.Err = err
			res.Fatal = true
			return res
		case attempt >= maxAttempts:
			res.Err = err
			res.Exhausted = true
			return res
		}

		if err := e.sleep(ctx, policy.Delay(attempt)); err != nil {
			res.Err = err
			res.Cancelled = true
			return res
		}
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (value T, err error) {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		var (
			r       attemptResult[T]
			catcher panics.Catcher
		)
		catcher.Try(func() {
			r.value, r.err = op(attemptCtx)
		})
		if rec := catcher.Recovered(); rec != nil {
			r = attemptResult[T]{err: &PanicError{Recovered: rec}}
		}
		done <- r
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-attemptCtx.Done():
		var zero T
		return zero, attemptCtx.Err()
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
