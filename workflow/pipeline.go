// ABOUTME: Pipeline drives one Run through preprocess, generate and postprocess.
// ABOUTME: Generation failures degrade to a fallback reply; only fatal or cancelled stages fail the run.

package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/2389-research/buddy/llm"
	"github.com/2389-research/buddy/logging"
)

// History is the conversation access the pipeline needs.
type History interface {
	Snapshot(ctx context.Context, sessionID string) ([]llm.Message, error)
	Commit(ctx context.Context, sessionID string, msgs ...llm.Message) error
}

// RunRecorder persists run state after every change.
type RunRecorder interface {
	SaveRun(ctx context.Context, run Run) error
	SaveAttempt(ctx context.Context, runID string, attempt StageAttempt) error
}

// Pipeline holds the stages and policies shared by every run. It is safe for
// concurrent use; each Execute call owns the Run it is given.
type Pipeline struct {
	Preprocessor     Preprocessor
	Generator        Generator
	History          History
	Recorder         RunRecorder
	Events           *EventBroadcaster
	Telemetry        *Telemetry
	Policy           Policy
	AttemptTimeout   time.Duration
	MaxResponseChars int
	Logger           zerolog.Logger

	// Now and Sleep are overridable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) preprocessor() Preprocessor {
	if p.Preprocessor != nil {
		return p.Preprocessor
	}
	return TrimPreprocessor
}

// runner carries the per-run state of one Execute call.
type runner struct {
	p         *Pipeline
	run       *Run
	observers []func(Run)
	logger    zerolog.Logger
}

// Execute runs the pipeline to a terminal status and returns the text for the
// caller. It never returns an empty string. Observers receive a copy of the
// run after every change.
func (p *Pipeline) Execute(ctx context.Context, run *Run, observers ...func(Run)) (out string) {
	r := &runner{
		p:         p,
		run:       run,
		observers: observers,
		logger: logging.Component(p.Logger, "pipeline").With().
			Str("run_id", run.ID).
			Str("session_id", run.SessionID).
			Logger(),
	}

	ctx, span := p.Telemetry.startRun(ctx, run)
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("pipeline panicked: %v", rec)
			r.logger.Error().Err(err).Str("action", "panic").Msg("run aborted")
			if !run.Status.Terminal() {
				_ = run.fail(FailureInternal, err, p.now())
				r.publish(ctx)
			}
			out = GenericErrorMessage
		}
		p.Telemetry.finishRun(ctx, span, run)
		span.End()
	}()

	r.publish(ctx)
	return r.execute(ctx)
}

func (r *runner) execute(ctx context.Context) string {
	p, run := r.p, r.run

	if !r.checkpoint(ctx) {
		return run.Output
	}
	r.advance(ctx, StatusPreprocessing)

	text, ok := r.preprocess(ctx)
	if !ok {
		return run.Output
	}
	if text == "" {
		r.logger.Debug().Str("action", "greeting").Msg("empty input, skipping generation")
		return r.finish(ctx, Greeting)
	}

	if !r.checkpoint(ctx) {
		return run.Output
	}
	r.advance(ctx, StatusGenerating)

	reply, intermediate, ok := r.generate(ctx, text)
	if !ok {
		return run.Output
	}

	if !r.checkpoint(ctx) {
		return run.Output
	}
	out := r.finish(ctx, reply)

	batch := make([]llm.Message, 0, len(intermediate)+2)
	batch = append(batch, llm.UserMessage(text))
	batch = append(batch, intermediate...)
	batch = append(batch, llm.AssistantMessage(out))
	if p.History != nil {
		if err := p.History.Commit(context.WithoutCancel(ctx), run.SessionID, batch...); err != nil {
			r.logger.Warn().Err(err).Str("action", "commit_history").Msg("history not updated")
		}
	}
	return out
}

// preprocess returns the normalised input, or ok=false when the run failed.
func (r *runner) preprocess(ctx context.Context) (string, bool) {
	if strings.TrimSpace(r.run.Input) == "" {
		return "", true
	}

	stageCtx, span := r.p.Telemetry.startStage(ctx, StagePreprocess)
	res := Execute(stageCtx, r.executor(ctx), StagePreprocess, func(ctx context.Context) (string, error) {
		return r.p.preprocessor().Preprocess(ctx, r.run.Input)
	})
	endSpan(span, res.Err)

	switch {
	case res.Cancelled:
		r.fail(ctx, FailureCancelled, res.Err)
		return "", false
	case res.Fatal:
		r.failStage(ctx, res.Err)
		return "", false
	case res.Exhausted:
		r.fail(ctx, FailurePreprocessUnavailable, res.Err)
		return "", false
	}
	return strings.TrimSpace(res.Value), true
}

// generate returns the reply and the intermediate context to commit, or
// ok=false when the run failed.
func (r *runner) generate(ctx context.Context, text string) (string, []llm.Message, bool) {
	p := r.p
	if p.Generator == nil {
		r.fail(ctx, FailureFatalStage, errors.New("pipeline has no generator"))
		return "", nil, false
	}

	var history []llm.Message
	if p.History != nil {
		h, err := p.History.Snapshot(ctx, r.run.SessionID)
		if err != nil {
			if ctx.Err() != nil {
				r.fail(ctx, FailureCancelled, err)
				return "", nil, false
			}
			r.logger.Warn().Err(err).Str("action", "load_history").Msg("generating without history")
		}
		history = h
	}

	stageCtx, span := p.Telemetry.startStage(ctx, StageGenerate)
	res := Execute(stageCtx, r.executor(ctx), StageGenerate, func(ctx context.Context) (Generation, error) {
		return p.Generator.Generate(ctx, text, history)
	})
	endSpan(span, res.Err)

	switch {
	case res.Cancelled:
		r.fail(ctx, FailureCancelled, res.Err)
		return "", nil, false
	case res.Fatal && isPanic(res.Err):
		r.fail(ctx, FailureInternal, res.Err)
		return "", nil, false
	case res.Fatal && llm.IsBackendError(res.Err):
		// A rejected request (bad key, unknown model) will not succeed on
		// retry, but the caller still gets a reply.
		r.logger.Warn().Err(res.Err).Str("action", "fallback").Msg("backend rejected generation")
		r.run.Degraded = true
		return Fallback(text), nil, true
	case res.Fatal:
		r.fail(ctx, FailureFatalStage, res.Err)
		return "", nil, false
	case res.Exhausted:
		r.logger.Warn().Err(res.Err).Str("action", "fallback").Int("attempts", res.Attempts).
			Msg("generation exhausted retries")
		r.run.Degraded = true
		return Fallback(text), nil, true
	case strings.TrimSpace(res.Value.Text) == "":
		r.logger.Warn().Str("action", "fallback").Msg("generation returned no content")
		r.run.Degraded = true
		return Fallback(text), nil, true
	}

	if !res.Value.Live {
		r.run.Degraded = true
	}
	return res.Value.Text, res.Value.Context, true
}

// finish postprocesses text and completes the run.
func (r *runner) finish(ctx context.Context, text string) string {
	r.advance(ctx, StatusPostprocessing)
	out := Postprocess(text, r.p.MaxResponseChars)
	if err := r.run.complete(out, r.p.now()); err != nil {
		r.fail(ctx, FailureInternal, err)
		return r.run.Output
	}
	r.publish(ctx)
	r.logger.Info().Str("action", "completed").Bool("degraded", r.run.Degraded).
		Int("attempts", len(r.run.Attempts)).Msg("run completed")
	return out
}

// checkpoint fails the run if ctx has ended. Cancellation is only observed
// between stages.
func (r *runner) checkpoint(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		r.fail(ctx, FailureCancelled, err)
		return false
	}
	return true
}

func (r *runner) advance(ctx context.Context, to Status) {
	if err := r.run.transition(to); err != nil {
		panic(err)
	}
	r.logger.Debug().Str("action", "transition").Str("status", string(to)).Msg("run advanced")
	r.publish(ctx)
}

func (r *runner) fail(ctx context.Context, kind FailureKind, cause error) {
	if err := r.run.fail(kind, cause, r.p.now()); err != nil {
		r.logger.Error().Err(err).Str("action", "fail").Msg("run already terminal")
		return
	}
	r.logger.Warn().Err(cause).Str("action", "failed").Str("failure", string(kind)).Msg("run failed")
	r.publish(ctx)
}

// failStage fails the run for a non-retryable stage error. A recovered panic
// is an internal fault; anything else is a fatal stage failure.
func (r *runner) failStage(ctx context.Context, err error) {
	if isPanic(err) {
		r.fail(ctx, FailureInternal, err)
		return
	}
	r.fail(ctx, FailureFatalStage, err)
}

func isPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

func (r *runner) executor(ctx context.Context) *Executor {
	e := NewExecutor(r.p.Policy, r.p.AttemptTimeout)
	e.Sleep = r.p.Sleep
	e.Now = r.p.Now
	e.OnAttempt = func(a StageAttempt) {
		r.run.Attempts = append(r.run.Attempts, a)
		r.p.Telemetry.recordAttempt(ctx, a)
		ev := r.logger.Debug()
		if a.Outcome != OutcomeSuccess {
			ev = r.logger.Warn().Str("error", a.Error)
		}
		ev.Str("action", "attempt").Str("stage", string(a.Stage)).Int("attempt", a.Attempt).
			Str("outcome", string(a.Outcome)).Dur("duration", a.Duration).Msg("stage attempt")

		if r.p.Recorder != nil {
			if err := r.p.Recorder.SaveAttempt(context.WithoutCancel(ctx), r.run.ID, a); err != nil {
				r.logger.Warn().Err(err).Str("action", "record_attempt").Msg("attempt not recorded")
			}
		}
		attempt := a
		r.p.Events.Broadcast(RunEvent{
			Kind:      EventAttempt,
			RunID:     r.run.ID,
			SessionID: r.run.SessionID,
			Status:    r.run.Status,
			Attempt:   &attempt,
			At:        r.p.now(),
		})
	}
	return e
}

// publish records the run and notifies observers of its current state.
func (r *runner) publish(ctx context.Context) {
	snap := r.run.Clone()
	if r.p.Recorder != nil {
		if err := r.p.Recorder.SaveRun(context.WithoutCancel(ctx), snap); err != nil {
			r.logger.Warn().Err(err).Str("action", "record_run").Msg("run not recorded")
		}
	}
	r.p.Events.Broadcast(RunEvent{
		Kind:      EventStatus,
		RunID:     snap.ID,
		SessionID: snap.SessionID,
		Status:    snap.Status,
		At:        r.p.now(),
	})
	for _, fn := range r.observers {
		fn(snap)
	}
}
