// ABOUTME: OpenTelemetry spans and metrics for runs and stage attempts.
// ABOUTME: Uses the global providers, which are no-ops until an SDK is installed.

package workflow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/2389-research/buddy/workflow"

// noopSpan is returned when telemetry is disabled so callers never end a span
// they did not start.
var noopSpan = trace.SpanFromContext(context.Background())

// Telemetry records pipeline spans and metrics. A nil *Telemetry records nothing.
type Telemetry struct {
	tracer       trace.Tracer
	runs         metric.Int64Counter
	attempts     metric.Int64Counter
	stageLatency metric.Float64Histogram
}

// NewTelemetry creates instruments from the global tracer and meter providers.
func NewTelemetry() (*Telemetry, error) {
	meter := otel.Meter(instrumentationName)

	runs, err := meter.Int64Counter("buddy.runs",
		metric.WithDescription("Runs that reached a terminal status"))
	if err != nil {
		return nil, fmt.Errorf("create runs counter: %w", err)
	}
	attempts, err := meter.Int64Counter("buddy.stage.attempts",
		metric.WithDescription("Stage attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create attempts counter: %w", err)
	}
	latency, err := meter.Float64Histogram("buddy.stage.duration",
		metric.WithDescription("Stage attempt duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create stage latency histogram: %w", err)
	}

	return &Telemetry{
		tracer:       otel.Tracer(instrumentationName),
		runs:         runs,
		attempts:     attempts,
		stageLatency: latency,
	}, nil
}

func (t *Telemetry) startRun(ctx context.Context, run *Run) (context.Context, trace.Span) {
	if t == nil {
		return ctx, noopSpan
	}
	return t.tracer.Start(ctx, "buddy.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("session.id", run.SessionID),
	))
}

func (t *Telemetry) startStage(ctx context.Context, stage Stage) (context.Context, trace.Span) {
	if t == nil {
		return ctx, noopSpan
	}
	return t.tracer.Start(ctx, "buddy.stage."+string(stage),
		trace.WithAttributes(attribute.String("stage", string(stage))))
}

func (t *Telemetry) recordAttempt(ctx context.Context, a StageAttempt) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("stage", string(a.Stage)),
		attribute.String("outcome", string(a.Outcome)),
	)
	t.attempts.Add(ctx, 1, attrs)
	t.stageLatency.Record(ctx, a.Duration.Seconds(), attrs)
}

func (t *Telemetry) finishRun(ctx context.Context, span trace.Span, run *Run) {
	if t == nil {
		return
	}
	span.SetAttributes(
		attribute.String("run.status", string(run.Status)),
		attribute.Bool("run.degraded", run.Degraded),
	)
	if run.Status == StatusFailed {
		span.SetStatus(codes.Error, string(run.Failure))
	}
	t.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(run.Status)),
		attribute.String("failure", string(run.Failure)),
		attribute.Bool("degraded", run.Degraded),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
