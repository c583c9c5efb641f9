package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) RecordStep(context.Context, string, string, bool, time.Duration, error) {}
func (NoopRecorder) RecordWorkflow(context.Context, string, bool, time.Duration) {}
func (NoopRecorder) RecordLike(context.Context, string) {}
func (NoopRecorder) RecordStoreWrites(context.Context, string, int, int) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartWorkflowSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartWorkflowSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartStepSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartStepSpan(ctx context.Context, _ string, _ bool) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpan does nothing.
func (NoopSpanManager) EndSpan(trace.Span, error) {}
