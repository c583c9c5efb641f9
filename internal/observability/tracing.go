package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles workflow and step span lifecycle.
// Use NewSpanManager for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartWorkflowSpan starts the root span of one workflow run.
	StartWorkflowSpan(ctx context.Context, workflow, runID string) (context.Context, trace.Span)

	// StartStepSpan starts a child span for one workflow step.
	StartStepSpan(ctx context.Context, step string, bestEffort bool) (context.Context, trace.Span)

	// EndSpan completes a span, recording err if non-nil.
	EndSpan(span trace.Span, err error)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager on the global tracer provider.
func NewSpanManager() SpanManager {
	return NewSpanManagerWithTracer(otel.Tracer(InstrumentationName))
}

// NewSpanManagerWithTracer returns a SpanManager on an explicit tracer.
func NewSpanManagerWithTracer(tr trace.Tracer) SpanManager {
	return &otelSpanManager{tracer: tr}
}

func (m *otelSpanManager) StartWorkflowSpan(ctx context.Context, workflow, runID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "orchestrator."+workflow,
		trace.WithAttributes(
			attribute.String("workflow", workflow),
			attribute.String("run.id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartStepSpan(ctx context.Context, step string, bestEffort bool) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "orchestrator.step."+step,
		trace.WithAttributes(
			attribute.String("step", step),
			attribute.Bool("best_effort", bestEffort),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
