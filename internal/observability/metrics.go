package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the meter and tracer scope.
const InstrumentationName = "github.com/anatomie/orchestrator"

// Recorder records workflow metrics.
// Use NewRecorder for OTel metrics or NoopRecorder{} when disabled.
type Recorder interface {
	// RecordStep records one workflow step with its duration and outcome.
	RecordStep(ctx context.Context, workflow, step string, bestEffort bool, d time.Duration, err error)

	// RecordWorkflow records a finished workflow run.
	RecordWorkflow(ctx context.Context, workflow string, success bool, d time.Duration)

	// RecordLike records a like event by outcome status.
	RecordLike(ctx context.Context, status string)

	// RecordStoreWrites records record-store write outcomes for a table.
	RecordStoreWrites(ctx context.Context, table string, written, failed int)
}

type otelRecorder struct {
	stepExecutions  metric.Int64Counter
	stepLatency     metric.Float64Histogram
	stepErrors      metric.Int64Counter
	workflowRuns    metric.Int64Counter
	workflowLatency metric.Float64Histogram
	likes           metric.Int64Counter
	storeRecords    metric.Int64Counter
}

// NewRecorderWithMeter builds a Recorder on an explicit meter.
func NewRecorderWithMeter(meter metric.Meter) (Recorder, error) {
	stepExecutions, err := meter.Int64Counter("orchestrator.step.executions",
		metric.WithDescription("Number of workflow step executions"),
	)
	if err != nil {
		return nil, err
	}
	stepLatency, err := meter.Float64Histogram("orchestrator.step.latency_ms",
		metric.WithDescription("Workflow step latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	stepErrors, err := meter.Int64Counter("orchestrator.step.errors",
		metric.WithDescription("Number of failed workflow steps"),
	)
	if err != nil {
		return nil, err
	}
	workflowRuns, err := meter.Int64Counter("orchestrator.workflow.runs",
		metric.WithDescription("Number of workflow runs"),
	)
	if err != nil {
		return nil, err
	}
	workflowLatency, err := meter.Float64Histogram("orchestrator.workflow.latency_ms",
		metric.WithDescription("Workflow run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	likes, err := meter.Int64Counter("orchestrator.likes",
		metric.WithDescription("Like events by outcome"),
	)
	if err != nil {
		return nil, err
	}
	storeRecords, err := meter.Int64Counter("orchestrator.store.records",
		metric.WithDescription("Records written to the tabular store by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{
		stepExecutions:  stepExecutions,
		stepLatency:     stepLatency,
		stepErrors:      stepErrors,
		workflowRuns:    workflowRuns,
		workflowLatency: workflowLatency,
		likes:           likes,
		storeRecords:    storeRecords,
	}, nil
}

// NewRecorder returns a Recorder on the global meter provider, or a no-op
// recorder if the instruments cannot be created.
func NewRecorder() Recorder {
	r, err := NewRecorderWithMeter(otel.Meter(InstrumentationName))
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder", "error", err)
		return NoopRecorder{}
	}
	return r
}

func (r *otelRecorder) RecordStep(ctx context.Context, workflow, step string, bestEffort bool, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("step", step),
		attribute.Bool("best_effort", bestEffort),
	)
	r.stepExecutions.Add(ctx, 1, attrs)
	r.stepLatency.Record(ctx, float64(d.Milliseconds()), attrs)
	if err != nil {
		r.stepErrors.Add(ctx, 1, attrs)
	}
}

func (r *otelRecorder) RecordWorkflow(ctx context.Context, workflow string, success bool, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.Bool("success", success),
	)
	r.workflowRuns.Add(ctx, 1, attrs)
	r.workflowLatency.Record(ctx, float64(d.Milliseconds()), attrs)
}

func (r *otelRecorder) RecordLike(ctx context.Context, status string) {
	r.likes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (r *otelRecorder) RecordStoreWrites(ctx context.Context, table string, written, failed int) {
	if written > 0 {
		r.storeRecords.Add(ctx, int64(written), metric.WithAttributes(
			attribute.String("table", table), attribute.String("outcome", "written")))
	}
	if failed > 0 {
		r.storeRecords.Add(ctx, int64(failed), metric.WithAttributes(
			attribute.String("table", table), attribute.String("outcome", "failed")))
	}
}
