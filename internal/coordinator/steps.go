package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/anatomie/orchestrator/internal/observability"
)

// Workflow names used in logs, metrics and spans.
const (
	WorkflowLearningCycle    = "learning_cycle"
	WorkflowDailyBatch       = "daily_batch"
	WorkflowManualGeneration = "manual_generation"
)

// run tracks one workflow execution. Steps run sequentially; a critical step
// failure is returned to the workflow, which stops. A best-effort step
// failure is logged and swallowed.
type run struct {
	c        *Coordinator
	ctx      context.Context
	workflow string
	id       string
	logger   *slog.Logger
	span     trace.Span
	start    time.Time
}

func (c *Coordinator) startRun(ctx context.Context, workflow string) *run {
	id := c.newRunID()
	ctx, span := c.spans.StartWorkflowSpan(ctx, workflow, id)
	r := &run{
		c:        c,
		ctx:      ctx,
		workflow: workflow,
		id:       id,
		logger:   observability.EnrichLogger(ctx, c.logger, workflow, id),
		span:     span,
		start:    time.Now(),
	}
	r.logger.Info("workflow starting")
	return r
}

func (r *run) exec(name string, bestEffort bool, fn func(context.Context) error) error {
	ctx, span := r.c.spans.StartStepSpan(r.ctx, name, bestEffort)
	start := time.Now()
	r.logger.Debug("step starting", "step", name)

	err := func() (err error) {
		defer recoverStep(&err)
		return fn(ctx)
	}()

	d := time.Since(start)
	r.c.recorder.RecordStep(ctx, r.workflow, name, bestEffort, d, err)
	r.c.spans.EndSpan(span, err)
	if err != nil {
		return err
	}
	r.logger.Debug("step completed", "step", name, "duration_ms", d.Milliseconds())
	return nil
}

// step runs a critical step. The returned error carries the step name.
func (r *run) step(name string, fn func(context.Context) error) error {
	if err := r.exec(name, false, fn); err != nil {
		r.logger.Error("step failed", "step", name, "error", err)
		return err
	}
	return nil
}

// bestEffort runs a step whose failure never aborts the workflow. It
// reports whether the step succeeded.
func (r *run) bestEffort(name string, fn func(context.Context) error) bool {
	if err := r.exec(name, true, fn); err != nil {
		r.logger.Warn("best-effort step failed", "step", name, "error", err)
		return false
	}
	return true
}

// finish records the workflow outcome and closes its span.
func (r *run) finish(err error) {
	d := time.Since(r.start)
	r.c.recorder.RecordWorkflow(r.ctx, r.workflow, err == nil, d)
	r.c.spans.EndSpan(r.span, err)
	if err != nil {
		r.logger.Error("workflow failed", "error", err, "duration_ms", d.Milliseconds())
		return
	}
	r.logger.Info("workflow completed", "duration_ms", d.Milliseconds())
}

// recoverStep turns a panic inside a step into that step's error.
func recoverStep(err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("panic: %v", p)
	}
}
