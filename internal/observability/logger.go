// Package observability carries workflow logging, metrics and tracing.
// Metrics and spans go through OpenTelemetry; both have no-op variants.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// EnrichLogger adds workflow context to a logger. When ctx carries a valid
// span, its trace id is added too.
func EnrichLogger(ctx context.Context, logger *slog.Logger, workflow, runID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	l := logger.With(
		slog.String("workflow", workflow),
		slog.String("run_id", runID),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With(slog.String("trace_id", sc.TraceID().String()))
	}
	return l
}
