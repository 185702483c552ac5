package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kbukum/runflow"

// Span names.
const (
	SpanRun         = "runflow.run"
	SpanStep        = "runflow.step"
	SpanHTTPRequest = "http.request"
)

// Attribute keys.
const (
	AttrRunID      = "runflow.run_id"
	AttrRepository = "runflow.repository"
	AttrJob        = "runflow.job"
	AttrStepID     = "runflow.step_id"
	AttrFn         = "runflow.fn"
	AttrAttempt    = "runflow.attempt"
	AttrEnv        = "runflow.env"
	AttrStatus     = "runflow.status"
	AttrRequestID  = "request.id"
)

// StartSpan starts a span on the global tracer provider. Without Init the
// provider is a no-op and so is the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// SetSpanError records err on the span in ctx and marks it failed.
func SetSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
