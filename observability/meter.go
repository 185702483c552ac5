package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the runflow instruments.
type Metrics struct {
	stepTotal       metric.Int64Counter
	stepDuration    metric.Float64Histogram
	stepRetries     metric.Int64Counter
	runTotal        metric.Int64Counter
	requestTotal    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestActive   metric.Int64UpDownCounter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	stepTotal, err := meter.Int64Counter("runflow.step.total",
		metric.WithDescription("Step attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runflow.step.total counter: %w", err)
	}

	stepDuration, err := meter.Float64Histogram("runflow.step.duration",
		metric.WithDescription("Duration of step attempts in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runflow.step.duration histogram: %w", err)
	}

	stepRetries, err := meter.Int64Counter("runflow.step.retries",
		metric.WithDescription("Step retries by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runflow.step.retries counter: %w", err)
	}

	runTotal, err := meter.Int64Counter("runflow.run.total",
		metric.WithDescription("Finished runs by final status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runflow.run.total counter: %w", err)
	}

	requestTotal, err := meter.Int64Counter("http.server.request.total",
		metric.WithDescription("Total number of API requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating http.server.request.total counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of API requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating http.server.request.duration histogram: %w", err)
	}

	requestActive, err := meter.Int64UpDownCounter("http.server.request.active",
		metric.WithDescription("Number of in-flight API requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating http.server.request.active counter: %w", err)
	}

	return &Metrics{
		stepTotal:       stepTotal,
		stepDuration:    stepDuration,
		stepRetries:     stepRetries,
		runTotal:        runTotal,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestActive:   requestActive,
	}, nil
}

// RecordStep records one finished step attempt.
func (m *Metrics) RecordStep(ctx context.Context, status, env string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("env", env),
	)
	m.stepTotal.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRetry records a retry caused by an error of the given kind.
func (m *Metrics) RecordRetry(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.stepRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(ctx context.Context, repository, job, status string) {
	if m == nil {
		return
	}
	m.runTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repository),
		attribute.String("job", job),
		attribute.String("status", status),
	))
}

// RecordRequestStart increments the in-flight request count.
func (m *Metrics) RecordRequestStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.requestActive.Add(ctx, 1)
}

// RecordRequestEnd decrements in-flight requests and records the request.
func (m *Metrics) RecordRequestEnd(ctx context.Context, route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("method", method),
		attribute.Int("status", status),
	)
	m.requestActive.Add(ctx, -1)
	m.requestTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("method", method),
	))
}
