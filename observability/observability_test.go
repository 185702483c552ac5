package observability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Endpoint != "localhost:4318" || cfg.SampleRate != 1.0 || cfg.MetricInterval != 15*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
	cfg.SampleRate = 2
	if err := cfg.Validate(); err == nil {
		t.Error("sample rate above 1 must be rejected")
	}
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, "runflow", "dev", "test", nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestMetrics_Instruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordStep(ctx, "SUCCEEDED", "", 20*time.Millisecond)
	m.RecordStep(ctx, "FAILED", "py", 5*time.Millisecond)
	m.RecordRetry(ctx, "infrastructure")
	m.RecordRun(ctx, "repo", "job", "PARTIAL_FAILURE")
	m.RecordRequestStart(ctx)
	m.RecordRequestEnd(ctx, "/api/v1/runs", "GET", 200, time.Millisecond)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			seen[md.Name] = true
		}
	}
	for _, name := range []string{"runflow.step.total", "runflow.step.duration", "runflow.step.retries", "runflow.run.total", "http.server.request.total"} {
		if !seen[name] {
			t.Errorf("instrument %s not recorded", name)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordStep(context.Background(), "SUCCEEDED", "", time.Second)
	m.RecordRun(context.Background(), "r", "j", "SUCCEEDED")

	if _, err := NewMetrics(noop.NewMeterProvider().Meter("test")); err != nil {
		t.Fatalf("NewMetrics on noop meter: %v", err)
	}
}

func TestSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ctx, span := StartSpan(context.Background(), SpanStep, trace.WithAttributes(
		attribute.String(AttrStepID, "extract"),
		attribute.Int(AttrAttempt, 2),
	))
	SetSpanError(ctx, nil)
	SetSpanError(ctx, fmt.Errorf("boom"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	got := spans[0]
	if got.Name != SpanStep || got.Status.Code != codes.Error || len(got.Events) != 1 {
		t.Errorf("span = %s status %v events %d", got.Name, got.Status.Code, len(got.Events))
	}
	if len(got.Attributes) != 2 {
		t.Errorf("attributes = %v", got.Attributes)
	}
}

func TestSetSpanError_NoSpan(t *testing.T) {
	SetSpanError(context.Background(), fmt.Errorf("no span"))
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tc := range tests {
		if got := sampler(tc.rate).Description(); got != tc.want {
			t.Errorf("sampler(%v) = %s, want %s", tc.rate, got, tc.want)
		}
	}
}

func TestResource(t *testing.T) {
	res, err := identity{service: "runflow", version: "1.2.3", environment: "test"}.resource()
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got["service.name"] != "runflow" || got["service.version"] != "1.2.3" || got["environment"] != "test" {
		t.Errorf("attributes = %v", got)
	}
}
