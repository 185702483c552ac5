// Package observability wires OpenTelemetry tracing and metrics.
//
// Init installs OTLP/HTTP tracer and meter providers when enabled and
// returns a shutdown function. Without Init the global no-op providers stay
// in place, so StartSpan and Metrics are always safe to call.
//
//	shutdown, err := observability.Init(ctx, cfg, "runflow", version.Version, log)
//	defer shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, "runflow.step")
//	defer span.End()
//
//	metrics, err := observability.NewMetrics(observability.Meter("runflow"))
//	metrics.RecordStep(ctx, "SUCCEEDED", "", duration)
package observability
