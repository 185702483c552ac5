package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/observability"
)

// Telemetry opens a server span per request and records the request
// metrics. metrics may be nil.
func Telemetry(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		ctx, span := observability.StartSpan(c.Request.Context(), observability.SpanHTTPRequest,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", method),
				attribute.String("http.target", c.Request.URL.Path),
			))
		defer span.End()
		if id := c.GetString(logger.FieldRequestID); id != "" {
			span.SetAttributes(attribute.String(observability.AttrRequestID, id))
		}
		c.Request = c.Request.WithContext(ctx)

		metrics.RecordRequestStart(ctx)
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		span.SetAttributes(attribute.Int("http.status_code", status), attribute.String("http.route", route))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		metrics.RecordRequestEnd(ctx, route, method, status, time.Since(start))
	}
}
