package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/runflow/logger"
)

// RequestLogger logs every request with method, route, status and duration.
// Health checks are not logged.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isHealthEndpoint(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		fields := logger.MergeWithDuration(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"route":  c.FullPath(),
			"status": status,
			"client": c.ClientIP(),
		}, latency)
		if len(c.Errors) > 0 {
			fields[logger.FieldError] = c.Errors.String()
		}
		if latency > 500*time.Millisecond {
			fields["slow"] = true
		}
		logByStatus(log.WithContext(c.Request.Context()), fields, status)
	}
}

func isHealthEndpoint(path string) bool {
	switch path {
	case "/healthz", "/version":
		return true
	}
	return false
}

// logByStatus logs request fields at a level matching the HTTP status.
func logByStatus(log *logger.Logger, fields map[string]interface{}, status int) {
	switch {
	case status >= 500:
		log.Error("Request completed", fields)
	case status >= 400:
		log.Warn("Request completed", fields)
	default:
		log.Debug("Request completed", fields)
	}
}
