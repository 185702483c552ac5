// Package endpoint holds the operational HTTP handlers.
package endpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/runflow/component"
)

// HealthChecker returns the health of registered components.
type HealthChecker func(ctx context.Context) []component.Health

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status     component.HealthStatus `json:"status"`
	Service    string                 `json:"service"`
	Timestamp  time.Time              `json:"timestamp"`
	Components []component.Health     `json:"components,omitempty"`
}

// Overall folds component health: one unhealthy component makes the
// service unhealthy, otherwise one degraded component degrades it.
func Overall(components []component.Health) component.HealthStatus {
	status := component.StatusHealthy
	for _, h := range components {
		switch h.Status {
		case component.StatusUnhealthy:
			return component.StatusUnhealthy
		case component.StatusDegraded:
			status = component.StatusDegraded
		}
	}
	return status
}

// Health answers 503 when Overall is unhealthy and 200 otherwise.
func Health(serviceName string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{Service: serviceName, Timestamp: time.Now().UTC()}
		if checker != nil {
			resp.Components = checker(c.Request.Context())
		}
		resp.Status = Overall(resp.Components)

		code := http.StatusOK
		if resp.Status == component.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}
