package endpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/runflow/component"
)

func TestOverall(t *testing.T) {
	h := func(s component.HealthStatus) component.Health { return component.Health{Status: s} }
	tests := []struct {
		name string
		in   []component.Health
		want component.HealthStatus
	}{
		{"none", nil, component.StatusHealthy},
		{"healthy", []component.Health{h(component.StatusHealthy)}, component.StatusHealthy},
		{"degraded", []component.Health{h(component.StatusHealthy), h(component.StatusDegraded)}, component.StatusDegraded},
		{"unhealthy wins", []component.Health{h(component.StatusUnhealthy), h(component.StatusDegraded)}, component.StatusUnhealthy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overall(tc.in); got != tc.want {
				t.Errorf("Overall = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", Health("runflow", func(context.Context) []component.Health {
		return []component.Health{{Name: "store", Status: component.StatusUnhealthy, Message: "ping failed"}}
	}))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != component.StatusUnhealthy || body.Service != "runflow" || len(body.Components) != 1 {
		t.Errorf("body = %+v", body)
	}
}
