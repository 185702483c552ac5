package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kbukum/runflow/component"
)

// RouteInfo is a registered HTTP route.
type RouteInfo struct {
	Method string
	Path   string
}

// Summary describes a started process for the startup banner.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	repositories    int
	jobs            int
	routes          []RouteInfo
}

// NewSummary creates a summary for serviceName.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{serviceName: serviceName, version: version}
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// TrackWorkspace records the number of loaded repositories and jobs.
func (s *Summary) TrackWorkspace(repositories, jobs int) {
	s.repositories, s.jobs = repositories, jobs
}

// TrackRoute records an HTTP route.
func (s *Summary) TrackRoute(method, path string) {
	s.routes = append(s.routes, RouteInfo{Method: method, Path: path})
}

// Routes returns the tracked routes.
func (s *Summary) Routes() []RouteInfo { return s.routes }

// Display writes the summary and the live health of registry to w.
func (s *Summary) Display(ctx context.Context, w io.Writer, registry *component.Registry) {
	fmt.Fprintf(w, "\n🚀 %s %s started in %.2fs\n", s.serviceName, s.version, s.startupDuration.Seconds())
	fmt.Fprintf(w, "   %d repositories, %d jobs\n\n", s.repositories, s.jobs)

	descs := registry.Describe()
	if len(descs) > 0 {
		fmt.Fprintf(w, "📦 Components\n")
		for i, d := range descs {
			fmt.Fprintf(w, "   %s %s [%s] %s\n", branch(i, len(descs)), d.Name, d.Type, d.Details)
		}
		fmt.Fprintln(w)
	}

	if len(s.routes) > 0 {
		fmt.Fprintf(w, "🌐 Routes (%d)\n", len(s.routes))
		for i, r := range s.routes {
			fmt.Fprintf(w, "   %s %-6s %s\n", branch(i, len(s.routes)), r.Method, r.Path)
		}
		fmt.Fprintln(w)
	}

	health := registry.HealthAll(ctx)
	if len(health) == 0 {
		return
	}
	fmt.Fprintf(w, "🏥 Health\n")
	healthy := 0
	for i, h := range health {
		msg := ""
		if h.Message != "" {
			msg = ": " + h.Message
		}
		fmt.Fprintf(w, "   %s %s %s %s%s\n", branch(i, len(health)), healthIcon(h.Status), h.Name, strings.ToLower(string(h.Status)), msg)
		if h.Status == component.StatusHealthy {
			healthy++
		}
	}
	if healthy == len(health) {
		fmt.Fprintf(w, "\n✅ All components healthy (%d/%d)\n\n", healthy, len(health))
	} else {
		fmt.Fprintf(w, "\n⚠️  Some components have issues (%d/%d healthy)\n\n", healthy, len(health))
	}
}

func branch(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func healthIcon(status component.HealthStatus) string {
	switch status {
	case component.StatusHealthy:
		return "✅"
	case component.StatusDegraded:
		return "⚠️"
	default:
		return "❌"
	}
}
