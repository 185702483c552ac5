package server

import (
	"context"

	"github.com/kbukum/runflow/component"
)

const componentName = "http-server"

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// Component wraps Server for a component.Registry.
type Component struct {
	server *Server
}

// NewComponent returns the lifecycle component of s.
func NewComponent(s *Server) *Component {
	return &Component{server: s}
}

func (sc *Component) Name() string { return componentName }

func (sc *Component) Start(ctx context.Context) error { return sc.server.Start(ctx) }

func (sc *Component) Stop(ctx context.Context) error { return sc.server.Stop(ctx) }

func (sc *Component) Health(ctx context.Context) component.Health {
	return component.Health{Name: componentName, Status: component.StatusHealthy, Message: sc.server.Addr()}
}

// Describe returns the startup summary line.
func (sc *Component) Describe() component.Description {
	details := sc.server.Addr()
	if sc.server.config.Auth.Enabled() {
		details += " (jwt)"
	}
	return component.Description{Name: "HTTP API", Type: "server", Details: details}
}
