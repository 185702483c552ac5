package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component is a lifecycle-managed piece of infrastructure.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string
	// Start initializes the component. It must not block.
	Start(ctx context.Context) error
	// Stop shuts the component down and releases resources.
	Stop(ctx context.Context) error
	// Health returns the current health status of the component.
	Health(ctx context.Context) Health
}

// Description is the one-line summary printed at startup.
type Description struct {
	// Name is the display name. Empty means Component.Name().
	Name string
	// Type categorizes the component: "store", "server", "supervisor".
	Type string
	// Details is shown next to the name, e.g. "sqlite runflow.db".
	Details string
}

// Describable is implemented by components that report a startup summary.
type Describable interface {
	Describe() Description
}
