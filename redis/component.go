package redis

import (
	"context"
	"fmt"

	"github.com/kbukum/runflow/component"
	"github.com/kbukum/runflow/logger"
)

// Component wraps Client and implements component.Component.
type Component struct {
	client *Client
	cfg    Config
	log    *logger.Logger
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent creates a Redis component.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Component{cfg: cfg, log: log.WithComponent("redis")}
}

// Client returns the underlying *Client, or nil if not started.
func (c *Component) Client() *Client { return c.client }

func (c *Component) Name() string { return "redis" }

// Start creates the client and verifies connectivity.
func (c *Component) Start(ctx context.Context) error {
	client, err := New(c.cfg, c.log)
	if err != nil {
		return fmt.Errorf("redis start: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis start: %w", err)
	}
	c.client = client
	return nil
}

func (c *Component) Stop(_ context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Component) Health(ctx context.Context) component.Health {
	if c.client == nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "redis not initialized"}
	}
	if err := c.client.Ping(ctx); err != nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Redis",
		Type:    "store",
		Details: fmt.Sprintf("%s db=%d prefix=%s", c.cfg.Addr, c.cfg.DB, c.cfg.KeyPrefix),
	}
}
