package database

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/kbukum/runflow/component"
	"github.com/kbukum/runflow/database/migration"
	"github.com/kbukum/runflow/logger"
)

// Migrations maps a driver name to the directory of its migration files
// inside FS.
type Migrations struct {
	FS   fs.FS
	Dirs map[string]string
}

// Component opens the database on Start and applies migrations.
type Component struct {
	db         *DB
	cfg        Config
	log        *logger.Logger
	migrations *Migrations
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent creates a database component.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	cfg.ApplyDefaults()
	return &Component{cfg: cfg, log: log}
}

// WithMigrations registers migrations to apply on Start.
func (c *Component) WithMigrations(m Migrations) *Component {
	c.migrations = &m
	return c
}

// DB returns the open database, or nil before Start.
func (c *Component) DB() *DB { return c.db }

func (c *Component) Name() string { return "database" }

// Start connects and applies pending migrations.
func (c *Component) Start(ctx context.Context) error {
	db, err := Open(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	if c.migrations != nil {
		dir, ok := c.migrations.Dirs[c.cfg.Driver]
		if !ok {
			_ = db.Close()
			return fmt.Errorf("no migrations for driver %s", c.cfg.Driver)
		}
		if err := migration.Up(db.GormDB, c.cfg.Driver, c.migrations.FS, dir); err != nil {
			_ = db.Close()
			return err
		}
	}
	c.db = db
	return nil
}

func (c *Component) Stop(_ context.Context) error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Component) Health(ctx context.Context) component.Health {
	if c.db == nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "database not initialized"}
	}
	if err := c.db.PingContext(ctx); err != nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Database",
		Type:    "store",
		Details: fmt.Sprintf("%s pool=%d/%d", c.cfg.Driver, c.cfg.MaxOpenConns, c.cfg.MaxIdleConns),
	}
}
