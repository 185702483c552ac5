package app

import (
	"fmt"

	"github.com/kbukum/runflow/config"
	"github.com/kbukum/runflow/database"
	"github.com/kbukum/runflow/dispatch"
	"github.com/kbukum/runflow/errors"
	grpccfg "github.com/kbukum/runflow/grpc"
	"github.com/kbukum/runflow/observability"
	"github.com/kbukum/runflow/redis"
	"github.com/kbukum/runflow/server"
	"github.com/kbukum/runflow/supervisor"
	"github.com/kbukum/runflow/validation"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = database.DriverSQLite
	DriverPostgres = database.DriverPostgres
	DriverRedis    = "redis"
)

const defaultSQLiteDSN = "runflow.db"

// WorkspaceConfig lists the definition files loaded at startup.
type WorkspaceConfig struct {
	Paths []string `yaml:"paths" mapstructure:"paths" validate:"dive,required"`
}

// StoreConfig selects and configures the run store.
type StoreConfig struct {
	Driver   string          `yaml:"driver" mapstructure:"driver" validate:"oneof=memory sqlite postgres redis"`
	Database database.Config `yaml:"database" mapstructure:"database"`
	Redis    redis.Config    `yaml:"redis" mapstructure:"redis"`
}

// ApplyDefaults fills in zero-value fields of the selected driver.
func (c *StoreConfig) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
		c.Database.Driver = c.Driver
		if c.Driver == DriverSQLite && c.Database.DSN == "" {
			c.Database.DSN = defaultSQLiteDSN
		}
		c.Database.ApplyDefaults()
	case DriverRedis:
		c.Redis.ApplyDefaults()
	}
}

// Validate checks the section of the selected driver only.
func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if err := c.Database.Validate(); err != nil {
			return errors.InvalidConfig("store.database", err.Error()).WithCause(err)
		}
	case DriverRedis:
		return c.Redis.Validate()
	default:
		return errors.InvalidConfig("store.driver", fmt.Sprintf("must be one of memory, sqlite, postgres, redis (got: %q)", c.Driver))
	}
	return nil
}

// Config is the runflow process configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Workspace     WorkspaceConfig      `yaml:"workspace" mapstructure:"workspace"`
	Store         StoreConfig          `yaml:"store" mapstructure:"store"`
	Dispatch      dispatch.Config      `yaml:"dispatch" mapstructure:"dispatch"`
	Supervisor    supervisor.Config    `yaml:"supervisor" mapstructure:"supervisor"`
	Server        server.Config        `yaml:"server" mapstructure:"server"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	// Worker is the listen address of `runflow worker`.
	Worker grpccfg.Config `yaml:"worker" mapstructure:"worker"`
}

// ApplyDefaults applies defaults to every section.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Store.ApplyDefaults()
	c.Dispatch.ApplyDefaults()
	c.Supervisor.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Observability.ApplyDefaults()
	c.Worker.ApplyDefaults()
}

// Validate checks every section. The worker address is checked by
// NewWorker since only that process needs one.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return errors.InvalidConfig("service", err.Error()).WithCause(err)
	}
	if err := validation.Validate(c); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	if err := c.Supervisor.Validate(); err != nil {
		return err
	}
	if c.Dispatch.Mode == dispatch.ModeRemote {
		if len(c.Supervisor.Envs) == 0 {
			return errors.InvalidConfig("supervisor.envs", "remote dispatch needs at least one environment")
		}
		if c.Dispatch.DefaultEnv != "" {
			if _, err := c.Supervisor.Env(c.Dispatch.DefaultEnv); err != nil {
				return errors.InvalidConfig("dispatch.default_env", "unknown environment "+c.Dispatch.DefaultEnv)
			}
		}
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	return c.Observability.Validate()
}
