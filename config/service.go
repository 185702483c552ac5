package config

import (
	"fmt"
	"slices"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/logger"
)

// ServiceConfig contains the fields every runflow process needs.
// Larger configs embed it with mapstructure:",squash".
type ServiceConfig struct {
	Name        string        `yaml:"name" mapstructure:"name"`
	Environment string        `yaml:"environment" mapstructure:"environment"`
	Version     string        `yaml:"version" mapstructure:"version"`
	Debug       bool          `yaml:"debug" mapstructure:"debug"`
	Logging     logger.Config `yaml:"logging" mapstructure:"logging"`
}

// Environments accepted in ServiceConfig.Environment.
var Environments = []string{"development", "staging", "production"}

// ApplyDefaults names the service runflow and assumes development, which
// turns on debug logging unless a level is set.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "runflow"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()
}

// Validate checks the name, the environment and the logging section.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return errors.InvalidConfig("name", "is required")
	}
	if !slices.Contains(Environments, c.Environment) {
		return errors.InvalidConfig("environment", fmt.Sprintf("must be one of %v (got: %s)", Environments, c.Environment))
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.InvalidConfig("logging", err.Error()).WithCause(err)
	}
	return nil
}
