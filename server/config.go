package server

import (
	"fmt"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/security"
	"github.com/kbukum/runflow/server/middleware"
)

// Config holds HTTP API configuration.
type Config struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	Host         string `yaml:"host" mapstructure:"host"`
	Port         int    `yaml:"port" mapstructure:"port"`
	ReadTimeout  int    `yaml:"read_timeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `yaml:"write_timeout" mapstructure:"write_timeout"` // seconds
	IdleTimeout  int    `yaml:"idle_timeout" mapstructure:"idle_timeout"`   // seconds
	MaxBodySize  string `yaml:"max_body_size" mapstructure:"max_body_size"` // e.g. "1MB"
	// LaunchRateLimit caps run launches per subject per minute. Zero is unlimited.
	LaunchRateLimit int                   `yaml:"launch_rate_limit" mapstructure:"launch_rate_limit"`
	CORS            middleware.CORSConfig `yaml:"cors" mapstructure:"cors"`
	Auth            middleware.AuthConfig `yaml:"auth" mapstructure:"auth"`
	TLS             security.TLSConfig    `yaml:"tls" mapstructure:"tls"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60
	}
	if c.MaxBodySize == "" {
		c.MaxBodySize = "1MB"
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.InvalidConfig("server.port", fmt.Sprintf("must be between 0 and 65535 (got: %d)", c.Port))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return errors.InvalidConfig("server.timeouts", "must be non-negative")
	}
	if c.LaunchRateLimit < 0 {
		return errors.InvalidConfig("server.launch_rate_limit", "must be non-negative")
	}
	if c.Auth.Enabled() && len(c.Auth.JWTSecret) < 16 {
		return errors.InvalidConfig("server.auth.jwt_secret", "must be at least 16 bytes")
	}
	return c.TLS.Validate()
}

// Address returns host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
