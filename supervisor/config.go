package supervisor

import (
	"os"
	"time"

	"github.com/kbukum/runflow/errors"
	grpccfg "github.com/kbukum/runflow/grpc"
)

// EnvSpec describes how to obtain workers for one environment. Exactly one
// of Command and Address is set.
type EnvSpec struct {
	Name string `yaml:"name" mapstructure:"name"`
	// Command starts a worker process. The launcher appends the socket flag
	// and a fresh socket path.
	Command []string `yaml:"command" mapstructure:"command"`
	Dir     string   `yaml:"dir" mapstructure:"dir"`
	Env     []string `yaml:"env" mapstructure:"env"`
	// Address points at an already running worker.
	Address grpccfg.Address `yaml:"address" mapstructure:"address"`
}

// Validate checks the environment definition.
func (s EnvSpec) Validate() error {
	switch {
	case s.Name == "":
		return errors.InvalidConfig("supervisor.envs.name", "is required")
	case len(s.Command) > 0 && !s.Address.IsZero():
		return errors.InvalidConfig("supervisor.envs."+s.Name, "set either command or address, not both")
	case len(s.Command) == 0 && s.Address.IsZero():
		return errors.InvalidConfig("supervisor.envs."+s.Name, "command or address is required")
	case !s.Address.IsZero():
		return s.Address.Validate()
	}
	return nil
}

// BreakerConfig tunes the per-environment launch circuit breaker.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures" mapstructure:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// Config holds supervisor settings.
type Config struct {
	SocketDir        string        `yaml:"socket_dir" mapstructure:"socket_dir"`
	SocketFlag       string        `yaml:"socket_flag" mapstructure:"socket_flag"`
	MaxWorkersPerEnv int           `yaml:"max_workers_per_env" mapstructure:"max_workers_per_env"`
	StartupTimeout   time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout"`
	ProbeInterval    time.Duration `yaml:"probe_interval" mapstructure:"probe_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	GracePeriod      time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
	Breaker          BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	// Client carries the gRPC client options; its address is ignored.
	Client grpccfg.Config `yaml:"client" mapstructure:"client"`
	Envs   []EnvSpec      `yaml:"envs" mapstructure:"envs"`
}

// ApplyDefaults fills in zero-value fields.
func (c *Config) ApplyDefaults() {
	if c.SocketDir == "" {
		c.SocketDir = os.TempDir()
	}
	if c.SocketFlag == "" {
		c.SocketFlag = "--grpc-socket"
	}
	if c.MaxWorkersPerEnv <= 0 {
		c.MaxWorkersPerEnv = 4
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 30 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 200 * time.Millisecond
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.Breaker.MaxFailures <= 0 {
		c.Breaker.MaxFailures = 3
	}
	if c.Breaker.Cooldown <= 0 {
		c.Breaker.Cooldown = 30 * time.Second
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Envs))
	for _, e := range c.Envs {
		if err := e.Validate(); err != nil {
			return err
		}
		if seen[e.Name] {
			return errors.InvalidConfig("supervisor.envs", "environment "+e.Name+" is declared twice")
		}
		seen[e.Name] = true
	}
	return nil
}

// Env returns the spec for name.
func (c *Config) Env(name string) (EnvSpec, error) {
	for _, e := range c.Envs {
		if e.Name == name {
			return e, nil
		}
	}
	return EnvSpec{}, errors.NotFound("worker environment", name)
}
