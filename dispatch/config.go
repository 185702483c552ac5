package dispatch

import (
	"time"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/resilience"
)

// Execution modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Failure policies.
const (
	PolicySkipDownstream = "skip_downstream"
	PolicyAbortRun       = "abort_run"
)

// BackoffConfig is the delay schedule between attempts.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial" mapstructure:"initial"`
	Max     time.Duration `yaml:"max" mapstructure:"max"`
	Factor  float64       `yaml:"factor" mapstructure:"factor"`
	Jitter  float64       `yaml:"jitter" mapstructure:"jitter"`
}

func (b BackoffConfig) backoff() resilience.Backoff {
	return resilience.Backoff{Initial: b.Initial, Max: b.Max, Factor: b.Factor, Jitter: b.Jitter}
}

func (b *BackoffConfig) applyDefaults(initial, max time.Duration) {
	if b.Initial <= 0 {
		b.Initial = initial
	}
	if b.Max <= 0 {
		b.Max = max
	}
	if b.Factor <= 0 {
		b.Factor = 2
	}
}

// RetryConfig bounds attempts per step. Step errors come from the step's
// own code; infrastructure errors come from workers and transport.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Step           BackoffConfig `yaml:"step" mapstructure:"step"`
	Infrastructure BackoffConfig `yaml:"infrastructure" mapstructure:"infrastructure"`
}

// Config holds dispatcher settings.
type Config struct {
	Mode          string        `yaml:"mode" mapstructure:"mode"`
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency"`
	FailurePolicy string        `yaml:"failure_policy" mapstructure:"failure_policy"`
	StepTimeout   time.Duration `yaml:"step_timeout" mapstructure:"step_timeout"`
	Retry         RetryConfig   `yaml:"retry" mapstructure:"retry"`
	// DefaultEnv is used in remote mode for steps without an env.
	DefaultEnv string `yaml:"default_env" mapstructure:"default_env"`
}

// ApplyDefaults fills in zero-value fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeLocal
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = PolicySkipDownstream
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	c.Retry.Step.applyDefaults(time.Second, 30*time.Second)
	c.Retry.Infrastructure.applyDefaults(200*time.Millisecond, 5*time.Second)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal, ModeRemote:
	default:
		return errors.InvalidConfig("dispatch.mode", "must be local or remote, got "+c.Mode)
	}
	switch c.FailurePolicy {
	case PolicySkipDownstream, PolicyAbortRun:
	default:
		return errors.InvalidConfig("dispatch.failure_policy", "must be skip_downstream or abort_run, got "+c.FailurePolicy)
	}
	if c.Retry.Step.Jitter < 0 || c.Retry.Step.Jitter > 1 || c.Retry.Infrastructure.Jitter < 0 || c.Retry.Infrastructure.Jitter > 1 {
		return errors.InvalidConfig("dispatch.retry.jitter", "must be between 0 and 1")
	}
	return nil
}
