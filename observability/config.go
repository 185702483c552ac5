package observability

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/logger"
)

// Config holds the observability section of the application config.
type Config struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Endpoint is the OTLP HTTP endpoint host:port.
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure       bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate     float64       `yaml:"sample_rate" mapstructure:"sample_rate"`
	MetricInterval time.Duration `yaml:"metric_interval" mapstructure:"metric_interval"`
}

// ApplyDefaults fills in zero-value fields.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.MetricInterval == 0 {
		c.MetricInterval = 15 * time.Second
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return errors.InvalidConfig("observability.sample_rate", "must be between 0 and 1")
	}
	return nil
}

// Init installs the tracer and meter providers when cfg is enabled. The
// returned function flushes and shuts both down.
func Init(ctx context.Context, cfg Config, serviceName, serviceVersion, environment string, log *logger.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}
	cfg.ApplyDefaults()

	res, err := identity{service: serviceName, version: serviceVersion, environment: environment}.resource()
	if err != nil {
		return noop, fmt.Errorf("creating resource: %w", err)
	}
	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return noop, err
	}
	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return noop, err
	}
	if log != nil {
		log.Info("Telemetry initialized", logger.Fields(
			"endpoint", cfg.Endpoint,
			"sample_rate", cfg.SampleRate,
			"metric_interval", cfg.MetricInterval.String(),
		))
	}
	return func(ctx context.Context) error {
		return stderrors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
