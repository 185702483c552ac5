package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Backoff describes an exponential backoff curve.
type Backoff struct {
	// Initial is the delay before the first retry.
	Initial time.Duration `yaml:"initial" mapstructure:"initial"`
	// Max caps the delay.
	Max time.Duration `yaml:"max" mapstructure:"max"`
	// Factor multiplies the delay after every retry.
	Factor float64 `yaml:"factor" mapstructure:"factor"`
	// Jitter randomizes each delay by up to this fraction (0.0 to 1.0).
	Jitter float64 `yaml:"jitter" mapstructure:"jitter"`
}

// ApplyDefaults fills zero fields.
func (b *Backoff) ApplyDefaults() {
	if b.Initial <= 0 {
		b.Initial = 100 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 10 * time.Second
	}
	if b.Factor <= 0 {
		b.Factor = 2.0
	}
}

// Delay returns the delay before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b.ApplyDefaults()
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d < 0 {
		d = float64(b.Initial)
	}
	return time.Duration(d)
}

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// Backoff is used when BackoffFor is nil.
	Backoff Backoff
	// BackoffFor picks the delay from the failed attempt's error, letting
	// callers back off differently per error kind.
	BackoffFor func(attempt int, err error) time.Duration
	// RetryIf determines if an error should be retried.
	RetryIf func(error) bool
	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff:     Backoff{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2.0, Jitter: 0.1},
		RetryIf:     DefaultRetryIf,
	}
}

// DefaultRetryIf retries all errors except context cancellation.
func DefaultRetryIf(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Retry calls fn until it succeeds, RetryIf rejects the error, MaxAttempts is
// reached or ctx is done. fn receives the 1-based attempt number. The last
// error is returned unwrapped.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = DefaultRetryIf
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) || attempt == cfg.MaxAttempts {
			break
		}

		var backoff time.Duration
		if cfg.BackoffFor != nil {
			backoff = cfg.BackoffFor(attempt, err)
		} else {
			backoff = cfg.Backoff.Delay(attempt)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, backoff)
		}

		if err := Sleep(ctx, backoff); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// RetryFunc executes a function that returns only an error.
func RetryFunc(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	_, err := Retry(ctx, cfg, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
