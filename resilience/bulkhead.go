package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Common bulkhead errors.
var (
	ErrBulkheadFull    = errors.New("bulkhead is full")
	ErrBulkheadTimeout = errors.New("bulkhead wait timeout")
)

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	// Name identifies this bulkhead in logs.
	Name string
	// MaxConcurrent is the maximum number of concurrent calls.
	MaxConcurrent int
	// MaxWait bounds the wait for a slot. Zero waits until the context ends.
	MaxWait time.Duration
	// FailFast rejects immediately when no slot is free.
	FailFast bool
	// OnAcquire and OnRelease observe slot usage.
	OnAcquire func(name string, inUse int)
	OnRelease func(name string, inUse int)
}

// Bulkhead limits how many calls run at once.
type Bulkhead struct {
	config BulkheadConfig
	sem    chan struct{}
}

// NewBulkhead creates a new bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	return &Bulkhead{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Execute runs fn once a slot is free.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	release, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Acquire waits for a slot and returns the function that frees it. The
// release function is safe to call more than once.
func (b *Bulkhead) Acquire(ctx context.Context) (func(), error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	if b.config.OnAcquire != nil {
		b.config.OnAcquire(b.config.Name, len(b.sem))
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-b.sem
			if b.config.OnRelease != nil {
				b.config.OnRelease(b.config.Name, len(b.sem))
			}
		})
	}, nil
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
	}
	if b.config.FailFast {
		return ErrBulkheadFull
	}

	var timeout <-chan time.Time
	if b.config.MaxWait > 0 {
		timer := time.NewTimer(b.config.MaxWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case b.sem <- struct{}{}:
		return nil
	case <-timeout:
		return ErrBulkheadTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InUse returns the number of slots currently in use.
func (b *Bulkhead) InUse() int { return len(b.sem) }

// MaxConcurrent returns the maximum concurrent calls allowed.
func (b *Bulkhead) MaxConcurrent() int { return b.config.MaxConcurrent }
