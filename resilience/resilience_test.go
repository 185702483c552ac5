package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func fastRetry(max int) RetryConfig {
	return RetryConfig{MaxAttempts: max, Backoff: Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond}}
}

func TestRetry_SucceedsAfterRetry(t *testing.T) {
	var seen []int
	got, err := Retry(context.Background(), fastRetry(5), func(attempt int) (string, error) {
		seen = append(seen, attempt)
		if attempt < 3 {
			return "", errFlaky
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Retry = %q, %v", got, err)
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Errorf("attempts = %v", seen)
	}
}

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := RetryFunc(context.Background(), fastRetry(4), func(int) error {
		calls++
		return errFlaky
	})
	if !errors.Is(err, errFlaky) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d", calls)
	}
}

func TestRetry_RetryIfStopsEarly(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	cfg := fastRetry(5)
	cfg.RetryIf = func(err error) bool { return !errors.Is(err, permanent) }
	err := RetryFunc(context.Background(), cfg, func(int) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetry_BackoffForPerError(t *testing.T) {
	infra := errors.New("infra")
	var delays []time.Duration
	cfg := fastRetry(3)
	cfg.BackoffFor = func(attempt int, err error) time.Duration {
		if errors.Is(err, infra) {
			return 2 * time.Millisecond
		}
		return time.Millisecond
	}
	cfg.OnRetry = func(_ int, _ error, d time.Duration) { delays = append(delays, d) }

	_ = RetryFunc(context.Background(), cfg, func(attempt int) error {
		if attempt == 1 {
			return infra
		}
		return errFlaky
	})
	if len(delays) != 2 || delays[0] != 2*time.Millisecond || delays[1] != time.Millisecond {
		t.Errorf("delays = %v", delays)
	}
}

func TestRetry_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, Backoff: Backoff{Initial: time.Hour, Max: time.Hour}}
	cfg.OnRetry = func(int, error, time.Duration) { cancel() }

	start := time.Now()
	calls := 0
	err := RetryFunc(ctx, cfg, func(int) error {
		calls++
		return errFlaky
	})
	if time.Since(start) > time.Second {
		t.Fatal("retry did not stop on cancellation")
	}
	if !errors.Is(err, errFlaky) || calls != 1 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestBulkhead_LimitsConcurrency(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "steps", MaxConcurrent: 2})
	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Errorf("peak concurrency %d exceeds limit", peak)
	}
	if b.InUse() != 0 {
		t.Errorf("slots leaked: %d", b.InUse())
	}
}

func TestBulkhead_FailFastAndTimeout(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, FailFast: true})
	release, err := b.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := b.Acquire(context.Background()); !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("expected ErrBulkheadFull, got %v", err)
	}
	release()
	release()
	if b.InUse() != 0 {
		t.Fatalf("double release corrupted slots: %d", b.InUse())
	}

	w := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: 5 * time.Millisecond})
	r, _ := w.Acquire(context.Background())
	defer r()
	if _, err := w.Acquire(context.Background()); !errors.Is(err, ErrBulkheadTimeout) {
		t.Errorf("expected ErrBulkheadTimeout, got %v", err)
	}
}

func TestBulkhead_WaitsUntilContextDone(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	r, _ := b.Acquire(context.Background())
	defer r()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := b.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "env",
		MaxFailures: 2,
		Timeout:     time.Minute,
		Now:         clock.Now,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	_ = cb.Execute(func() error { return errFlaky })
	if cb.State() != StateClosed {
		t.Fatalf("opened too early")
	}
	_ = cb.Execute(func() error { return errFlaky })
	if cb.State() != StateOpen {
		t.Fatalf("state = %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	clock.now = clock.now.Add(time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatalf("half-open trial rejected: %v", err)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second trial should be rejected, got %v", err)
	}
	cb.Record(nil)
	if cb.State() != StateClosed {
		t.Fatalf("state = %s", cb.State())
	}

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions = %v", transitions)
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, Now: clock.Now})
	_ = cb.Execute(func() error { return errFlaky })
	clock.now = clock.now.Add(time.Second)
	_ = cb.Execute(func() error { return errFlaky })
	if cb.State() != StateOpen {
		t.Fatalf("state = %s", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state after reset = %s", cb.State())
	}
}

func TestCircuitBreaker_AbandonFreesHalfOpenSlot(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, Now: clock.Now})
	_ = cb.Execute(func() error { return errFlaky })
	clock.now = clock.now.Add(time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("trial rejected: %v", err)
	}
	cb.Abandon()
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("slot not returned: %v", err)
	}
}
