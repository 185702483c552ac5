package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/kbukum/runflow/run"
	"github.com/kbukum/runflow/store"
	"github.com/kbukum/runflow/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return store.NewMemoryStore() })
}

func TestMemoryStore_SnapshotsAreIsolated(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	id, err := s.CreateRun(ctx, storetest.Job(t))
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	snap, _ := s.GetRun(ctx, id)
	snap.Steps["a"].Status = run.StatusFailed

	if err := s.RecordStepStatus(ctx, id, "a", run.StatusRunning, time.Now()); err != nil {
		t.Fatalf("store state leaked through snapshot: %v", err)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.CreateRun(ctx, storetest.Job(t)); err == nil {
		t.Fatal("expected context error")
	}
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	var k store.KeyedMutex
	unlock := k.Lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		u := k.Lock("b")
		u()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	unlock()
	k.Lock("a")()
}
