// Package storetest holds the behaviour every store.Store implementation
// must share. Implementation packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/graph"
	"github.com/kbukum/runflow/plan"
	"github.com/kbukum/runflow/run"
	"github.com/kbukum/runflow/store"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// Run executes the shared store behaviour tests.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("IdempotentStatus", func(t *testing.T) { testIdempotent(t, newStore(t)) })
	t.Run("RejectsRegression", func(t *testing.T) { testRegression(t, newStore(t)) })
	t.Run("Attempts", func(t *testing.T) { testAttempts(t, newStore(t)) })
	t.Run("ListRuns", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("ConcurrentSteps", func(t *testing.T) { testConcurrent(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
}

// Job returns a four step job: a -> {b, c} -> d.
func Job(t *testing.T) store.NewRun {
	t.Helper()
	b := graph.NewBuilder()
	_ = b.Add("a", "noop")
	_ = b.Add("b", "noop", "a")
	_ = b.Add("c", "noop", "a")
	_ = b.Add("d", "noop", "b", "c")
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	p, err := plan.Build(g)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return store.NewRun{Repository: "repo", JobName: "diamond", Graph: g, Plan: p}
}

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func mustCreate(t *testing.T, s store.Store, nr store.NewRun) string {
	t.Helper()
	id, err := s.CreateRun(context.Background(), nr)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return id
}

func mustRecord(t *testing.T, s store.Store, runID, step string, st run.Status, at time.Time, opts ...store.StepOption) {
	t.Helper()
	if err := s.RecordStepStatus(context.Background(), runID, step, st, at, opts...); err != nil {
		t.Fatalf("record %s %s: %v", step, st, err)
	}
}

func mustGet(t *testing.T, s store.Store, runID string) *run.Run {
	t.Helper()
	r, err := s.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return r
}

func testCreateAndGet(t *testing.T, s store.Store) {
	id := mustCreate(t, s, Job(t))
	r := mustGet(t, s, id)
	if r.ID != id || r.JobName != "diamond" || r.Repository != "repo" {
		t.Fatalf("unexpected run %+v", r)
	}
	if r.Status != run.StatusPending {
		t.Errorf("status = %s", r.Status)
	}
	if len(r.Steps) != 4 {
		t.Fatalf("steps = %d", len(r.Steps))
	}
	for id, s := range r.Steps {
		if s.Status != run.StatusPending {
			t.Errorf("step %s status = %s", id, s.Status)
		}
	}
	if len(r.Batches) != 3 || len(r.Batches[1]) != 2 {
		t.Errorf("batches = %v", r.Batches)
	}
	if deps := r.Steps["d"].DependsOn; len(deps) != 2 {
		t.Errorf("d depends on %v", deps)
	}
}

func testLifecycle(t *testing.T, s store.Store) {
	id := mustCreate(t, s, Job(t))
	mustRecord(t, s, id, "a", run.StatusRunning, base, store.WithAttempt(1))
	if r := mustGet(t, s, id); r.Status != run.StatusRunning || r.StartedAt == nil {
		t.Fatalf("run should be running: %s", r.Status)
	}
	mustRecord(t, s, id, "a", run.StatusSucceeded, base.Add(time.Second), store.WithOutput([]byte(`{"rows":3}`)))
	mustRecord(t, s, id, "b", run.StatusRunning, base.Add(2*time.Second))
	mustRecord(t, s, id, "c", run.StatusRunning, base.Add(2*time.Second))
	mustRecord(t, s, id, "b", run.StatusFailed, base.Add(3*time.Second), store.WithError(fmt.Errorf("boom")))
	mustRecord(t, s, id, "c", run.StatusSucceeded, base.Add(3*time.Second))
	mustRecord(t, s, id, "d", run.StatusSkipped, base.Add(3*time.Second))

	r := mustGet(t, s, id)
	if r.Status != run.StatusPartialFailure {
		t.Errorf("run status = %s", r.Status)
	}
	if r.EndedAt == nil {
		t.Error("terminal run must have an end time")
	}
	if string(r.Steps["a"].Output) != `{"rows":3}` {
		t.Errorf("output = %q", r.Steps["a"].Output)
	}
	if r.Steps["b"].Error != "boom" {
		t.Errorf("error = %q", r.Steps["b"].Error)
	}
	if r.Steps["a"].Attempt != 1 {
		t.Errorf("attempt = %d", r.Steps["a"].Attempt)
	}
}

func testIdempotent(t *testing.T, s store.Store) {
	id := mustCreate(t, s, Job(t))
	mustRecord(t, s, id, "a", run.StatusRunning, base)
	mustRecord(t, s, id, "a", run.StatusSucceeded, base.Add(time.Second))
	first := mustGet(t, s, id)

	mustRecord(t, s, id, "a", run.StatusSucceeded, base.Add(time.Hour))
	mustRecord(t, s, id, "a", run.StatusSucceeded, base.Add(2*time.Hour))
	second := mustGet(t, s, id)

	if second.Steps["a"].Status != run.StatusSucceeded {
		t.Fatalf("status = %s", second.Steps["a"].Status)
	}
	if !second.Steps["a"].EndedAt.Equal(*first.Steps["a"].EndedAt) {
		t.Errorf("end time moved from %v to %v", first.Steps["a"].EndedAt, second.Steps["a"].EndedAt)
	}
	if second.Status != first.Status {
		t.Errorf("run status changed from %s to %s", first.Status, second.Status)
	}
}

func testRegression(t *testing.T, s store.Store) {
	id := mustCreate(t, s, Job(t))
	mustRecord(t, s, id, "a", run.StatusRunning, base)
	mustRecord(t, s, id, "a", run.StatusSucceeded, base)

	err := s.RecordStepStatus(context.Background(), id, "a", run.StatusRunning, base)
	if !errors.HasCode(err, errors.ErrCodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
	if r := mustGet(t, s, id); r.Steps["a"].Status != run.StatusSucceeded {
		t.Errorf("rejected update changed status to %s", r.Steps["a"].Status)
	}
}

func testAttempts(t *testing.T, s store.Store) {
	id := mustCreate(t, s, Job(t))
	ctx := context.Background()
	a1 := run.Attempt{Number: 1, Status: run.StatusFailed, StartedAt: base, EndedAt: base.Add(time.Second), Error: "flaky"}
	a2 := run.Attempt{Number: 2, Status: run.StatusSucceeded, StartedAt: base.Add(2 * time.Second), EndedAt: base.Add(3 * time.Second)}
	for _, a := range []run.Attempt{a1, a2, a1} {
		if err := s.RecordAttempt(ctx, id, "a", a); err != nil {
			t.Fatalf("RecordAttempt %d: %v", a.Number, err)
		}
	}
	got := mustGet(t, s, id).Steps["a"].Attempts
	if len(got) != 2 {
		t.Fatalf("attempts = %+v", got)
	}
	if got[0].Number != 1 || got[0].Error != "flaky" || got[1].Status != run.StatusSucceeded {
		t.Errorf("attempts = %+v", got)
	}
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()
	failed := mustCreate(t, s, Job(t))
	mustRecord(t, s, failed, "a", run.StatusRunning, base)
	mustRecord(t, s, failed, "a", run.StatusFailed, base)
	for _, step := range []string{"b", "c", "d"} {
		mustRecord(t, s, failed, step, run.StatusSkipped, base)
	}
	time.Sleep(5 * time.Millisecond)
	pending := mustCreate(t, s, Job(t))

	all, err := s.ListRuns(ctx, run.Filter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 2 || all[0].ID != pending {
		t.Fatalf("expected newest first, got %d runs", len(all))
	}

	got, err := s.ListRuns(ctx, run.Filter{Statuses: []run.Status{run.StatusFailed}})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(got) != 1 || got[0].ID != failed {
		t.Fatalf("failed filter returned %d runs", len(got))
	}

	got, _ = s.ListRuns(ctx, run.Filter{JobName: "other"})
	if len(got) != 0 {
		t.Errorf("job filter returned %d runs", len(got))
	}

	future := time.Now().Add(time.Hour)
	got, _ = s.ListRuns(ctx, run.Filter{CreatedAfter: future})
	if len(got) != 0 {
		t.Errorf("time window returned %d runs", len(got))
	}

	got, _ = s.ListRuns(ctx, run.Filter{Limit: 1})
	if len(got) != 1 {
		t.Errorf("limit returned %d runs", len(got))
	}
}

func testConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := []string{mustCreate(t, s, Job(t)), mustCreate(t, s, Job(t))}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for _, id := range ids {
		for _, step := range []string{"a", "b", "c", "d"} {
			wg.Add(1)
			go func(id, step string) {
				defer wg.Done()
				if err := s.RecordStepStatus(ctx, id, step, run.StatusRunning, base); err != nil {
					errs <- err
					return
				}
				if err := s.RecordStepStatus(ctx, id, step, run.StatusSucceeded, base); err != nil {
					errs <- err
				}
			}(id, step)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent update: %v", err)
	}

	for _, id := range ids {
		r := mustGet(t, s, id)
		if r.Status != run.StatusSucceeded {
			t.Errorf("run %s status = %s", id, r.Status)
		}
		for step, rec := range r.Steps {
			if rec.Status != run.StatusSucceeded {
				t.Errorf("run %s step %s lost an update: %s", id, step, rec.Status)
			}
		}
	}
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetRun(ctx, "missing"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("GetRun: expected NOT_FOUND, got %v", err)
	}
	if err := s.RecordStepStatus(ctx, "missing", "a", run.StatusRunning, base); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("RecordStepStatus: expected NOT_FOUND, got %v", err)
	}
	id := mustCreate(t, s, Job(t))
	if err := s.RecordStepStatus(ctx, id, "zzz", run.StatusRunning, base); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("unknown step: expected NOT_FOUND, got %v", err)
	}
}
