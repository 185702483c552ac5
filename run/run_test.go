package run

import (
	"testing"
	"time"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/graph"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func chain(t *testing.T) *Run {
	t.Helper()
	b := graph.NewBuilder()
	_ = b.Add("a", "noop")
	_ = b.Add("b", "noop", "a")
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return New("r1", "repo", "job", g, [][]string{{"a"}, {"b"}}, t0)
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusRunning}:   true,
		{StatusPending, StatusSkipped}:   true,
		{StatusRunning, StatusSucceeded}: true,
		{StatusRunning, StatusFailed}:    true,
	}
	all := []Status{StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusSkipped}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != allowed[[2]Status{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name  string
		steps []Status
		want  Status
	}{
		{"all pending", []Status{StatusPending, StatusPending}, StatusPending},
		{"in progress", []Status{StatusSucceeded, StatusPending}, StatusRunning},
		{"running", []Status{StatusRunning, StatusPending}, StatusRunning},
		{"all succeeded", []Status{StatusSucceeded, StatusSucceeded}, StatusSucceeded},
		{"chain failure", []Status{StatusFailed, StatusSkipped, StatusSkipped}, StatusFailed},
		{"independent branch", []Status{StatusFailed, StatusSkipped, StatusSucceeded, StatusSucceeded}, StatusPartialFailure},
		{"canceled after progress", []Status{StatusSucceeded, StatusSkipped}, StatusPartialFailure},
		{"canceled before start", []Status{StatusSkipped, StatusSkipped}, StatusSkipped},
		{"empty", nil, StatusSucceeded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Derive(tc.steps); got != tc.want {
				t.Errorf("Derive = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestApplyStepStatus_Lifecycle(t *testing.T) {
	r := chain(t)
	if r.Status != StatusPending {
		t.Fatalf("new run status = %s", r.Status)
	}

	if _, err := ApplyStepStatus(r, "a", Update{Status: StatusRunning, At: t0.Add(time.Second), Attempt: 1}); err != nil {
		t.Fatalf("a running: %v", err)
	}
	if r.Status != StatusRunning || r.StartedAt == nil {
		t.Fatalf("run should be running with start time, got %s", r.Status)
	}

	if _, err := ApplyStepStatus(r, "a", Update{Status: StatusSucceeded, At: t0.Add(2 * time.Second), Output: []byte("42")}); err != nil {
		t.Fatalf("a succeeded: %v", err)
	}
	if string(r.Steps["a"].Output) != "42" {
		t.Errorf("output not stored: %q", r.Steps["a"].Output)
	}

	_, _ = ApplyStepStatus(r, "b", Update{Status: StatusRunning, At: t0.Add(3 * time.Second)})
	_, _ = ApplyStepStatus(r, "b", Update{Status: StatusSucceeded, At: t0.Add(4 * time.Second)})
	if r.Status != StatusSucceeded {
		t.Fatalf("run status = %s", r.Status)
	}
	if r.EndedAt == nil || !r.EndedAt.Equal(t0.Add(4*time.Second)) {
		t.Errorf("run end time = %v", r.EndedAt)
	}
}

func TestApplyStepStatus_Idempotent(t *testing.T) {
	r := chain(t)
	_, _ = ApplyStepStatus(r, "a", Update{Status: StatusRunning, At: t0})
	changed, _ := ApplyStepStatus(r, "a", Update{Status: StatusSucceeded, At: t0.Add(time.Second)})
	if !changed {
		t.Fatal("first success should change state")
	}
	before := r.Clone()

	changed, err := ApplyStepStatus(r, "a", Update{Status: StatusSucceeded, At: t0.Add(time.Hour)})
	if err != nil || changed {
		t.Fatalf("repeat success: changed=%v err=%v", changed, err)
	}
	if !r.Steps["a"].EndedAt.Equal(*before.Steps["a"].EndedAt) {
		t.Error("repeat must not move the end time")
	}
}

func TestApplyStepStatus_RejectsRegression(t *testing.T) {
	r := chain(t)
	_, _ = ApplyStepStatus(r, "a", Update{Status: StatusRunning, At: t0})
	_, _ = ApplyStepStatus(r, "a", Update{Status: StatusFailed, At: t0})

	for _, to := range []Status{StatusPending, StatusRunning, StatusSucceeded, StatusSkipped} {
		_, err := ApplyStepStatus(r, "a", Update{Status: to, At: t0})
		if !errors.HasCode(err, errors.ErrCodeInvalidTransition) {
			t.Errorf("FAILED -> %s: expected INVALID_TRANSITION, got %v", to, err)
		}
	}
	if _, err := ApplyStepStatus(r, "zzz", Update{Status: StatusRunning}); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("unknown step: expected NOT_FOUND, got %v", err)
	}
}

func TestApplyStepStatus_RetryBumpsAttempt(t *testing.T) {
	r := chain(t)
	_, _ = ApplyStepStatus(r, "a", Update{Status: StatusRunning, At: t0, Attempt: 1})
	changed, err := ApplyStepStatus(r, "a", Update{Status: StatusRunning, At: t0, Attempt: 2})
	if err != nil || !changed {
		t.Fatalf("attempt bump: changed=%v err=%v", changed, err)
	}
	if r.Steps["a"].Attempt != 2 {
		t.Errorf("attempt = %d", r.Steps["a"].Attempt)
	}
}

func TestApplyAttempt(t *testing.T) {
	r := chain(t)
	a2 := Attempt{Number: 2, Status: StatusSucceeded, StartedAt: t0, EndedAt: t0}
	a1 := Attempt{Number: 1, Status: StatusFailed, StartedAt: t0, EndedAt: t0, Error: "boom"}
	if changed, _ := ApplyAttempt(r, "a", a2); !changed {
		t.Fatal("expected change")
	}
	if changed, _ := ApplyAttempt(r, "a", a1); !changed {
		t.Fatal("expected change")
	}
	if changed, _ := ApplyAttempt(r, "a", a1); changed {
		t.Fatal("recording the same attempt twice must be a no-op")
	}
	got := r.Steps["a"].Attempts
	if len(got) != 2 || got[0].Number != 1 || got[1].Number != 2 {
		t.Errorf("attempts = %+v", got)
	}
	if _, err := ApplyAttempt(r, "a", Attempt{Number: 0}); err == nil {
		t.Error("attempt 0 should be rejected")
	}
}

func TestFilter(t *testing.T) {
	mk := func(id, job string, st Status, created time.Time) *Run {
		return &Run{ID: id, JobName: job, Status: st, CreatedAt: created}
	}
	runs := []*Run{
		mk("1", "etl", StatusFailed, t0),
		mk("2", "etl", StatusSucceeded, t0.Add(time.Hour)),
		mk("3", "report", StatusFailed, t0.Add(2*time.Hour)),
		mk("4", "etl", StatusPartialFailure, t0.Add(3*time.Hour)),
	}

	got := Filter{Statuses: []Status{StatusFailed, StatusPartialFailure}}.Apply(runs)
	if len(got) != 3 || got[0].ID != "4" || got[2].ID != "1" {
		t.Errorf("status filter = %v", ids(got))
	}

	got = Filter{JobName: "etl", CreatedAfter: t0.Add(30 * time.Minute), CreatedBefore: t0.Add(3 * time.Hour)}.Apply(runs)
	if len(got) != 1 || got[0].ID != "2" {
		t.Errorf("window filter = %v", ids(got))
	}

	got = Filter{Limit: 2}.Apply(runs)
	if len(got) != 2 || got[0].ID != "4" {
		t.Errorf("limit = %v", ids(got))
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus(" failed "); !ok || s != StatusFailed {
		t.Errorf("ParseStatus = %s, %v", s, ok)
	}
	if _, ok := ParseStatus("done"); ok {
		t.Error("unknown status parsed")
	}
}

func ids(runs []*Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
