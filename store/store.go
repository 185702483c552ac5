// Package store persists runs and step outcomes.
//
// All implementations share the same guarantees: writes to one run are
// serialized, writes to different runs proceed independently, every write is
// durable when the call returns, and status updates are idempotent.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/runflow/graph"
	"github.com/kbukum/runflow/plan"
	"github.com/kbukum/runflow/run"
)

// NewRun describes a run to create.
type NewRun struct {
	Repository string
	JobName    string
	Graph      *graph.Graph
	Plan       *plan.ExecutionPlan
}

// Store is the run state store.
type Store interface {
	// CreateRun persists a run with every step PENDING and returns its id.
	CreateRun(ctx context.Context, nr NewRun) (string, error)
	// RecordStepStatus moves a step to status. Recording the current status
	// again is a no-op.
	RecordStepStatus(ctx context.Context, runID, stepID string, status run.Status, at time.Time, opts ...StepOption) error
	// RecordAttempt stores the outcome of one attempt of a step.
	RecordAttempt(ctx context.Context, runID, stepID string, a run.Attempt) error
	// GetRun returns a snapshot of a run.
	GetRun(ctx context.Context, runID string) (*run.Run, error)
	// ListRuns returns matching runs, newest first.
	ListRuns(ctx context.Context, f run.Filter) ([]*run.Run, error)
	// Close releases resources held by the store.
	Close() error
}

// StepOption attaches data to a status update.
type StepOption func(*run.Update)

// WithOutput stores the step's output payload.
func WithOutput(b []byte) StepOption {
	return func(u *run.Update) { u.Output = b }
}

// WithError stores the step's error message.
func WithError(err error) StepOption {
	return func(u *run.Update) {
		if err != nil {
			u.Error = err.Error()
		}
	}
}

// WithAttempt stores the attempt number that produced the update.
func WithAttempt(n int) StepOption {
	return func(u *run.Update) { u.Attempt = n }
}

// BuildUpdate applies options to a status update.
func BuildUpdate(status run.Status, at time.Time, opts ...StepOption) run.Update {
	u := run.Update{Status: status, At: at}
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// NewRecord builds the initial record for nr with a fresh id.
func NewRecord(nr NewRun, now time.Time) *run.Run {
	return run.New(uuid.NewString(), nr.Repository, nr.JobName, nr.Graph, nr.Plan.Batches(), now)
}

// KeyedMutex hands out one mutex per key so updates to different runs never
// wait on each other.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
