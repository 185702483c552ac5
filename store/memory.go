package store

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/run"
)

// MemoryStore keeps runs in process memory. It is used by tests and by
// one-shot CLI runs that do not need history.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]*run.Run
	locks KeyedMutex
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*run.Run), now: time.Now}
}

func (m *MemoryStore) CreateRun(ctx context.Context, nr NewRun) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r := NewRecord(nr, m.now())
	m.mu.Lock()
	m.runs[r.ID] = r
	m.mu.Unlock()
	return r.ID, nil
}

func (m *MemoryStore) RecordStepStatus(ctx context.Context, runID, stepID string, status run.Status, at time.Time, opts ...StepOption) error {
	return m.update(ctx, runID, func(r *run.Run) error {
		_, err := run.ApplyStepStatus(r, stepID, BuildUpdate(status, at, opts...))
		return err
	})
}

func (m *MemoryStore) RecordAttempt(ctx context.Context, runID, stepID string, a run.Attempt) error {
	return m.update(ctx, runID, func(r *run.Run) error {
		_, err := run.ApplyAttempt(r, stepID, a)
		return err
	})
}

// update applies fn to a copy of the run and swaps it in only on success, so
// a rejected transition leaves the stored run untouched.
func (m *MemoryStore) update(ctx context.Context, runID string, fn func(*run.Run) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := m.locks.Lock(runID)
	defer unlock()

	m.mu.RLock()
	current, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return errors.NotFound("run", runID)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}

	m.mu.Lock()
	m.runs[runID] = next
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, errors.NotFound("run", runID)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListRuns(ctx context.Context, f run.Filter) ([]*run.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	all := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		all = append(all, r)
	}
	m.mu.RUnlock()

	matched := f.Apply(all)
	out := make([]*run.Run, len(matched))
	for i, r := range matched {
		out[i] = r.Clone()
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
