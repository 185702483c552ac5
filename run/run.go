package run

import (
	"sort"
	"time"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/graph"
)

// Attempt is the outcome of one try of a step.
type Attempt struct {
	Number    int       `json:"number"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// StepRecord is the persisted state of one step within a run.
type StepRecord struct {
	ID        string     `json:"id"`
	Fn        string     `json:"fn"`
	DependsOn []string   `json:"depends_on,omitempty"`
	Status    Status     `json:"status"`
	Attempt   int        `json:"attempt"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Output    []byte     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  []Attempt  `json:"attempts,omitempty"`
}

// Run is the persisted state of one execution of a job.
type Run struct {
	ID         string                 `json:"id"`
	Repository string                 `json:"repository"`
	JobName    string                 `json:"job"`
	Status     Status                 `json:"status"`
	Batches    [][]string             `json:"batches"`
	CreatedAt  time.Time              `json:"created_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	EndedAt    *time.Time             `json:"ended_at,omitempty"`
	Steps      map[string]*StepRecord `json:"steps"`
}

// New creates a run with every step of g pending.
func New(id, repository, job string, g *graph.Graph, batches [][]string, now time.Time) *Run {
	r := &Run{
		ID:         id,
		Repository: repository,
		JobName:    job,
		Status:     StatusPending,
		CreatedAt:  now.UTC(),
		Steps:      make(map[string]*StepRecord, g.Len()),
	}
	for _, b := range batches {
		r.Batches = append(r.Batches, append([]string(nil), b...))
	}
	for _, s := range g.Steps() {
		r.Steps[s.ID] = &StepRecord{ID: s.ID, Fn: s.Fn, DependsOn: s.DependsOn, Status: StatusPending}
	}
	if g.Len() == 0 {
		r.Status = StatusSucceeded
	}
	return r
}

// StepIDs returns the step ids in ascending order.
func (r *Run) StepIDs() []string {
	ids := make([]string, 0, len(r.Steps))
	for id := range r.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StepStatuses returns the current status of every step.
func (r *Run) StepStatuses() map[string]Status {
	out := make(map[string]Status, len(r.Steps))
	for id, s := range r.Steps {
		out[id] = s.Status
	}
	return out
}

// Clone returns a deep copy of r.
func (r *Run) Clone() *Run {
	c := *r
	c.Batches = make([][]string, len(r.Batches))
	for i, b := range r.Batches {
		c.Batches[i] = append([]string(nil), b...)
	}
	c.StartedAt = copyTime(r.StartedAt)
	c.EndedAt = copyTime(r.EndedAt)
	c.Steps = make(map[string]*StepRecord, len(r.Steps))
	for id, s := range r.Steps {
		sc := *s
		sc.DependsOn = append([]string(nil), s.DependsOn...)
		sc.Output = append([]byte(nil), s.Output...)
		sc.Attempts = append([]Attempt(nil), s.Attempts...)
		sc.StartedAt = copyTime(s.StartedAt)
		sc.EndedAt = copyTime(s.EndedAt)
		c.Steps[id] = &sc
	}
	return &c
}

// Update carries the optional data attached to a status change.
type Update struct {
	Status  Status
	At      time.Time
	Attempt int
	Output  []byte
	Error   string
}

// ApplyStepStatus moves a step to u.Status and recomputes the run status.
// Re-applying the current status changes nothing and reports changed=false.
func ApplyStepStatus(r *Run, stepID string, u Update) (changed bool, err error) {
	step, ok := r.Steps[stepID]
	if !ok {
		return false, errors.NotFound("step", stepID)
	}
	if step.Status == u.Status {
		if u.Status == StatusRunning && u.Attempt > step.Attempt {
			step.Attempt = u.Attempt
			return true, nil
		}
		return false, nil
	}
	if !CanTransition(step.Status, u.Status) {
		return false, errors.InvalidTransition(stepID, string(step.Status), string(u.Status))
	}

	at := u.At.UTC()
	step.Status = u.Status
	switch u.Status {
	case StatusRunning:
		step.StartedAt = &at
		if u.Attempt > 0 {
			step.Attempt = u.Attempt
		} else if step.Attempt == 0 {
			step.Attempt = 1
		}
		if r.StartedAt == nil {
			r.StartedAt = &at
		}
	default:
		step.EndedAt = &at
		if u.Attempt > step.Attempt {
			step.Attempt = u.Attempt
		}
		if u.Output != nil {
			step.Output = append([]byte(nil), u.Output...)
		}
		if u.Error != "" {
			step.Error = u.Error
		}
	}

	r.recompute(at)
	return true, nil
}

// ApplyAttempt records the outcome of one attempt. Attempts are keyed by
// number; recording the same number again is a no-op.
func ApplyAttempt(r *Run, stepID string, a Attempt) (changed bool, err error) {
	step, ok := r.Steps[stepID]
	if !ok {
		return false, errors.NotFound("step", stepID)
	}
	if a.Number <= 0 {
		return false, errors.InvalidInput("attempt", "attempt numbers start at 1")
	}
	for _, existing := range step.Attempts {
		if existing.Number == a.Number {
			return false, nil
		}
	}
	a.StartedAt = a.StartedAt.UTC()
	a.EndedAt = a.EndedAt.UTC()
	step.Attempts = append(step.Attempts, a)
	sort.Slice(step.Attempts, func(i, j int) bool { return step.Attempts[i].Number < step.Attempts[j].Number })
	return true, nil
}

func (r *Run) recompute(at time.Time) {
	statuses := make([]Status, 0, len(r.Steps))
	for _, s := range r.Steps {
		statuses = append(statuses, s.Status)
	}
	r.Status = Derive(statuses)
	if r.Status.Terminal() && r.EndedAt == nil {
		r.EndedAt = &at
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
