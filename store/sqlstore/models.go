package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/kbukum/runflow/run"
)

type runRow struct {
	ID         string `gorm:"primaryKey"`
	Repository string
	JobName    string
	Status     string
	Batches    string
	CreatedAt  int64 `gorm:"autoCreateTime:false"`
	StartedAt  *int64
	EndedAt    *int64
}

func (runRow) TableName() string { return "runflow_runs" }

type stepRow struct {
	RunID     string `gorm:"primaryKey"`
	StepID    string `gorm:"primaryKey"`
	Fn        string
	DependsOn string
	Status    string
	Attempt   int
	StartedAt *int64
	EndedAt   *int64
	Output    []byte
	Error     string
}

func (stepRow) TableName() string { return "runflow_steps" }

type attemptRow struct {
	RunID     string `gorm:"primaryKey"`
	StepID    string `gorm:"primaryKey"`
	Number    int    `gorm:"primaryKey;autoIncrement:false"`
	Status    string
	StartedAt int64
	EndedAt   int64
	Error     string
}

func (attemptRow) TableName() string { return "runflow_attempts" }

func toNanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func fromNanos(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := time.Unix(0, *n).UTC()
	return &t
}

// nanos stores the zero time as 0; UnixNano is undefined for it.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanosOrZero(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func encodeRun(r *run.Run) (runRow, error) {
	batches, err := json.Marshal(r.Batches)
	if err != nil {
		return runRow{}, err
	}
	return runRow{
		ID:         r.ID,
		Repository: r.Repository,
		JobName:    r.JobName,
		Status:     string(r.Status),
		Batches:    string(batches),
		CreatedAt:  r.CreatedAt.UnixNano(),
		StartedAt:  toNanos(r.StartedAt),
		EndedAt:    toNanos(r.EndedAt),
	}, nil
}

func encodeStep(runID string, s *run.StepRecord) (stepRow, error) {
	deps := s.DependsOn
	if deps == nil {
		deps = []string{}
	}
	b, err := json.Marshal(deps)
	if err != nil {
		return stepRow{}, err
	}
	return stepRow{
		RunID:     runID,
		StepID:    s.ID,
		Fn:        s.Fn,
		DependsOn: string(b),
		Status:    string(s.Status),
		Attempt:   s.Attempt,
		StartedAt: toNanos(s.StartedAt),
		EndedAt:   toNanos(s.EndedAt),
		Output:    s.Output,
		Error:     s.Error,
	}, nil
}

func encodeAttempt(runID, stepID string, a run.Attempt) attemptRow {
	return attemptRow{
		RunID:     runID,
		StepID:    stepID,
		Number:    a.Number,
		Status:    string(a.Status),
		StartedAt: nanos(a.StartedAt),
		EndedAt:   nanos(a.EndedAt),
		Error:     a.Error,
	}
}

// decodeRun assembles a run from its rows. Attempts must be ordered by number.
func decodeRun(rr runRow, steps []stepRow, attempts []attemptRow) (*run.Run, error) {
	r := &run.Run{
		ID:         rr.ID,
		Repository: rr.Repository,
		JobName:    rr.JobName,
		Status:     run.Status(rr.Status),
		CreatedAt:  time.Unix(0, rr.CreatedAt).UTC(),
		StartedAt:  fromNanos(rr.StartedAt),
		EndedAt:    fromNanos(rr.EndedAt),
		Steps:      make(map[string]*run.StepRecord, len(steps)),
	}
	if err := json.Unmarshal([]byte(rr.Batches), &r.Batches); err != nil {
		return nil, err
	}
	for _, sr := range steps {
		rec := &run.StepRecord{
			ID:        sr.StepID,
			Fn:        sr.Fn,
			Status:    run.Status(sr.Status),
			Attempt:   sr.Attempt,
			StartedAt: fromNanos(sr.StartedAt),
			EndedAt:   fromNanos(sr.EndedAt),
			Output:    sr.Output,
			Error:     sr.Error,
		}
		if err := json.Unmarshal([]byte(sr.DependsOn), &rec.DependsOn); err != nil {
			return nil, err
		}
		if len(rec.DependsOn) == 0 {
			rec.DependsOn = nil
		}
		r.Steps[sr.StepID] = rec
	}
	for _, ar := range attempts {
		rec, ok := r.Steps[ar.StepID]
		if !ok {
			continue
		}
		rec.Attempts = append(rec.Attempts, run.Attempt{
			Number:    ar.Number,
			Status:    run.Status(ar.Status),
			StartedAt: fromNanosOrZero(ar.StartedAt),
			EndedAt:   fromNanosOrZero(ar.EndedAt),
			Error:     ar.Error,
		})
	}
	return r, nil
}
