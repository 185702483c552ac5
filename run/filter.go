package run

import (
	"sort"
	"time"
)

// Filter selects runs for listing. Zero values match everything.
type Filter struct {
	Statuses      []Status
	Repository    string
	JobName       string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// Match reports whether r passes the filter.
func (f Filter) Match(r *Run) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Repository != "" && r.Repository != f.Repository {
		return false
	}
	if f.JobName != "" && r.JobName != f.JobName {
		return false
	}
	if !f.CreatedAfter.IsZero() && r.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !r.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

// Apply filters runs, orders them newest first and truncates to Limit.
func (f Filter) Apply(runs []*Run) []*Run {
	out := make([]*Run, 0, len(runs))
	for _, r := range runs {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
