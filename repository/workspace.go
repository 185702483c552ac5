package repository

import (
	"path/filepath"
	"sort"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/graph"
)

// Selector narrows a listing. Zero fields match everything.
type Selector struct {
	Repository string `json:"repository,omitempty"`
	Location   string `json:"location,omitempty"`
}

// IsZero reports whether the selector matches everything.
func (s Selector) IsZero() bool { return s.Repository == "" && s.Location == "" }

// Match reports whether r passes the selector.
func (s Selector) Match(r *Repository) bool {
	if s.Repository != "" && s.Repository != r.Name {
		return false
	}
	if s.Location != "" && !sameLocation(s.Location, r.Location) {
		return false
	}
	return true
}

func sameLocation(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// Listing is one repository in a listing.
type Listing struct {
	Name     string    `json:"name"`
	Location string    `json:"location"`
	Jobs     []JobInfo `json:"jobs"`
}

// JobInfo describes a job and its execution sequence.
type JobInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Order       []string     `json:"order"`
	Batches     [][]string   `json:"batches"`
	Steps       []graph.Step `json:"steps"`
}

// Workspace is a read-only registry of repositories.
type Workspace struct {
	repos map[string]*Repository
}

// NewWorkspace registers repos in order. A repository whose name is already
// registered replaces the earlier one.
func NewWorkspace(repos ...*Repository) *Workspace {
	w := &Workspace{repos: make(map[string]*Repository, len(repos))}
	for _, r := range repos {
		w.repos[r.Name] = r
	}
	return w
}

// LoadWorkspace loads each definitions file in order. Later files override
// earlier ones that declare the same repository.
func LoadWorkspace(paths ...string) (*Workspace, error) {
	repos := make([]*Repository, 0, len(paths))
	for _, p := range paths {
		r, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return NewWorkspace(repos...), nil
}

// Len returns the number of repositories.
func (w *Workspace) Len() int { return len(w.repos) }

// Repository looks up a repository by name.
func (w *Workspace) Repository(name string) (*Repository, error) {
	r, ok := w.repos[name]
	if !ok {
		return nil, errors.NotFound("repository", name)
	}
	return r, nil
}

// Job looks up a job by repository and job name.
func (w *Workspace) Job(repo, job string) (*Job, error) {
	r, err := w.Repository(repo)
	if err != nil {
		return nil, err
	}
	return r.Job(job)
}

// Repositories returns every repository sorted by name.
func (w *Workspace) Repositories() []*Repository {
	out := make([]*Repository, 0, len(w.repos))
	for _, r := range w.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// List returns the repositories matching sel with their jobs. A non-empty
// selector that matches nothing is NOT_FOUND.
func (w *Workspace) List(sel Selector) ([]Listing, error) {
	var out []Listing
	for _, r := range w.Repositories() {
		if sel.Match(r) {
			out = append(out, r.Listing())
		}
	}
	if len(out) == 0 && !sel.IsZero() {
		id := sel.Repository
		if id == "" {
			id = sel.Location
		}
		return nil, errors.NotFound("repository", id)
	}
	if out == nil {
		out = []Listing{}
	}
	return out, nil
}
