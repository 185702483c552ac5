package repository

import (
	"sort"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/graph"
	"github.com/kbukum/runflow/plan"
)

// Job is a named graph together with its execution plan.
type Job struct {
	Name        string
	Description string
	Graph       *graph.Graph
	Plan        *plan.ExecutionPlan
}

// Order returns the step execution sequence.
func (j *Job) Order() []string { return j.Plan.Order() }

// Info describes the job for listings.
func (j *Job) Info() JobInfo {
	return JobInfo{
		Name:        j.Name,
		Description: j.Description,
		Order:       j.Plan.Order(),
		Batches:     j.Plan.Batches(),
		Steps:       j.Graph.Steps(),
	}
}

// Repository is a frozen, named set of jobs.
type Repository struct {
	Name     string
	Location string
	jobs     map[string]*Job
}

// Job looks up a job by name.
func (r *Repository) Job(name string) (*Job, error) {
	j, ok := r.jobs[name]
	if !ok {
		return nil, errors.NotFound("job", r.Name+"/"+name)
	}
	return j, nil
}

// Jobs returns the jobs sorted by name.
func (r *Repository) Jobs() []*Job {
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Listing describes the repository for the listing interface.
func (r *Repository) Listing() Listing {
	jobs := r.Jobs()
	l := Listing{Name: r.Name, Location: r.Location, Jobs: make([]JobInfo, len(jobs))}
	for i, j := range jobs {
		l.Jobs[i] = j.Info()
	}
	return l
}

// Builder assembles a Repository. Each job is planned as it is added.
type Builder struct {
	name     string
	location string
	jobs     map[string]*Job
}

// NewBuilder starts a repository.
func NewBuilder(name, location string) *Builder {
	return &Builder{name: name, location: location, jobs: make(map[string]*Job)}
}

// AddJob plans g and registers it under name.
func (b *Builder) AddJob(name, description string, g *graph.Graph) error {
	if name == "" {
		return errors.InvalidInput("job", "job name is empty")
	}
	if _, ok := b.jobs[name]; ok {
		return errors.AlreadyExists("job").WithDetail("job", name)
	}
	p, err := plan.Build(g)
	if err != nil {
		return withJob(err, name)
	}
	b.jobs[name] = &Job{Name: name, Description: description, Graph: g, Plan: p}
	return nil
}

// Build freezes the repository. The builder must not be used afterwards.
func (b *Builder) Build() (*Repository, error) {
	if b.name == "" {
		return nil, errors.InvalidInput("repository", "repository name is empty")
	}
	r := &Repository{Name: b.name, Location: b.location, jobs: b.jobs}
	b.jobs = nil
	return r, nil
}
