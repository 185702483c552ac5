// Package graph models a job as an immutable directed acyclic graph of steps.
//
// Steps are registered on a Builder; Build validates dependencies, rejects
// cycles and freezes the result. A Graph never changes after Build, so it can
// be shared between planner, dispatcher and concurrent runs without locking.
package graph

import (
	"sort"
	"strings"

	"github.com/kbukum/runflow/errors"
)

// Step is one unit of work in a job.
type Step struct {
	// ID is unique within its graph.
	ID string `json:"id"`
	// Fn names the function that executes the step.
	Fn string `json:"fn"`
	// DependsOn lists the ids this step waits for, in declaration order.
	DependsOn []string `json:"depends_on,omitempty"`
	// Env selects the worker environment for remote execution.
	Env string `json:"env,omitempty"`
	// Args are passed to the function unchanged.
	Args []string `json:"args,omitempty"`
	// Description is informational only.
	Description string `json:"description,omitempty"`
}

func (s Step) clone() Step {
	s.DependsOn = append([]string(nil), s.DependsOn...)
	s.Args = append([]string(nil), s.Args...)
	return s
}

// Graph is a validated, frozen set of steps.
type Graph struct {
	steps      map[string]Step
	order      []string
	dependents map[string][]string
}

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.order) }

// IDs returns every step id in ascending order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Steps returns copies of every step in ascending id order.
func (g *Graph) Steps() []Step {
	out := make([]Step, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.steps[id].clone())
	}
	return out
}

// Step returns a copy of the step with the given id.
func (g *Graph) Step(id string) (Step, bool) {
	s, ok := g.steps[id]
	if !ok {
		return Step{}, false
	}
	return s.clone(), true
}

// Dependencies returns the direct dependencies of id in declaration order.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.steps[id].DependsOn...)
}

// Dependents returns the steps that depend directly on id, sorted.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Downstream returns every step that transitively depends on id, sorted.
func (g *Graph) Downstream(id string) []string {
	seen := make(map[string]bool)
	stack := append([]string(nil), g.dependents[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.dependents[n]...)
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// String renders the graph as "a; b <- a; c <- a,b" for logs and tests.
func (g *Graph) String() string {
	parts := make([]string, 0, len(g.order))
	for _, id := range g.order {
		deps := g.steps[id].DependsOn
		if len(deps) == 0 {
			parts = append(parts, id)
			continue
		}
		parts = append(parts, id+" <- "+strings.Join(deps, ","))
	}
	return strings.Join(parts, "; ")
}

// Builder accumulates steps. It is not safe for concurrent use.
type Builder struct {
	steps map[string]Step
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{steps: make(map[string]Step)}
}

// AddStep registers a step. Duplicate ids are rejected immediately; unknown
// dependencies are only reported by Build since they may be added later.
func (b *Builder) AddStep(s Step) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.InvalidInput("id", "step id must not be empty")
	}
	if _, exists := b.steps[s.ID]; exists {
		return errors.DuplicateStep(s.ID)
	}
	seen := make(map[string]bool, len(s.DependsOn))
	deps := make([]string, 0, len(s.DependsOn))
	for _, d := range s.DependsOn {
		if seen[d] {
			continue
		}
		seen[d] = true
		deps = append(deps, d)
	}
	s.DependsOn = deps
	b.steps[s.ID] = s.clone()
	return nil
}

// Add is a shorthand for AddStep with only an id, function and dependencies.
func (b *Builder) Add(id, fn string, deps ...string) error {
	return b.AddStep(Step{ID: id, Fn: fn, DependsOn: deps})
}

// Build validates the accumulated steps and returns the frozen graph.
func (b *Builder) Build() (*Graph, error) {
	order := make([]string, 0, len(b.steps))
	for id := range b.steps {
		order = append(order, id)
	}
	sort.Strings(order)

	for _, id := range order {
		for _, dep := range b.steps[id].DependsOn {
			if _, ok := b.steps[dep]; !ok {
				return nil, errors.UnknownDependency(id, dep)
			}
		}
	}

	if path := findCycle(b.steps, order); path != nil {
		return nil, errors.Cycle(path)
	}

	g := &Graph{
		steps:      make(map[string]Step, len(b.steps)),
		order:      order,
		dependents: make(map[string][]string),
	}
	for _, id := range order {
		s := b.steps[id].clone()
		g.steps[id] = s
		for _, dep := range s.DependsOn {
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}
	return g, nil
}

const (
	white = iota
	gray
	black
)

// findCycle runs a colouring depth-first search from every step in ascending
// order and returns the first cycle found, closed with its starting id.
func findCycle(steps map[string]Step, order []string) []string {
	color := make(map[string]int, len(steps))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)

		deps := append([]string(nil), steps[id].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == dep {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, dep)
					}
				}
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range order {
		if color[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}
