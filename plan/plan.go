// Package plan turns a graph into ordered batches of steps that may run in
// parallel.
package plan

import (
	"sort"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/graph"
)

// ExecutionPlan is an ordered list of batches. Every step of the graph
// appears in exactly one batch and each step's batch comes after the
// batches of all of its dependencies. Plans are read-only.
type ExecutionPlan struct {
	batches [][]string
	index   map[string]int
}

// Build groups the steps of g with Kahn's algorithm. Each round collects every
// step whose dependencies are all scheduled, sorted by id for determinism.
func Build(g *graph.Graph) (*ExecutionPlan, error) {
	inDegree := make(map[string]int, g.Len())
	var ready []string
	for _, id := range g.IDs() {
		inDegree[id] = len(g.Dependencies(id))
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var batches [][]string
	scheduled := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		batches = append(batches, ready)
		scheduled += len(ready)

		var next []string
		for _, id := range ready {
			for _, dep := range g.Dependents(id) {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}

	if scheduled != g.Len() {
		var stuck []string
		for _, id := range g.IDs() {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, errors.Planning(stuck)
	}
	return newPlan(batches), nil
}

// FromBatches rebuilds a plan from persisted batches, typically when a run
// is resumed. It rejects ids scheduled twice.
func FromBatches(batches [][]string) (*ExecutionPlan, error) {
	copied := make([][]string, 0, len(batches))
	seen := make(map[string]bool)
	for _, b := range batches {
		for _, id := range b {
			if seen[id] {
				return nil, errors.DuplicateStep(id)
			}
			seen[id] = true
		}
		copied = append(copied, append([]string(nil), b...))
	}
	return newPlan(copied), nil
}

func newPlan(batches [][]string) *ExecutionPlan {
	p := &ExecutionPlan{batches: batches, index: make(map[string]int)}
	for i, b := range batches {
		for _, id := range b {
			p.index[id] = i
		}
	}
	return p
}

// Batches returns a copy of the batches.
func (p *ExecutionPlan) Batches() [][]string {
	out := make([][]string, len(p.batches))
	for i, b := range p.batches {
		out[i] = append([]string(nil), b...)
	}
	return out
}

// Batch returns a copy of batch i.
func (p *ExecutionPlan) Batch(i int) []string {
	return append([]string(nil), p.batches[i]...)
}

// NumBatches returns the number of batches.
func (p *ExecutionPlan) NumBatches() int { return len(p.batches) }

// Len returns the number of scheduled steps.
func (p *ExecutionPlan) Len() int { return len(p.index) }

// Order flattens the batches into a single execution sequence.
func (p *ExecutionPlan) Order() []string {
	out := make([]string, 0, len(p.index))
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

// BatchOf returns the batch index of a step.
func (p *ExecutionPlan) BatchOf(id string) (int, bool) {
	i, ok := p.index[id]
	return i, ok
}
