package plan

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/graph"
)

func build(t *testing.T, steps map[string][]string) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder()
	for id, deps := range steps {
		if err := b.Add(id, "noop", deps...); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestBuild_Diamond(t *testing.T) {
	g := build(t, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})
	p, err := Build(g)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if got := p.Batches(); !reflect.DeepEqual(got, want) {
		t.Errorf("batches = %v, want %v", got, want)
	}
	if got := p.Order(); !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
		t.Errorf("order = %v", got)
	}
	if i, _ := p.BatchOf("d"); i != 2 {
		t.Errorf("BatchOf(d) = %d", i)
	}
}

func TestBuild_IndependentStepsShareFirstBatch(t *testing.T) {
	g := build(t, map[string][]string{"z": nil, "m": nil, "a": nil, "b": {"z"}})
	p, err := Build(g)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := p.Batch(0); !reflect.DeepEqual(got, []string{"a", "m", "z"}) {
		t.Errorf("first batch = %v", got)
	}
}

func TestBuild_EmptyGraph(t *testing.T) {
	g := build(t, nil)
	p, err := Build(g)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.NumBatches() != 0 || p.Len() != 0 {
		t.Errorf("expected empty plan, got %v", p.Batches())
	}
}

// Every step appears exactly once, after all of its dependencies.
func TestBuild_RandomDAGInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(30)
		steps := make(map[string][]string, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("s%02d", i)
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(4) == 0 {
					deps = append(deps, fmt.Sprintf("s%02d", j))
				}
			}
			steps[id] = deps
		}
		g := build(t, steps)
		p, err := Build(g)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}

		if p.Len() != n {
			t.Fatalf("round %d: %d steps scheduled, want %d", round, p.Len(), n)
		}
		count := 0
		for _, b := range p.Batches() {
			count += len(b)
		}
		if count != n {
			t.Fatalf("round %d: steps appear %d times, want %d", round, count, n)
		}
		for id, deps := range steps {
			bi, _ := p.BatchOf(id)
			for _, d := range deps {
				di, _ := p.BatchOf(d)
				if di >= bi {
					t.Fatalf("round %d: %s in batch %d not after dependency %s in batch %d", round, id, bi, d, di)
				}
			}
		}
	}
}

func TestFromBatches(t *testing.T) {
	p, err := FromBatches([][]string{{"a", "b"}, {"c"}})
	if err != nil {
		t.Fatalf("FromBatches: %v", err)
	}
	if i, ok := p.BatchOf("c"); !ok || i != 1 {
		t.Errorf("BatchOf(c) = %d, %v", i, ok)
	}

	_, err = FromBatches([][]string{{"a"}, {"a"}})
	if !errors.HasCode(err, errors.ErrCodeDuplicateStep) {
		t.Fatalf("expected DUPLICATE_STEP, got %v", err)
	}
}

func TestPlan_BatchesAreCopies(t *testing.T) {
	p, _ := FromBatches([][]string{{"a"}})
	b := p.Batches()
	b[0][0] = "x"
	if p.Batch(0)[0] != "a" {
		t.Error("plan mutated through returned batches")
	}
}
