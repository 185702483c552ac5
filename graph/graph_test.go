package graph

import (
	"reflect"
	"testing"

	"github.com/kbukum/runflow/errors"
)

func mustBuild(t *testing.T, add func(b *Builder)) *Graph {
	t.Helper()
	b := NewBuilder()
	add(b)
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestBuilder_DuplicateStepRejectedImmediately(t *testing.T) {
	b := NewBuilder()
	if err := b.Add("a", "noop"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := b.Add("a", "noop")
	if !errors.HasCode(err, errors.ErrCodeDuplicateStep) {
		t.Fatalf("expected DUPLICATE_STEP, got %v", err)
	}
}

func TestBuilder_EmptyID(t *testing.T) {
	if err := NewBuilder().Add(" ", "noop"); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestBuild_UnknownDependencyDeferred(t *testing.T) {
	b := NewBuilder()
	// Forward references are fine as long as the dependency shows up before Build.
	if err := b.Add("b", "noop", "a"); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := b.Add("c", "noop", "missing"); err != nil {
		t.Fatalf("add c: %v", err)
	}
	if err := b.Add("a", "noop"); err != nil {
		t.Fatalf("add a: %v", err)
	}

	_, err := b.Build()
	if !errors.HasCode(err, errors.ErrCodeUnknownDependency) {
		t.Fatalf("expected UNKNOWN_DEPENDENCY, got %v", err)
	}
	appErr, _ := errors.AsAppError(err)
	if appErr.Details["step"] != "c" || appErr.Details["dependency"] != "missing" {
		t.Errorf("unexpected details %v", appErr.Details)
	}
}

func TestBuild_CycleReportsPath(t *testing.T) {
	tests := []struct {
		name  string
		steps map[string][]string
		want  []string
	}{
		{
			name:  "three step cycle",
			steps: map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"a"}},
			want:  []string{"a", "b", "c", "a"},
		},
		{
			name:  "self loop",
			steps: map[string][]string{"a": nil, "b": {"b"}},
			want:  []string{"b", "b"},
		},
		{
			name:  "cycle behind an acyclic prefix",
			steps: map[string][]string{"a": nil, "b": {"a", "d"}, "c": {"b"}, "d": {"c"}},
			want:  []string{"b", "d", "c", "b"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder()
			for id, deps := range tc.steps {
				if err := b.Add(id, "noop", deps...); err != nil {
					t.Fatalf("add %s: %v", id, err)
				}
			}
			_, err := b.Build()
			if !errors.HasCode(err, errors.ErrCodeCycle) {
				t.Fatalf("expected CYCLE, got %v", err)
			}
			appErr, _ := errors.AsAppError(err)
			got, _ := appErr.Details["cycle"].([]string)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("cycle = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGraph_Queries(t *testing.T) {
	g := mustBuild(t, func(b *Builder) {
		_ = b.Add("extract", "noop")
		_ = b.Add("transform", "noop", "extract")
		_ = b.Add("load", "noop", "transform", "extract")
		_ = b.Add("report", "noop", "load")
		_ = b.Add("audit", "noop")
	})

	if g.Len() != 5 {
		t.Errorf("Len = %d", g.Len())
	}
	if got := g.IDs(); !reflect.DeepEqual(got, []string{"audit", "extract", "load", "report", "transform"}) {
		t.Errorf("IDs = %v", got)
	}
	if got := g.Dependencies("load"); !reflect.DeepEqual(got, []string{"transform", "extract"}) {
		t.Errorf("Dependencies(load) = %v", got)
	}
	if got := g.Dependents("extract"); !reflect.DeepEqual(got, []string{"load", "transform"}) {
		t.Errorf("Dependents(extract) = %v", got)
	}
	if got := g.Downstream("extract"); !reflect.DeepEqual(got, []string{"load", "report", "transform"}) {
		t.Errorf("Downstream(extract) = %v", got)
	}
	if got := g.Downstream("audit"); len(got) != 0 {
		t.Errorf("Downstream(audit) = %v", got)
	}
}

func TestGraph_IsImmutable(t *testing.T) {
	b := NewBuilder()
	deps := []string{"a"}
	_ = b.Add("a", "noop")
	_ = b.AddStep(Step{ID: "b", Fn: "noop", DependsOn: deps})
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	deps[0] = "mutated"
	s, _ := g.Step("b")
	s.DependsOn[0] = "also-mutated"

	if got := g.Dependencies("b"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("graph changed through caller slices: %v", got)
	}

	// Steps added after Build do not leak into the frozen graph.
	_ = b.Add("c", "noop")
	if g.Len() != 2 {
		t.Errorf("Len = %d after builder mutation", g.Len())
	}
}

func TestBuilder_DuplicateDependenciesCollapsed(t *testing.T) {
	g := mustBuild(t, func(b *Builder) {
		_ = b.Add("a", "noop")
		_ = b.Add("b", "noop", "a", "a")
	})
	if got := g.Dependencies("b"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Dependencies(b) = %v", got)
	}
	if g.String() != "a; b <- a" {
		t.Errorf("String = %q", g.String())
	}
}
