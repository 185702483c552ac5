package repository

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/graph"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const etlYAML = `
repository: analytics
jobs:
  - name: daily
    description: nightly load
    steps:
      - id: extract
        fn: exec
        args: [echo, hi]
      - id: clean
        fn: noop
        depends_on: [extract]
      - id: enrich
        fn: noop
        depends_on: [extract]
      - id: load
        fn: noop
        env: warehouse
        depends_on: [clean, enrich]
`

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "etl.yaml", etlYAML)

	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if r.Name != "analytics" || r.Location != path {
		t.Fatalf("repository = %s at %s", r.Name, r.Location)
	}
	job, err := r.Job("daily")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	want := [][]string{{"extract"}, {"clean", "enrich"}, {"load"}}
	if got := job.Plan.Batches(); !reflect.DeepEqual(got, want) {
		t.Errorf("batches = %v", got)
	}
	step, _ := job.Graph.Step("load")
	if step.Env != "warehouse" {
		t.Errorf("env = %q", step.Env)
	}
	if job.Description != "nightly load" {
		t.Errorf("description = %q", job.Description)
	}
}

func TestLoadFile_HCL(t *testing.T) {
	path := writeFile(t, t.TempDir(), "reports.hcl", `
job "weekly" {
  description = "weekly report"

  step "query" {
    fn   = "exec"
    args = ["echo", "rows"]
  }

  step "render" {
    fn         = "noop"
    depends_on = ["query"]
  }
}
`)
	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if r.Name != "reports" {
		t.Errorf("name defaults to file name, got %q", r.Name)
	}
	job, err := r.Job("weekly")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if got := job.Order(); !reflect.DeepEqual(got, []string{"query", "render"}) {
		t.Errorf("order = %v", got)
	}
	q, _ := job.Graph.Step("query")
	if !reflect.DeepEqual(q.Args, []string{"echo", "rows"}) {
		t.Errorf("args = %v", q.Args)
	}
}

func TestLoadFile_Includes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
jobs:
  - name: base
    steps:
      - id: a
        fn: noop
`)
	writeFile(t, dir, "left.yaml", `
include: [base.yaml]
jobs:
  - name: left
    steps:
      - id: a
        fn: noop
`)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "sub/right.hcl", `
include = ["../base.yaml"]
job "right" {
  step "a" {
    fn = "noop"
  }
}
`)
	root := writeFile(t, dir, "root.yaml", `
repository: diamond
include: [left.yaml, sub/right.hcl]
jobs:
  - name: top
    steps:
      - id: a
        fn: noop
`)
	r, err := LoadFile(root)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	var names []string
	for _, j := range r.Jobs() {
		names = append(names, j.Name)
	}
	if !reflect.DeepEqual(names, []string{"base", "left", "right", "top"}) {
		t.Errorf("jobs = %v", names)
	}
}

func TestLoadFile_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := LoadFile(filepath.Join(dir, "a.yaml"))
	if !errors.HasCode(err, errors.ErrCodeInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}
	if !strings.Contains(err.Error(), "include cycle") {
		t.Errorf("error = %v", err)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		code    errors.ErrorCode
	}{
		{"cycle", "c.yaml", `
jobs:
  - name: loop
    steps:
      - {id: a, fn: noop, depends_on: [b]}
      - {id: b, fn: noop, depends_on: [a]}
`, errors.ErrCodeCycle},
		{"unknown dependency", "u.yaml", `
jobs:
  - name: j
    steps:
      - {id: a, fn: noop, depends_on: [ghost]}
`, errors.ErrCodeUnknownDependency},
		{"duplicate step", "d.yaml", `
jobs:
  - name: j
    steps:
      - {id: a, fn: noop}
      - {id: a, fn: noop}
`, errors.ErrCodeDuplicateStep},
		{"missing fn", "m.yaml", `
jobs:
  - name: j
    steps:
      - {id: a}
`, errors.ErrCodeInvalidConfig},
		{"unknown field", "f.yaml", `
jobs:
  - name: j
    stepz: []
`, errors.ErrCodeInvalidConfig},
		{"duplicate job", "j.yaml", `
jobs:
  - name: j
    steps: [{id: a, fn: noop}]
  - name: j
    steps: [{id: a, fn: noop}]
`, errors.ErrCodeInvalidConfig},
		{"bad hcl", "b.hcl", `job "x" {`, errors.ErrCodeInvalidConfig},
		{"extension", "x.json", `{}`, errors.ErrCodeInvalidConfig},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tc.file, tc.content)
			_, err := LoadFile(path)
			if !errors.HasCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("missing file: expected NOT_FOUND, got %v", err)
	}
}

func TestBuilder(t *testing.T) {
	gb := graph.NewBuilder()
	_ = gb.Add("a", "noop")
	g, err := gb.Build()
	if err != nil {
		t.Fatal(err)
	}

	b := NewBuilder("repo", "")
	if err := b.AddJob("j", "", g); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := b.AddJob("j", "", g); !errors.HasCode(err, errors.ErrCodeAlreadyExists) {
		t.Errorf("duplicate job: expected ALREADY_EXISTS, got %v", err)
	}
	r, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := r.Job("nope"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	if _, err := NewBuilder("", "").Build(); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("empty name: expected INVALID_INPUT, got %v", err)
	}
}

func TestWorkspace(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "etl.yaml", etlYAML)
	override := writeFile(t, dir, "override.yaml", `
repository: analytics
jobs:
  - name: hotfix
    steps: [{id: only, fn: noop}]
`)
	other := writeFile(t, dir, "ops.hcl", `
repository = "ops"
job "backup" {
  step "dump" { fn = "noop" }
}
`)

	w, err := LoadWorkspace(first, other)
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}
	all, err := w.List(Selector{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].Name != "analytics" || all[1].Name != "ops" {
		t.Fatalf("listing = %+v", all)
	}
	if got := all[0].Jobs[0].Order; !reflect.DeepEqual(got, []string{"extract", "clean", "enrich", "load"}) {
		t.Errorf("order = %v", got)
	}

	byLoc, err := w.List(Selector{Location: other})
	if err != nil || len(byLoc) != 1 || byLoc[0].Name != "ops" {
		t.Errorf("location selector = %+v, %v", byLoc, err)
	}
	if _, err := w.List(Selector{Repository: "ghost"}); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("unknown repository: expected NOT_FOUND, got %v", err)
	}

	w, err = LoadWorkspace(first, override)
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}
	if _, err := w.Job("analytics", "daily"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("override should replace the repository, got %v", err)
	}
	if _, err := w.Job("analytics", "hotfix"); err != nil {
		t.Errorf("hotfix: %v", err)
	}

	empty, err := NewWorkspace().List(Selector{})
	if err != nil || len(empty) != 0 {
		t.Errorf("empty workspace = %v, %v", empty, err)
	}
}
