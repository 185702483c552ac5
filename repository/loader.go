package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbukum/runflow/errors"
)

// LoadFile reads a definitions file and everything it includes and builds
// the repository it declares. The repository is named by the root file's
// repository attribute, or by the file name when the attribute is absent.
func LoadFile(path string) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.InvalidConfig("workspace", err.Error()).WithCause(err)
	}

	l := &loader{resolved: make(map[string]bool), owner: make(map[string]string)}
	root, err := l.load(abs)
	if err != nil {
		return nil, err
	}

	name := root.Repository
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	}
	b := NewBuilder(name, abs)
	for _, job := range l.jobs {
		g, err := job.Graph()
		if err != nil {
			return nil, withJob(err, job.Name)
		}
		if err := b.AddJob(job.Name, job.Description, g); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// loader walks includes depth first. stack holds the current include chain
// for cycle detection; resolved holds files already merged so a file reached
// through two paths is read once.
type loader struct {
	stack    []string
	resolved map[string]bool
	owner    map[string]string
	jobs     []JobDef
}

func (l *loader) load(path string) (*FileDef, error) {
	for i, p := range l.stack {
		if p == path {
			chain := append(append([]string(nil), l.stack[i:]...), path)
			return nil, errors.InvalidConfig("include", "include cycle: "+strings.Join(chain, " -> ")).
				WithDetail("cycle", chain)
		}
	}
	l.stack = append(l.stack, path)
	defer func() { l.stack = l.stack[:len(l.stack)-1] }()

	def, err := readFile(path)
	if err != nil {
		return nil, err
	}

	// Included jobs come first so the including file reads top-down.
	for _, inc := range def.Include {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(filepath.Dir(path), incPath)
		}
		incPath = filepath.Clean(incPath)
		if l.resolved[incPath] {
			continue
		}
		sub, err := l.load(incPath)
		if err != nil {
			return nil, err
		}
		if len(l.stack) == 1 && sub.Repository != "" && def.Repository != "" && sub.Repository != def.Repository {
			return nil, errors.InvalidConfig("include",
				fmt.Sprintf("%s declares repository %q inside repository %q", incPath, sub.Repository, def.Repository))
		}
	}

	for _, job := range def.Jobs {
		if prev, ok := l.owner[job.Name]; ok {
			return nil, errors.InvalidConfig("jobs",
				fmt.Sprintf("job %q is defined in both %s and %s", job.Name, prev, path))
		}
		l.owner[job.Name] = path
		l.jobs = append(l.jobs, job)
	}
	l.resolved[path] = true
	return def, nil
}

func readFile(path string) (*FileDef, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("definitions file", path).WithCause(err)
		}
		return nil, errors.InvalidConfig("workspace", err.Error()).WithCause(err)
	}
	return Decode(path, format, data)
}

func withJob(err error, job string) error {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.WithDetail("job", job)
	}
	return fmt.Errorf("job %s: %w", job, err)
}
