package worker

import (
	"context"
	"sort"
	"sync"

	"github.com/kbukum/runflow/errors"
)

// Input is what a Func receives for one attempt.
type Input struct {
	RunID    string
	StepID   string
	Env      string
	Attempt  int
	Args     []string
	Upstream map[string][]byte
}

// Func executes a step and returns its output payload.
type Func func(ctx context.Context, in Input) ([]byte, error)

// Registry maps function names to implementations. It is frozen on first
// lookup; registering afterwards fails.
type Registry struct {
	mu     sync.RWMutex
	funcs  map[string]Func
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// DefaultRegistry returns a registry holding the built-in functions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("noop", Noop)
	r.MustRegister("exec", Exec)
	return r
}

// Register adds fn under name.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return errors.InvalidInput("fn", "function name and implementation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errors.Conflict("function registry is frozen; register " + name + " before use")
	}
	if _, ok := r.funcs[name]; ok {
		return errors.AlreadyExists("function").WithDetail("fn", name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is Register that panics on error. Use it during setup.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	frozen := r.frozen
	r.mu.RUnlock()
	if !frozen {
		r.Freeze()
	}
	if !ok {
		return nil, errors.NotFound("function", name)
	}
	return fn, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Call looks up and runs a function.
func (r *Registry) Call(ctx context.Context, name string, in Input) ([]byte, error) {
	fn, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return fn(ctx, in)
}
