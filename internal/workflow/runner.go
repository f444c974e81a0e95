// Package workflow provides the stateless, single-shot execution variant:
// named runners triggered with an arbitrary JSON input object and no
// conversation history.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/agentwire/internal/runtime"
	"github.com/nextlevelbuilder/agentwire/internal/session"
	"github.com/nextlevelbuilder/agentwire/internal/tools"
)

// Input carries one workflow trigger. Inputs is the sole contextual input;
// runs are stateless by design, with no implicit memory between triggers.
type Input struct {
	Session    *session.Session
	RunID      string
	ThreadID   string
	WorkflowID string
	Inputs     json.RawMessage
	Tools      *tools.Set
}

// Result reports the outcome of one execution. Success=false implies
// RUN_ERROR was emitted and RUN_FINISHED was not.
type Result struct {
	Success bool
	Error   string
}

// Runner executes one workflow trigger, emitting the run's event stream.
type Runner interface {
	Name() string
	Execute(ctx context.Context, input *Input, events runtime.EventEmitter) *Result
}

// Registry maps runner names to Runners. Read-only after startup.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register adds a runner; duplicate names are a startup error.
func (r *Registry) Register(runner Runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.runners[runner.Name()]; dup {
		return fmt.Errorf("workflow runner %q registered twice", runner.Name())
	}
	r.runners[runner.Name()] = runner
	return nil
}

// Get returns a runner by name.
func (r *Registry) Get(name string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[name]
	return runner, ok
}

// Names returns registered runner names, sorted for stable errors.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.runners))
	for n := range r.runners {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
