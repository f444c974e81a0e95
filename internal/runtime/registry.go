package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps agent names to Agents. Populated during startup wiring and
// read-only afterwards, so concurrent lookups across sessions are safe.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent. Two agents with the same name is a startup error.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.agents[a.Name()]; dup {
		return fmt.Errorf("agent %q registered twice", a.Name())
	}
	r.agents[a.Name()] = a
	return nil
}

// Get looks up an agent by name. The error names the available agents so
// peers can correct their request.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent %q not found (available: %v)", name, r.namesLocked())
	}
	return a, nil
}

// Names returns registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
