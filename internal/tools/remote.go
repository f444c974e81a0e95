package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// RemoteProvider executes remote-tagged tools server-side. headers carries
// per-execution overrides (scoped to one run or workflow trigger) and may
// be nil.
type RemoteProvider interface {
	Name() string
	ExecuteTool(ctx context.Context, name string, args map[string]any, headers map[string]string) (string, error)
}

// ProviderRegistry maps provider names to RemoteProviders. Populated at
// startup, read-only afterwards, so concurrent session reads need no
// locking beyond the build phase.
type ProviderRegistry struct {
	mu        sync.Mutex
	providers map[string]RemoteProvider
	sealed    bool
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]RemoteProvider)}
}

// Register adds a provider. Registering after Seal or registering the same
// name twice is a startup error.
func (r *ProviderRegistry) Register(p RemoteProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("provider registry sealed; cannot register %s", p.Name())
	}
	if _, dup := r.providers[p.Name()]; dup {
		return fmt.Errorf("remote tool provider %s registered twice", p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Seal freezes the registry after startup wiring.
func (r *ProviderRegistry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get returns a provider by name.
func (r *ProviderRegistry) Get(name string) (RemoteProvider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns registered provider names, sorted for stable errors.
func (r *ProviderRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
