// Package adapters contains the source adapter registry and the concrete
// adapters that extract scholarship candidates from listing sites.
package adapters

import (
	"fmt"
	"sort"
	"sync"

	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

// Registry holds the registered source adapters keyed by name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]scholar.SourceAdapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]scholar.SourceAdapter)}
}

// Register adds an adapter. Names must be unique.
func (r *Registry) Register(adapter scholar.SourceAdapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is required")
	}
	name := adapter.Name()
	if name == "" {
		return fmt.Errorf("adapter name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %q already registered", name)
	}
	r.adapters[name] = adapter
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (scholar.SourceAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// All returns every adapter ordered by descending priority, then name.
func (r *Registry) All() []scholar.SourceAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]scholar.SourceAdapter, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		out = append(out, adapter)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}
