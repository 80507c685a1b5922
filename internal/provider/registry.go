package provider

import (
	"strings"
	"sync"
)

// Registry maps provider ids to their adapters. Adapters register at
// startup; lookups happen on every dispatch.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(providerID string, adapter Adapter) {
	if r == nil || adapter == nil {
		return
	}
	key := normalizeProviderID(providerID)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[key] = adapter
}

func (r *Registry) Get(providerID string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	key := normalizeProviderID(providerID)
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[key]
	return adapter, ok
}

func normalizeProviderID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
