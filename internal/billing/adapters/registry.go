// Package adapters holds the billing provider adapter registry.
package adapters

import (
	"strings"

	"github.com/paxiitdevteam/retentionos/internal/billing/domain"
)

// Registry resolves provider names to their adapters.
type Registry struct {
	adapters map[string]domain.Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(list ...domain.Adapter) *Registry {
	adapters := make(map[string]domain.Adapter, len(list))
	for _, adapter := range list {
		if adapter == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(adapter.Name()))
		if name == "" {
			continue
		}
		adapters[name] = adapter
	}
	return &Registry{adapters: adapters}
}

// Get returns the adapter for the provider, if registered.
func (r *Registry) Get(provider string) (domain.Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(provider))]
	return adapter, ok
}

// Exists reports whether the provider is registered.
func (r *Registry) Exists(provider string) bool {
	_, ok := r.Get(provider)
	return ok
}
