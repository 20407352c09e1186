package checks

import (
	"fmt"
	"sync"
)

// Registry holds checks in registration order.
type Registry struct {
	mu     sync.RWMutex
	order  []Key
	checks map[Key]Check
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[Key]Check)}
}

// DefaultRegistry returns a registry with every article check registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range ArticleChecks() {
		// Keys are unique by construction.
		_ = r.Register(c)
	}
	return r
}

// Register adds c. Registering a duplicate key is an error.
func (r *Registry) Register(c Check) error {
	if c == nil {
		return fmt.Errorf("check is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[c.Key()]; exists {
		return fmt.Errorf("check %q already registered", c.Key())
	}
	r.checks[c.Key()] = c
	r.order = append(r.order, c.Key())
	return nil
}

// Remove deletes the check registered under key, reporting whether it existed.
func (r *Registry) Remove(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[key]; !exists {
		return false
	}
	delete(r.checks, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get looks up a check by key.
func (r *Registry) Get(key Key) (Check, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[key]
	return c, ok
}

// Keys returns registered keys in registration order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Key(nil), r.order...)
}

// All returns every registered check in registration order.
func (r *Registry) All() []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Check, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.checks[k])
	}
	return out
}

// Select returns the checks for keys in the given order. An empty key list
// selects every registered check.
func (r *Registry) Select(keys ...Key) ([]Check, error) {
	if len(keys) == 0 {
		return r.All(), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Check, 0, len(keys))
	for _, k := range keys {
		c, ok := r.checks[k]
		if !ok {
			return nil, fmt.Errorf("unknown check %q", k)
		}
		out = append(out, c)
	}
	return out, nil
}
