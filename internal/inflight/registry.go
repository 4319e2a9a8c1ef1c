// Package inflight tracks which render jobs this process is currently
// running, so concurrent identical requests start at most one render.
package inflight

import "sync"

// Registry is a mutex-guarded set of job keys. The zero value is not usable;
// construct it with New and inject it where needed.
type Registry struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{keys: make(map[string]struct{})}
}

// Add inserts key. Adding a present key is a no-op.
func (r *Registry) Add(key string) {
	r.mu.Lock()
	r.keys[key] = struct{}{}
	r.mu.Unlock()
}

// Contains reports whether key is in flight.
func (r *Registry) Contains(key string) bool {
	r.mu.Lock()
	_, ok := r.keys[key]
	r.mu.Unlock()
	return ok
}

// Remove deletes key. Removing an absent key is a no-op.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	delete(r.keys, key)
	r.mu.Unlock()
}

// TryAdd inserts key and returns true, or returns false if it was already
// present. Check and insert happen under one lock.
func (r *Registry) TryAdd(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key]; ok {
		return false
	}
	r.keys[key] = struct{}{}
	return true
}

// Len returns the number of keys in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
