package wsconn

import (
	"context"
	"sync"
)

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type registryEntry struct {
	manager *Manager
	refs    int
}

// Registry shares one opened Manager per endpoint between every node that
// references it. Managers are closed when their last reference is released.
type Registry struct {
	opts []Option

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry returns an empty Registry. opts are applied to every Manager
// it creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:    opts,
		entries: make(map[string]*registryEntry),
	}
}

// Acquire returns the opened Manager for endpoint, creating it on first use.
func (r *Registry) Acquire(endpoint Endpoint) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := endpoint.Key()
	e, ok := r.entries[key]
	if !ok {
		e = &registryEntry{manager: New(endpoint, r.opts...)}
		r.entries[key] = e
	}
	e.refs++
	e.manager.Open()
	return e.manager
}

// Lookup returns the Manager for endpoint without taking a reference.
func (r *Registry) Lookup(endpoint Endpoint) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[endpoint.Key()]
	if !ok {
		return nil, false
	}
	return e.manager, true
}

// Release drops one reference to endpoint. When none remain the Manager is
// closed and its completion channel returned; otherwise, or for an unknown
// endpoint, the returned channel is already closed.
func (r *Registry) Release(endpoint Endpoint) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := endpoint.Key()
	e, ok := r.entries[key]
	if !ok {
		return closedChan
	}
	e.refs--
	if e.refs > 0 {
		return closedChan
	}
	delete(r.entries, key)
	return e.manager.Close()
}

// Len returns the number of endpoints with at least one reference.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseAll closes every Manager regardless of references and waits for
// them to finish or for ctx to end.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	pending := make([]<-chan struct{}, 0, len(r.entries))
	for key, e := range r.entries {
		pending = append(pending, e.manager.Close())
		delete(r.entries, key)
	}
	r.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
