package compressor

import (
	"fmt"
	"sync"
)

// Registry holds compressor backends in preference order.
type Registry struct {
	mu        sync.RWMutex
	factories []Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make([]Factory, 0)}
}

// Register appends a backend. Backends registered first are preferred.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
}

// All returns every registered backend.
func (r *Registry) All() []Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Factory, len(r.factories))
	copy(out, r.factories)
	return out
}

// Lookup finds a backend by name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.factories {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// Select returns the named backend, or when name is empty or "auto" the
// first available backend that supports codec, hardware backends first.
func (r *Registry) Select(name string, codec CodecType) (Factory, error) {
	if name != "" && name != "auto" {
		f, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown compressor backend %q", name)
		}
		if !f.Available() {
			return nil, fmt.Errorf("compressor backend %q is not available on this system", name)
		}
		if !Supports(f, codec) {
			return nil, fmt.Errorf("compressor backend %q does not support codec %s", name, codec)
		}
		return f, nil
	}

	all := r.All()
	for _, hardware := range []bool{true, false} {
		for _, f := range all {
			if f.Hardware() == hardware && f.Available() && Supports(f, codec) {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("no available compressor backend for codec %s", codec)
}
