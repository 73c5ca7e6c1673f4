// Package sections tracks the "read current section" callback registered by
// whichever screen has readable content loaded.
package sections

import "sync"

// ReadFunc reads the named section aloud.
type ReadFunc func(section string)

// Registry holds at most one ReadFunc.
type Registry struct {
	mu   sync.RWMutex
	read ReadFunc
	gen  uint64
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Set installs fn, replacing any previous callback. The returned func clears
// the registry only if fn is still the installed callback.
func (r *Registry) Set(fn ReadFunc) (clear func()) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.read = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.gen == gen {
			r.read = nil
		}
	}
}

// Get returns the current callback, if any.
func (r *Registry) Get() (ReadFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read, r.read != nil
}

// Clear removes the current callback.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.read = nil
}
