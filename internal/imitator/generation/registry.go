package generation

import (
	"fmt"
	"sync"

	"github.com/bdobrica/Mimic/common/spec/backend"
)

// Factory constructs a backend. It is called at most once successfully per
// registry entry.
type Factory func() (Backend, error)

// Registry maps backend kinds to lazily constructed backends. The active kind
// is chosen per message from the stored setting, so a backend that is never
// selected is never built.
type Registry struct {
	mu        sync.Mutex
	factories map[backend.Kind]Factory
	built     map[backend.Kind]Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[backend.Kind]Factory),
		built:     make(map[backend.Kind]Backend),
	}
}

// Register installs the factory for kind, replacing any previous one.
func (r *Registry) Register(kind backend.Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
	delete(r.built, kind)
}

// Get returns the backend for name. Unknown names wrap backend.ErrUnknown; a
// known kind that is not configured or fails to build wraps ErrUnavailable.
func (r *Registry) Get(name string) (Backend, error) {
	kind, err := backend.Parse(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.built[kind]; ok {
		return b, nil
	}
	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: backend %q is not configured", ErrUnavailable, kind)
	}
	b, err := f()
	if err != nil {
		return nil, fmt.Errorf("%w: build %s backend: %w", ErrUnavailable, kind, err)
	}
	r.built[kind] = b
	return b, nil
}

// Configured reports the kinds that have a factory, in backend.All order.
func (r *Registry) Configured() []backend.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []backend.Kind
	for _, k := range backend.All() {
		if _, ok := r.factories[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
