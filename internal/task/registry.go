package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Kind applies one named computation to a fragment.
// Implementations must return a slice positionally aligned with chunk, or an error.
type Kind interface {
	// Type returns the name descriptors use to select this kind.
	Type() string

	// Apply computes the fragment result.
	Apply(ctx context.Context, desc Descriptor, chunk []any) ([]any, error)
}

// Registry maps kind names to implementations.
type Registry struct {
	kinds map[string]Kind
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]Kind),
	}
}

// Register adds a kind. Registering a name twice is an error.
func (r *Registry) Register(kind Kind) error {
	if kind == nil {
		return fmt.Errorf("cannot register nil kind")
	}

	name := kind.Type()
	if name == "" {
		return fmt.Errorf("kind name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[name]; exists {
		return fmt.Errorf("kind already registered: %s", name)
	}

	r.kinds[name] = kind
	return nil
}

// MustRegister registers kind and panics on error.
func (r *Registry) MustRegister(kind Kind) {
	if err := r.Register(kind); err != nil {
		panic(err)
	}
}

// Unregister removes a kind.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.kinds, name)
}

// Get returns the kind registered under name, or nil.
func (r *Registry) Get(name string) Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kinds[name]
}

// GetOrError returns the kind registered under name or ErrUnknownKind.
func (r *Registry) GetOrError(name string) (Kind, error) {
	kind := r.Get(name)
	if kind == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, name)
	}
	return kind, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.kinds[name]
	return exists
}

// Types returns the registered names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered kinds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kinds)
}

// Apply validates desc, resolves its kind and applies it to chunk.
func (r *Registry) Apply(ctx context.Context, desc Descriptor, chunk []any) ([]any, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	kind, err := r.GetOrError(desc.Kind)
	if err != nil {
		return nil, err
	}

	out, err := kind.Apply(ctx, desc, chunk)
	if err != nil {
		return nil, err
	}
	if len(out) != len(chunk) {
		return nil, fmt.Errorf("%s: produced %d results for %d elements", desc.Kind, len(out), len(chunk))
	}
	return out, nil
}
