// Package registry provides the name→constructor mapping used for backend
// adapters and conversational tiers. Construction is lazy: only the
// requested entry is instantiated.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a value of type T from a configuration of type C.
type Factory[C, T any] func(C) (T, error)

// Registry maps names to factories. Population happens through explicit
// Register calls at process start, not import-time side effects.
type Registry[C, T any] struct {
	kind string

	mu        sync.RWMutex
	factories map[string]Factory[C, T]
}

// New creates an empty registry. The kind string names the key space in
// error messages ("backend adapter", "tier").
func New[C, T any](kind string) *Registry[C, T] {
	return &Registry[C, T]{
		kind:      kind,
		factories: make(map[string]Factory[C, T]),
	}
}

// Register adds a named factory. Duplicate names are rejected so a typo
// cannot silently shadow an existing entry.
func (r *Registry[C, T]) Register(name string, factory Factory[C, T]) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("%s name is required", r.kind)
	}
	if factory == nil {
		return fmt.Errorf("%s %q: factory is nil", r.kind, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%s already registered: %s", r.kind, name)
	}
	r.factories[name] = factory
	return nil
}

// Create instantiates the named entry. Unknown names fail with an
// UnknownError listing the valid names; no other entry is touched.
func (r *Registry[C, T]) Create(name string, cfg C) (T, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()

	if !ok {
		var zero T
		return zero, &UnknownError{Kind: r.kind, Name: name, Known: r.Names()}
	}
	return factory(cfg)
}

// Names returns the registered names in sorted order.
func (r *Registry[C, T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownError reports a Create call with an unregistered name.
type UnknownError struct {
	Kind  string
	Name  string
	Known []string
}

func (e *UnknownError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown %s: %q (none registered)", e.Kind, e.Name)
	}
	return fmt.Sprintf("unknown %s: %q (registered: %s)", e.Kind, e.Name, strings.Join(e.Known, ", "))
}
