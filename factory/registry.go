package factory

import (
	"fmt"
	"sort"
	"sync"
)

// DefineOption configures a blueprint definition.
type DefineOption func(*defineOptions)

type defineOptions struct {
	model    string
	explicit bool
}

// Model sets the model name explicitly. Parent will not replace it.
func Model(name string) DefineOption {
	return func(o *defineOptions) {
		o.model = name
		o.explicit = true
	}
}

// DefaultModel sets a fallback model name, such as one derived from a
// definition file name. Parent still replaces it with the parent's model.
func DefaultModel(name string) DefineOption {
	return func(o *defineOptions) {
		if o.explicit {
			return
		}
		o.model = name
	}
}

// Registry holds all defined blueprints by name.
type Registry struct {
	mu         sync.RWMutex
	blueprints map[string]*Blueprint
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		blueprints: make(map[string]*Blueprint),
	}
}

// Define creates a blueprint and registers it under name, replacing any
// existing blueprint with the same name. The blueprint is returned for
// chained configuration.
func (r *Registry) Define(name string, opts ...DefineOption) *Blueprint {
	var o defineOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := newBlueprint(name, r)
	b.setModel(o.model, o.explicit)
	if name == "" {
		b.fail(fmt.Errorf("%w: empty blueprint name", ErrInvalidAttribute))
		return b
	}

	r.mu.Lock()
	r.blueprints[name] = b
	r.mu.Unlock()
	return b
}

// Lookup returns the blueprint registered under name.
func (r *Registry) Lookup(name string) (*Blueprint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blueprints[name]
	return b, ok
}

// Names returns all registered blueprint names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.blueprints))
	for name := range r.blueprints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered blueprints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blueprints)
}

// Reset removes all blueprints.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.blueprints = make(map[string]*Blueprint)
	r.mu.Unlock()
}
