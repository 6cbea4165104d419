// Package schema holds model and association metadata shared by the persisters.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jacentio/grove/factory"
)

var (
	// ErrUnknownModel is returned when a model has not been registered.
	ErrUnknownModel = errors.New("grove: unknown model")

	// ErrInvalidSchema is returned when a schema document cannot be used.
	ErrInvalidSchema = errors.New("grove: invalid schema")
)

// Model describes a persisted model.
type Model struct {
	// Name is the model name blueprints refer to (e.g., "user").
	Name string

	// Table is the storage table name. Defaults to Name.
	Table string

	// Associations are the model's associations keyed by alias.
	Associations []factory.Association
}

// TableName returns the storage table of the model.
func (m Model) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return m.Name
}

// Association returns the association with the given alias.
func (m Model) Association(alias string) (factory.Association, bool) {
	for _, a := range m.Associations {
		if a.Alias == alias {
			return a, true
		}
	}
	return factory.Association{}, false
}

// Registry holds all known models. Model names are case-insensitive.
type Registry struct {
	mu     sync.RWMutex
	models []Model
	byName map[string]int
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		models: []Model{},
		byName: make(map[string]int),
	}
}

// Register adds a model, replacing any model with the same name.
func (r *Registry) Register(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(m.Name)
	if i, ok := r.byName[key]; ok {
		r.models[i] = m
		return
	}
	r.byName[key] = len(r.models)
	r.models = append(r.models, m)
}

// Model returns the model registered under name.
func (r *Registry) Model(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Model{}, false
	}
	return r.models[i], true
}

// TableName returns the table of a model, or the model name itself when the
// model is not registered.
func (r *Registry) TableName(name string) string {
	if m, ok := r.Model(name); ok {
		return m.TableName()
	}
	return name
}

// Associations returns the association metadata of a model.
// It satisfies the metadata half of factory.Persister.
func (r *Registry) Associations(_ context.Context, model string) ([]factory.Association, error) {
	m, ok := r.Model(model)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return m.Associations, nil
}

// ToOne returns the to-one associations of a model.
func (r *Registry) ToOne(model string) []factory.Association {
	m, ok := r.Model(model)
	if !ok {
		return nil
	}
	var out []factory.Association
	for _, a := range m.Associations {
		if a.Kind == factory.One {
			out = append(out, a)
		}
	}
	return out
}

// AllModels returns all registered models in registration order.
func (r *Registry) AllModels() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Model(nil), r.models...)
}
