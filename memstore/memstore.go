// Package memstore provides an in-memory persister for tests and dry runs.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/grove/factory"
	"github.com/jacentio/grove/schema"
)

var (
	// ErrNotFound is returned when a record doesn't exist.
	ErrNotFound = errors.New("grove: record not found")

	// ErrAlreadyExists is returned when a record with the same id already exists.
	ErrAlreadyExists = errors.New("grove: record already exists")
)

// Store keeps created records in memory, grouped by model.
type Store struct {
	schema *schema.Registry

	mu      sync.RWMutex
	records map[string][]factory.Record
	ids     map[string]map[string]int
}

// New creates an empty Store. A nil registry means no model has associations.
func New(models *schema.Registry) *Store {
	if models == nil {
		models = schema.NewRegistry()
	}
	return &Store{
		schema:  models,
		records: make(map[string][]factory.Record),
		ids:     make(map[string]map[string]int),
	}
}

// Schema returns the model registry.
func (s *Store) Schema() *schema.Registry {
	return s.schema
}

// CreateRecord stores a copy of attrs. A random id is assigned when attrs has none.
func (s *Store) CreateRecord(ctx context.Context, model string, attrs factory.Attrs) (factory.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := make(factory.Record, len(attrs)+1)
	for k, v := range attrs {
		rec[k] = v
	}
	if rec.ID() == nil {
		rec["id"] = uuid.NewString()
	}
	key := strings.ToLower(model)
	id := fmt.Sprint(rec.ID())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[key][id]; exists {
		return nil, fmt.Errorf("%w: %s %s", ErrAlreadyExists, model, id)
	}
	if s.ids[key] == nil {
		s.ids[key] = make(map[string]int)
	}
	s.ids[key][id] = len(s.records[key])
	s.records[key] = append(s.records[key], rec)

	return clone(rec), nil
}

// Associations returns the association metadata of model.
func (s *Store) Associations(ctx context.Context, model string) ([]factory.Association, error) {
	return s.schema.Associations(ctx, model)
}

// Get returns a copy of the record of model with the given id.
func (s *Store) Get(model string, id any) (factory.Record, error) {
	key := strings.ToLower(model)

	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.ids[key][fmt.Sprint(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s.records[key][i]), nil
}

// Records returns copies of all records of model in creation order.
func (s *Store) Records(model string) []factory.Record {
	key := strings.ToLower(model)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]factory.Record, len(s.records[key]))
	for i, rec := range s.records[key] {
		out[i] = clone(rec)
	}
	return out
}

// Count returns the number of records of model.
func (s *Store) Count(model string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[strings.ToLower(model)])
}

// Reset removes all records.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string][]factory.Record)
	s.ids = make(map[string]map[string]int)
}

func clone(rec factory.Record) factory.Record {
	out := make(factory.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
