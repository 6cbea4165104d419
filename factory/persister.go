package factory

import "context"

// Attrs is a resolved attribute bag.
type Attrs map[string]any

// Record is a persisted record as returned by a Persister.
type Record map[string]any

// ID returns the record's identifier field.
func (r Record) ID() any {
	return r["id"]
}

// AssociationKind is the cardinality of an association.
type AssociationKind string

const (
	// One is a to-one association (the owner stores the target's identifier).
	One AssociationKind = "one"

	// Many is a to-many association.
	Many AssociationKind = "many"
)

// Association describes one association of a model.
type Association struct {
	// Alias is the attribute name on the owning model.
	Alias string

	// Kind is the association cardinality.
	Kind AssociationKind

	// Target is the associated model name.
	Target string
}

// Persister stores materialized records and describes model associations.
// Implementations must be safe for concurrent use: associations are created
// concurrently while a bag is resolved.
type Persister interface {
	// CreateRecord persists attrs as a new record of model.
	CreateRecord(ctx context.Context, model string, attrs Attrs) (Record, error)

	// Associations returns the association metadata of model.
	Associations(ctx context.Context, model string) ([]Association, error)
}
