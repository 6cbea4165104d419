package store

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/grove/factory"
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// RecordKey returns the primary key of a record table item.
func RecordKey(id string) PK {
	return PK{"id": &types.AttributeValueMemberS{Value: id}}
}

// EntityRef returns the type-qualified reference of a record (e.g., "user#uuid").
func EntityRef(model, id string) string {
	return strings.ToLower(model) + "#" + id
}

// Item represents a retrieved record with its managed fields.
type Item struct {
	// Raw is the raw DynamoDB item.
	Raw map[string]types.AttributeValue

	// Record is the decoded item, managed fields included.
	Record factory.Record

	// Version is incremented by every write.
	Version int64

	// CreatedAt is the ISO 8601 creation timestamp.
	CreatedAt string

	// UpdatedAt is the ISO 8601 last update timestamp.
	UpdatedAt string

	// EntityRef is the type-qualified record reference.
	EntityRef string

	// DependencyRefs are the references of the records this one associates with.
	DependencyRefs []string
}

// DependentRef represents a record that depends on another, as stored in the
// relationship table.
type DependentRef struct {
	// Ref is the dependent's entity reference.
	Ref string

	// TableName is the DynamoDB table containing the dependent.
	TableName string

	// Key is the primary key to locate the dependent.
	Key PK

	// ShardPK is the relationship table partition key (for TTL updates).
	ShardPK string
}

// TeardownOptions configures teardown behavior.
type TeardownOptions struct {
	// Cascade tears the record down even when dependents are active; the
	// stream handler then tears them down as well.
	Cascade bool

	// OrphanProtect fails the teardown if active dependents exist.
	OrphanProtect bool
}
