// Package factory provides a declarative test-data factory built around named blueprints.
//
// A blueprint describes how to produce the attributes of one kind of record:
// literal values, generated values, auto-incrementing sequences and
// associations to records produced by other blueprints. Blueprints can inherit
// from each other and are materialized either into an in-memory attribute bag
// ([Factory.Build]) or into a persisted record ([Factory.Create]).
//
// # Defining Blueprints
//
//	f := factory.New(memstore.New(models))
//
//	f.Define("user").
//	    Attr("email", "a@test.com").
//	    Attr("age", 0, factory.AutoIncrement(5))
//
//	f.Define("admin").
//	    Parent("user").
//	    Attr("role", "admin")
//
//	f.Define("post").
//	    Attr("title", "Hello").
//	    Attr("author", "user", factory.AsAssociation())
//
// # Attribute Values
//
// Attribute values are normalized once, when declared, into a [Value]:
//
//   - [Literal] values are copied into every materialized bag
//   - [Generate] values are computed on every materialization
//
// Plain Go values are literals; functions of the forms func() any,
// func() (any, error) and func(context.Context) (any, error) are generators.
//
// # Sequences
//
// An attribute declared with [AutoIncrement] advances its counter by the
// configured step on every materialization and returns base + counter.
// Numbers add numerically, strings get the decimal counter appended.
// Counters live on the blueprint and are never reset.
//
// # Associations
//
// An attribute declared with [Association] names the blueprint of the record
// it points to. Materializing the owner creates that record through the
// [Persister] and stores its identifier. The persister's association metadata
// must describe a to-one association whose alias is the attribute name and
// whose target is the associated blueprint's model; anything else fails with
// [ErrUnsupportedAssociation].
//
// # Errors
//
//   - [ErrUndefinedBlueprint] - blueprint name is not registered
//   - [ErrUnsupportedAssociation] - association metadata does not allow the association
//   - [ErrInvalidAttribute] - attribute declaration was rejected
//   - [ErrNoPersister] - Create called on a factory without a persister
//
// Resolution and persistence failures are returned as [*Error], which keeps
// the underlying cause and a deep rendering of it.
package factory
