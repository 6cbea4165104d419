// Package store persists fixture records into DynamoDB with dependency tracking.
//
// Every record created through [Store.CreateRecord] is written in one
// transaction together with:
//
//   - a condition check per to-one association, so a record never references
//     a missing or torn down dependency
//   - a relationship record per association, keyed by the dependency, so the
//     dependents of any record can be found later
//
// # Teardown
//
// Fixtures are removed by setting their TTL. [Store.Teardown] marks one
// record; the stream package propagates the TTL from a dependency to all of
// its dependents through DynamoDB Streams. TTL'd records are invisible to
// [Store.Get] immediately, before DynamoDB physically removes them.
//
// # Configuration
//
// Use [DefaultConfig] for small datasets (NumShards=1, single queries).
// Increase NumShards when one dependency has many dependents:
//
//	cfg := store.DefaultConfig()
//	cfg.NumShards = 16
//
// # Errors
//
//   - [ErrNotFound] - record doesn't exist or is torn down
//   - [ErrDependencyNotFound] - an associated record is missing
//   - [ErrAlreadyExists] - record with the same id already exists
//   - [ErrHasDependents] - teardown refused because dependents are active
package store
