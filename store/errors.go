package store

import "errors"

var (
	// ErrDependencyNotFound is returned when an associated record doesn't exist or is torn down.
	ErrDependencyNotFound = errors.New("grove: dependency record not found")

	// ErrNotFound is returned when a record doesn't exist or is torn down (has TTL <= now).
	ErrNotFound = errors.New("grove: record not found")

	// ErrAlreadyExists is returned when attempting to create a record with an existing id.
	ErrAlreadyExists = errors.New("grove: record already exists")

	// ErrHasDependents is returned when tearing down a record that active records depend on.
	ErrHasDependents = errors.New("grove: record has active dependents")
)
