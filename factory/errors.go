package factory

import (
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

var (
	// ErrUndefinedBlueprint is returned when a blueprint name is not registered.
	ErrUndefinedBlueprint = errors.New("grove: blueprint is undefined")

	// ErrUnsupportedAssociation is returned when an association attribute does not
	// match the owning model's association metadata.
	ErrUnsupportedAssociation = errors.New("grove: unsupported association")

	// ErrInvalidAttribute is returned when an attribute declaration is rejected.
	ErrInvalidAttribute = errors.New("grove: invalid attribute")

	// ErrNoPersister is returned by Create when the factory has no persister.
	ErrNoPersister = errors.New("grove: no persister configured")
)

// Error reports a failed build or create.
type Error struct {
	// Op is the failed operation ("build" or "create").
	Op string

	// Blueprint is the name of the blueprint being materialized.
	Blueprint string

	// Cause is the underlying failure.
	Cause error

	// Detail is a fully expanded rendering of Cause.
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("grove: %s %q: %v", e.Op, e.Blueprint, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

func wrapError(op, blueprint string, err error) error {
	return &Error{
		Op:        op,
		Blueprint: blueprint,
		Cause:     err,
		Detail:    dumper.Sdump(err),
	}
}
