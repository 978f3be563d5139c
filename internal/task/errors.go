package task

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned when a descriptor names a kind the worker does not know.
	ErrUnknownKind = errors.New("unknown task kind")

	// ErrInvalidDescriptor is returned for malformed descriptors.
	ErrInvalidDescriptor = errors.New("invalid task descriptor")

	// ErrNotNumeric is returned by numeric kinds for non-numeric elements.
	ErrNotNumeric = errors.New("element is not numeric")

	// ErrTimeout is returned when an expression runs past its time budget.
	ErrTimeout = errors.New("task timed out")
)

// ApplyError reports the element that made a fragment fail.
type ApplyError struct {
	Kind  string
	Index int
	Value any
	Cause error
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s: element %d (%v): %v", e.Kind, e.Index, e.Value, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ApplyError) Unwrap() error {
	return e.Cause
}
