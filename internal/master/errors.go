package master

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a running master.
	ErrAlreadyStarted = errors.New("server already started")

	// ErrNotStarted is returned by Stop on a master that was never started.
	ErrNotStarted = errors.New("server not started")

	// ErrMasterStopped is the terminal error of orders still waiting when the master stops.
	ErrMasterStopped = errors.New("master stopped")

	// ErrOrderTimeout is the terminal error of orders that exceed the configured timeout.
	ErrOrderTimeout = errors.New("work order timed out")

	// ErrInvalidWorker is returned for registrations without a name or address.
	ErrInvalidWorker = errors.New("invalid worker registration")

	// ErrDuplicateWorker is returned when a worker id is already registered.
	ErrDuplicateWorker = errors.New("worker already registered")

	// ErrUnknownWorker is returned when deregistering an id that is not registered.
	ErrUnknownWorker = errors.New("worker not found")

	// ErrUnknownOrder is returned for results addressed to an order that is not active.
	ErrUnknownOrder = errors.New("work order not found")

	// ErrFragmentIndex is returned for fragment indices outside the order's range.
	ErrFragmentIndex = errors.New("fragment index out of range")

	// ErrDuplicateFragment is returned when an index is reported twice.
	ErrDuplicateFragment = errors.New("fragment already recorded")

	// ErrOrderIncomplete is returned by Result before every fragment has arrived.
	ErrOrderIncomplete = errors.New("work order incomplete")
)
