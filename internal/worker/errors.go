package worker

import "errors"

var (
	// ErrRejected is returned by Connect when the master refuses the registration.
	ErrRejected = errors.New("registration rejected")

	// ErrRegisterTimeout is returned by Connect when no reply arrives in time.
	ErrRegisterTimeout = errors.New("registration timed out")

	// ErrAlreadyStarted is returned by Start on a running worker.
	ErrAlreadyStarted = errors.New("server already started")

	// ErrNotStarted is returned when an operation needs the listener.
	ErrNotStarted = errors.New("server not started")

	// ErrAlreadyConnected is returned by Connect when the worker is registering or registered.
	ErrAlreadyConnected = errors.New("already connected to a master")

	// ErrNotConnected is returned when a fragment arrives without a known master.
	ErrNotConnected = errors.New("not connected to a master")
)
