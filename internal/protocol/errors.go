package protocol

import "errors"

var (
	// ErrNoData is returned when the peer closes the connection before a complete frame arrives.
	ErrNoData = errors.New("no data")

	// ErrFrameTooLarge is returned when a frame header announces more bytes than allowed.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrMalformedMessage is returned when a payload cannot be decoded into a valid message.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownMessageType is returned by dispatchers for an unrecognised type field.
	ErrUnknownMessageType = errors.New("unrecognized message type")
)
