package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the length of the frame length prefix.
	HeaderSize = 4

	// DefaultMaxFrameSize bounds a single payload.
	DefaultMaxFrameSize = 64 << 20
)

// WriteFrame writes payload prefixed with its big-endian length in a single write.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame. Reads loop until the announced length is satisfied.
// A peer that closes before a complete frame yields ErrNoData. maxSize of 0 means
// DefaultMaxFrameSize.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, eofAsNoData(err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, eofAsNoData(err)
	}
	return payload, nil
}

func eofAsNoData(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrNoData
	}
	return fmt.Errorf("read frame: %w", err)
}
