package protocol

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// Transport sends and receives framed messages over short-lived TCP connections.
type Transport struct {
	// DialTimeout bounds connection establishment. Zero means no bound beyond ctx.
	DialTimeout time.Duration

	// MaxFrameSize bounds inbound payloads. Zero means DefaultMaxFrameSize.
	MaxFrameSize uint32
}

// DefaultTransport returns a transport with a 5s dial timeout.
func DefaultTransport() *Transport {
	return &Transport{
		DialTimeout:  5 * time.Second,
		MaxFrameSize: DefaultMaxFrameSize,
	}
}

// WriteMessage encodes m and writes it as one frame.
func (t *Transport) WriteMessage(w io.Writer, m *Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

// ReadMessage reads one frame and decodes it.
func (t *Transport) ReadMessage(r io.Reader) (*Message, error) {
	data, err := ReadFrame(r, t.MaxFrameSize)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Send delivers m to addr on a fresh connection and closes it.
func (t *Transport) Send(ctx context.Context, addr string, m *Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := t.SendFrame(ctx, addr, data); err != nil {
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	return nil
}

// SendFrame delivers an already encoded message to addr on a fresh connection.
func (t *Transport) SendFrame(ctx context.Context, addr string, data []byte) error {
	conn, err := t.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := WriteFrame(conn, data); err != nil {
		return fmt.Errorf("write to %s: %w", addr, err)
	}
	return nil
}

// Request delivers m to addr and waits for a single reply on the same connection.
// The wait ends when the reply arrives, the peer closes, or ctx is done.
func (t *Transport) Request(ctx context.Context, addr string, m *Message) (*Message, error) {
	conn, err := t.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := t.WriteMessage(conn, m); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("send %s to %s: %w", m.Type, addr, err)
	}

	reply, err := t.ReadMessage(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("await reply from %s: %w", addr, err)
	}
	return reply, nil
}

func (t *Transport) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: t.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}
