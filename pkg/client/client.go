// Package client submits map requests to a fanout master.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"yqhp/fanout/internal/protocol"
	"yqhp/fanout/internal/task"
	"yqhp/fanout/pkg/logger"
)

// ErrNoWorkers is returned when the master has no registered workers.
var ErrNoWorkers = errors.New("no workers connected to master")

// ErrUnexpectedReply is returned for a reply of a type the client does not expect.
var ErrUnexpectedReply = errors.New("unexpected reply from master")

// WorkError carries the error a worker or the master reported for a request.
type WorkError struct {
	Message string
}

// Error implements the error interface.
func (e *WorkError) Error() string {
	return "work error: " + e.Message
}

// Config holds the client configuration.
type Config struct {
	// MasterAddress is the master's TCP address.
	MasterAddress string

	// Timeout bounds a whole request when ctx carries no deadline. Zero means no bound.
	Timeout time.Duration

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// MaxFrameSize bounds the reply frame.
	MaxFrameSize uint32
}

// DefaultConfig returns a default client configuration.
func DefaultConfig() *Config {
	return &Config{
		MasterAddress: "127.0.0.1:9700",
		DialTimeout:   5 * time.Second,
		MaxFrameSize:  protocol.DefaultMaxFrameSize,
	}
}

// Client is safe for concurrent use. Every call uses its own connection.
type Client struct {
	config    *Config
	transport *protocol.Transport
	log       *zap.Logger
}

// New creates a client for the master at masterAddr.
func New(masterAddr string) *Client {
	cfg := DefaultConfig()
	cfg.MasterAddress = masterAddr
	return NewWithConfig(cfg)
}

// NewWithConfig creates a client from config. A nil config selects DefaultConfig.
func NewWithConfig(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	transport := protocol.DefaultTransport()
	if config.DialTimeout > 0 {
		transport.DialTimeout = config.DialTimeout
	}
	if config.MaxFrameSize > 0 {
		transport.MaxFrameSize = config.MaxFrameSize
	}

	return &Client{
		config:    config,
		transport: transport,
		log:       logger.Named("client"),
	}
}

// MasterAddress returns the configured master address.
func (c *Client) MasterAddress() string {
	return c.config.MasterAddress
}

// Submit asks the master to apply desc to every element of array and
// returns the results in input order. It fails with ErrNoWorkers when the
// cluster is empty and with *WorkError when any fragment fails.
func (c *Client) Submit(ctx context.Context, desc task.Descriptor, array []any) ([]any, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := c.transport.Request(ctx, c.config.MasterAddress, protocol.Distribute(desc, array))
	if err != nil {
		return nil, fmt.Errorf("distribute to %s: %w", c.config.MasterAddress, err)
	}

	c.log.Debug("Reply received",
		zap.Stringer("reply", reply),
		zap.Duration("elapsed", time.Since(start)))

	switch reply.Type {
	case protocol.TypeFinishedTask:
		if reply.Data == nil {
			return []any{}, nil
		}
		return reply.Data, nil
	case protocol.TypeWorkError:
		return nil, &WorkError{Message: reply.Error}
	case protocol.TypeNoWorkersError:
		return nil, ErrNoWorkers
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Type)
	}
}

// Map applies the named kind to array.
func (c *Client) Map(ctx context.Context, kind string, array []any) ([]any, error) {
	return c.Submit(ctx, task.Named(kind), array)
}

// MapExpr applies a JavaScript expression to array. The element is bound to x.
func (c *Client) MapExpr(ctx context.Context, expr string, array []any) ([]any, error) {
	return c.Submit(ctx, task.Expression(expr), array)
}
