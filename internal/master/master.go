package master

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yqhp/fanout/internal/protocol"
	"yqhp/fanout/pkg/logger"
)

// Config holds the configuration for a master node.
type Config struct {
	// Address is the TCP address the master listens on.
	Address string

	// AdvertiseAddress is sent to workers in ACCEPT. Empty means the bound listener address.
	AdvertiseAddress string

	// OrderTimeout bounds how long a distribute request waits for its fragments. Zero means no bound.
	OrderTimeout time.Duration

	// SendTimeout bounds each control message sent to a worker.
	SendTimeout time.Duration

	// MaxFrameSize bounds inbound frames.
	MaxFrameSize uint32
}

// DefaultConfig returns a default master configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "127.0.0.1:9700",
		OrderTimeout: 5 * time.Minute,
		SendTimeout:  5 * time.Second,
		MaxFrameSize: protocol.DefaultMaxFrameSize,
	}
}

// State represents the lifecycle state of the master.
type State string

const (
	// StateStopped indicates the master is not listening.
	StateStopped State = "stopped"
	// StateRunning indicates the master is accepting connections.
	StateRunning State = "running"
	// StateStopping indicates the master is shutting down.
	StateStopping State = "stopping"
)

// Master accepts worker registrations and client requests on one TCP listener.
type Master struct {
	config    *Config
	transport *protocol.Transport
	log       *zap.Logger

	// mu guards the registry and the tracker together.
	mu       sync.Mutex
	registry *Registry
	tracker  *Tracker
	stats    *Stats

	listener   net.Listener
	baseCtx    context.Context
	cancel     context.CancelFunc
	acceptDone chan struct{}
	conns      sync.WaitGroup

	state    atomic.Value // State
	started  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a master. A nil config selects DefaultConfig.
func New(config *Config) *Master {
	if config == nil {
		config = DefaultConfig()
	}

	transport := protocol.DefaultTransport()
	if config.SendTimeout > 0 {
		transport.DialTimeout = config.SendTimeout
	}
	if config.MaxFrameSize > 0 {
		transport.MaxFrameSize = config.MaxFrameSize
	}

	m := &Master{
		config:    config,
		transport: transport,
		log:       logger.Named("master"),
		stats:     NewStats(),
		stopped:   make(chan struct{}),
	}
	m.registry = NewRegistry(&m.mu, transport)
	m.tracker = NewTracker(&m.mu)
	m.state.Store(StateStopped)

	return m
}

// Start binds the listener and begins serving in the background.
func (m *Master) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", m.config.Address)
	if err != nil {
		m.started.Store(false)
		return fmt.Errorf("listen on %s: %w", m.config.Address, err)
	}

	m.listener = ln
	m.acceptDone = make(chan struct{})
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	m.state.Store(StateRunning)

	go m.acceptLoop()

	m.log.Info("Master started", zap.String("address", m.Address()))
	return nil
}

// Stop notifies registered workers, closes the listener, fails waiting
// orders with ErrMasterStopped and waits for in-flight handlers or ctx.
func (m *Master) Stop(ctx context.Context) error {
	if !m.started.Load() {
		return ErrNotStarted
	}

	var err error
	m.stopOnce.Do(func() {
		m.state.Store(StateStopping)

		for _, w := range m.registry.Snapshot() {
			sendCtx, cancel := m.sendContext(ctx)
			if serr := m.transport.Send(sendCtx, w.Address, protocol.MasterShutdown()); serr != nil {
				m.log.Debug("Shutdown notice not delivered",
					zap.String("worker", w.ID),
					zap.Error(serr))
			}
			cancel()
		}

		_ = m.listener.Close()
		m.cancel()
		if n := m.tracker.FailAll(ErrMasterStopped); n > 0 {
			m.log.Warn("Failed pending orders on shutdown", zap.Int("orders", n))
		}

		done := make(chan struct{})
		go func() {
			<-m.acceptDone
			m.conns.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		m.state.Store(StateStopped)
		close(m.stopped)
		m.log.Info("Master stopped")
	})
	return err
}

// Done returns a channel closed once Stop has finished.
func (m *Master) Done() <-chan struct{} {
	return m.stopped
}

// Address returns the address workers and clients should dial.
func (m *Master) Address() string {
	if m.config.AdvertiseAddress != "" {
		return m.config.AdvertiseAddress
	}
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Address
}

// State returns the lifecycle state.
func (m *Master) State() State {
	return m.state.Load().(State)
}

// Workers returns the registered workers in registration order.
func (m *Master) Workers() []WorkerRecord {
	return m.registry.List()
}

// Orders returns the active work orders.
func (m *Master) Orders() []OrderStatus {
	return m.tracker.Active()
}

// Stats returns the current counters and latency summary.
func (m *Master) Stats() StatsSnapshot {
	return m.stats.Snapshot()
}

// Registry exposes the worker registry.
func (m *Master) Registry() *Registry {
	return m.registry
}

func (m *Master) acceptLoop() {
	defer close(m.acceptDone)

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if m.State() != StateRunning || errors.Is(err, net.ErrClosed) {
				return
			}
			m.log.Error("Accept failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		m.conns.Add(1)
		go m.handleConn(conn)
	}
}

// handleConn serves exactly one request. Panics are logged and the connection dropped.
func (m *Master) handleConn(conn net.Conn) {
	defer m.conns.Done()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Panic while handling connection",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	msg, err := m.transport.ReadMessage(conn)
	if err != nil {
		if errors.Is(err, protocol.ErrNoData) {
			m.log.Debug("Connection closed without a message", zap.String("remote", conn.RemoteAddr().String()))
			return
		}
		m.log.Warn("Failed to read message",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err))
		return
	}

	m.log.Debug("Received message", zap.Stringer("message", msg))

	if err := m.dispatch(conn, msg); err != nil {
		m.log.Warn("Failed to handle message",
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}
}

func (m *Master) dispatch(conn net.Conn, msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeNewConnect:
		return m.handleNewConnect(msg)
	case protocol.TypeDistribute:
		return m.handleDistribute(conn, msg)
	case protocol.TypeAcceptWork:
		return m.handleAcceptWork(msg)
	case protocol.TypeWorkError:
		return m.handleWorkError(msg)
	case protocol.TypeClose:
		return m.handleClose(msg)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownMessageType, msg.Type)
	}
}

func (m *Master) handleNewConnect(msg *protocol.Message) error {
	ctx, cancel := m.sendContext(m.baseCtx)
	defer cancel()

	if _, err := m.registry.Register(ctx, msg.Name, msg.Address, m.Address()); err != nil {
		return err
	}
	m.stats.WorkerRegistered()
	return nil
}

func (m *Master) handleClose(msg *protocol.Message) error {
	rec, err := m.registry.Deregister(msg.ID)
	if err != nil {
		return err
	}
	m.stats.WorkerDeregistered()
	m.log.Info("Worker deregistered",
		zap.String("id", rec.ID),
		zap.String("name", rec.Name))
	return nil
}

func (m *Master) handleAcceptWork(msg *protocol.Message) error {
	progress, err := m.tracker.RecordFragment(msg.OrderID, msg.Data, msg.Index)
	if err != nil {
		m.stats.FragmentDropped()
		return err
	}
	m.stats.FragmentReceived()
	m.log.Debug("Fragment recorded",
		zap.String("order", msg.OrderID),
		zap.Int("index", msg.Index),
		zap.Float64("progress", progress))
	return nil
}

func (m *Master) handleWorkError(msg *protocol.Message) error {
	reason := msg.Error
	if reason == "" {
		reason = "worker reported an error"
	}
	return m.tracker.RecordError(msg.OrderID, errors.New(reason))
}

func (m *Master) handleDistribute(conn net.Conn, msg *protocol.Message) error {
	m.stats.OrderSubmitted()

	m.mu.Lock()
	workers := m.registry.snapshotLocked()
	if len(workers) == 0 {
		m.mu.Unlock()
		m.stats.OrderRejected()
		return m.transport.WriteMessage(conn, protocol.NoWorkers())
	}
	order, err := m.tracker.createLocked(len(workers))
	m.mu.Unlock()
	if err != nil {
		return err
	}
	defer m.tracker.Remove(order.ID)

	log := m.log.With(zap.String("order", order.ID))
	log.Info("Distributing",
		zap.Stringer("task", msg.Task),
		zap.Int("elements", len(msg.Array)),
		zap.Int("workers", len(workers)))

	chunks := Split(msg.Array, len(workers))
	for i, w := range workers {
		sendCtx, cancel := m.sendContext(m.baseCtx)
		err := m.transport.Send(sendCtx, w.Address, protocol.DelegateWork(order.ID, *msg.Task, chunks[i], i))
		cancel()
		if err != nil {
			_ = m.tracker.RecordError(order.ID, fmt.Errorf("delegate fragment %d to %s: %w", i, w.Name, err))
			break
		}
	}

	waitCtx := m.baseCtx
	if m.config.OrderTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, m.config.OrderTimeout)
		defer cancel()
	}

	result, err := m.awaitResult(waitCtx, order.ID)
	if err != nil {
		m.stats.OrderFailed()
		log.Warn("Order failed", zap.Error(err))
		return m.transport.WriteMessage(conn, protocol.WorkError("", err.Error()))
	}

	elapsed := time.Since(order.CreatedAt)
	m.stats.OrderCompleted(elapsed)
	log.Info("Order finished", zap.Duration("elapsed", elapsed))
	return m.transport.WriteMessage(conn, protocol.FinishedTask(result))
}

func (m *Master) awaitResult(ctx context.Context, id string) ([]any, error) {
	if err := m.tracker.Await(ctx, id); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w after %s", ErrOrderTimeout, m.config.OrderTimeout)
		case errors.Is(err, context.Canceled):
			return nil, ErrMasterStopped
		}
		return nil, err
	}
	return m.tracker.Result(id)
}

func (m *Master) sendContext(parent context.Context) (context.Context, context.CancelFunc) {
	if m.config.SendTimeout > 0 {
		return context.WithTimeout(parent, m.config.SendTimeout)
	}
	return context.WithCancel(parent)
}
