package worker

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
	"yqhp/fanout/internal/task"
	"yqhp/fanout/pkg/logger"
)

// Config holds the configuration for a worker.
type Config struct {
	// Name is the display name reported to the master.
	Name string

	// Address is the TCP address the worker listens on. Port 0 picks a free port.
	Address string

	// AdvertiseAddress is reported to the master. Empty means the bound listener address.
	AdvertiseAddress string

	// RegisterTimeout bounds the wait for accept or reject.
	RegisterTimeout time.Duration

	// SendTimeout bounds each message sent to the master.
	SendTimeout time.Duration

	// ScriptTimeout bounds one expr fragment.
	ScriptTimeout time.Duration

	// MaxFrameSize bounds inbound frames.
	MaxFrameSize uint32
}

// DefaultConfig returns a default worker configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:            "worker",
		Address:         "127.0.0.1:0",
		RegisterTimeout: 10 * time.Second,
		SendTimeout:     5 * time.Second,
		ScriptTimeout:   task.DefaultScriptTimeout,
		MaxFrameSize:    protocol.DefaultMaxFrameSize,
	}
}

// State is the worker's registration state.
type State string

const (
	// StateDisconnected means the worker has no master.
	StateDisconnected State = "disconnected"
	// StateRegistering means new_connect was sent and a reply is pending.
	StateRegistering State = "registering"
	// StateConnected means the master accepted the worker.
	StateConnected State = "connected"
)

// Stats counts the fragments a worker has processed.
type Stats struct {
	Active    int32 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Worker serves delegated fragments for one master at a time.
type Worker struct {
	config    *Config
	tasks     *task.Registry
	transport *protocol.Transport
	log       *zap.Logger

	listener   net.Listener
	baseCtx    context.Context
	cancel     context.CancelFunc
	acceptDone chan struct{}
	conns      sync.WaitGroup

	// mu guards the registration fields below.
	mu         sync.Mutex
	state      State
	id         string
	masterAddr string
	pending    chan *protocol.Message
	// settled is closed once the pending registration is decided.
	settled chan struct{}

	active    atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64

	started  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a worker. A nil config selects DefaultConfig and a nil
// registry selects the builtin task kinds.
func New(config *Config, tasks *task.Registry) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	if tasks == nil {
		tasks = task.DefaultRegistry(config.ScriptTimeout)
	}

	transport := protocol.DefaultTransport()
	if config.SendTimeout > 0 {
		transport.DialTimeout = config.SendTimeout
	}
	if config.MaxFrameSize > 0 {
		transport.MaxFrameSize = config.MaxFrameSize
	}

	return &Worker{
		config:    config,
		tasks:     tasks,
		transport: transport,
		log:       logger.Named("worker").With(zap.String("name", config.Name)),
		state:     StateDisconnected,
		stopped:   make(chan struct{}),
	}
}

// Start binds the listener and begins serving in the background.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", w.config.Address)
	if err != nil {
		w.started.Store(false)
		return fmt.Errorf("listen on %s: %w", w.config.Address, err)
	}

	w.listener = ln
	w.acceptDone = make(chan struct{})
	w.baseCtx, w.cancel = context.WithCancel(context.Background())

	go w.acceptLoop()

	w.log.Info("Worker listening", zap.String("address", w.Address()))
	return nil
}

// Connect registers with the master at masterAddr and waits for its verdict.
func (w *Worker) Connect(ctx context.Context, masterAddr string) error {
	if !w.started.Load() {
		return ErrNotStarted
	}

	w.mu.Lock()
	if w.state != StateDisconnected {
		w.mu.Unlock()
		return ErrAlreadyConnected
	}
	pending := make(chan *protocol.Message, 1)
	w.state = StateRegistering
	w.pending = pending
	w.settled = make(chan struct{})
	w.mu.Unlock()

	_, err := w.register(ctx, masterAddr, pending)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = nil
	w.settle()

	// handleVerdict applies ACCEPT before Connect wakes, so a verdict that
	// races the deadline still counts.
	if w.state == StateConnected {
		w.log.Info("Registered with master",
			zap.String("id", w.id),
			zap.String("master", w.masterAddr))
		return nil
	}

	w.state = StateDisconnected
	if err == nil {
		err = ErrNotConnected
	}
	w.log.Warn("Registration failed", zap.String("master", masterAddr), zap.Error(err))
	return err
}

func (w *Worker) register(ctx context.Context, masterAddr string, pending <-chan *protocol.Message) (*protocol.Message, error) {
	if w.config.RegisterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.RegisterTimeout)
		defer cancel()
	}

	if err := w.transport.Send(ctx, masterAddr, protocol.NewConnect(w.config.Name, w.Address())); err != nil {
		return nil, fmt.Errorf("connect to master: %w", err)
	}

	select {
	case reply := <-pending:
		if reply.Type == protocol.TypeReject {
			if reply.Error != "" {
				return nil, fmt.Errorf("%w: %s", ErrRejected, reply.Error)
			}
			return nil, ErrRejected
		}
		return reply, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrRegisterTimeout
		}
		return nil, ctx.Err()
	}
}

// Disconnect tells the master the worker is leaving and forgets it.
// The listener keeps running so the worker can Connect again.
func (w *Worker) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateConnected {
		w.mu.Unlock()
		return nil
	}
	id, master := w.id, w.masterAddr
	w.id, w.masterAddr = "", ""
	w.state = StateDisconnected
	w.mu.Unlock()

	if w.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.SendTimeout)
		defer cancel()
	}

	if err := w.transport.Send(ctx, master, protocol.Close(id)); err != nil {
		return fmt.Errorf("notify master: %w", err)
	}
	w.log.Info("Disconnected from master", zap.String("master", master))
	return nil
}

// Stop disconnects from the master, closes the listener and waits for
// in-flight fragments or ctx.
func (w *Worker) Stop(ctx context.Context) error {
	if !w.started.Load() {
		return ErrNotStarted
	}

	var err error
	w.stopOnce.Do(func() {
		if derr := w.Disconnect(ctx); derr != nil {
			w.log.Warn("Close notice not delivered", zap.Error(derr))
		}

		_ = w.listener.Close()
		w.cancel()

		done := make(chan struct{})
		go func() {
			<-w.acceptDone
			w.conns.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		close(w.stopped)
		w.log.Info("Worker stopped")
	})
	return err
}

// Done returns a channel closed once Stop has finished.
func (w *Worker) Done() <-chan struct{} {
	return w.stopped
}

// Address returns the address the master should use to reach this worker.
func (w *Worker) Address() string {
	if w.config.AdvertiseAddress != "" {
		return w.config.AdvertiseAddress
	}
	if w.listener != nil {
		return w.listener.Addr().String()
	}
	return w.config.Address
}

// State returns the registration state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// ID returns the id assigned by the master, or "" when disconnected.
func (w *Worker) ID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

// MasterAddress returns the master's address, or "" when disconnected.
func (w *Worker) MasterAddress() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.masterAddr
}

// Stats returns fragment counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Active:    w.active.Load(),
		Completed: w.completed.Load(),
		Failed:    w.failed.Load(),
	}
}

func (w *Worker) acceptLoop() {
	defer close(w.acceptDone)

	for {
		conn, err := w.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || w.baseCtx.Err() != nil {
				return
			}
			w.log.Error("Accept failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		w.conns.Add(1)
		go w.handleConn(conn)
	}
}

func (w *Worker) handleConn(conn net.Conn) {
	defer w.conns.Done()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Panic while handling connection",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	msg, err := w.transport.ReadMessage(conn)
	if err != nil {
		if !errors.Is(err, protocol.ErrNoData) {
			w.log.Warn("Failed to read message", zap.Error(err))
		}
		return
	}

	if err := w.dispatch(msg); err != nil {
		w.log.Warn("Failed to handle message",
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}
}

func (w *Worker) dispatch(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeAccept, protocol.TypeReject:
		return w.handleVerdict(msg)
	case protocol.TypeDelegateWork:
		return w.handleDelegate(msg)
	case protocol.TypeMasterShutdown:
		w.handleShutdown()
		return nil
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownMessageType, msg.Type)
	}
}

// handleVerdict applies the master's verdict before waking Connect so a
// delegation that follows ACCEPT immediately finds the worker connected.
func (w *Worker) handleVerdict(msg *protocol.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateRegistering || w.pending == nil {
		return fmt.Errorf("unexpected %s in state %s", msg.Type, w.state)
	}

	if msg.Type == protocol.TypeAccept {
		w.id = msg.ID
		w.masterAddr = msg.MasterAddress
		w.state = StateConnected
	} else {
		w.state = StateDisconnected
	}

	select {
	case w.pending <- msg:
	default:
	}
	w.pending = nil
	w.settle()
	return nil
}

// settle wakes delegations waiting on the registration. Callers hold mu.
func (w *Worker) settle() {
	if w.settled != nil {
		close(w.settled)
		w.settled = nil
	}
}

// awaitMaster returns the master address, waiting out a registration in
// flight since its delegation can overtake the ACCEPT on another connection.
func (w *Worker) awaitMaster() string {
	w.mu.Lock()
	settled := w.settled
	master := w.masterAddr
	w.mu.Unlock()

	if settled == nil {
		return master
	}
	select {
	case <-settled:
	case <-w.baseCtx.Done():
	}
	return w.MasterAddress()
}

func (w *Worker) handleShutdown() {
	w.mu.Lock()
	master := w.masterAddr
	w.id, w.masterAddr = "", ""
	w.state = StateDisconnected
	w.mu.Unlock()

	w.log.Warn("Master shut down", zap.String("master", master))
}

func (w *Worker) handleDelegate(msg *protocol.Message) error {
	master := w.awaitMaster()
	if master == "" {
		return ErrNotConnected
	}

	w.active.Add(1)
	defer w.active.Add(-1)

	start := time.Now()
	out, err := w.tasks.Apply(w.baseCtx, *msg.Task, msg.Chunk)

	reply := protocol.AcceptWork(msg.OrderID, out, msg.Index)
	if err != nil {
		reply = protocol.WorkError(msg.OrderID, err.Error())
	}

	data, err := protocol.Encode(reply)
	if err != nil && reply.Type == protocol.TypeAcceptWork {
		// A result the wire cannot carry fails the fragment instead of losing it.
		reply = protocol.WorkError(msg.OrderID, err.Error())
		data, err = protocol.Encode(reply)
	}
	if err != nil {
		return err
	}

	if reply.Type == protocol.TypeWorkError {
		w.failed.Add(1)
		w.log.Warn("Fragment failed",
			zap.String("order", msg.OrderID),
			zap.Int("index", msg.Index),
			zap.String("error", reply.Error))
	} else {
		w.completed.Add(1)
		w.log.Debug("Fragment done",
			zap.String("order", msg.OrderID),
			zap.Int("index", msg.Index),
			zap.Int("elements", len(out)),
			zap.Duration("elapsed", time.Since(start)))
	}

	ctx := w.baseCtx
	if w.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.SendTimeout)
		defer cancel()
	}
	if err := w.transport.SendFrame(ctx, master, data); err != nil {
		return fmt.Errorf("send %s: %w", reply.Type, err)
	}
	return nil
}
