package worker

import (
	"context"
	"fmt"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/fanout/internal/master"
	"yqhp/fanout/internal/protocol"
	"yqhp/fanout/internal/task"
)

func startMaster(t *testing.T) *master.Master {
	t.Helper()

	cfg := master.DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.OrderTimeout = 5 * time.Second

	m := master.New(cfg)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func startWorker(t *testing.T, name string) *Worker {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Name = name
	cfg.RegisterTimeout = 2 * time.Second

	w := New(cfg, nil)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func submit(t *testing.T, addr string, desc task.Descriptor, array []any) *protocol.Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := protocol.DefaultTransport().Request(ctx, addr, protocol.Distribute(desc, array))
	require.NoError(t, err)
	return reply
}

func TestNew_Defaults(t *testing.T) {
	w := New(nil, nil)

	assert.Equal(t, StateDisconnected, w.State())
	assert.Empty(t, w.ID())
	assert.Empty(t, w.MasterAddress())
	assert.Equal(t, "127.0.0.1:0", w.Address())
}

func TestWorker_StartTwice(t *testing.T) {
	w := startWorker(t, "w")

	assert.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)
	assert.NotEqual(t, "127.0.0.1:0", w.Address())
}

func TestWorker_ConnectBeforeStart(t *testing.T) {
	w := New(DefaultConfig(), nil)

	assert.ErrorIs(t, w.Connect(context.Background(), "127.0.0.1:1"), ErrNotStarted)
	assert.ErrorIs(t, w.Stop(context.Background()), ErrNotStarted)
}

func TestWorker_Connect(t *testing.T) {
	m := startMaster(t)
	w := startWorker(t, "w1")

	require.NoError(t, w.Connect(context.Background(), m.Address()))
	assert.Equal(t, StateConnected, w.State())
	assert.NotEmpty(t, w.ID())
	assert.Equal(t, m.Address(), w.MasterAddress())

	require.Eventually(t, func() bool { return len(m.Workers()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, w.ID(), m.Workers()[0].ID)
	assert.Equal(t, w.Address(), m.Workers()[0].Address)

	assert.ErrorIs(t, w.Connect(context.Background(), m.Address()), ErrAlreadyConnected)
}

func TestWorker_ConnectUnreachable(t *testing.T) {
	w := startWorker(t, "w1")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = w.Connect(context.Background(), addr)
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, w.State())
}

func TestWorker_ConnectRejected(t *testing.T) {
	// A master that rejects every registration.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	tr := protocol.DefaultTransport()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			msg, err := tr.ReadMessage(conn)
			_ = conn.Close()
			if err == nil && msg.Type == protocol.TypeNewConnect {
				_ = tr.Send(context.Background(), msg.Address, protocol.Reject("cluster full"))
			}
		}
	}()

	w := startWorker(t, "w1")
	err = w.Connect(context.Background(), ln.Addr().String())
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "cluster full")
	assert.Equal(t, StateDisconnected, w.State())
}

func TestWorker_DelegateRightAfterAccept(t *testing.T) {
	// A master that delegates a fragment immediately after its ACCEPT.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	tr := protocol.DefaultTransport()
	replies := make(chan *protocol.Message, 32)
	go func() {
		n := 0
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			msg, err := tr.ReadMessage(conn)
			_ = conn.Close()
			if err != nil {
				continue
			}
			switch msg.Type {
			case protocol.TypeNewConnect:
				n++
				_ = tr.Send(context.Background(), msg.Address, protocol.Accept(fmt.Sprintf("w-%d", n), ln.Addr().String()))
				_ = tr.Send(context.Background(), msg.Address,
					protocol.DelegateWork(fmt.Sprintf("o-%d", n), task.Named(task.KindDouble), []any{int64(1), int64(2)}, 0))
			case protocol.TypeAcceptWork, protocol.TypeWorkError:
				replies <- msg
			}
		}
	}()

	for i := 0; i < 20; i++ {
		w := startWorker(t, fmt.Sprintf("w%d", i))
		require.NoError(t, w.Connect(context.Background(), ln.Addr().String()))

		select {
		case reply := <-replies:
			require.Equal(t, protocol.TypeAcceptWork, reply.Type, reply.Error)
			assert.Equal(t, []any{int64(2), int64(4)}, reply.Data)
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: no reply to the delegated fragment", i)
		}
		require.NoError(t, w.Stop(context.Background()))
	}
}

func TestWorker_ConnectTimeout(t *testing.T) {
	// A master that never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	tr := protocol.DefaultTransport()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_, _ = tr.ReadMessage(conn)
			_ = conn.Close()
		}
	}()

	cfg := DefaultConfig()
	cfg.RegisterTimeout = 100 * time.Millisecond
	w := New(cfg, nil)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(context.Background()) })

	err = w.Connect(context.Background(), ln.Addr().String())
	assert.ErrorIs(t, err, ErrRegisterTimeout)
	assert.Equal(t, StateDisconnected, w.State())
}

func TestWorker_ProcessesFragments(t *testing.T) {
	m := startMaster(t)
	w1 := startWorker(t, "w1")
	w2 := startWorker(t, "w2")
	require.NoError(t, w1.Connect(context.Background(), m.Address()))
	require.NoError(t, w2.Connect(context.Background(), m.Address()))
	require.Eventually(t, func() bool { return len(m.Workers()) == 2 }, 2*time.Second, 5*time.Millisecond)

	reply := submit(t, m.Address(), task.Named(task.KindNegate), []any{int64(1), int64(2), int64(3)})
	require.Equal(t, protocol.TypeFinishedTask, reply.Type, reply.Error)
	assert.Equal(t, []any{int64(-1), int64(-2), int64(-3)}, reply.Data)

	assert.Equal(t, int64(1), w1.Stats().Completed)
	assert.Equal(t, int64(1), w2.Stats().Completed)
	assert.Equal(t, int32(0), w1.Stats().Active)
}

func TestWorker_FailingFragment(t *testing.T) {
	m := startMaster(t)
	w := startWorker(t, "w1")
	require.NoError(t, w.Connect(context.Background(), m.Address()))
	require.Eventually(t, func() bool { return len(m.Workers()) == 1 }, 2*time.Second, 5*time.Millisecond)

	reply := submit(t, m.Address(), task.Expression(`(function(){ throw new Error("bad element " + x) })()`), []any{int64(7)})
	require.Equal(t, protocol.TypeWorkError, reply.Type)
	assert.Contains(t, reply.Error, "bad element 7")
	assert.Equal(t, int64(1), w.Stats().Failed)
}

func TestWorker_SubmitRightAfterConnect(t *testing.T) {
	for i := 0; i < 20; i++ {
		m := startMaster(t)
		w := startWorker(t, "w1")
		require.NoError(t, w.Connect(context.Background(), m.Address()))

		reply := submit(t, m.Address(), task.Named(task.KindDouble), []any{int64(1), int64(2)})
		require.Equal(t, protocol.TypeFinishedTask, reply.Type, "iteration %d: %s", i, reply.Error)
		assert.Equal(t, []any{int64(2), int64(4)}, reply.Data)
	}
}

func TestWorker_UnencodableResultFails(t *testing.T) {
	m := startMaster(t)

	tasks := task.NewRegistry()
	tasks.MustRegister(task.Element("nan", func(_ map[string]any, x any) (any, error) {
		return []any{x, math.NaN()}, nil
	}))

	cfg := DefaultConfig()
	cfg.Name = "nan"
	w := New(cfg, tasks)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	require.NoError(t, w.Connect(context.Background(), m.Address()))
	require.Eventually(t, func() bool { return len(m.Workers()) == 1 }, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	reply := submit(t, m.Address(), task.Named("nan"), []any{int64(1)})
	require.Equal(t, protocol.TypeWorkError, reply.Type)
	assert.Contains(t, reply.Error, "encode accept_work")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(1), w.Stats().Failed)
	assert.Equal(t, int64(0), w.Stats().Completed)
}

func TestWorker_CustomRegistry(t *testing.T) {
	m := startMaster(t)

	tasks := task.NewRegistry()
	tasks.MustRegister(task.Element("shout", func(_ map[string]any, x any) (any, error) {
		return x.(string) + "!", nil
	}))

	cfg := DefaultConfig()
	cfg.Name = "custom"
	w := New(cfg, tasks)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	require.NoError(t, w.Connect(context.Background(), m.Address()))
	require.Eventually(t, func() bool { return len(m.Workers()) == 1 }, 2*time.Second, 5*time.Millisecond)

	reply := submit(t, m.Address(), task.Named("shout"), []any{"hi", "yo"})
	require.Equal(t, protocol.TypeFinishedTask, reply.Type, reply.Error)
	assert.Equal(t, []any{"hi!", "yo!"}, reply.Data)
}

func TestWorker_StopDeregisters(t *testing.T) {
	m := startMaster(t)
	w := startWorker(t, "w1")
	require.NoError(t, w.Connect(context.Background(), m.Address()))
	require.Eventually(t, func() bool { return len(m.Workers()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, StateDisconnected, w.State())
	require.Eventually(t, func() bool { return len(m.Workers()) == 0 }, 2*time.Second, 5*time.Millisecond)

	select {
	case <-w.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestWorker_DisconnectAndReconnect(t *testing.T) {
	m := startMaster(t)
	w := startWorker(t, "w1")
	require.NoError(t, w.Connect(context.Background(), m.Address()))
	first := w.ID()

	require.NoError(t, w.Disconnect(context.Background()))
	assert.Equal(t, StateDisconnected, w.State())
	require.Eventually(t, func() bool { return len(m.Workers()) == 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, w.Connect(context.Background(), m.Address()))
	assert.NotEqual(t, first, w.ID())
	require.Eventually(t, func() bool { return len(m.Workers()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWorker_MasterShutdown(t *testing.T) {
	cfg := master.DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	m := master.New(cfg)
	require.NoError(t, m.Start(context.Background()))

	w := startWorker(t, "w1")
	require.NoError(t, w.Connect(context.Background(), m.Address()))
	require.Eventually(t, func() bool { return len(m.Workers()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(context.Background()))
	require.Eventually(t, func() bool { return w.State() == StateDisconnected }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, w.MasterAddress())
}

func TestWorker_DelegateWithoutMaster(t *testing.T) {
	w := startWorker(t, "w1")

	err := protocol.DefaultTransport().Send(context.Background(), w.Address(),
		protocol.DelegateWork("o", task.Named(task.KindDouble), []any{int64(1)}, 0))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), w.Stats().Completed)
}
