package master

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/fanout/internal/protocol"
	"yqhp/fanout/pkg/logger"
)

// Notifier delivers one message to a peer. *protocol.Transport implements it.
type Notifier interface {
	Send(ctx context.Context, addr string, m *protocol.Message) error
}

// WorkerRecord describes a registered worker.
type WorkerRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry holds the workers known to a master in registration order.
// The mutex is shared with the order tracker so a worker snapshot and the
// order sized from it are taken in one critical section.
type Registry struct {
	mu       *sync.Mutex
	notifier Notifier
	log      *zap.Logger

	workers map[string]*WorkerRecord
	order   []string
}

// NewRegistry creates an empty registry. A nil mu gives the registry its own lock.
func NewRegistry(mu *sync.Mutex, notifier Notifier) *Registry {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &Registry{
		mu:       mu,
		notifier: notifier,
		log:      logger.Named("registry"),
		workers:  make(map[string]*WorkerRecord),
	}
}

// Register runs the join handshake: it assigns an id, stores the record and
// pushes ACCEPT to the worker. On any failure it pushes REJECT, best effort,
// and leaves the registry unchanged.
func (r *Registry) Register(ctx context.Context, name, address, masterAddress string) (WorkerRecord, error) {
	rec, err := r.register(ctx, name, address, masterAddress)
	if err != nil {
		r.log.Warn("Worker registration failed",
			zap.String("name", name),
			zap.String("address", address),
			zap.Error(err))
		if address != "" && r.notifier != nil {
			if rerr := r.notifier.Send(ctx, address, protocol.Reject(err.Error())); rerr != nil {
				r.log.Debug("Reject not delivered", zap.String("address", address), zap.Error(rerr))
			}
		}
		return WorkerRecord{}, err
	}

	r.log.Info("Worker registered",
		zap.String("id", rec.ID),
		zap.String("name", rec.Name),
		zap.String("address", rec.Address))
	return rec, nil
}

func (r *Registry) register(ctx context.Context, name, address, masterAddress string) (WorkerRecord, error) {
	if name == "" || address == "" {
		return WorkerRecord{}, fmt.Errorf("%w: name and address are required", ErrInvalidWorker)
	}

	rec := WorkerRecord{
		ID:           uuid.New().String(),
		Name:         name,
		Address:      address,
		RegisteredAt: time.Now(),
	}

	if err := r.Add(rec); err != nil {
		return WorkerRecord{}, err
	}

	// The record is visible before ACCEPT so a worker may act on it at once.
	if r.notifier != nil {
		if err := r.notifier.Send(ctx, address, protocol.Accept(rec.ID, masterAddress)); err != nil {
			_, _ = r.Deregister(rec.ID)
			return WorkerRecord{}, fmt.Errorf("accept %s: %w", name, err)
		}
	}
	return rec, nil
}

// Add stores rec without any handshake.
func (r *Registry) Add(rec WorkerRecord) error {
	if rec.ID == "" || rec.Name == "" || rec.Address == "" {
		return fmt.Errorf("%w: id, name and address are required", ErrInvalidWorker)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWorker, rec.ID)
	}

	r.workers[rec.ID] = &rec
	r.order = append(r.order, rec.ID)
	return nil
}

// Deregister removes the worker with the given id.
func (r *Registry) Deregister(id string) (WorkerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.workers[id]
	if !exists {
		return WorkerRecord{}, fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}

	delete(r.workers, id)
	for i, wid := range r.order {
		if wid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *rec, nil
}

// Get returns the worker with the given id.
func (r *Registry) Get(id string) (WorkerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.workers[id]
	if !exists {
		return WorkerRecord{}, false
	}
	return *rec, true
}

// Snapshot returns the registered workers in registration order.
func (r *Registry) Snapshot() []WorkerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// snapshotLocked must be called with r.mu held.
func (r *Registry) snapshotLocked() []WorkerRecord {
	out := make([]WorkerRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.workers[id])
	}
	return out
}

// List is Snapshot under the name the status API uses.
func (r *Registry) List() []WorkerRecord {
	return r.Snapshot()
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}
