package master

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkOrder tracks the fragments of one distribute request.
// All fields are guarded by the tracker's mutex except done, which is only closed under it.
type WorkOrder struct {
	ID        string
	Required  int
	CreatedAt time.Time

	fragments [][]any
	filled    []bool
	received  int
	err       error
	done      chan struct{}
	closed    bool
}

func (o *WorkOrder) progress() float64 {
	return float64(o.received) / float64(o.Required)
}

func (o *WorkOrder) finish(err error) {
	if o.closed {
		return
	}
	o.err = err
	o.closed = true
	close(o.done)
}

// Done returns a channel closed when the order completes or fails.
func (o *WorkOrder) Done() <-chan struct{} {
	return o.done
}

// OrderStatus is a point-in-time view of an active order.
type OrderStatus struct {
	ID        string    `json:"id"`
	Required  int       `json:"required"`
	Received  int       `json:"received"`
	Progress  float64   `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	Done      bool      `json:"done"`
	Error     string    `json:"error,omitempty"`
}

// Tracker holds the active work orders.
type Tracker struct {
	mu     *sync.Mutex
	orders map[string]*WorkOrder
}

// NewTracker creates an empty tracker. A nil mu gives the tracker its own lock.
func NewTracker(mu *sync.Mutex) *Tracker {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &Tracker{
		mu:     mu,
		orders: make(map[string]*WorkOrder),
	}
}

// Create registers a new order expecting required fragments.
func (t *Tracker) Create(required int) (*WorkOrder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createLocked(required)
}

// createLocked must be called with t.mu held.
func (t *Tracker) createLocked(required int) (*WorkOrder, error) {
	if required < 1 {
		return nil, fmt.Errorf("work order requires at least one fragment, got %d", required)
	}

	o := &WorkOrder{
		ID:        uuid.New().String(),
		Required:  required,
		CreatedAt: time.Now(),
		fragments: make([][]any, required),
		filled:    make([]bool, required),
		done:      make(chan struct{}),
	}
	t.orders[o.ID] = o
	return o, nil
}

// RecordFragment stores the result for one index and returns the new progress.
// The order completes when every index has been recorded. Fragments for an
// order that already failed are dropped without error.
func (t *Tracker) RecordFragment(id string, data []any, index int) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.orders[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if o.err != nil {
		return o.progress(), nil
	}
	if index < 0 || index >= o.Required {
		return o.progress(), fmt.Errorf("%w: %d not in [0, %d)", ErrFragmentIndex, index, o.Required)
	}
	if o.filled[index] {
		return o.progress(), fmt.Errorf("%w: index %d of %s", ErrDuplicateFragment, index, id)
	}

	if data == nil {
		data = []any{}
	}
	o.fragments[index] = data
	o.filled[index] = true
	o.received++

	if o.received == o.Required {
		o.finish(nil)
	}
	return o.progress(), nil
}

// RecordError fails the order. The first error wins.
func (t *Tracker) RecordError(id string, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if err == nil {
		err = fmt.Errorf("unspecified work error")
	}
	o.finish(err)
	return nil
}

// FailAll fails every order that has not finished yet.
func (t *Tracker) FailAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, o := range t.orders {
		if !o.closed {
			o.finish(err)
			n++
		}
	}
	return n
}

// Await blocks until the order finishes or ctx is done.
// It returns the order's terminal error, or ctx.Err().
func (t *Tracker) Await(ctx context.Context, id string) error {
	t.mu.Lock()
	o, ok := t.orders[id]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}

	select {
	case <-o.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns the fraction of fragments received.
func (t *Tracker) Progress(id string) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.orders[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	return o.progress(), nil
}

// Result returns the fragments concatenated in index order.
func (t *Tracker) Result(id string) ([]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if o.err != nil {
		return nil, o.err
	}
	if o.received != o.Required {
		return nil, fmt.Errorf("%w: %d of %d fragments", ErrOrderIncomplete, o.received, o.Required)
	}
	return Flatten(o.fragments), nil
}

// Remove drops the order from the active set.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.orders, id)
}

// Len returns the number of active orders.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.orders)
}

// Active returns the status of every active order, oldest first.
func (t *Tracker) Active() []OrderStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]OrderStatus, 0, len(t.orders))
	for _, o := range t.orders {
		s := OrderStatus{
			ID:        o.ID,
			Required:  o.Required,
			Received:  o.received,
			Progress:  o.progress(),
			CreatedAt: o.CreatedAt,
			Done:      o.closed,
		}
		if o.err != nil {
			s.Error = o.err.Error()
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
