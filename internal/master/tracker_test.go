package master

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTracker_Create(t *testing.T) {
	tracker := NewTracker(nil)

	o, err := tracker.Create(3)
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, 3, o.Required)
	assert.Equal(t, 1, tracker.Len())

	progress, err := tracker.Progress(o.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, progress)

	_, err = tracker.Create(0)
	assert.Error(t, err)
}

func TestTracker_RecordFragment_OutOfOrder(t *testing.T) {
	tracker := NewTracker(nil)
	o, err := tracker.Create(3)
	require.NoError(t, err)

	p, err := tracker.RecordFragment(o.ID, []any{5, 6}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, p, 1e-9)

	p, err = tracker.RecordFragment(o.ID, []any{1, 2}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3, p, 1e-9)

	select {
	case <-o.Done():
		t.Fatal("order completed early")
	default:
	}

	_, err = tracker.Result(o.ID)
	assert.ErrorIs(t, err, ErrOrderIncomplete)

	p, err = tracker.RecordFragment(o.ID, []any{3, 4}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	require.NoError(t, tracker.Await(context.Background(), o.ID))
	result, err := tracker.Result(o.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3, 4, 5, 6}, result)
}

func TestTracker_RecordFragment_Rejects(t *testing.T) {
	tracker := NewTracker(nil)
	o, err := tracker.Create(2)
	require.NoError(t, err)

	_, err = tracker.RecordFragment(o.ID, []any{1}, 2)
	assert.ErrorIs(t, err, ErrFragmentIndex)
	_, err = tracker.RecordFragment(o.ID, []any{1}, -1)
	assert.ErrorIs(t, err, ErrFragmentIndex)

	_, err = tracker.RecordFragment(o.ID, []any{1}, 0)
	require.NoError(t, err)
	p, err := tracker.RecordFragment(o.ID, []any{9}, 0)
	assert.ErrorIs(t, err, ErrDuplicateFragment)
	assert.Equal(t, 0.5, p)

	_, err = tracker.RecordFragment("missing", []any{1}, 0)
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestTracker_EmptyFragments(t *testing.T) {
	tracker := NewTracker(nil)
	o, err := tracker.Create(3)
	require.NoError(t, err)

	_, err = tracker.RecordFragment(o.ID, []any{1}, 0)
	require.NoError(t, err)
	_, err = tracker.RecordFragment(o.ID, nil, 1)
	require.NoError(t, err)
	_, err = tracker.RecordFragment(o.ID, []any{}, 2)
	require.NoError(t, err)

	result, err := tracker.Result(o.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{1}, result)
}

func TestTracker_RecordError(t *testing.T) {
	tracker := NewTracker(nil)
	o, err := tracker.Create(2)
	require.NoError(t, err)

	_, err = tracker.RecordFragment(o.ID, []any{1}, 0)
	require.NoError(t, err)

	boom := errors.New("boom")
	require.NoError(t, tracker.RecordError(o.ID, boom))
	assert.ErrorIs(t, tracker.Await(context.Background(), o.ID), boom)

	// Late fragments and errors do not change the outcome.
	_, err = tracker.RecordFragment(o.ID, []any{2}, 1)
	require.NoError(t, err)
	require.NoError(t, tracker.RecordError(o.ID, errors.New("second")))

	_, err = tracker.Result(o.ID)
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, tracker.RecordError("missing", boom), ErrUnknownOrder)
}

func TestTracker_AwaitContext(t *testing.T) {
	tracker := NewTracker(nil)
	o, err := tracker.Create(1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = tracker.Await(ctx, o.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.ErrorIs(t, tracker.Await(context.Background(), "missing"), ErrUnknownOrder)
}

func TestTracker_AwaitReleasedByFragment(t *testing.T) {
	tracker := NewTracker(nil)
	o, err := tracker.Create(1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- tracker.Await(context.Background(), o.ID)
	}()

	time.Sleep(10 * time.Millisecond)
	_, err = tracker.RecordFragment(o.ID, []any{"x"}, 0)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("await not released")
	}
}

func TestTracker_FailAll(t *testing.T) {
	tracker := NewTracker(nil)
	a, _ := tracker.Create(1)
	b, _ := tracker.Create(1)
	_, err := tracker.RecordFragment(b.ID, []any{1}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, tracker.FailAll(ErrMasterStopped))
	assert.ErrorIs(t, tracker.Await(context.Background(), a.ID), ErrMasterStopped)
	assert.NoError(t, tracker.Await(context.Background(), b.ID))
}

func TestTracker_RemoveAndActive(t *testing.T) {
	tracker := NewTracker(nil)
	a, _ := tracker.Create(2)
	time.Sleep(time.Millisecond)
	b, _ := tracker.Create(1)

	_, err := tracker.RecordFragment(a.ID, []any{1}, 1)
	require.NoError(t, err)

	active := tracker.Active()
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, 1, active[0].Received)
	assert.Equal(t, 0.5, active[0].Progress)
	assert.Equal(t, b.ID, active[1].ID)

	tracker.Remove(a.ID)
	assert.Equal(t, 1, tracker.Len())
	_, err = tracker.Progress(a.ID)
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestTracker_ConcurrentFragments(t *testing.T) {
	tracker := NewTracker(nil)
	const n = 32
	o, err := tracker.Create(n)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = tracker.RecordFragment(o.ID, []any{i}, i)
		}(i)
	}
	wg.Wait()

	require.NoError(t, tracker.Await(context.Background(), o.ID))
	result, err := tracker.Result(o.ID)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, result[i])
	}
}

// Progress never decreases and reaches 1.0 exactly when every index has been recorded once.
func TestTracker_ProgressProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		required := rapid.IntRange(1, 16).Draw(t, "required")
		indices := rapid.SliceOf(rapid.IntRange(-1, required)).Draw(t, "indices")

		tracker := NewTracker(nil)
		o, err := tracker.Create(required)
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		seen := make(map[int]bool)
		last := 0.0
		for _, idx := range indices {
			p, err := tracker.RecordFragment(o.ID, []any{idx}, idx)
			valid := idx >= 0 && idx < required && !seen[idx]
			if valid != (err == nil) {
				t.Fatalf("index %d: valid=%v err=%v", idx, valid, err)
			}
			if valid {
				seen[idx] = true
			}
			if p < last {
				t.Fatalf("progress decreased from %v to %v", last, p)
			}
			last = p

			complete := len(seen) == required
			if complete != (p == 1.0) {
				t.Fatalf("progress %v with %d of %d recorded", p, len(seen), required)
			}
		}
	})
}
