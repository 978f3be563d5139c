package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprKind_Apply(t *testing.T) {
	kind := NewExprKind(time.Second)
	ctx := context.Background()

	out, err := kind.Apply(ctx, Expression("x * 2"), []any{int64(1), int64(2), int64(3)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(4), int64(6)}, out)

	out, err = kind.Apply(ctx, Expression("x / 2"), []any{int64(3)})
	require.NoError(t, err)
	assert.Equal(t, []any{1.5}, out)

	out, err = kind.Apply(ctx, Expression("String(x).toUpperCase()"), []any{"ab"})
	require.NoError(t, err)
	assert.Equal(t, []any{"AB"}, out)
}

func TestExprKind_ArgsAndIndex(t *testing.T) {
	kind := NewExprKind(time.Second)

	desc := Expression("x * args.factor + i").WithArg("factor", int64(10))
	out, err := kind.Apply(context.Background(), desc, []any{int64(1), int64(1), int64(1)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(11), int64(12)}, out)
}

func TestExprKind_NullResult(t *testing.T) {
	kind := NewExprKind(time.Second)

	out, err := kind.Apply(context.Background(), Expression("undefined"), []any{int64(1)})
	require.NoError(t, err)
	assert.Equal(t, []any{nil}, out)
}

func TestExprKind_CompileError(t *testing.T) {
	kind := NewExprKind(time.Second)

	_, err := kind.Apply(context.Background(), Expression("x +"), []any{int64(1)})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestExprKind_RuntimeError(t *testing.T) {
	kind := NewExprKind(time.Second)

	_, err := kind.Apply(context.Background(), Expression("x.nope.deeper"), []any{int64(1)})
	require.Error(t, err)

	var applyErr *ApplyError
	require.True(t, errors.As(err, &applyErr))
	assert.Equal(t, 0, applyErr.Index)
}

func TestExprKind_Throw(t *testing.T) {
	kind := NewExprKind(time.Second)

	_, err := kind.Apply(context.Background(), Expression(`(function(){ throw new Error("boom") })()`), []any{int64(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestExprKind_RejectsUnencodableResults(t *testing.T) {
	kind := NewExprKind(time.Second)

	_, err := kind.Apply(context.Background(), Expression("x / 0"), []any{int64(1)})
	assert.ErrorContains(t, err, "non-finite")

	_, err = kind.Apply(context.Background(), Expression("function() {}"), []any{int64(1)})
	assert.ErrorContains(t, err, "function")

	_, err = kind.Apply(context.Background(), Expression("[x / 0]"), []any{int64(1)})
	assert.ErrorContains(t, err, "non-finite")

	_, err = kind.Apply(context.Background(), Expression("({a: [1, NaN]})"), []any{int64(1)})
	assert.ErrorContains(t, err, "non-finite")

	_, err = kind.Apply(context.Background(), Expression("({f: function() {}})"), []any{int64(1)})
	assert.ErrorContains(t, err, "function")

	out, err := kind.Apply(context.Background(), Expression("({v: [x, 'a', null, true]})"), []any{int64(1)})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"v": []any{int64(1), "a", nil, true}}}, out)
}

func TestExprKind_Timeout(t *testing.T) {
	kind := NewExprKind(50 * time.Millisecond)

	start := time.Now()
	_, err := kind.Apply(context.Background(), Expression("(function(){ while (true) {} })()"), []any{int64(1)})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExprKind_Cancelled(t *testing.T) {
	kind := NewExprKind(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The parent deadline surfaces as a timeout from the shared context.
	_, err := kind.Apply(ctx, Expression("(function(){ while (true) {} })()"), []any{int64(1)})
	assert.Error(t, err)
}

func TestExprKind_NoHostBindings(t *testing.T) {
	kind := NewExprKind(time.Second)

	out, err := kind.Apply(context.Background(), Expression("typeof require + typeof console"), []any{int64(1)})
	require.NoError(t, err)
	assert.Equal(t, []any{"undefinedundefined"}, out)
}

func TestExprKind_DefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultScriptTimeout, NewExprKind(0).Timeout())
}
