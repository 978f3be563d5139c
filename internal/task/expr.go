package task

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/dop251/goja"
)

// DefaultScriptTimeout bounds one expr fragment.
const DefaultScriptTimeout = 5 * time.Second

// ExprKind evaluates a JavaScript expression for every element.
// The expression sees the element as x, its position in the fragment as i,
// and the descriptor arguments as args. Each fragment gets a fresh runtime
// with no host bindings.
type ExprKind struct {
	timeout time.Duration
}

// NewExprKind creates the expr kind.
func NewExprKind(timeout time.Duration) *ExprKind {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	return &ExprKind{timeout: timeout}
}

// Type returns KindExpr.
func (k *ExprKind) Type() string {
	return KindExpr
}

// Timeout returns the per-fragment time budget.
func (k *ExprKind) Timeout() time.Duration {
	return k.timeout
}

// Compile parses an expression without running it.
func Compile(expr string) (*goja.Program, error) {
	prog, err := goja.Compile("expr", "("+expr+"\n)", true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return prog, nil
}

// Apply runs the expression over chunk.
func (k *ExprKind) Apply(ctx context.Context, desc Descriptor, chunk []any) ([]any, error) {
	prog, err := Compile(desc.Expr)
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	args := desc.Args
	if args == nil {
		args = map[string]any{}
	}
	if err := vm.Set("args", args); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ErrTimeout)
	})
	defer stop()

	out := make([]any, len(chunk))
	for i, x := range chunk {
		if err := vm.Set("x", x); err != nil {
			return nil, err
		}
		if err := vm.Set("i", i); err != nil {
			return nil, err
		}

		val, err := vm.RunProgram(prog)
		if err != nil {
			var interrupted *goja.InterruptedError
			if errors.As(err, &interrupted) {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, fmt.Errorf("%s: %w after %s", KindExpr, ErrTimeout, k.timeout)
				}
				return nil, ctx.Err()
			}
			return nil, &ApplyError{Kind: KindExpr, Index: i, Value: x, Cause: err}
		}

		v, err := export(val)
		if err != nil {
			return nil, &ApplyError{Kind: KindExpr, Index: i, Value: x, Cause: err}
		}
		out[i] = v
	}
	return out, nil
}

// export converts a script value to something the wire codec can carry.
func export(val goja.Value) (any, error) {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	if _, ok := goja.AssertFunction(val); ok {
		return nil, errors.New("expression produced a function")
	}

	v := val.Export()
	if err := checkExported(v); err != nil {
		return nil, err
	}
	return v, nil
}

// checkExported walks nested arrays and objects for values JSON cannot hold.
func checkExported(v any) error {
	switch x := v.(type) {
	case nil, bool, string, int64:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("expression produced non-finite number %v", x)
		}
	case []any:
		for _, e := range x {
			if err := checkExported(e); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, e := range x {
			if err := checkExported(e); err != nil {
				return err
			}
		}
	default:
		if reflect.ValueOf(v).Kind() == reflect.Func {
			return errors.New("expression produced a function")
		}
	}
	return nil
}
