package task

import (
	"context"
	"fmt"
	"time"
)

// Builtin kind names.
const (
	KindIdentity  = "identity"
	KindDouble    = "double"
	KindSquare    = "square"
	KindNegate    = "negate"
	KindIncrement = "increment"
	KindAbs       = "abs"
	KindToString  = "to_string"
	KindExpr      = "expr"
)

// ElementFunc computes the result for a single element.
type ElementFunc func(args map[string]any, x any) (any, error)

type elementKind struct {
	name string
	fn   ElementFunc
}

// Element adapts a per-element function to a Kind.
// The context is checked between elements.
func Element(name string, fn ElementFunc) Kind {
	return &elementKind{name: name, fn: fn}
}

func (k *elementKind) Type() string {
	return k.name
}

func (k *elementKind) Apply(ctx context.Context, desc Descriptor, chunk []any) ([]any, error) {
	out := make([]any, len(chunk))
	for i, x := range chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := k.fn(desc.Args, x)
		if err != nil {
			return nil, &ApplyError{Kind: k.name, Index: i, Value: x, Cause: err}
		}
		out[i] = v
	}
	return out, nil
}

func numeric(fn func(args map[string]any, n number) (number, error)) ElementFunc {
	return func(args map[string]any, x any) (any, error) {
		n, err := toNumber(x)
		if err != nil {
			return nil, err
		}
		r, err := fn(args, n)
		if err != nil {
			return nil, err
		}
		return r.value(), nil
	}
}

var two = number{i: 2, isInt: true}

func builtins() []Kind {
	return []Kind{
		Element(KindIdentity, func(_ map[string]any, x any) (any, error) {
			return x, nil
		}),
		Element(KindDouble, numeric(func(_ map[string]any, n number) (number, error) {
			return n.mul(two), nil
		})),
		Element(KindSquare, numeric(func(_ map[string]any, n number) (number, error) {
			return n.mul(n), nil
		})),
		Element(KindNegate, numeric(func(_ map[string]any, n number) (number, error) {
			return n.neg(), nil
		})),
		Element(KindIncrement, numeric(func(args map[string]any, n number) (number, error) {
			by, err := numberArg(args, "by", number{i: 1, isInt: true})
			if err != nil {
				return number{}, err
			}
			return n.add(by), nil
		})),
		Element(KindAbs, numeric(func(_ map[string]any, n number) (number, error) {
			return n.abs(), nil
		})),
		Element(KindToString, func(_ map[string]any, x any) (any, error) {
			if s, ok := x.(string); ok {
				return s, nil
			}
			return fmt.Sprint(x), nil
		}),
	}
}

// DefaultRegistry returns a registry holding every builtin kind.
// scriptTimeout bounds each expr fragment; zero selects DefaultScriptTimeout.
func DefaultRegistry(scriptTimeout time.Duration) *Registry {
	r := NewRegistry()
	for _, k := range builtins() {
		r.MustRegister(k)
	}
	r.MustRegister(NewExprKind(scriptTimeout))
	return r
}
