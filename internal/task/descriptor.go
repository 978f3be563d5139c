// Package task defines the units of computation workers apply to array fragments.
//
// Executable code is never shipped over the wire. A Descriptor names a kind that
// every worker registers ahead of time, plus optional parameters. The expr kind
// evaluates a restricted JavaScript expression in a fresh sandboxed runtime.
package task

import (
	"fmt"
	"sort"
	"strings"

	"github.com/duke-git/lancet/v2/maputil"
)

// Descriptor identifies the computation for one distribute request.
type Descriptor struct {
	// Kind names a registered kind, e.g. "double" or "expr".
	Kind string `json:"kind" yaml:"kind"`

	// Expr is the expression source for the expr kind.
	Expr string `json:"expr,omitempty" yaml:"expr,omitempty"`

	// Args are kind-specific parameters.
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// Named returns a descriptor for a parameterless kind.
func Named(kind string) Descriptor {
	return Descriptor{Kind: kind}
}

// Expression returns a descriptor for the expr kind.
func Expression(expr string) Descriptor {
	return Descriptor{Kind: KindExpr, Expr: expr}
}

// WithArg returns a copy of d with one argument set.
func (d Descriptor) WithArg(key string, value any) Descriptor {
	args := make(map[string]any, len(d.Args)+1)
	for k, v := range d.Args {
		args[k] = v
	}
	args[key] = value
	d.Args = args
	return d
}

// Validate checks the descriptor is well formed. It does not check that the kind is registered.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Kind) == "" {
		return fmt.Errorf("%w: empty kind", ErrInvalidDescriptor)
	}
	if d.Kind == KindExpr && strings.TrimSpace(d.Expr) == "" {
		return fmt.Errorf("%w: %s requires an expression", ErrInvalidDescriptor, KindExpr)
	}
	return nil
}

func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteString(d.Kind)
	if d.Expr != "" {
		fmt.Fprintf(&b, "(%q)", d.Expr)
	}
	if len(d.Args) > 0 {
		keys := maputil.Keys(d.Args)
		sort.Strings(keys)
		b.WriteString("[")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "%s=%v", k, d.Args[k])
		}
		b.WriteString("]")
	}
	return b.String()
}
