package task

import (
	"fmt"
	"math"

	"github.com/duke-git/lancet/v2/convertor"
)

// number is an element decoded as either an integer or a float.
// Integers stay integers through the numeric kinds so results compare equal after a round trip.
type number struct {
	i     int64
	f     float64
	isInt bool
}

func toNumber(x any) (number, error) {
	switch v := x.(type) {
	case int64:
		return number{i: v, isInt: true}, nil
	case int:
		return number{i: int64(v), isInt: true}, nil
	case int32:
		return number{i: int64(v), isInt: true}, nil
	case int16:
		return number{i: int64(v), isInt: true}, nil
	case int8:
		return number{i: int64(v), isInt: true}, nil
	case uint32:
		return number{i: int64(v), isInt: true}, nil
	case uint16:
		return number{i: int64(v), isInt: true}, nil
	case uint8:
		return number{i: int64(v), isInt: true}, nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return number{f: float64(v)}, nil
		}
		return number{i: int64(v), isInt: true}, nil
	case uint64:
		if v > math.MaxInt64 {
			return number{f: float64(v)}, nil
		}
		return number{i: int64(v), isInt: true}, nil
	case float64:
		return number{f: v}, nil
	case float32:
		return number{f: float64(v)}, nil
	default:
		return number{}, fmt.Errorf("%w: %T", ErrNotNumeric, x)
	}
}

func (n number) value() any {
	if n.isInt {
		return n.i
	}
	return n.f
}

func (n number) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

// Integer results that would overflow int64 are promoted to float64.
func (n number) add(o number) number {
	if n.isInt && o.isInt {
		r := n.i + o.i
		if (n.i > 0 && o.i > 0 && r < 0) || (n.i < 0 && o.i < 0 && r >= 0) {
			return number{f: n.float() + o.float()}
		}
		return number{i: r, isInt: true}
	}
	return number{f: n.float() + o.float()}
}

func (n number) mul(o number) number {
	if n.isInt && o.isInt {
		if n.i == 0 || o.i == 0 {
			return number{isInt: true}
		}
		r := n.i * o.i
		if r/o.i != n.i || (n.i == -1 && o.i == math.MinInt64) || (o.i == -1 && n.i == math.MinInt64) {
			return number{f: n.float() * o.float()}
		}
		return number{i: r, isInt: true}
	}
	return number{f: n.float() * o.float()}
}

func (n number) neg() number {
	if n.isInt {
		if n.i == math.MinInt64 {
			return number{f: -n.float()}
		}
		return number{i: -n.i, isInt: true}
	}
	return number{f: -n.f}
}

func (n number) abs() number {
	if n.isInt {
		if n.i < 0 {
			return n.neg()
		}
		return n
	}
	return number{f: math.Abs(n.f)}
}

// numberArg reads a numeric argument, accepting numeric strings as passed on the command line.
func numberArg(args map[string]any, key string, def number) (number, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return def, nil
	}
	if n, err := toNumber(raw); err == nil {
		return n, nil
	}
	if s, ok := raw.(string); ok {
		if i, err := convertor.ToInt(s); err == nil {
			return number{i: i, isInt: true}, nil
		}
	}
	f, err := convertor.ToFloat(raw)
	if err != nil {
		return number{}, fmt.Errorf("argument %q: %w", key, ErrNotNumeric)
	}
	return number{f: f}, nil
}
