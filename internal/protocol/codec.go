package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// wire keeps numbers as json.Number on decode so integers and floats are told
// apart by their lexeme, and sorts map keys so the same value always encodes
// to the same bytes.
var wire = sonic.Config{
	UseNumber:   true,
	SortMapKeys: true,
}.Froze()

// wireFloat always encodes with a fractional part or exponent, so 2.0 does
// not come back as the integer 2.
type wireFloat float64

func (f wireFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("unsupported number %v", v)
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return []byte(s), nil
}

// Encode serialises a message.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}

	out := *m
	out.Array = outboundSlice(m.Array)
	out.Chunk = outboundSlice(m.Chunk)
	out.Data = outboundSlice(m.Data)
	if m.Task != nil {
		desc := *m.Task
		desc.Args = outboundMap(m.Task.Args)
		out.Task = &desc
	}

	data, err := wire.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses and validates a message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := wire.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	m.Array = inboundSlice(m.Array)
	m.Chunk = inboundSlice(m.Chunk)
	m.Data = inboundSlice(m.Data)
	if m.Task != nil {
		m.Task.Args = inboundMap(m.Task.Args)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// EncodeValue serialises an arbitrary payload value with the wire settings.
func EncodeValue(v any) ([]byte, error) {
	return wire.Marshal(outbound(v))
}

// DecodeValue parses a payload value produced by EncodeValue.
func DecodeValue(data []byte) (any, error) {
	var v any
	if err := wire.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return inbound(v), nil
}

// outbound copies v with every float replaced by wireFloat.
func outbound(v any) any {
	switch x := v.(type) {
	case float64:
		return wireFloat(x)
	case float32:
		return wireFloat(x)
	case []any:
		return outboundSlice(x)
	case map[string]any:
		return outboundMap(x)
	default:
		return v
	}
}

func outboundSlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = outbound(v)
	}
	return out
}

func outboundMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = outbound(v)
	}
	return out
}

// inbound turns json.Number into int64 or float64 by lexeme, in place.
// Integers outside the int64 range become float64.
func inbound(v any) any {
	switch x := v.(type) {
	case json.Number:
		s := string(x)
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i
			}
		}
		f, _ := strconv.ParseFloat(s, 64)
		return f
	case []any:
		return inboundSlice(x)
	case map[string]any:
		return inboundMap(x)
	default:
		return v
	}
}

func inboundSlice(s []any) []any {
	for i, v := range s {
		s[i] = inbound(v)
	}
	return s
}

func inboundMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = inbound(v)
	}
	return m
}
