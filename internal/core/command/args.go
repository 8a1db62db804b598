package command

import (
	"encoding/json"
	"fmt"
	"math"
)

// coerceArgs converts raw JSON named arguments into typed Args per the
// descriptor's parameter list. Unknown argument names are ignored so
// clients may send advisory fields (the reference controller always sends
// "verbose"). Missing optional parameters receive their declared default.
func coerceArgs(params []Param, raw json.RawMessage) (Args, error) {
	fields := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: body is not a JSON object: %v", ErrInvalidArgument, err)
		}
	}

	args := make(Args, len(params))
	for _, p := range params {
		val, ok := fields[p.Name]
		if !ok || string(val) == "null" {
			if p.Required {
				return nil, fmt.Errorf("%w: missing required parameter %q", ErrInvalidArgument, p.Name)
			}
			if p.Default != nil {
				def, err := coerceDefault(p)
				if err != nil {
					return nil, err
				}
				args[p.Name] = def
			}
			continue
		}

		coerced, err := coerceValue(p.Kind, val)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", ErrInvalidArgument, p.Name, err)
		}
		args[p.Name] = coerced
	}

	return args, nil
}

// coerceValue converts one raw JSON value to the Go representation of the
// declared kind. This is the tagged-variant switch the registry dispatches
// through; adding a kind means adding a case here.
func coerceValue(kind Kind, raw json.RawMessage) (any, error) {
	switch kind {
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected string, got %s", truncate(raw))
		}
		return s, nil

	case KindInt:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("expected integer, got %s", truncate(raw))
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %s", truncate(raw))
		}
		return int64(f), nil

	case KindFloat:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("expected number, got %s", truncate(raw))
		}
		return f, nil

	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("expected bool, got %s", truncate(raw))
		}
		return b, nil

	case KindVector:
		return coerceVector(raw)

	case KindColor:
		return coerceColor(raw)

	case KindJSON:
		// Passed through untouched; handlers decode it themselves.
		out := make(json.RawMessage, len(raw))
		copy(out, raw)
		return out, nil

	default:
		return nil, fmt.Errorf("unknown parameter kind %q", kind)
	}
}

func coerceVector(raw json.RawMessage) (any, error) {
	var arr []float64
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) != 3 {
			return nil, fmt.Errorf("vector array needs 3 components, got %d", len(arr))
		}
		return Vector{X: arr[0], Y: arr[1], Z: arr[2]}, nil
	}

	var v Vector
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("expected vector object or array, got %s", truncate(raw))
	}
	return v, nil
}

func coerceColor(raw json.RawMessage) (any, error) {
	var arr []float64
	if err := json.Unmarshal(raw, &arr); err == nil {
		switch len(arr) {
		case 3:
			return Color{R: arr[0], G: arr[1], B: arr[2], A: 1}, nil
		case 4:
			return Color{R: arr[0], G: arr[1], B: arr[2], A: arr[3]}, nil
		default:
			return nil, fmt.Errorf("color array needs 3 or 4 components, got %d", len(arr))
		}
	}

	// Alpha defaults to opaque when the object omits it.
	c := struct {
		R *float64 `json:"r"`
		G *float64 `json:"g"`
		B *float64 `json:"b"`
		A *float64 `json:"a"`
	}{}
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("expected color object or array, got %s", truncate(raw))
	}
	out := Color{A: 1}
	if c.R != nil {
		out.R = *c.R
	}
	if c.G != nil {
		out.G = *c.G
	}
	if c.B != nil {
		out.B = *c.B
	}
	if c.A != nil {
		out.A = *c.A
	}
	return out, nil
}

// coerceDefault runs a declared default through the same coercion path as
// wire values, so a descriptor with a mistyped default fails loudly at
// first use instead of handing handlers an unexpected type.
func coerceDefault(p Param) (any, error) {
	raw, err := json.Marshal(p.Default)
	if err != nil {
		return nil, fmt.Errorf("%w: parameter %q has unmarshalable default", ErrInvalidArgument, p.Name)
	}
	v, err := coerceValue(p.Kind, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parameter %q default: %v", ErrInvalidArgument, p.Name, err)
	}
	return v, nil
}

func truncate(raw json.RawMessage) string {
	const max = 40
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
