package types

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"
)

// State is the opaque, server-authoritative agent state.
// It holds a decoded JSON value: nil, bool, float64, string,
// []any or map[string]any. Values from other codecs are brought to
// that form with NormalizeState.
type State = any

// StateOpType is the kind of a state update operation.
type StateOpType string

// State operation kinds.
const (
	// StateOpSet replaces the value at Path.
	StateOpSet StateOpType = "set"
	// StateOpAppendText appends Value (a string) to the string at Path.
	StateOpAppendText StateOpType = "append-text"
)

// StateOp is one incremental state update operation.
type StateOp struct {
	Type  StateOpType `json:"type" msgpack:"type"`
	Path  []string    `json:"path" msgpack:"path"`
	Value any         `json:"value,omitempty" msgpack:"value,omitempty"`
}

// NormalizeState converts v to its canonical JSON form, so that
// numbers are float64 and maps are map[string]any.
func NormalizeState(v any) (State, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("state is not JSON-compatible: %w", err)
	}
	var out State
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("state is not JSON-compatible: %w", err)
	}
	return out, nil
}

// StatesEqual reports whether two states are equal by value. Both sides
// are compared in canonical JSON form, so int8(1) equals float64(1).
func StatesEqual(a, b State) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	na, errA := NormalizeState(a)
	nb, errB := NormalizeState(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// ApplyStateOps applies ops to state and returns the new state.
// The input state is never mutated; containers along each updated
// path are copied.
func ApplyStateOps(state State, ops []StateOp) (State, error) {
	for _, op := range ops {
		next, err := applyOp(state, op)
		if err != nil {
			return nil, err
		}
		state = next
	}
	return state, nil
}

func applyOp(state State, op StateOp) (State, error) {
	switch op.Type {
	case StateOpSet:
		return setPath(state, op.Path, func(any) (any, error) { return op.Value, nil })
	case StateOpAppendText:
		suffix, ok := op.Value.(string)
		if !ok {
			return nil, stateRegression(op.Path, "append-text value is %T, want string", op.Value)
		}
		return setPath(state, op.Path, func(cur any) (any, error) {
			switch v := cur.(type) {
			case nil:
				return suffix, nil
			case string:
				return v + suffix, nil
			default:
				return nil, stateRegression(op.Path, "append-text onto %T", cur)
			}
		})
	default:
		return nil, stateRegression(op.Path, "unknown operation %q", op.Type)
	}
}

// setPath rebuilds the containers along path, replacing the leaf with
// the value returned by update.
func setPath(cur any, path []string, update func(any) (any, error)) (any, error) {
	if len(path) == 0 {
		return update(cur)
	}
	key, rest := path[0], path[1:]

	switch c := cur.(type) {
	case nil:
		child, err := setPath(nil, rest, update)
		if err != nil {
			return nil, err
		}
		return map[string]any{key: child}, nil
	case map[string]any:
		child, err := setPath(c[key], rest, update)
		if err != nil {
			return nil, err
		}
		out := maps.Clone(c)
		out[key] = child
		return out, nil
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx > len(c) {
			return nil, stateRegression(path, "invalid array index %q", key)
		}
		var existing any
		if idx < len(c) {
			existing = c[idx]
		}
		child, err := setPath(existing, rest, update)
		if err != nil {
			return nil, err
		}
		out := slices.Clone(c)
		if idx == len(out) {
			out = append(out, child)
		} else {
			out[idx] = child
		}
		return out, nil
	default:
		return nil, stateRegression(path, "cannot descend into %T", cur)
	}
}

func stateRegression(path []string, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Kind: ProtocolStateRegression,
		Msg:  fmt.Sprintf("at %v: ", path) + fmt.Sprintf(format, args...),
	}
}
