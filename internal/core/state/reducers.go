package state

import (
	"fmt"
	"math"
	"reflect"
)

// Reducer folds one update value for a field into its current value.
// current is nil when the field is not yet set. Implementations must be
// pure: the result depends only on the two inputs.
type Reducer interface {
	Reduce(current, update any) any
}

// ReducerFunc adapts a function to the Reducer interface.
type ReducerFunc func(current, update any) any

// Reduce calls f(current, update).
func (f ReducerFunc) Reduce(current, update any) any { return f(current, update) }

// ReducerType names a built-in reducer so schemas can be declared in config.
type ReducerType string

const (
	// ReducerAppend concatenates lists in merge order
	ReducerAppend ReducerType = "append"
	// ReducerOverwrite keeps the last written value
	ReducerOverwrite ReducerType = "overwrite"
	// ReducerUnion keeps distinct elements in first-seen order
	ReducerUnion ReducerType = "union"
	// ReducerMerge merges nested maps
	ReducerMerge ReducerType = "merge"
	// ReducerAdd sums numbers
	ReducerAdd ReducerType = "add"
	// ReducerMax keeps the larger value
	ReducerMax ReducerType = "max"
	// ReducerMin keeps the smaller value
	ReducerMin ReducerType = "min"
)

// NewReducer returns the built-in reducer for t.
func NewReducer(t ReducerType) (Reducer, error) {
	switch t {
	case ReducerAppend:
		return AppendReducer{}, nil
	case ReducerOverwrite, "":
		return OverwriteReducer{}, nil
	case ReducerUnion:
		return UnionReducer{}, nil
	case ReducerMerge:
		return MergeReducer{}, nil
	case ReducerAdd:
		return AddReducer{}, nil
	case ReducerMax:
		return MaxReducer{}, nil
	case ReducerMin:
		return MinReducer{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownReducer, t)
	}
}

// AppendReducer concatenates the update onto the current list. Scalars
// on either side are treated as one-element lists.
type AppendReducer struct{}

// Reduce appends update to current.
func (AppendReducer) Reduce(current, update any) any {
	cur := toList(current)
	upd := toList(update)
	out := make([]any, 0, len(cur)+len(upd))
	out = append(out, cur...)
	return append(out, upd...)
}

// OverwriteReducer replaces the current value. Under fan-in the last
// update in frontier order wins.
type OverwriteReducer struct{}

// Reduce returns update.
func (OverwriteReducer) Reduce(_, update any) any { return update }

// UnionReducer treats both sides as sets. Elements keep first-seen order
// so the result is deterministic, but callers should not rely on it.
type UnionReducer struct{}

// Reduce returns current plus every update element not already present.
func (UnionReducer) Reduce(current, update any) any {
	out := make([]any, 0)
	for _, e := range toList(current) {
		if !contains(out, e) {
			out = append(out, e)
		}
	}
	for _, e := range toList(update) {
		if !contains(out, e) {
			out = append(out, e)
		}
	}
	return out
}

// MergeReducer merges maps recursively; non-map values are replaced.
type MergeReducer struct{}

// Reduce merges update into current.
func (r MergeReducer) Reduce(current, update any) any {
	cur, ok1 := current.(map[string]any)
	upd, ok2 := update.(map[string]any)
	if !ok1 || !ok2 {
		return update
	}
	merged := make(map[string]any, len(cur)+len(upd))
	for k, v := range cur {
		merged[k] = v
	}
	for k, v := range upd {
		if existing, exists := merged[k]; exists {
			merged[k] = r.Reduce(existing, v)
		} else {
			merged[k] = v
		}
	}
	return merged
}

// AddReducer sums numeric values. Integer sums are int64. A non-numeric
// update replaces current.
type AddReducer struct{}

// Reduce returns current + update.
func (AddReducer) Reduce(current, update any) any {
	if current == nil {
		return update
	}
	a, ok1 := toNumber(current)
	b, ok2 := toNumber(update)
	if !ok1 || !ok2 {
		return update
	}
	return a.add(b).value()
}

// MaxReducer keeps the larger of two numbers or strings.
type MaxReducer struct{}

// Reduce returns max(current, update).
func (MaxReducer) Reduce(current, update any) any {
	return pick(current, update, func(c int) bool { return c > 0 })
}

// MinReducer keeps the smaller of two numbers or strings.
type MinReducer struct{}

// Reduce returns min(current, update).
func (MinReducer) Reduce(current, update any) any {
	return pick(current, update, func(c int) bool { return c < 0 })
}

// pick returns update when keep(compare(update, current)) holds.
func pick(current, update any, keep func(int) bool) any {
	if current == nil {
		return update
	}
	if cs, ok := current.(string); ok {
		if us, ok := update.(string); ok {
			if keep(compareStrings(us, cs)) {
				return us
			}
			return cs
		}
		return update
	}
	a, ok1 := toNumber(current)
	b, ok2 := toNumber(update)
	if !ok1 || !ok2 {
		return update
	}
	if keep(b.compare(a)) {
		return update
	}
	return current
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func contains(list []any, v any) bool {
	for _, e := range list {
		if Equal(e, v) {
			return true
		}
	}
	return false
}

// toList normalizes a value into a fresh []any. []byte is a scalar.
func toList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return append([]any(nil), t...)
	case []byte:
		return []any{t}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}

// number keeps integers exact and falls back to float64 when either side is fractional.
type number struct {
	i       int64
	f       float64
	isFloat bool
}

func toNumber(v any) (number, bool) {
	switch t := v.(type) {
	case int:
		return number{i: int64(t)}, true
	case int8:
		return number{i: int64(t)}, true
	case int16:
		return number{i: int64(t)}, true
	case int32:
		return number{i: int64(t)}, true
	case int64:
		return number{i: t}, true
	case uint:
		if uint64(t) > math.MaxInt64 {
			return number{f: float64(t), isFloat: true}, true
		}
		return number{i: int64(t)}, true
	case uint8:
		return number{i: int64(t)}, true
	case uint16:
		return number{i: int64(t)}, true
	case uint32:
		return number{i: int64(t)}, true
	case uint64:
		if uint64(t) > math.MaxInt64 {
			return number{f: float64(t), isFloat: true}, true
		}
		return number{i: int64(t)}, true
	case float32:
		return fromFloat(float64(t)), true
	case float64:
		return fromFloat(t), true
	}
	return number{}, false
}

func fromFloat(f float64) number {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return number{i: int64(f)}
	}
	return number{f: f, isFloat: true}
}

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n number) int64() int64 {
	if n.isFloat {
		return int64(n.f)
	}
	return n.i
}

func (n number) add(o number) number {
	if n.isFloat || o.isFloat {
		return number{f: n.float() + o.float(), isFloat: true}
	}
	return number{i: n.i + o.i}
}

func (n number) compare(o number) int {
	if !n.isFloat && !o.isFloat {
		switch {
		case n.i < o.i:
			return -1
		case n.i > o.i:
			return 1
		}
		return 0
	}
	a, b := n.float(), o.float()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (n number) value() any {
	if n.isFloat {
		return n.f
	}
	return n.i
}
