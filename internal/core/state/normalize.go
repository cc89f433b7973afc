package state

import (
	"math"
	"reflect"
)

// Normalize returns a deep copy of v in the shape durable stores decode
// to: slices and arrays become []any, maps with string keys become
// map[string]any, signed integers become int64, unsigned integers become
// int64 when they fit and uint64 otherwise, and float32 becomes float64.
// []byte, structs and other values are deep-copied unchanged.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int64, float64, []byte:
		return CloneValue(v)
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUint(t)
	case float32:
		return float64(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return []any(nil)
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return CloneValue(v)
		}
		if rv.IsNil() {
			return map[string]any(nil)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		if rv.Elem().Kind() == reflect.Struct {
			return CloneValue(v)
		}
		return Normalize(rv.Elem().Interface())
	}
	return CloneValue(v)
}

// NormalizeState normalizes every field of s into a new State.
func NormalizeState(s State) State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = Normalize(v)
	}
	return out
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return u
	}
	return int64(u)
}
