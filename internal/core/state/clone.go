package state

import (
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var equalOpts = []cmp.Option{
	cmp.Exporter(func(reflect.Type) bool { return true }),
	cmpopts.EquateEmpty(),
	cmp.FilterValues(bothNumbers, cmp.Comparer(equalNumbers)),
}

func bothNumbers(a, b any) bool {
	_, okA := toNumber(a)
	_, okB := toNumber(b)
	return okA && okB
}

func equalNumbers(a, b any) bool {
	x, _ := toNumber(a)
	y, _ := toNumber(b)
	return x.compare(y) == 0
}

// Equal reports whether two values are structurally equal. Nil and empty
// containers compare equal, and numbers compare by value whatever their
// Go type, since the JSON codec decodes every number as float64.
func Equal(a, b any) bool {
	return cmp.Equal(a, b, equalOpts...)
}

// CloneValue deep-copies maps, slices, arrays and pointers. Scalars and
// other immutable values are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case State:
		return t.Clone()
	case Update:
		return t.Clone()
	}
	return cloneReflect(reflect.ValueOf(v)).Interface()
}

func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneElem(iter.Value(), v.Type().Elem()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneElem(v.Index(i), v.Type().Elem()))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneElem(v.Index(i), v.Type().Elem()))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneReflect(v.Elem()))
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if f := out.Field(i); f.CanSet() {
				f.Set(cloneElem(v.Field(i), f.Type()))
			}
		}
		return out
	}
	return v
}

// cloneElem clones a value stored in a container of element type t,
// unwrapping interfaces so the dynamic value is copied.
func cloneElem(v reflect.Value, t reflect.Type) reflect.Value {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(t)
		}
		c := reflect.ValueOf(CloneValue(v.Elem().Interface()))
		out := reflect.New(t).Elem()
		out.Set(c)
		return out
	}
	return cloneReflect(v)
}
