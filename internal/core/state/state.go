// Package state holds the shared value a graph operates on and the
// field-level reducers that fold node updates into it.
package state

import (
	"maps"
	"slices"
)

// State is the user payload carried between supersteps. Values must be
// plain data: maps, slices, strings, numbers, booleans or structs built
// from them, so that a State can be compared, cloned and serialized.
type State map[string]any

// Update is the partial State produced by one node invocation.
type Update map[string]any

// Clone returns a deep copy of the state. Running node tasks each receive
// their own clone so that no two tasks share a mutable alias.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = CloneValue(v)
	}
	return out
}

// Keys returns the field names in sorted order.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}

// Get returns the field value and whether it is set.
func (s State) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

// String returns the field as a string, or "" when missing or of another type.
func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// List returns the field normalized to a []any.
func (s State) List(key string) []any {
	return toList(s[key])
}

// Int returns the field as an int64 when it holds any integer or
// integral float, which is how decoded checkpoints present numbers.
func (s State) Int(key string) (int64, bool) {
	n, ok := toNumber(s[key])
	if !ok {
		return 0, false
	}
	return n.int64(), true
}

// Equal reports structural equality of two states.
func (s State) Equal(other State) bool {
	return Equal(map[string]any(s), map[string]any(other))
}

// Clone returns a deep copy of the update.
func (u Update) Clone() Update {
	if u == nil {
		return nil
	}
	out := make(Update, len(u))
	for k, v := range u {
		out[k] = CloneValue(v)
	}
	return out
}
