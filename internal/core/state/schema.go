package state

import "fmt"

// Schema declares the reducer for each state field. Fields without a
// declaration use the default reducer, which is Overwrite unless changed.
//
// A Schema is immutable once handed to a graph builder.
type Schema struct {
	fields   map[string]Reducer
	fallback Reducer
}

// SchemaOption configures a Schema.
type SchemaOption func(*Schema)

// WithField sets the reducer for one field.
func WithField(name string, r Reducer) SchemaOption {
	return func(s *Schema) { s.fields[name] = r }
}

// WithDefault sets the reducer used for undeclared fields.
func WithDefault(r Reducer) SchemaOption {
	return func(s *Schema) { s.fallback = r }
}

// NewSchema builds a schema from options.
func NewSchema(opts ...SchemaOption) *Schema {
	s := &Schema{fields: make(map[string]Reducer), fallback: OverwriteReducer{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SchemaFromTypes builds a schema from field -> reducer type names, as
// found in configuration files.
func SchemaFromTypes(fields map[string]ReducerType) (*Schema, error) {
	s := NewSchema()
	for name, t := range fields {
		r, err := NewReducer(t)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		s.fields[name] = r
	}
	return s, nil
}

// ReducerFor returns the reducer responsible for field.
func (s *Schema) ReducerFor(field string) Reducer {
	if s == nil {
		return OverwriteReducer{}
	}
	if r, ok := s.fields[field]; ok {
		return r
	}
	return s.fallback
}

// Apply folds updates into current in slice order and returns the new
// state. current is not modified. Merged fields are normalized, so a
// state read back from a durable store has the same Go types as the one
// that was saved. The result depends only on current and
// the order of updates, which is what makes superstep merges deterministic.
func (s *Schema) Apply(current State, updates ...Update) State {
	next := make(State, len(current))
	for k, v := range current {
		next[k] = v
	}
	for _, u := range updates {
		for field, v := range u {
			next[field] = Normalize(s.ReducerFor(field).Reduce(next[field], Normalize(v)))
		}
	}
	return next
}

// Delta returns the update that, applied to before with this schema,
// reproduces the fields of after. Append fields yield only their new
// suffix and Union fields only their new elements, so a nested graph's
// result can be merged into a parent without duplicating what the parent
// already holds. Unchanged fields are omitted.
func (s *Schema) Delta(before, after State) Update {
	out := Update{}
	for field, v := range after {
		prev, had := before[field]
		if had && Equal(prev, v) {
			continue
		}
		switch s.ReducerFor(field).(type) {
		case AppendReducer:
			prevList, nextList := toList(prev), toList(v)
			if len(nextList) >= len(prevList) && Equal(prevList, nextList[:len(prevList)]) {
				out[field] = nextList[len(prevList):]
				continue
			}
		case UnionReducer:
			var added []any
			prevList := toList(prev)
			for _, e := range toList(v) {
				if !contains(prevList, e) {
					added = append(added, e)
				}
			}
			out[field] = added
			continue
		}
		out[field] = v
	}
	return out
}
