// Package state implements the dynamic typed record threaded through a
// workflow run. A state schema is known only at config-load time, so the
// record is a value map with a sidecar descriptor per field; updates go
// through copy-on-write Apply with a per-field reducer.
package state

import (
	"fmt"
	"sort"

	"github.com/lyzr/graphflow/schema"
)

// Reducer decides how repeated or concurrent writes to a field combine.
type Reducer int

const (
	// Replace overwrites the previous value. The default.
	Replace Reducer = iota
	// Append appends to a list field. Required for parallel collect fields.
	Append
	// SumInt adds to an int field.
	SumInt
)

// ParseReducer maps the workflow-document spelling to a Reducer.
func ParseReducer(s string) (Reducer, error) {
	switch s {
	case "", "replace":
		return Replace, nil
	case "append":
		return Append, nil
	case "sum":
		return SumInt, nil
	default:
		return Replace, fmt.Errorf("unknown reducer %q (want replace, append, or sum)", s)
	}
}

// FieldSpec describes one state field.
type FieldSpec struct {
	Name        string
	Type        schema.Type
	Required    bool
	Default     any
	HasDefault  bool
	Description string
	Reducer     Reducer

	// Hidden marks fields injected by the engine (loop counters, branch
	// indexes). They are excluded from user-facing snapshots of the final
	// state but participate in conditions and persistence snapshots.
	Hidden bool
}

// InitError reports a failure to construct the initial state from run inputs.
type InitError struct {
	Field string
	Msg   string
}

func (e *InitError) Error() string {
	return fmt.Sprintf("state init: field %q: %s", e.Field, e.Msg)
}

// Schema is an ordered set of field specs. It acts as the factory for run
// states (§ makeState).
type Schema struct {
	fields []FieldSpec
	byName map[string]int
}

// NewSchema builds a schema, rejecting duplicate names. An optional field
// without a default is nullable: it starts as nil.
func NewSchema(fields []FieldSpec) (*Schema, error) {
	s := &Schema{byName: make(map[string]int, len(fields))}
	for _, f := range fields {
		if _, dup := s.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate state field %q", f.Name)
		}
		s.byName[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// WithHidden returns a new schema extended with engine-injected fields.
// Existing names are rejected to keep injected counters collision-free.
func (s *Schema) WithHidden(extra ...FieldSpec) (*Schema, error) {
	fields := make([]FieldSpec, len(s.fields), len(s.fields)+len(extra))
	copy(fields, s.fields)
	for _, f := range extra {
		f.Hidden = true
		fields = append(fields, f)
	}
	return NewSchema(fields)
}

// Field returns the spec for name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	i, ok := s.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.fields[i], true
}

// Names returns field names in declaration order, hidden fields included.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// VisibleNames returns non-hidden field names in declaration order.
func (s *Schema) VisibleNames() []string {
	var names []string
	for _, f := range s.fields {
		if !f.Hidden {
			names = append(names, f.Name)
		}
	}
	return names
}

// Make constructs the initial state from run inputs: required fields must be
// present with the right type, defaults fill absent optional fields, and
// unknown input names are rejected with a suggestion.
func (s *Schema) Make(inputs map[string]any) (*State, error) {
	for name := range inputs {
		if _, ok := s.byName[name]; !ok {
			msg := "not a declared state field"
			if hint := schema.Suggest(name, s.VisibleNames()); hint != "" {
				msg = fmt.Sprintf("not a declared state field. Did you mean %q?", hint)
			}
			return nil, &InitError{Field: name, Msg: msg}
		}
	}

	values := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		if v, ok := inputs[f.Name]; ok {
			if err := f.Type.CheckValue(v); err != nil {
				return nil, &InitError{Field: f.Name, Msg: err.Error()}
			}
			values[f.Name] = v
			continue
		}
		if f.Required {
			return nil, &InitError{Field: f.Name, Msg: "required input missing"}
		}
		if f.HasDefault {
			values[f.Name] = f.Default
			continue
		}
		values[f.Name] = nil
	}
	return &State{schema: s, values: values}, nil
}

// Delta is a partial update produced by a node execution.
type Delta map[string]any

// State is an immutable snapshot of the typed record. Apply returns a new
// state; the receiver is never mutated.
type State struct {
	schema *Schema
	values map[string]any
}

// Schema returns the schema this state was built from.
func (st *State) Schema() *Schema { return st.schema }

// Get returns the value of a field.
func (st *State) Get(name string) (any, bool) {
	v, ok := st.values[name]
	return v, ok
}

// Value returns the value of a field, nil when absent.
func (st *State) Value(name string) any { return st.values[name] }

// Snapshot returns a shallow copy of all field values, hidden included.
// Conditions and templates evaluate against this map.
func (st *State) Snapshot() map[string]any {
	out := make(map[string]any, len(st.values))
	for k, v := range st.values {
		out[k] = v
	}
	return out
}

// VisibleSnapshot returns a shallow copy without hidden engine fields. This
// is the user-facing final state shape.
func (st *State) VisibleSnapshot() map[string]any {
	out := make(map[string]any, len(st.values))
	for _, f := range st.schema.fields {
		if f.Hidden {
			continue
		}
		out[f.Name] = st.values[f.Name]
	}
	return out
}

// Apply merges a delta into a copy of the state, honoring each field's
// reducer and validating types against the descriptors.
func (st *State) Apply(delta Delta) (*State, error) {
	if len(delta) == 0 {
		return st, nil
	}

	next := make(map[string]any, len(st.values))
	for k, v := range st.values {
		next[k] = v
	}

	// deterministic application order
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		v := delta[name]
		f, ok := st.schema.Field(name)
		if !ok {
			return nil, fmt.Errorf("apply delta: %q is not a state field", name)
		}
		switch f.Reducer {
		case Append:
			merged, err := appendValue(next[name], v)
			if err != nil {
				return nil, fmt.Errorf("apply delta: field %q: %w", name, err)
			}
			next[name] = merged
		case SumInt:
			merged, err := sumInt(next[name], v)
			if err != nil {
				return nil, fmt.Errorf("apply delta: field %q: %w", name, err)
			}
			next[name] = merged
		default:
			if err := f.Type.CheckValue(v); err != nil {
				return nil, fmt.Errorf("apply delta: field %q: %w", name, err)
			}
			next[name] = v
		}
	}
	return &State{schema: st.schema, values: next}, nil
}

// appendValue appends v to a list value. A []any delta concatenates
// elementwise; any other value appends as a single element.
func appendValue(existing, v any) (any, error) {
	var list []any
	switch cur := existing.(type) {
	case nil:
		list = []any{}
	case []any:
		list = make([]any, len(cur))
		copy(list, cur)
	default:
		return nil, fmt.Errorf("append reducer on non-list value %T", existing)
	}
	if items, ok := v.([]any); ok {
		return append(list, items...), nil
	}
	return append(list, v), nil
}

func sumInt(existing, v any) (any, error) {
	cur, ok := asInt(existing)
	if !ok && existing != nil {
		return nil, fmt.Errorf("sum reducer on non-int value %T", existing)
	}
	add, ok := asInt(v)
	if !ok {
		return nil, fmt.Errorf("sum reducer given non-int delta %T", v)
	}
	return cur + add, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
