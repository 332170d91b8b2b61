// Package schema defines the type descriptors shared by workflow state
// schemas, node output schemas, and tool input schemas, plus the parser for
// the string form used in workflow documents ("str", "list[int]",
// "dict[str,float]", ...).
package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind discriminates the Type variant.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
	KindObject
)

// Type is a tagged type descriptor.
type Type struct {
	Kind Kind

	// Elem is set for KindList.
	Elem *Type

	// Key and Value are set for KindMap.
	Key   *Type
	Value *Type

	// Fields is set for KindObject; order is declaration order. A nil
	// Fields slice on KindObject means an open object (bare "object").
	Fields []Field
}

// Field is a named member of an object type.
type Field struct {
	Name        string
	Type        Type
	Description string
}

// Constructors for the common shapes.
func String() Type { return Type{Kind: KindString} }
func Int() Type    { return Type{Kind: KindInt} }
func Float() Type  { return Type{Kind: KindFloat} }
func Bool() Type   { return Type{Kind: KindBool} }
func Any() Type    { return Type{Kind: KindAny} }

func List(elem Type) Type { return Type{Kind: KindList, Elem: &elem} }

func Map(key, value Type) Type { return Type{Kind: KindMap, Key: &key, Value: &value} }

func Object(fields ...Field) Type { return Type{Kind: KindObject, Fields: fields} }

// String renders the descriptor in the workflow document syntax, such that
// ParseType(t.String()) reproduces t for every parseable type. Object field
// lists have no string syntax and render as "object".
func (t Type) String() string {
	switch t.Kind {
	case KindString:
		return "str"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindAny:
		return "any"
	case KindList:
		if t.Elem == nil || t.Elem.Kind == KindAny {
			return "list"
		}
		return "list[" + t.Elem.String() + "]"
	case KindMap:
		if t.Key == nil || t.Value == nil || (t.Key.Kind == KindAny && t.Value.Kind == KindAny) {
			return "dict"
		}
		return "dict[" + t.Key.String() + "," + t.Value.String() + "]"
	case KindObject:
		return "object"
	default:
		return "any"
	}
}

// Equal reports structural equality.
func (t Type) Equal(other Type) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case KindList:
		return elemEqual(t.Elem, other.Elem)
	case KindMap:
		return elemEqual(t.Key, other.Key) && elemEqual(t.Value, other.Value)
	case KindObject:
		if len(t.Fields) != len(other.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != other.Fields[i].Name || !t.Fields[i].Type.Equal(other.Fields[i].Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func elemEqual(a, b *Type) bool {
	if a == nil || b == nil {
		return (a == nil) == (b == nil)
	}
	return a.Equal(*b)
}

// AssignableTo reports whether a value of type t satisfies target:
// same primitive, list[T]→list[U] if T assignable to U, map key+value-wise,
// object field-by-field, and Any absorbs everything in either direction.
func (t Type) AssignableTo(target Type) bool {
	if target.Kind == KindAny || t.Kind == KindAny {
		return true
	}
	if t.Kind != target.Kind {
		return false
	}
	switch t.Kind {
	case KindList:
		return elemOrAny(t.Elem).AssignableTo(elemOrAny(target.Elem))
	case KindMap:
		return elemOrAny(t.Key).AssignableTo(elemOrAny(target.Key)) &&
			elemOrAny(t.Value).AssignableTo(elemOrAny(target.Value))
	case KindObject:
		if target.Fields == nil {
			return true
		}
		byName := make(map[string]Type, len(t.Fields))
		for _, f := range t.Fields {
			byName[f.Name] = f.Type
		}
		for _, f := range target.Fields {
			ft, ok := byName[f.Name]
			if !ok || !ft.AssignableTo(f.Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func elemOrAny(t *Type) Type {
	if t == nil {
		return Any()
	}
	return *t
}

// CheckValue validates a decoded JSON/YAML value against the descriptor.
// JSON decoding yields float64 for all numbers, so integral float64 values
// satisfy int fields.
func (t Type) CheckValue(v any) error {
	if v == nil {
		return nil
	}
	switch t.Kind {
	case KindAny:
		return nil
	case KindString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected str, got %T", v)
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
	case KindInt:
		switch n := v.(type) {
		case int, int32, int64:
		case float64:
			if n != math.Trunc(n) {
				return fmt.Errorf("expected int, got non-integral number %v", n)
			}
		default:
			return fmt.Errorf("expected int, got %T", v)
		}
	case KindFloat:
		switch v.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("expected float, got %T", v)
		}
	case KindList:
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("expected list, got %T", v)
		}
		for i, item := range items {
			if err := elemOrAny(t.Elem).CheckValue(item); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
	case KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected dict, got %T", v)
		}
		for k, val := range m {
			if err := elemOrAny(t.Value).CheckValue(val); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
	case KindObject:
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
		if t.Fields == nil {
			return nil
		}
		declared := make(map[string]Type, len(t.Fields))
		for _, f := range t.Fields {
			declared[f.Name] = f.Type
		}
		var unknown []string
		for k := range m {
			if _, ok := declared[k]; !ok {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return fmt.Errorf("unknown fields: %s", strings.Join(unknown, ", "))
		}
		for _, f := range t.Fields {
			val, ok := m[f.Name]
			if !ok {
				return fmt.Errorf("missing field %q", f.Name)
			}
			if err := f.Type.CheckValue(val); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
	}
	return nil
}

// JSONSchema renders the descriptor as a JSON Schema fragment. Field
// descriptions are forwarded so providers can show the model what to produce.
func (t Type) JSONSchema() map[string]any {
	switch t.Kind {
	case KindString:
		return map[string]any{"type": "string"}
	case KindInt:
		return map[string]any{"type": "integer"}
	case KindFloat:
		return map[string]any{"type": "number"}
	case KindBool:
		return map[string]any{"type": "boolean"}
	case KindList:
		return map[string]any{"type": "array", "items": elemOrAny(t.Elem).JSONSchema()}
	case KindMap:
		return map[string]any{"type": "object", "additionalProperties": elemOrAny(t.Value).JSONSchema()}
	case KindObject:
		props := make(map[string]any, len(t.Fields))
		required := make([]string, 0, len(t.Fields))
		for _, f := range t.Fields {
			fs := f.Type.JSONSchema()
			if f.Description != "" {
				fs["description"] = f.Description
			}
			props[f.Name] = fs
			required = append(required, f.Name)
		}
		s := map[string]any{
			"type":                 "object",
			"properties":           props,
			"additionalProperties": false,
		}
		if len(required) > 0 {
			s["required"] = required
		}
		return s
	default:
		return map[string]any{}
	}
}
