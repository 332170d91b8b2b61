package schema

import (
	"fmt"
	"strings"
)

// knownTypeNames is the vocabulary used for typo suggestions.
var knownTypeNames = []string{"str", "int", "float", "bool", "list", "dict", "object", "any"}

// ParseType parses a type string from a workflow document into a descriptor.
//
// Grammar:
//
//	TYPE := "str" | "int" | "float" | "bool" | "any" | "object"
//	      | "list" | "list[" TYPE "]"
//	      | "dict" | "dict[" TYPE "," TYPE "]"
//
// Whitespace is insignificant. Unknown names fail with a nearest-match
// suggestion when one exists within edit distance 2.
func ParseType(s string) (Type, error) {
	p := &typeParser{input: s}
	t, err := p.parse()
	if err != nil {
		return Type{}, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return Type{}, fmt.Errorf("invalid type %q: unexpected trailing %q", s, p.input[p.pos:])
	}
	return t, nil
}

// MustParseType is ParseType for statically known strings; it panics on error.
func MustParseType(s string) Type {
	t, err := ParseType(s)
	if err != nil {
		panic(err)
	}
	return t
}

type typeParser struct {
	input string
	pos   int
}

func (p *typeParser) parse() (Type, error) {
	p.skipSpace()
	name := p.ident()
	if name == "" {
		return Type{}, fmt.Errorf("invalid type %q: expected a type name", p.input)
	}

	switch name {
	case "str":
		return String(), nil
	case "int":
		return Int(), nil
	case "float":
		return Float(), nil
	case "bool":
		return Bool(), nil
	case "any":
		return Any(), nil
	case "object":
		return Object(), nil
	case "list":
		if !p.consume('[') {
			return List(Any()), nil
		}
		elem, err := p.parse()
		if err != nil {
			return Type{}, err
		}
		if !p.consume(']') {
			return Type{}, fmt.Errorf("invalid type %q: expected ']' after list element", p.input)
		}
		return List(elem), nil
	case "dict":
		if !p.consume('[') {
			return Map(Any(), Any()), nil
		}
		key, err := p.parse()
		if err != nil {
			return Type{}, err
		}
		if !p.consume(',') {
			return Type{}, fmt.Errorf("invalid type %q: expected ',' between dict key and value", p.input)
		}
		value, err := p.parse()
		if err != nil {
			return Type{}, err
		}
		if !p.consume(']') {
			return Type{}, fmt.Errorf("invalid type %q: expected ']' after dict value", p.input)
		}
		return Map(key, value), nil
	default:
		if hint := Suggest(name, knownTypeNames); hint != "" {
			return Type{}, fmt.Errorf("unknown type %q. Did you mean %q?", name, hint)
		}
		return Type{}, fmt.Errorf("unknown type %q (known types: %s)", name, strings.Join(knownTypeNames, ", "))
	}
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *typeParser) ident() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' {
			p.pos++
			continue
		}
		break
	}
	return strings.ToLower(p.input[start:p.pos])
}

func (p *typeParser) consume(c byte) bool {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == c {
		p.pos++
		return true
	}
	return false
}
