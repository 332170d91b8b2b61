// Package condition compiles route and loop conditions into safe predicates
// over workflow state. The language supports state field references
// (state.score, state.doc.title for object fields), comparisons on
// comparable primitives, boolean combinators (and/or/not), and numeric,
// string, and boolean literals. There are no function calls, subscripting,
// or arithmetic: expressions parse to a closed AST that is interpreted
// in-process, never handed to an expression engine.
package condition

import (
	"fmt"
	"strings"
)

// Expr is a compiled condition.
type Expr struct {
	src  string
	root node
}

// Compile parses src into a predicate. Compile is pure; the same source
// always yields an equivalent predicate.
func Compile(src string) (*Expr, error) {
	p := &parser{lex: &lexer{input: src}}
	if err := p.advance(); err != nil {
		return nil, fmt.Errorf("condition %q: %w", src, err)
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", src, err)
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("condition %q: unexpected %q at offset %d", src, p.cur.text, p.cur.pos)
	}
	return &Expr{src: src, root: root}, nil
}

// Eval evaluates the predicate against a state snapshot. The result of a
// non-boolean expression is an error, as is a reference to a missing field.
func (e *Expr) Eval(state map[string]any) (bool, error) {
	v, err := e.root.eval(state)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", e.src, err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q: result is %T, not bool", e.src, v)
	}
	return b, nil
}

// String returns the source text.
func (e *Expr) String() string { return e.src }

// Fields returns the state field names referenced by the expression (the
// first path segment of each reference), deduplicated in source order.
func (e *Expr) Fields() []string {
	var names []string
	seen := map[string]bool{}
	collectFields(e.root, func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	})
	return names
}

func collectFields(n node, emit func(string)) {
	switch v := n.(type) {
	case *refNode:
		emit(v.path[0])
	case *binaryNode:
		collectFields(v.left, emit)
		collectFields(v.right, emit)
	case *notNode:
		collectFields(v.operand, emit)
	}
}

// ---- AST ----

type node interface {
	eval(state map[string]any) (any, error)
}

type literalNode struct{ value any }

func (n *literalNode) eval(map[string]any) (any, error) { return n.value, nil }

type refNode struct{ path []string }

func (n *refNode) eval(state map[string]any) (any, error) {
	var cur any = state
	for i, seg := range n.path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q is not an object", strings.Join(n.path[:i], "."))
		}
		cur, ok = m[seg]
		if !ok {
			return nil, fmt.Errorf("unknown state field %q", strings.Join(n.path[:i+1], "."))
		}
	}
	return cur, nil
}

type notNode struct{ operand node }

func (n *notNode) eval(state map[string]any) (any, error) {
	v, err := n.operand.eval(state)
	if err != nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("operand of 'not' is %T, not bool", v)
	}
	return !b, nil
}

type binaryNode struct {
	op    string
	left  node
	right node
}

func (n *binaryNode) eval(state map[string]any) (any, error) {
	switch n.op {
	case "and", "or":
		lv, err := n.left.eval(state)
		if err != nil {
			return nil, err
		}
		lb, ok := lv.(bool)
		if !ok {
			return nil, fmt.Errorf("operand of %q is %T, not bool", n.op, lv)
		}
		// short-circuit
		if n.op == "and" && !lb {
			return false, nil
		}
		if n.op == "or" && lb {
			return true, nil
		}
		rv, err := n.right.eval(state)
		if err != nil {
			return nil, err
		}
		rb, ok := rv.(bool)
		if !ok {
			return nil, fmt.Errorf("operand of %q is %T, not bool", n.op, rv)
		}
		return rb, nil
	default:
		lv, err := n.left.eval(state)
		if err != nil {
			return nil, err
		}
		rv, err := n.right.eval(state)
		if err != nil {
			return nil, err
		}
		return compare(n.op, lv, rv)
	}
}

func compare(op string, l, r any) (any, error) {
	if lf, lok := toFloat(l); lok {
		rf, rok := toFloat(r)
		if !rok {
			return nil, fmt.Errorf("cannot compare number with %T", r)
		}
		return compareOrdered(op, lf, rf)
	}
	if ls, ok := l.(string); ok {
		rs, rok := r.(string)
		if !rok {
			return nil, fmt.Errorf("cannot compare string with %T", r)
		}
		return compareOrdered(op, ls, rs)
	}
	if lb, ok := l.(bool); ok {
		rb, rok := r.(bool)
		if !rok {
			return nil, fmt.Errorf("cannot compare bool with %T", r)
		}
		switch op {
		case "==":
			return lb == rb, nil
		case "!=":
			return lb != rb, nil
		}
		return nil, fmt.Errorf("operator %q not defined for bool", op)
	}
	return nil, fmt.Errorf("value of type %T is not comparable", l)
}

func compareOrdered[T float64 | string](op string, l, r T) (any, error) {
	switch op {
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
