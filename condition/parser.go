package condition

import "fmt"

// parser is a recursive-descent parser with precedence
// or < and < not < comparison < primary.
type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokIdent && p.cur.text == "or" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokIdent && p.cur.text == "and" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.cur.kind == tokIdent && p.cur.text == "not" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.cur.kind == tokOp {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	switch p.cur.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at offset %d", p.cur.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil

	case tokNumber:
		n := &literalNode{value: p.cur.num}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, nil

	case tokString:
		n := &literalNode{value: p.cur.text}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, nil

	case tokIdent:
		switch p.cur.text {
		case "true":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &literalNode{value: true}, nil
		case "false":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &literalNode{value: false}, nil
		case "state":
			return p.parseRef()
		case "and", "or", "not":
			return nil, fmt.Errorf("unexpected keyword %q at offset %d", p.cur.text, p.cur.pos)
		default:
			return nil, fmt.Errorf("unexpected identifier %q at offset %d (field references start with 'state.')", p.cur.text, p.cur.pos)
		}

	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")

	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", p.cur.text, p.cur.pos)
	}
}

// parseRef parses state.<name>(.<name>)*; dotted tails address object fields.
func (p *parser) parseRef() (node, error) {
	if err := p.advance(); err != nil { // consume "state"
		return nil, err
	}
	var path []string
	for p.cur.kind == tokDot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tokIdent {
			return nil, fmt.Errorf("expected field name after '.' at offset %d", p.cur.pos)
		}
		path = append(path, p.cur.text)
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("bare 'state' is not a value; reference a field as state.<name>")
	}
	return &refNode{path: path}, nil
}
