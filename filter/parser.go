package filter

import (
	"fmt"
	"strconv"
)

// expr is a node of a parsed filter.
type expr interface {
	eval(sample map[string]any) (bool, error)
}

type operand struct {
	field   string
	literal any
	isField bool
}

type andExpr struct{ left, right expr }
type orExpr struct{ left, right expr }
type notExpr struct{ inner expr }

type compareExpr struct {
	left, right operand
	op          string
}

type patternExpr struct {
	field   string
	pattern string
	like    bool
	negate  bool
}

type betweenExpr struct {
	field  string
	lo, hi operand
	negate bool
}

type boolExpr struct {
	field   string
	literal *bool
}

type parser struct {
	toks []token
	pos  int
	// params records positional parameter tokens seen while parsing
	params []string
}

func parse(src string) (expr, []string, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, nil, err
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, nil, &ParseError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return e, p.params, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(k tokenKind) bool {
	if p.peek().kind == k {
		p.next()
		return true
	}
	return false
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept(tokAnd) {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (expr, error) {
	if p.accept(tokNot) {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (expr, error) {
	if p.accept(tokLParen) {
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, &ParseError{Pos: t.pos, Msg: "expected ')'"}
		}
		return e, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	negate := false
	if t.kind == tokNot {
		p.next()
		negate = true
		t = p.peek()
		if t.kind != tokMatch && t.kind != tokLike && t.kind != tokBetween {
			return nil, &ParseError{Pos: t.pos, Msg: "expected MATCH, LIKE or BETWEEN after NOT"}
		}
	}

	switch t.kind {
	case tokOp:
		if negate {
			return nil, &ParseError{Pos: t.pos, Msg: "NOT cannot precede a comparison"}
		}
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return compareExpr{left: left, right: right, op: t.text}, nil

	case tokMatch, tokLike:
		p.next()
		if !left.isField {
			return nil, &ParseError{Pos: t.pos, Msg: t.text + " needs a member on its left"}
		}
		pat := p.next()
		switch pat.kind {
		case tokString:
		case tokParam:
			p.params = append(p.params, pat.text)
		default:
			return nil, &ParseError{Pos: pat.pos, Msg: "expected pattern string"}
		}
		return patternExpr{field: left.field, pattern: pat.text, like: t.kind == tokLike, negate: negate}, nil

	case tokBetween:
		p.next()
		if !left.isField {
			return nil, &ParseError{Pos: t.pos, Msg: "BETWEEN needs a member on its left"}
		}
		lo, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if a := p.next(); a.kind != tokAnd {
			return nil, &ParseError{Pos: a.pos, Msg: "expected AND in BETWEEN"}
		}
		hi, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return betweenExpr{field: left.field, lo: lo, hi: hi, negate: negate}, nil
	}

	// a bare member is a boolean test
	if left.isField {
		return boolExpr{field: left.field}, nil
	}
	if b, ok := left.literal.(bool); ok {
		return boolExpr{literal: &b}, nil
	}
	return nil, &ParseError{Pos: t.pos, Msg: fmt.Sprintf("expected operator, got %q", t.text)}
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return operand{field: t.text, isField: true}, nil
	case tokString:
		return operand{literal: t.text}, nil
	case tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return operand{literal: i}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return operand{}, &ParseError{Pos: t.pos, Msg: fmt.Sprintf("bad number %q", t.text)}
		}
		return operand{literal: f}, nil
	case tokTrue:
		return operand{literal: true}, nil
	case tokFalse:
		return operand{literal: false}, nil
	case tokParam:
		p.params = append(p.params, t.text)
		return operand{literal: t.text}, nil
	}
	return operand{}, &ParseError{Pos: t.pos, Msg: fmt.Sprintf("expected member or literal, got %q", t.text)}
}
