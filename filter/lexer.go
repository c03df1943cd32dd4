package filter

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokParam
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokAnd
	tokOr
	tokNot
	tokMatch
	tokLike
	tokBetween
	tokTrue
	tokFalse
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]tokenKind{
	"AND":     tokAnd,
	"OR":      tokOr,
	"NOT":     tokNot,
	"MATCH":   tokMatch,
	"LIKE":    tokLike,
	"BETWEEN": tokBetween,
	"TRUE":    tokTrue,
	"FALSE":   tokFalse,
}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++

		case r == '\'' || r == '`' || r == '"':
			start := i
			quote := r
			i++
			var sb strings.Builder
			for {
				if i >= len(rs) {
					return nil, &ParseError{Pos: start, Msg: "unterminated string literal"}
				}
				if rs[i] == quote {
					// doubled quote is an escaped quote
					if i+1 < len(rs) && rs[i+1] == quote {
						sb.WriteRune(quote)
						i += 2
						continue
					}
					i++
					break
				}
				sb.WriteRune(rs[i])
				i++
			}
			toks = append(toks, token{tokString, sb.String(), start})

		case r == '%':
			start := i
			i++
			for i < len(rs) && unicode.IsDigit(rs[i]) {
				i++
			}
			if i == start+1 {
				return nil, &ParseError{Pos: start, Msg: "expected parameter index after %"}
			}
			toks = append(toks, token{tokParam, string(rs[start:i]), start})

		case unicode.IsDigit(r) || ((r == '-' || r == '+' || r == '.') && i+1 < len(rs) && unicode.IsDigit(rs[i+1]) && numberAllowed(toks)):
			start := i
			i++
			for i < len(rs) && (unicode.IsDigit(rs[i]) || strings.ContainsRune(".eE", rs[i]) ||
				((rs[i] == '-' || rs[i] == '+') && (rs[i-1] == 'e' || rs[i-1] == 'E'))) {
				i++
			}
			toks = append(toks, token{tokNumber, string(rs[start:i]), start})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_' || rs[i] == '.' || rs[i] == '[' || rs[i] == ']') {
				i++
			}
			word := string(rs[start:i])
			if kw, ok := keywords[strings.ToUpper(word)]; ok {
				toks = append(toks, token{kw, word, start})
			} else {
				toks = append(toks, token{tokIdent, word, start})
			}

		case strings.ContainsRune("=<>!", r):
			start := i
			op := string(r)
			if i+1 < len(rs) {
				two := string(rs[i : i+2])
				if two == "<=" || two == ">=" || two == "<>" || two == "!=" {
					op = two
				}
			}
			if op == "!" {
				return nil, &ParseError{Pos: start, Msg: "unexpected '!'"}
			}
			i += len(op)
			toks = append(toks, token{tokOp, op, start})

		default:
			return nil, &ParseError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	toks = append(toks, token{tokEOF, "", len(rs)})
	return toks, nil
}

// numberAllowed reports whether a sign or dot may start a number here,
// i.e. the previous token cannot end an operand.
func numberAllowed(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	switch toks[len(toks)-1].kind {
	case tokIdent, tokString, tokNumber, tokParam, tokRParen, tokTrue, tokFalse:
		return false
	}
	return true
}
