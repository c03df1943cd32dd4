// Package filter implements the content-filter language used by
// content-filtered topics.
//
// The language is the SQL subset familiar from DDS filters:
//
//	sourceSystemID MATCH '19'
//	depth > 20 AND depth < 90
//	NOT (status = 'FAILED' OR position.lat BETWEEN -10 AND 10)
//	label LIKE 'sonar_%'
//
// Members are dotted paths into the decoded sample with optional [i]
// element indexes. Comparisons are numeric when both sides are numbers and
// lexical otherwise; enum members compare by label. A member missing from
// the sample makes its condition false.
//
// Positional parameters (%0, %1, ...) are recognised but not supported.
package filter

import (
	"fmt"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/pkg/cache"
)

// Filter is a compiled filter expression. It is safe for concurrent use.
type Filter struct {
	expression string
	root       expr
}

// compiled holds parsed expressions keyed by source text
var compiled cache.Cache[*Filter]

func init() {
	var err error
	compiled, err = cache.NewLRU[*Filter](512)
	if err != nil {
		panic(fmt.Sprintf("filter: expression cache: %v", err))
	}
}

// Compile parses an expression, reusing a cached parse when available.
// Expressions with positional parameters fail with errors.ErrFilterParameters.
func Compile(expression string) (*Filter, error) {
	if f, ok := compiled.Get(expression); ok {
		return f, nil
	}

	root, params, err := parse(expression)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		return nil, errors.WrapInvalid(errors.ErrFilterParameters, "filter", "Compile",
			fmt.Sprintf("bind parameters %v", params))
	}

	f := &Filter{expression: expression, root: root}
	if _, err := compiled.Set(expression, f); err != nil {
		return nil, errors.Wrap(err, "filter", "Compile", "cache expression")
	}
	return f, nil
}

// HasParameters reports whether an expression uses positional parameters.
// Unparseable expressions report false.
func HasParameters(expression string) bool {
	toks, err := lex(expression)
	if err != nil {
		return false
	}
	for _, t := range toks {
		if t.kind == tokParam {
			return true
		}
	}
	return false
}

// Match evaluates the filter against a decoded sample.
func (f *Filter) Match(sample map[string]any) (bool, error) {
	return f.root.eval(sample)
}

// String returns the source expression
func (f *Filter) String() string { return f.expression }

// ParseError reports a malformed expression.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("filter: position %d: %s", e.Pos, e.Msg)
}

// Unwrap classifies parse errors as errors.ErrParsingFailed
func (e *ParseError) Unwrap() error { return errors.ErrParsingFailed }

// EvaluationError reports a failure while evaluating against a sample.
type EvaluationError struct {
	Field    string
	Operator string
	Message  string
	Err      error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation error for member '%s' with operator '%s': %s: %v",
			e.Field, e.Operator, e.Message, e.Err)
	}
	return fmt.Sprintf("evaluation error for member '%s' with operator '%s': %s",
		e.Field, e.Operator, e.Message)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
