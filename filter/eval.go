package filter

import (
	"fmt"
	"strconv"
	"strings"
)

func (e andExpr) eval(s map[string]any) (bool, error) {
	l, err := e.left.eval(s)
	if err != nil || !l {
		return false, err
	}
	return e.right.eval(s)
}

func (e orExpr) eval(s map[string]any) (bool, error) {
	l, err := e.left.eval(s)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return e.right.eval(s)
}

func (e notExpr) eval(s map[string]any) (bool, error) {
	v, err := e.inner.eval(s)
	return !v && err == nil, err
}

func (e compareExpr) eval(s map[string]any) (bool, error) {
	a, ok := e.left.value(s)
	if !ok {
		return false, nil
	}
	b, ok := e.right.value(s)
	if !ok {
		return false, nil
	}

	cmp := compareValues(a, b)
	switch e.op {
	case "=":
		return cmp == 0, nil
	case "<>", "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, &EvaluationError{Field: e.left.field, Operator: e.op, Message: "unsupported operator"}
}

func (e patternExpr) eval(s map[string]any) (bool, error) {
	v, ok := lookup(s, e.field)
	if !ok {
		return false, nil
	}
	re, err := compilePattern(e.pattern, e.like)
	if err != nil {
		return false, &EvaluationError{Field: e.field, Operator: patternOp(e.like), Message: "bad pattern", Err: err}
	}
	return re.MatchString(toString(v)) != e.negate, nil
}

func (e betweenExpr) eval(s map[string]any) (bool, error) {
	v, ok := lookup(s, e.field)
	if !ok {
		return false, nil
	}
	lo, ok := e.lo.value(s)
	if !ok {
		return false, nil
	}
	hi, ok := e.hi.value(s)
	if !ok {
		return false, nil
	}
	in := compareValues(v, lo) >= 0 && compareValues(v, hi) <= 0
	return in != e.negate, nil
}

func (e boolExpr) eval(s map[string]any) (bool, error) {
	if e.literal != nil {
		return *e.literal, nil
	}
	v, ok := lookup(s, e.field)
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &EvaluationError{Field: e.field, Message: fmt.Sprintf("member is %T, not bool", v)}
	}
	return b, nil
}

func (o operand) value(s map[string]any) (any, bool) {
	if o.isField {
		return lookup(s, o.field)
	}
	return o.literal, true
}

// lookup resolves a dotted member path with optional [i] element indexes.
func lookup(s map[string]any, path string) (any, bool) {
	var cur any = s
	for _, part := range strings.Split(path, ".") {
		name, indexes, ok := splitIndexes(part)
		if !ok {
			return nil, false
		}
		if name != "" {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			if cur, ok = m[name]; !ok {
				return nil, false
			}
		}
		for _, i := range indexes {
			seq, ok := cur.([]any)
			if !ok || i < 0 || i >= len(seq) {
				return nil, false
			}
			cur = seq[i]
		}
	}
	return cur, true
}

func splitIndexes(part string) (string, []int, bool) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		return part, nil, true
	}
	name := part[:open]
	var idx []int
	rest := part[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, false
		}
		i, err := strconv.Atoi(rest[1:end])
		if err != nil {
			return "", nil, false
		}
		idx = append(idx, i)
		rest = rest[end+1:]
	}
	return name, idx, true
}

func compareValues(a, b any) int {
	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)
	if aIsNum && bIsNum {
		switch {
		case aNum < bNum:
			return -1
		case aNum > bNum:
			return 1
		}
		return 0
	}

	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			}
			return 1
		}
	}

	return strings.Compare(toString(a), toString(b))
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

func patternOp(like bool) string {
	if like {
		return "LIKE"
	}
	return "MATCH"
}
