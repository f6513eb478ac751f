package odata

import (
	"fmt"
	"strings"
	"time"
)

// Eval evaluates a filter expression tree against a decoded JSON record
// (lowerCamelCase keys, spec §4.1). It is the table controller contract's
// (C10) query engine: the reference server has no SQL-level translation for
// an arbitrary embedder-defined entity shape, so it filters in Go against
// each candidate record instead, the same way the AST's Fold/Emit helpers
// already treat a QueryDescription as data rather than as generated SQL.
func Eval(n Node, record map[string]any) (bool, error) {
	v, err := evalValue(n, record)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("odata: filter expression did not evaluate to a boolean")
	}
	return b, nil
}

func evalValue(n Node, record map[string]any) (any, error) {
	switch node := n.(type) {
	case nil:
		return true, nil
	case *ConstantNode:
		return constantValue(node.Value), nil
	case *MemberNode:
		return lookupPath(record, node.Path), nil
	case *UnaryNode:
		operand, err := evalValue(node.Operand, record)
		if err != nil {
			return nil, err
		}
		b, ok := operand.(bool)
		if !ok {
			return nil, fmt.Errorf("odata: %q applied to a non-boolean operand", node.Op)
		}
		return !b, nil
	case *BinaryNode:
		return evalBinary(node, record)
	case *ListNode:
		items := make([]any, 0, len(node.Items))
		for _, item := range node.Items {
			v, err := evalValue(item, record)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case *CallNode:
		return evalCall(node, record)
	default:
		return nil, fmt.Errorf("odata: unsupported node type %T", n)
	}
}

func evalBinary(node *BinaryNode, record map[string]any) (any, error) {
	if node.Op == OpAnd {
		l, err := evalValue(node.Left, record)
		if err != nil {
			return nil, err
		}
		lb, ok := l.(bool)
		if !ok {
			return nil, fmt.Errorf("odata: \"and\" applied to a non-boolean left operand")
		}
		if !lb {
			return false, nil
		}
		r, err := evalValue(node.Right, record)
		if err != nil {
			return nil, err
		}
		rb, ok := r.(bool)
		if !ok {
			return nil, fmt.Errorf("odata: \"and\" applied to a non-boolean right operand")
		}
		return rb, nil
	}
	if node.Op == OpOr {
		l, err := evalValue(node.Left, record)
		if err != nil {
			return nil, err
		}
		lb, ok := l.(bool)
		if !ok {
			return nil, fmt.Errorf("odata: \"or\" applied to a non-boolean left operand")
		}
		if lb {
			return true, nil
		}
		r, err := evalValue(node.Right, record)
		if err != nil {
			return nil, err
		}
		rb, ok := r.(bool)
		if !ok {
			return nil, fmt.Errorf("odata: \"or\" applied to a non-boolean right operand")
		}
		return rb, nil
	}

	left, err := evalValue(node.Left, record)
	if err != nil {
		return nil, err
	}
	right, err := evalValue(node.Right, record)
	if err != nil {
		return nil, err
	}

	if node.Op == OpIn {
		items, ok := right.([]any)
		if !ok {
			return nil, fmt.Errorf("odata: \"in\" requires a list on the right-hand side")
		}
		for _, item := range items {
			if compareEqual(left, item) {
				return true, nil
			}
		}
		return false, nil
	}

	cmp, comparable := compareValues(left, right)
	if !comparable {
		return nil, fmt.Errorf("odata: cannot compare %T and %T", left, right)
	}

	switch node.Op {
	case OpEq:
		return cmp == 0, nil
	case OpNe:
		return cmp != 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLe:
		return cmp <= 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpGe:
		return cmp >= 0, nil
	default:
		return nil, fmt.Errorf("odata: unsupported binary operator %q", node.Op)
	}
}

func evalCall(node *CallNode, record map[string]any) (any, error) {
	args := make([]any, 0, len(node.Args))
	for _, a := range node.Args {
		v, err := evalValue(a, record)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	switch node.Func {
	case "startswith":
		s, sub := asString(args[0]), asString(args[1])
		return strings.HasPrefix(s, sub), nil
	case "endswith":
		s, sub := asString(args[0]), asString(args[1])
		return strings.HasSuffix(s, sub), nil
	case "contains":
		s, sub := asString(args[0]), asString(args[1])
		return strings.Contains(s, sub), nil
	case "tolower":
		return strings.ToLower(asString(args[0])), nil
	case "toupper":
		return strings.ToUpper(asString(args[0])), nil
	case "trim":
		return strings.TrimSpace(asString(args[0])), nil
	case "length":
		return int64(len([]rune(asString(args[0])))), nil
	case "year", "month", "day", "hour", "minute", "second":
		t, err := asTime(args[0])
		if err != nil {
			return nil, err
		}
		return datePart(node.Func, t), nil
	default:
		return nil, fmt.Errorf("odata: %q is not evaluable by the reference server", node.Func)
	}
}

func datePart(part string, t time.Time) int64 {
	switch part {
	case "year":
		return int64(t.Year())
	case "month":
		return int64(t.Month())
	case "day":
		return int64(t.Day())
	case "hour":
		return int64(t.Hour())
	case "minute":
		return int64(t.Minute())
	case "second":
		return int64(t.Second())
	default:
		return 0
	}
}

func constantValue(c Constant) any {
	switch c.Kind {
	case KindBool:
		return c.Bool
	case KindInt64:
		return c.Int64
	case KindFloat32:
		return float64(c.Float32)
	case KindFloat64:
		return c.Float64
	case KindDecimal:
		return c.Decimal
	case KindString, KindChar:
		if c.Kind == KindChar {
			return string(c.Char)
		}
		return c.Str
	case KindDateTime:
		if t, err := time.Parse(time.RFC3339Nano, c.Time.Raw); err == nil {
			return t
		}
		return c.Time.Raw
	case KindNull:
		return nil
	default:
		return nil
	}
}

func lookupPath(record map[string]any, path []string) any {
	var cur any = record
	for _, segment := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[segment]
	}
	return cur
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	default:
		return time.Time{}, fmt.Errorf("odata: expected a datetime value, got %T", v)
	}
}

func compareEqual(a, b any) bool {
	cmp, ok := compareValues(a, b)
	return ok && cmp == 0
}

// compareValues orders a and b, normalizing numeric and time comparisons
// across the JSON-decoded type zoo (float64 from JSON, int64/float32/float64
// from literals, time.Time from parsed datetime literals/fields).
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}

	if at, ok := a.(time.Time); ok {
		bt, err := asTime(b)
		if err != nil {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}
	if _, ok := b.(time.Time); ok {
		cmp, ok := compareValues(b, a)
		return -cmp, ok
	}

	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs), true
		}
	}

	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			if ab == bb {
				return 0, true
			}
			if !ab && bb {
				return -1, true
			}
			return 1, true
		}
	}

	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
