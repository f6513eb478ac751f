package odata

import (
	"sort"
	"strconv"
	"strings"
)

// EmitFilter renders a Node back into OData $filter syntax. Parenthesization
// is conservative: every binary/unary node is wrapped except at the
// expression's root, so precedence is preserved even though it costs a few
// redundant parens round-tripping through parse->emit->parse.
func EmitFilter(n Node) string {
	if n == nil {
		return ""
	}
	return emitNode(n)
}

func emitNode(n Node) string {
	switch v := n.(type) {
	case *BinaryNode:
		if v.Op == OpIn {
			return emitTerm(v.Left) + " in " + emitNode(v.Right)
		}
		return emitTerm(v.Left) + " " + string(v.Op) + " " + emitTerm(v.Right)
	case *UnaryNode:
		return string(v.Op) + " " + emitTerm(v.Operand)
	case *MemberNode:
		return memberPath(v.Path)
	case *ConstantNode:
		return emitConstant(v.Value)
	case *ListNode:
		parts := make([]string, len(v.Items))
		for i, item := range v.Items {
			parts[i] = emitNode(item)
		}
		return "(" + strings.Join(parts, ",") + ")"
	case *CallNode:
		parts := make([]string, len(v.Args))
		for i, arg := range v.Args {
			parts[i] = emitNode(arg)
		}
		return v.Func + "(" + strings.Join(parts, ",") + ")"
	default:
		return ""
	}
}

// emitTerm wraps compound nodes (binary/unary) in parens when used as an
// operand of another operator, since the grammar has no ambiguity without
// them once nested.
func emitTerm(n Node) string {
	switch n.(type) {
	case *BinaryNode, *UnaryNode:
		return "(" + emitNode(n) + ")"
	default:
		return emitNode(n)
	}
}

func emitConstant(c Constant) string {
	switch c.Kind {
	case KindBool:
		if c.Bool {
			return "true"
		}
		return "false"
	case KindInt64:
		return strconv.FormatInt(c.Int64, 10)
	case KindFloat32:
		return strconv.FormatFloat(float64(c.Float32), 'g', -1, 32) + "f"
	case KindFloat64:
		return strconv.FormatFloat(c.Float64, 'g', -1, 64)
	case KindDecimal:
		return c.Decimal + "M"
	case KindString:
		return "'" + strings.ReplaceAll(c.Str, "'", "''") + "'"
	case KindChar:
		return "'" + strings.ReplaceAll(string(c.Char), "'", "''") + "'"
	case KindDateTime:
		return c.Time.Raw
	case KindNull:
		return "null"
	default:
		return "null"
	}
}

func emitOrderBy(clauses []OrderClause) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		p := memberPath(c.Path)
		if !c.Ascending {
			p += " desc"
		}
		parts[i] = p
	}
	return strings.Join(parts, ",")
}

// ToQueryString renders the full set of OData query options this
// QueryDescription represents, in a stable (sorted) parameter order so
// emission is deterministic and test-friendly.
func (q *QueryDescription) ToQueryString() string {
	if q == nil {
		return ""
	}
	var parts []string
	add := func(key, val string) {
		if val == "" {
			return
		}
		parts = append(parts, key+"="+val)
	}

	if q.Filter != nil {
		add("$filter", EmitFilter(q.Filter))
	}
	if len(q.OrderBy) > 0 {
		add("$orderby", emitOrderBy(q.OrderBy))
	}
	if len(q.Select) > 0 {
		add("$select", strings.Join(q.Select, ","))
	}
	if q.Skip != nil {
		add("$skip", strconv.Itoa(*q.Skip))
	}
	if q.Top != nil {
		add("$top", strconv.Itoa(*q.Top))
	}
	if q.RequestTotalCount {
		add("$count", "true")
	}
	if q.IncludeDeleted {
		add("__includedeleted", "true")
	}

	keys := make([]string, 0, len(q.Params))
	for k := range q.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, q.Params[k])
	}

	return strings.Join(parts, "&")
}
