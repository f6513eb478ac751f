// Package odata implements the QueryDescription AST (spec §3) and a
// bidirectional translation to the OData v4 query-string subset the table
// controller contract speaks (spec §4.2). The emitter and parser are
// language-neutral: the only source-language-coupled piece is a front-end
// (builder.go) that helps embedder code construct a QueryDescription.
package odata

import (
	"strings"
)

// ConstantKind tags the type of a literal constant, since OData's wire
// grammar distinguishes them by suffix/quoting (spec §4.2).
type ConstantKind int

const (
	KindBool ConstantKind = iota
	KindInt64
	KindFloat32
	KindFloat64
	KindDecimal
	KindString
	KindChar
	KindDateTime
	KindNull
)

// Constant is a typed literal node.
type Constant struct {
	Kind ConstantKind

	Bool    bool
	Int64   int64
	Float32 float32
	Float64 float64
	Decimal string // decimal literals keep their exact textual form
	Str     string
	Char    rune
	Time    TimeLiteral
}

// TimeLiteral wraps an ISO-8601 date/time literal keeping the original
// textual representation so round-trip emission is exact.
type TimeLiteral struct {
	Raw string
}

// Node is any element of a filter expression tree.
type Node interface {
	isNode()
}

// BinaryOp enumerates the supported binary operators, in OData spelling.
type BinaryOp string

const (
	OpEq  BinaryOp = "eq"
	OpNe  BinaryOp = "ne"
	OpLt  BinaryOp = "lt"
	OpLe  BinaryOp = "le"
	OpGt  BinaryOp = "gt"
	OpGe  BinaryOp = "ge"
	OpAnd BinaryOp = "and"
	OpOr  BinaryOp = "or"
	OpIn  BinaryOp = "in"
)

// UnaryOp enumerates the supported unary operators.
type UnaryOp string

const OpNot UnaryOp = "not"

// BinaryNode is a binary comparison or logical connective.
type BinaryNode struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

func (*BinaryNode) isNode() {}

// UnaryNode is a unary operator (only "not" in this subset).
type UnaryNode struct {
	Op      UnaryOp
	Operand Node
}

func (*UnaryNode) isNode() {}

// MemberNode is a dotted-path member access, lowerCamelCase segments.
type MemberNode struct {
	Path []string
}

func (*MemberNode) isNode() {}

// ConstantNode wraps a typed literal.
type ConstantNode struct {
	Value Constant
}

func (*ConstantNode) isNode() {}

// ListNode is a parenthesized, comma-separated set, used by "in".
type ListNode struct {
	Items []Node
}

func (*ListNode) isNode() {}

// CallNode is a function call: string/numeric/date-part functions (spec
// §4.2's supported subset).
type CallNode struct {
	Func string
	Args []Node
}

func (*CallNode) isNode() {}

// SupportedFuncs is the server-evaluable function subset (spec §4.2).
var SupportedFuncs = map[string]bool{
	"startswith": true, "endswith": true, "contains": true, "indexof": true,
	"substring": true, "tolower": true, "toupper": true, "trim": true, "concat": true, "length": true,
	"floor": true, "ceiling": true, "round": true,
	"year": true, "month": true, "day": true, "hour": true, "minute": true, "second": true,
}

// OrderClause is one ascending/descending ordering term.
type OrderClause struct {
	Path      []string
	Ascending bool
}

// QueryDescription is the full AST for a single query: filter, ordering,
// projection, paging, and transport-level flags (spec §3).
type QueryDescription struct {
	Filter           Node
	OrderBy          []OrderClause
	Select           []string
	Skip             *int
	Top              *int
	RequestTotalCount bool
	IncludeDeleted   bool
	// Params holds user-defined key->value query parameters, preserved
	// verbatim through parse/emit round trips.
	Params map[string]string
}

// Clone returns a deep-enough copy safe to mutate independently (used by the
// pull engine to derive an effective query without mutating the caller's).
func (q *QueryDescription) Clone() *QueryDescription {
	if q == nil {
		return &QueryDescription{Params: map[string]string{}}
	}
	clone := &QueryDescription{
		Filter:           q.Filter,
		OrderBy:          append([]OrderClause(nil), q.OrderBy...),
		Select:           append([]string(nil), q.Select...),
		RequestTotalCount: q.RequestTotalCount,
		IncludeDeleted:   q.IncludeDeleted,
		Params:           make(map[string]string, len(q.Params)),
	}
	if q.Skip != nil {
		skip := *q.Skip
		clone.Skip = &skip
	}
	if q.Top != nil {
		top := *q.Top
		clone.Top = &top
	}
	for k, v := range q.Params {
		clone.Params[k] = v
	}
	return clone
}

func memberPath(path []string) string {
	return strings.Join(path, ".")
}
