package odata

import "fmt"

// ErrClientSideEvaluation marks an expression this subset's server contract
// cannot evaluate: arithmetic on date components, or a call to a function
// outside SupportedFuncs (spec §4.2). It is surfaced before any HTTP call is
// made, at query-construction time.
type ErrClientSideEvaluation struct {
	Reason string
}

func (e *ErrClientSideEvaluation) Error() string {
	return fmt.Sprintf("odata: expression requires client-side evaluation: %s", e.Reason)
}

// Builder assembles a QueryDescription using fluent Go constructors, since Go
// has no native expression-tree literal syntax. Every method that could
// produce a server-unevaluable node returns an error instead of a Node so
// mistakes surface at the call site, not silently at request time.
//
// Example:
//
//	f := odata.And(
//	    odata.Eq(odata.Field("genre"), odata.String("scifi")),
//	    odata.Not(odata.Field("deleted")),
//	)
type Builder struct{}

// Field returns a single-segment member reference.
func Field(name string) *MemberNode { return &MemberNode{Path: []string{name}} }

// FieldPath returns a dotted-path member reference.
func FieldPath(path ...string) *MemberNode { return &MemberNode{Path: path} }

func Bool(v bool) *ConstantNode {
	return &ConstantNode{Value: Constant{Kind: KindBool, Bool: v}}
}

func Int64(v int64) *ConstantNode {
	return &ConstantNode{Value: Constant{Kind: KindInt64, Int64: v}}
}

func Float64(v float64) *ConstantNode {
	return &ConstantNode{Value: Constant{Kind: KindFloat64, Float64: v}}
}

func String(v string) *ConstantNode {
	return &ConstantNode{Value: Constant{Kind: KindString, Str: v}}
}

// DateTime builds a constant from an already-formatted ISO-8601 literal. The
// caller is responsible for formatting via entity.FormatUpdatedAt or
// equivalent; this builder does not reach into the entity package to avoid a
// needless import cycle risk between the two leaf packages.
func DateTime(isoLiteral string) *ConstantNode {
	return &ConstantNode{Value: Constant{Kind: KindDateTime, Time: TimeLiteral{Raw: isoLiteral}}}
}

func Null() *ConstantNode {
	return &ConstantNode{Value: Constant{Kind: KindNull}}
}

func Eq(l, r Node) Node { return &BinaryNode{Op: OpEq, Left: l, Right: r} }
func Ne(l, r Node) Node { return &BinaryNode{Op: OpNe, Left: l, Right: r} }
func Lt(l, r Node) Node { return &BinaryNode{Op: OpLt, Left: l, Right: r} }
func Le(l, r Node) Node { return &BinaryNode{Op: OpLe, Left: l, Right: r} }
func Gt(l, r Node) Node { return &BinaryNode{Op: OpGt, Left: l, Right: r} }
func Ge(l, r Node) Node { return &BinaryNode{Op: OpGe, Left: l, Right: r} }
func And(l, r Node) Node { return &BinaryNode{Op: OpAnd, Left: l, Right: r} }
func Or(l, r Node) Node  { return &BinaryNode{Op: OpOr, Left: l, Right: r} }
func Not(n Node) Node    { return &UnaryNode{Op: OpNot, Operand: n} }

// In builds an "in" set-membership test. It folds to a single Eq when given
// exactly one item, matching how a one-element set degenerates.
func In(field Node, items ...Node) Node {
	if len(items) == 1 {
		return Eq(field, items[0])
	}
	return &BinaryNode{Op: OpIn, Left: field, Right: &ListNode{Items: items}}
}

// Call builds a function-call node, rejecting any function name outside the
// server-evaluable subset up front (spec §4.2).
func Call(name string, args ...Node) (Node, error) {
	if !SupportedFuncs[name] {
		return nil, &ErrClientSideEvaluation{Reason: fmt.Sprintf("function %q is not in the server-evaluable subset", name)}
	}
	return &CallNode{Func: name, Args: args}, nil
}

// DatePart builds a call to one of the date-component extraction functions
// (year/month/day/hour/minute/second). Arithmetic performed ON the result of
// DatePart (e.g. comparing year(updatedAt)-1 to a constant) cannot be pushed
// to the server: this subset's grammar has no arithmetic operators at all,
// so such an expression can only be built outside this package, and doing so
// is the caller's own client-side-evaluation bug to avoid.
func DatePart(part string, field Node) (Node, error) {
	switch part {
	case "year", "month", "day", "hour", "minute", "second":
		return Call(part, field)
	default:
		return nil, &ErrClientSideEvaluation{Reason: fmt.Sprintf("unsupported date part %q", part)}
	}
}

// Fold performs constant folding on a boolean-constant top-level node: a
// filter that is statically always-true is represented as a nil Filter
// (meaning "no filter"), and always-false short-circuits to a filter that
// excludes every row. Embedder code doesn't have to special-case literal
// odata.Bool(true) filters produced by generated call sites.
func Fold(n Node) Node {
	if c, ok := n.(*ConstantNode); ok && c.Value.Kind == KindBool {
		if c.Value.Bool {
			return nil
		}
		return &BinaryNode{Op: OpEq, Left: Int64(1), Right: Int64(0)}
	}
	return n
}
