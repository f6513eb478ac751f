package odata

import (
	"fmt"
	"strconv"
	"strings"
)

// filterParser parses a $filter expression string into a Node tree.
// Precedence, low to high: or, and, not, comparison (eq ne lt le gt ge in),
// primary (member/call/literal/parenthesized), matching OData v4 (spec §4.2).
type filterParser struct {
	tz  *tokenizer
	cur token
}

// ParseFilter parses a single $filter expression.
func ParseFilter(s string) (Node, error) {
	p := &filterParser{tz: newTokenizer(s)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("odata: unexpected trailing token %q in filter", p.cur.text)
	}
	return n, nil
}

func (p *filterParser) advance() error {
	t, err := p.tz.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *filterParser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokIdent && strings.EqualFold(p.cur.text, "or") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *filterParser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokIdent && strings.EqualFold(p.cur.text, "and") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *filterParser) parseUnary() (Node, error) {
	if p.cur.kind == tokIdent && strings.EqualFold(p.cur.text, "not") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryNode{Op: OpNot, Operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]BinaryOp{
	"eq": OpEq, "ne": OpNe, "lt": OpLt, "le": OpLe, "gt": OpGt, "ge": OpGe,
}

func (p *filterParser) parseComparison() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokIdent {
		return left, nil
	}
	lower := strings.ToLower(p.cur.text)
	if op, ok := comparisonOps[lower]; ok {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &BinaryNode{Op: op, Left: left, Right: right}, nil
	}
	if lower == "in" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &BinaryNode{Op: OpIn, Left: left, Right: list}, nil
	}
	return left, nil
}

func (p *filterParser) parseList() (Node, error) {
	if p.cur.kind != tokLParen {
		return nil, fmt.Errorf("odata: expected '(' to start \"in\" list, got %q", p.cur.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var items []Node
	for p.cur.kind != tokRParen {
		item, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.cur.kind != tokRParen {
		return nil, fmt.Errorf("odata: expected ')' to close \"in\" list")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &ListNode{Items: items}, nil
}

func (p *filterParser) parsePrimary() (Node, error) {
	switch p.cur.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("odata: expected ')'")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, nil
	case tokString:
		n := &ConstantNode{Value: Constant{Kind: KindString, Str: p.cur.text}}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, nil
	case tokNumber:
		return p.parseNumberLiteral()
	case tokIdent:
		return p.parseIdentOrCall()
	default:
		return nil, fmt.Errorf("odata: unexpected token %q", p.cur.text)
	}
}

func (p *filterParser) parseNumberLiteral() (Node, error) {
	text := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}

	// date/time literal: contains '-' after position 0, or a ':' or 'T'.
	if looksLikeDateTime(text) {
		return &ConstantNode{Value: Constant{Kind: KindDateTime, Time: TimeLiteral{Raw: text}}}, nil
	}

	switch {
	case strings.HasSuffix(text, "L"):
		v, err := strconv.ParseInt(strings.TrimSuffix(text, "L"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("odata: invalid int64 literal %q: %w", text, err)
		}
		return &ConstantNode{Value: Constant{Kind: KindInt64, Int64: v}}, nil
	case strings.HasSuffix(text, "f"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(text, "f"), 32)
		if err != nil {
			return nil, fmt.Errorf("odata: invalid float32 literal %q: %w", text, err)
		}
		return &ConstantNode{Value: Constant{Kind: KindFloat32, Float32: float32(v)}}, nil
	case strings.HasSuffix(text, "M"):
		return &ConstantNode{Value: Constant{Kind: KindDecimal, Decimal: strings.TrimSuffix(text, "M")}}, nil
	case strings.Contains(text, "."):
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("odata: invalid double literal %q: %w", text, err)
		}
		return &ConstantNode{Value: Constant{Kind: KindFloat64, Float64: v}}, nil
	default:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("odata: invalid integer literal %q: %w", text, err)
		}
		return &ConstantNode{Value: Constant{Kind: KindInt64, Int64: v}}, nil
	}
}

func looksLikeDateTime(text string) bool {
	// A bare negative integer ("-5") must not be mistaken for a date: only
	// treat as a date when it has the shape YYYY-MM-DD (two internal dashes
	// past the first character) or contains a time separator.
	if strings.Contains(text, "T") || strings.Contains(text, ":") {
		return true
	}
	dashes := strings.Count(text, "-")
	if strings.HasPrefix(text, "-") {
		dashes--
	}
	return dashes >= 2
}

func (p *filterParser) parseIdentOrCall() (Node, error) {
	switch strings.ToLower(p.cur.text) {
	case "true":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ConstantNode{Value: Constant{Kind: KindBool, Bool: true}}, nil
	case "false":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ConstantNode{Value: Constant{Kind: KindBool, Bool: false}}, nil
	case "null":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ConstantNode{Value: Constant{Kind: KindNull}}, nil
	}

	name := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.cur.kind == tokLParen {
		return p.parseCall(name)
	}

	return &MemberNode{Path: strings.Split(name, ".")}, nil
}

func (p *filterParser) parseCall(name string) (Node, error) {
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	var args []Node
	for p.cur.kind != tokRParen {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.cur.kind != tokRParen {
		return nil, fmt.Errorf("odata: expected ')' to close call to %s", name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &CallNode{Func: strings.ToLower(name), Args: args}, nil
}
