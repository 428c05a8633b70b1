package compiler

import (
	"fmt"
	"strings"

	"github.com/neurodesk/quill/pkg/ast"
	"github.com/neurodesk/quill/pkg/runtime"
)

// expr is a compiled condition.
type expr interface {
	eval(s *runtime.Scope) (any, error)
	String() string
}

type atomExpr struct{ v valueOp }

func (e atomExpr) eval(s *runtime.Scope) (any, error) { return e.v.eval(s) }
func (e atomExpr) String() string                     { return e.v.String() }

type notExpr struct{ x expr }

func (e notExpr) eval(s *runtime.Scope) (any, error) {
	v, err := e.x.eval(s)
	if err != nil {
		return nil, err
	}
	return !runtime.Truthy(v), nil
}

func (e notExpr) String() string { return "!" + e.x.String() }

type compareExpr struct {
	op   string
	l, r expr
}

func (e compareExpr) eval(s *runtime.Scope) (any, error) {
	l, err := e.l.eval(s)
	if err != nil {
		return nil, err
	}
	r, err := e.r.eval(s)
	if err != nil {
		return nil, err
	}
	ok, err := runtime.Compare(l, e.op, r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e, err)
	}
	return ok, nil
}

func (e compareExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.l, e.op, e.r)
}

// compileCondition folds a condition list into an expression:
//
//	expr := term (op term)*
//	term := "!"* atom
//
// Comparisons associate to the left.
func compileCondition(conds []ast.Condition) (expr, error) {
	if len(conds) == 0 {
		return nil, ErrEmptyCondition
	}
	c := &condCursor{conds: conds}
	left, err := c.term()
	if err != nil {
		return nil, err
	}
	for !c.done() {
		cur := c.conds[c.pos]
		if cur.Kind != ast.CondEquality {
			return nil, fmt.Errorf("%w: unexpected %q after %s", ErrInvalidCondition, cur.Text, left)
		}
		c.pos++
		right, err := c.term()
		if err != nil {
			return nil, err
		}
		left = compareExpr{op: strings.TrimSpace(cur.Text), l: left, r: right}
	}
	return left, nil
}

type condCursor struct {
	conds []ast.Condition
	pos   int
}

func (c *condCursor) done() bool { return c.pos >= len(c.conds) }

func (c *condCursor) term() (expr, error) {
	if c.done() {
		return nil, fmt.Errorf("%w: missing operand", ErrInvalidCondition)
	}
	cur := c.conds[c.pos]
	c.pos++
	switch cur.Kind {
	case ast.CondNot:
		x, err := c.term()
		if err != nil {
			return nil, err
		}
		return notExpr{x: x}, nil
	case ast.CondLiteral:
		return atomExpr{v: literalValue(cur.Value, cur.Text)}, nil
	case ast.CondIdentifier:
		if !validPath(cur.Text) {
			return nil, fmt.Errorf("%w: %q is not an identifier", ErrInvalidCondition, cur.Text)
		}
		return atomExpr{v: pathValue(cur.Text)}, nil
	default:
		return nil, fmt.Errorf("%w: operator %q without left operand", ErrInvalidCondition, cur.Text)
	}
}

// validPath reports whether text is "." or a dotted path of identifier or
// index segments.
func validPath(text string) bool {
	if text == "." {
		return true
	}
	if text == "" || strings.HasPrefix(text, ".") || strings.HasSuffix(text, ".") {
		return false
	}
	for _, seg := range strings.Split(text, ".") {
		if seg == "" {
			return false
		}
		for _, r := range seg {
			if r != '_' && r != '-' && !isLetter(r) && !isDigit(r) {
				return false
			}
		}
	}
	return true
}

func isLetter(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 0x7f
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
