package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/neurodesk/quill/pkg/ast"
	"github.com/neurodesk/quill/pkg/token"
)

var (
	ErrUnterminatedProperty = errors.New("unterminated property")
	ErrInvalidExpression    = errors.New("invalid expression type")
	ErrUnexpectedToken      = errors.New("unexpected token")
	ErrEmptyCondition       = errors.New("conditional requires at least one condition")
)

// Error is a fatal parse error. Err is one of the package sentinels.
type Error struct {
	Pos int
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%v at offset %d", e.Err, e.Pos)
	}
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Pos, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// noTerminator marks the root scope, which only ends when tokens run out.
const noTerminator token.Kind = -1

// Parse builds the AST for toks. The slice is read through a cursor and never
// modified, so concurrent parses may share it.
//
// A scope whose terminator never arrives keeps what it accumulated; only the
// conditions listed on the Err* sentinels abort the parse.
func Parse(toks []token.Token) (*ast.Template, error) {
	p := &parser{toks: toks}
	nodes, err := p.parseBody(noTerminator, nil)
	if err != nil {
		return nil, err
	}
	return &ast.Template{Nodes: nodes}, nil
}

type parser struct {
	toks []token.Token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) next() token.Token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) errorf(tok token.Token, sentinel error, format string, args ...any) error {
	return &Error{Pos: tok.Pos, Msg: fmt.Sprintf(format, args...), Err: sentinel}
}

// eofError reports a failure at the end of the token stream.
func (p *parser) eofError(sentinel error) error {
	pos := 0
	if n := len(p.toks); n > 0 {
		last := p.toks[n-1]
		pos = last.Pos + len(last.Text)
	}
	return &Error{Pos: pos, Msg: "end of input", Err: sentinel}
}

// parseBody parses nodes until term is consumed or the stream is exhausted.
// owner is the conditional whose body is being parsed; else and elsif tags
// attach to it.
func (p *parser) parseBody(term token.Kind, owner *ast.Conditional) ([]ast.Node, error) {
	var nodes []ast.Node
	for !p.done() {
		tok := p.next()
		switch tok.Kind {
		case term:
			return nodes, nil
		case token.PropertyStart, token.RawStart:
			n, err := p.parseProperty(tok.Kind == token.PropertyStart)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		case token.ExprStart:
			n, stop, err := p.parseExpressionTag(owner)
			if err != nil {
				return nil, err
			}
			if stop {
				return nodes, nil
			}
			if n != nil {
				nodes = append(nodes, n)
			}
		case token.ExprEnd, token.PropertyEnd, token.RawEnd:
		default:
			nodes = appendText(nodes, tok.Text)
		}
	}
	return nodes, nil
}

func appendText(nodes []ast.Node, text string) []ast.Node {
	if n := len(nodes); n > 0 {
		if prev, ok := nodes[n-1].(*ast.Text); ok {
			prev.Value += text
			return nodes
		}
	}
	return append(nodes, &ast.Text{Value: text})
}

// parseExpressionTag dispatches on the first significant token inside {% %}.
// stop reports that the enclosing scope has been closed by this tag (else,
// elsif) or that the stream ran out inside it.
func (p *parser) parseExpressionTag(owner *ast.Conditional) (n ast.Node, stop bool, err error) {
	for !p.done() {
		tok := p.next()
		switch tok.Kind {
		case token.Whitespace:
			continue
		case token.Comment:
			p.skipComment()
			return nil, false, nil
		case token.Each:
			loop, err := p.parseLoop()
			return loop, false, err
		case token.If:
			c := &ast.Conditional{}
			if err := p.parseConditional(tok, c); err != nil {
				return nil, false, err
			}
			return c, false, nil
		case token.ElsIf:
			if owner == nil {
				return nil, false, p.errorf(tok, ErrInvalidExpression, "elsif outside of an if block")
			}
			c := &ast.Conditional{}
			owner.ElsIf = c
			if err := p.parseConditional(tok, c); err != nil {
				return nil, false, err
			}
			return nil, true, nil
		case token.Else:
			if owner == nil {
				return nil, false, p.errorf(tok, ErrInvalidExpression, "else outside of an if block")
			}
			if err := p.expectTagEnd(); err != nil {
				return nil, false, err
			}
			body, err := p.parseBody(token.EndIf, nil)
			if err != nil {
				return nil, false, err
			}
			owner.SetElse(body)
			return nil, true, nil
		case token.Partial:
			partial, err := p.parsePartial(tok)
			return partial, false, err
		default:
			return nil, false, p.errorf(tok, ErrInvalidExpression, "%q", tok.Text)
		}
	}
	return nil, true, nil
}

// expectTagEnd consumes the rest of a tag that takes no arguments.
func (p *parser) expectTagEnd() error {
	for !p.done() {
		tok := p.next()
		switch tok.Kind {
		case token.ExprEnd:
			return nil
		case token.Whitespace:
		default:
			return p.errorf(tok, ErrUnexpectedToken, "%q", tok.Text)
		}
	}
	return nil
}

func (p *parser) parseProperty(encoded bool) (ast.Node, error) {
	var interp ast.Interpolation
	var value strings.Builder
	build := func() ast.Node {
		interp.Value = value.String()
		if encoded {
			return &ast.Property{Interpolation: interp}
		}
		return &ast.RawProperty{Interpolation: interp}
	}
	for !p.done() {
		tok := p.next()
		switch tok.Kind {
		case token.Whitespace:
		case token.PropertyEnd, token.RawEnd:
			return build(), nil
		case token.FilterSep:
			filters, err := p.parseFilter(tok, nil)
			if err != nil {
				return nil, err
			}
			interp.Filters = filters
			return build(), nil
		default:
			value.WriteString(strings.TrimSpace(tok.Text))
		}
	}
	return nil, p.eofError(ErrUnterminatedProperty)
}

// parseFilter parses one filter after a separator and recurses on the next
// separator, so acc ends up in written order.
func (p *parser) parseFilter(sep token.Token, acc []*ast.Filter) ([]*ast.Filter, error) {
	f := &ast.Filter{}
	for !p.done() {
		tok := p.next()
		switch tok.Kind {
		case token.Whitespace:
		case token.Other:
			text := strings.TrimSpace(tok.Text)
			if f.Name == "" {
				f.Name = text
			} else {
				f.Args = append(f.Args, ast.NewOperand(text))
			}
		case token.FilterSep:
			if f.Name == "" {
				return nil, p.errorf(tok, ErrUnexpectedToken, "empty filter")
			}
			return p.parseFilter(tok, append(acc, f))
		case token.PropertyEnd, token.RawEnd:
			if f.Name == "" {
				return nil, p.errorf(sep, ErrUnexpectedToken, "empty filter")
			}
			return append(acc, f), nil
		default:
			return nil, p.errorf(tok, ErrUnexpectedToken, "%q in filter %q", tok.Text, f.Name)
		}
	}
	return nil, p.eofError(ErrUnterminatedProperty)
}

// parseLoop reads "[source] [as value [, key]]" and then the loop body.
func (p *parser) parseLoop() (*ast.Loop, error) {
	var source, aliases []string
	seenAs := false
header:
	for !p.done() {
		tok := p.next()
		switch tok.Kind {
		case token.ExprEnd:
			break header
		case token.Whitespace:
		case token.Assign:
			if seenAs {
				return nil, p.errorf(tok, ErrUnexpectedToken, "duplicate %q", tok.Text)
			}
			seenAs = true
		case token.Other:
			text := strings.TrimSpace(tok.Text)
			if seenAs {
				if len(aliases) == 2 {
					return nil, p.errorf(tok, ErrUnexpectedToken, "each takes at most two aliases")
				}
				aliases = append(aliases, text)
			} else {
				if len(source) == 1 {
					return nil, p.errorf(tok, ErrUnexpectedToken, "each takes a single source")
				}
				source = append(source, text)
			}
		default:
			return nil, p.errorf(tok, ErrUnexpectedToken, "%q in each", tok.Text)
		}
	}

	loop := &ast.Loop{ValueAlias: ast.DefaultValueAlias, KeyAlias: ast.DefaultKeyAlias}
	if len(source) > 0 {
		loop.Source = source[0]
	}
	if len(aliases) > 0 {
		loop.ValueAlias = aliases[0]
	}
	if len(aliases) > 1 {
		loop.KeyAlias = aliases[1]
	}
	body, err := p.parseBody(token.EndEach, nil)
	if err != nil {
		return nil, err
	}
	loop.Body = body
	return loop, nil
}

// skipComment discards tokens up to the matching comment end. Nested comments
// recurse; running out of tokens ends the comment silently.
func (p *parser) skipComment() {
	for !p.done() {
		switch p.next().Kind {
		case token.CommentEnd:
			return
		case token.Comment:
			p.skipComment()
		}
	}
}

// parseConditional fills c with its header conditions and its body.
func (p *parser) parseConditional(start token.Token, c *ast.Conditional) error {
	p.parseConditionHeader(c)
	if len(c.Conditions) == 0 {
		return p.errorf(start, ErrEmptyCondition, "%q", start.Text)
	}
	body, err := p.parseBody(token.EndIf, c)
	if err != nil {
		return err
	}
	c.Body = body
	return nil
}

func (p *parser) parseConditionHeader(c *ast.Conditional) {
	for !p.done() {
		tok := p.next()
		switch {
		case tok.Kind == token.ExprEnd:
			return
		case tok.Kind == token.Whitespace:
		case tok.Kind == token.Not:
			c.Conditions = append(c.Conditions, ast.Condition{Kind: ast.CondNot, Text: tok.Text})
		case tok.Kind.IsComparison():
			c.Conditions = append(c.Conditions, ast.Condition{Kind: ast.CondEquality, Text: tok.Text})
		default:
			text := strings.TrimSpace(tok.Text)
			if v, ok := ast.ParseLiteral(text); ok {
				c.Conditions = append(c.Conditions, ast.Condition{Kind: ast.CondLiteral, Text: text, Value: v})
				continue
			}
			// The lexer may split one identifier path over several tokens.
			if n := len(c.Conditions); n > 0 && c.Conditions[n-1].Kind == ast.CondIdentifier {
				c.Conditions[n-1].Text += text
				continue
			}
			c.Conditions = append(c.Conditions, ast.Condition{Kind: ast.CondIdentifier, Text: text})
		}
	}
}

func (p *parser) parsePartial(start token.Token) (*ast.Partial, error) {
	n := &ast.Partial{}
loop:
	for !p.done() {
		tok := p.next()
		switch tok.Kind {
		case token.ExprEnd:
			break loop
		case token.Whitespace:
		case token.Other:
			text := strings.TrimSpace(tok.Text)
			if n.Name == "" {
				if v, ok := ast.ParseLiteral(text); ok {
					if s, ok := v.(string); ok {
						text = s
					}
				}
				n.Name = text
			} else {
				n.Args = append(n.Args, text)
			}
		default:
			return nil, p.errorf(tok, ErrUnexpectedToken, "%q in partial", tok.Text)
		}
	}
	if n.Name == "" {
		return nil, p.errorf(start, ErrInvalidExpression, "partial requires a name")
	}
	return n, nil
}
