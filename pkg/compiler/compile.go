package compiler

import (
	"fmt"
	"log/slog"

	"github.com/neurodesk/quill/pkg/ast"
	"github.com/neurodesk/quill/pkg/runtime"
)

// DefaultMaxDepth bounds nested partial rendering.
const DefaultMaxDepth = 100

// Helpers records which runtime helpers a compiled template uses.
type Helpers struct {
	Iterate bool
	Escape  bool
	Kind    bool
	Scope   bool
}

// Names lists the helpers in use in a fixed order.
func (h Helpers) Names() []string {
	var out []string
	if h.Escape {
		out = append(out, "escape")
	}
	if h.Iterate {
		out = append(out, "iterate")
	}
	if h.Kind {
		out = append(out, "kind")
	}
	if h.Scope {
		out = append(out, "scope")
	}
	return out
}

type Option func(*Template)

// WithFilters registers filters on the compiled template.
func WithFilters(filters map[string]runtime.Filter) Option {
	return func(t *Template) {
		for name, fn := range filters {
			t.filters[name] = fn
		}
	}
}

// WithMaxDepth sets the maximum depth of nested partials. Values below one
// keep the default.
func WithMaxDepth(n int) Option {
	return func(t *Template) {
		if n > 0 {
			t.maxDepth = n
		}
	}
}

// WithDefaultData binds the data used when Render is called with nil and
// when the template is included as a partial without a context argument.
func WithDefaultData(data any) Option {
	return func(t *Template) { t.defaultData = data }
}

// Compile walks t once and returns a reusable template.
func Compile(t *ast.Template, opts ...Option) (*Template, error) {
	if t == nil {
		return nil, fmt.Errorf("compile: nil template")
	}
	c := &compiler{}
	body, err := c.nodes(t.Nodes)
	if err != nil {
		return nil, err
	}
	tmpl := &Template{
		body:     body,
		helpers:  c.helpers,
		filters:  map[string]runtime.Filter{},
		partials: map[string]*Template{},
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(tmpl)
	}
	slog.Debug("compiled template", "nodes", len(t.Nodes), "helpers", c.helpers.Names())
	return tmpl, nil
}

type compiler struct {
	helpers Helpers
}

func (c *compiler) nodes(nodes []ast.Node) (seqOp, error) {
	out := make(seqOp, 0, len(nodes))
	for _, n := range nodes {
		o, err := c.node(n)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (c *compiler) node(n ast.Node) (op, error) {
	switch t := n.(type) {
	case *ast.Text:
		return textOp{value: t.Value}, nil
	case *ast.Property:
		c.helpers.Escape = true
		return c.property(t.Interpolation, true)
	case *ast.RawProperty:
		return c.property(t.Interpolation, false)
	case *ast.Conditional:
		return c.conditional(t)
	case *ast.Loop:
		return c.loop(t)
	case *ast.Partial:
		return c.partial(t)
	case *ast.Template:
		return c.nodes(t.Nodes)
	default:
		return nil, fmt.Errorf("compile: unhandled node type %T", n)
	}
}

func (c *compiler) property(in ast.Interpolation, escape bool) (op, error) {
	o := propertyOp{escape: escape, empty: in.Value == ""}
	if !o.empty {
		v, err := c.value(in.Value)
		if err != nil {
			return nil, err
		}
		o.value = v
	}
	for _, f := range in.Filters {
		call := filterCall{name: f.Name}
		for _, a := range f.Args {
			if a.Literal {
				call.args = append(call.args, literalValue(a.Value, a.Text))
				continue
			}
			v, err := c.value(a.Text)
			if err != nil {
				return nil, fmt.Errorf("filter %s: %w", f.Name, err)
			}
			call.args = append(call.args, v)
		}
		o.filters = append(o.filters, call)
	}
	return o, nil
}

func (c *compiler) value(text string) (valueOp, error) {
	if v, ok := ast.ParseLiteral(text); ok {
		return literalValue(v, text), nil
	}
	if !validPath(text) {
		return valueOp{}, fmt.Errorf("%w: %q is not an identifier", ErrInvalidArgument, text)
	}
	return pathValue(text), nil
}

func (c *compiler) conditional(n *ast.Conditional) (*condOp, error) {
	cond, err := compileCondition(n.Conditions)
	if err != nil {
		return nil, err
	}
	for _, k := range n.Conditions {
		if k.Kind == ast.CondEquality {
			c.helpers.Kind = true
		}
	}
	o := &condOp{cond: cond}
	if o.then, err = c.nodes(n.Body); err != nil {
		return nil, err
	}
	switch {
	case n.HasElse():
		if o.els, err = c.nodes(n.Else); err != nil {
			return nil, err
		}
	case n.ElsIf != nil:
		if o.elsif, err = c.conditional(n.ElsIf); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (c *compiler) loop(n *ast.Loop) (op, error) {
	// Iteration needs type detection and fresh per-element scopes.
	c.helpers.Iterate = true
	c.helpers.Kind = true
	c.helpers.Scope = true

	o := loopOp{valueAlias: n.ValueAlias, keyAlias: n.KeyAlias}
	if o.valueAlias == "" {
		o.valueAlias = ast.DefaultValueAlias
	}
	if o.keyAlias == "" {
		o.keyAlias = ast.DefaultKeyAlias
	}
	if n.Source == "" || n.Source == "." {
		o.current = true
	} else {
		v, err := c.value(n.Source)
		if err != nil {
			return nil, fmt.Errorf("each: %w", err)
		}
		o.source = v
	}
	for _, alias := range []string{o.valueAlias, o.keyAlias} {
		if alias != "." && !validPath(alias) {
			return nil, fmt.Errorf("each: %w: alias %q", ErrInvalidArgument, alias)
		}
	}
	body, err := c.nodes(n.Body)
	if err != nil {
		return nil, err
	}
	o.body = body
	return o, nil
}

func (c *compiler) partial(n *ast.Partial) (op, error) {
	o := partialOp{name: n.Name}
	if ctx, ok := n.Context(); ok {
		if _, lit := ast.ParseLiteral(ctx); lit || !validPath(ctx) {
			return nil, fmt.Errorf("partial %s: %w: context %q must be an identifier path", n.Name, ErrInvalidArgument, ctx)
		}
		v := pathValue(ctx)
		o.context = &v
	}
	return o, nil
}
