package compiler

import (
	"fmt"
	"strings"

	"github.com/neurodesk/quill/pkg/runtime"
)

// renderState is the per-call state threaded through a render.
type renderState struct {
	tmpl  *Template
	depth int
}

// op is one node of the compiled tree.
type op interface {
	exec(st *renderState, s *runtime.Scope, w *strings.Builder) error
	plan(p *planWriter)
}

type seqOp []op

func (o seqOp) exec(st *renderState, s *runtime.Scope, w *strings.Builder) error {
	for _, c := range o {
		if err := c.exec(st, s, w); err != nil {
			return err
		}
	}
	return nil
}

func (o seqOp) plan(p *planWriter) {
	for _, c := range o {
		c.plan(p)
	}
}

type textOp struct{ value string }

func (o textOp) exec(_ *renderState, _ *runtime.Scope, w *strings.Builder) error {
	w.WriteString(o.value)
	return nil
}

func (o textOp) plan(p *planWriter) { p.line("text %s", quoteText(o.value)) }

// valueOp produces a value: a literal or an identifier path looked up in the
// current scope. Callables found on the path are invoked.
type valueOp struct {
	literal bool
	value   any
	path    []string
	text    string
}

func literalValue(v any, text string) valueOp {
	return valueOp{literal: true, value: v, text: text}
}

func pathValue(text string) valueOp {
	return valueOp{path: runtime.SplitPath(text), text: text}
}

func (o valueOp) eval(s *runtime.Scope) (any, error) {
	if o.literal {
		return o.value, nil
	}
	if len(o.path) == 0 {
		return nil, nil
	}
	v, ok := s.Resolve(o.path)
	if !ok {
		return nil, nil
	}
	return runtime.Invoke(v)
}

func (o valueOp) String() string {
	if o.literal {
		return o.text
	}
	return strings.Join(o.path, ".")
}

type filterCall struct {
	name string
	args []valueOp
}

// propertyOp renders an interpolation. The base value is threaded through
// the filters in written order and the final result is escaped when escape
// is set.
type propertyOp struct {
	value   valueOp
	empty   bool
	filters []filterCall
	escape  bool
}

func (o propertyOp) exec(st *renderState, s *runtime.Scope, w *strings.Builder) error {
	var v any
	if !o.empty {
		var err error
		if v, err = o.value.eval(s); err != nil {
			return fmt.Errorf("%s: %w", o.value, err)
		}
	}
	// Encoding happens on the base value; filters see the escaped text.
	if o.escape {
		v = runtime.Escape(v)
	}
	for _, f := range o.filters {
		fn, err := st.tmpl.lookupFilter(f.name)
		if err != nil {
			return err
		}
		args := make([]any, len(f.args))
		for i, a := range f.args {
			if args[i], err = a.eval(s); err != nil {
				return fmt.Errorf("filter %s: %w", f.name, err)
			}
		}
		if v, err = fn(v, args...); err != nil {
			return fmt.Errorf("filter %s: %w", f.name, err)
		}
	}
	w.WriteString(runtime.ToString(v))
	return nil
}

func (o propertyOp) plan(p *planWriter) {
	kind := "raw"
	if o.escape {
		kind = "escape"
	}
	var b strings.Builder
	if o.empty {
		b.WriteString("<empty>")
	} else {
		b.WriteString(o.value.String())
	}
	for _, f := range o.filters {
		b.WriteString(" | ")
		b.WriteString(f.name)
		for _, a := range f.args {
			b.WriteString(" ")
			b.WriteString(a.String())
		}
	}
	p.line("property %s %s", kind, b.String())
}

// condOp is a three-way choice: then when cond holds, otherwise else when the
// conditional had an else body, otherwise the chained elsif, otherwise nothing.
type condOp struct {
	cond  expr
	then  op
	els   op
	elsif *condOp
}

func (o *condOp) exec(st *renderState, s *runtime.Scope, w *strings.Builder) error {
	v, err := o.cond.eval(s)
	if err != nil {
		return err
	}
	switch {
	case runtime.Truthy(v):
		return o.then.exec(st, s, w)
	case o.els != nil:
		return o.els.exec(st, s, w)
	case o.elsif != nil:
		return o.elsif.exec(st, s, w)
	}
	return nil
}

func (o *condOp) plan(p *planWriter) {
	p.line("if %s", o.cond)
	p.nest(o.then)
	for c := o; c != nil; c = c.elsif {
		if c != o {
			p.line("elsif %s", c.cond)
			p.nest(c.then)
		}
		if c.els != nil {
			p.line("else")
			p.nest(c.els)
			break
		}
	}
	p.line("endif")
}

// loopOp renders body once per element of source. Each iteration sees a
// child of the enclosing scope so outer fields stay reachable.
type loopOp struct {
	source     valueOp
	current    bool
	valueAlias string
	keyAlias   string
	body       op
}

func (o loopOp) exec(st *renderState, s *runtime.Scope, w *strings.Builder) error {
	var coll any
	if o.current {
		coll = s.Data()
	} else {
		var err error
		if coll, err = o.source.eval(s); err != nil {
			return err
		}
	}
	parts, err := runtime.Iterate(coll, o.keyAlias, o.valueAlias, s, func(inner *runtime.Scope) (string, error) {
		var b strings.Builder
		if err := o.body.exec(st, inner, &b); err != nil {
			return "", err
		}
		return b.String(), nil
	})
	if err != nil {
		return fmt.Errorf("each %s: %w", o.sourceText(), err)
	}
	for _, part := range parts {
		w.WriteString(part)
	}
	return nil
}

func (o loopOp) sourceText() string {
	if o.current {
		return "."
	}
	return o.source.String()
}

func (o loopOp) plan(p *planWriter) {
	p.line("each %s as %s, %s", o.sourceText(), o.valueAlias, o.keyAlias)
	p.nest(o.body)
	p.line("endeach")
}

// partialOp renders a registered partial, either against the resolved
// context path or against the partial's own default data.
type partialOp struct {
	name    string
	context *valueOp
}

func (o partialOp) exec(st *renderState, s *runtime.Scope, w *strings.Builder) error {
	p, err := st.tmpl.lookupPartial(o.name)
	if err != nil {
		return err
	}
	data := p.defaultData
	if o.context != nil {
		if data, err = o.context.eval(s); err != nil {
			return fmt.Errorf("partial %s: %w", o.name, err)
		}
	}
	if err := p.render(w, data, st.depth+1); err != nil {
		return fmt.Errorf("partial %s: %w", o.name, err)
	}
	return nil
}

func (o partialOp) plan(p *planWriter) {
	if o.context == nil {
		p.line("partial %s", o.name)
		return
	}
	p.line("partial %s %s", o.name, o.context)
}
