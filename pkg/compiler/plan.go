package compiler

import (
	"fmt"
	"strings"
)

// Plan returns a deterministic textual form of the compiled tree. Two
// compilations of the same AST produce the same plan.
func (t *Template) Plan() string {
	p := &planWriter{}
	if names := t.helpers.Names(); len(names) > 0 {
		p.line("helpers %s", strings.Join(names, " "))
	} else {
		p.line("helpers none")
	}
	t.body.plan(p)
	return p.b.String()
}

type planWriter struct {
	b      strings.Builder
	indent int
}

func (p *planWriter) line(format string, args ...any) {
	p.b.WriteString(strings.Repeat("  ", p.indent))
	fmt.Fprintf(&p.b, format, args...)
	p.b.WriteByte('\n')
}

func (p *planWriter) nest(o op) {
	p.indent++
	o.plan(p)
	p.indent--
}

// quoteText quotes s as a single-quoted literal that round-trips exactly.
func quoteText(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\u2028':
			b.WriteString(`\u2028`)
		case '\u2029':
			b.WriteString(`\u2029`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
