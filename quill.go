// Package quill compiles logic-enabled string templates.
//
// Templates interpolate values with {{ path }} (escaped) and {{{ path }}}
// (raw), pipe values through filters, branch with {% if %}/{% elsif %}/
// {% else %}/{% endif %}, iterate with {% each %}/{% endeach %}, include
// other templates with {% partial name [context] %} and hold nestable
// comments between {%-- and --%}.
//
// A template is compiled once and rendered any number of times:
//
//	tmpl, err := quill.New("Hello {{ name | upper }}", compiler.WithFilters(filters.Default()))
//	out, err := tmpl.Render(map[string]any{"name": "world"})
package quill

import (
	"fmt"

	"github.com/neurodesk/quill/pkg/ast"
	"github.com/neurodesk/quill/pkg/compiler"
	"github.com/neurodesk/quill/pkg/lexer"
	"github.com/neurodesk/quill/pkg/parser"
)

// Template is a compiled template.
type Template = compiler.Template

// Parse lexes and parses src.
func Parse(src string) (*ast.Template, error) {
	tree, err := parser.Parse(lexer.Lex(src))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return tree, nil
}

// New parses and compiles src.
func New(src string, opts ...compiler.Option) (*Template, error) {
	tree, err := Parse(src)
	if err != nil {
		return nil, err
	}
	tmpl, err := compiler.Compile(tree, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile template: %w", err)
	}
	return tmpl, nil
}

// Must panics if err is non-nil.
func Must(t *Template, err error) *Template {
	if err != nil {
		panic(err)
	}
	return t
}
