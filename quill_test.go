package quill_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/neurodesk/quill"
	"github.com/neurodesk/quill/pkg/compiler"
	"github.com/neurodesk/quill/pkg/filters"
	"github.com/neurodesk/quill/pkg/parser"
)

func TestNew(t *testing.T) {
	tmpl, err := quill.New(`{% each users as u %}{% if u.admin %}*{% endif %}{{ u.name }};{% endeach %}`)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := tmpl.Render(map[string]any{"users": []any{
		map[string]any{"name": "ann", "admin": true},
		map[string]any{"name": "<bob>"},
	}})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if want := "*ann;&lt;bob&gt;;"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseErrorsAreWrapped(t *testing.T) {
	cases := map[string]error{
		"{{ open":             parser.ErrUnterminatedProperty,
		"{% else %}":          parser.ErrInvalidExpression,
		"{% if %}{% endif %}": parser.ErrEmptyCondition,
		"{{ x | }}":           parser.ErrUnexpectedToken,
	}
	for src, want := range cases {
		if _, err := quill.Parse(src); !errors.Is(err, want) {
			t.Errorf("Parse(%q) = %v, want %v", src, err, want)
		}
		if _, err := quill.New(src); !errors.Is(err, want) {
			t.Errorf("New(%q) = %v, want %v", src, err, want)
		}
	}
}

func TestCompileErrorsAreWrapped(t *testing.T) {
	_, err := quill.New(`{% partial row "literal" %}`)
	if !errors.Is(err, compiler.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestMust(t *testing.T) {
	if tmpl := quill.Must(quill.New("ok")); tmpl == nil {
		t.Fatalf("Must returned nil")
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("Must did not panic")
		}
	}()
	quill.Must(quill.New("{{ broken"))
}

func Example() {
	tmpl := quill.Must(quill.New(
		"Hello {{ name | upper }}{% if admin %} (admin){% endif %}",
		compiler.WithFilters(filters.Default()),
	))
	out, err := tmpl.Render(map[string]any{"name": "world", "admin": true})
	if err != nil {
		panic(err)
	}
	fmt.Println(out)
	// Output: Hello WORLD (admin)
}
