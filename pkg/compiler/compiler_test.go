package compiler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/neurodesk/quill/pkg/ast"
	"github.com/neurodesk/quill/pkg/lexer"
	"github.com/neurodesk/quill/pkg/parser"
	"github.com/neurodesk/quill/pkg/runtime"
)

func parse(t *testing.T, src string) *ast.Template {
	t.Helper()
	tree, err := parser.Parse(lexer.Lex(src))
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return tree
}

func compile(t *testing.T, src string, opts ...Option) *Template {
	t.Helper()
	tmpl, err := Compile(parse(t, src), opts...)
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	return tmpl
}

func render(t *testing.T, tmpl *Template, data any) string {
	t.Helper()
	out, err := tmpl.Render(data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return out
}

var testFilters = map[string]runtime.Filter{
	"upper": func(v any, _ ...any) (any, error) { return strings.ToUpper(runtime.ToString(v)), nil },
	"truncate": func(v any, args ...any) (any, error) {
		n, _ := runtime.ToNumber(args[0])
		s := runtime.ToString(v)
		if len(s) > int(n) {
			s = s[:int(n)]
		}
		return s, nil
	},
	"wrap": func(v any, args ...any) (any, error) {
		return runtime.ToString(args[0]) + runtime.ToString(v) + runtime.ToString(args[1]), nil
	},
}

func TestRender(t *testing.T) {
	cases := []struct {
		name string
		src  string
		data any
		want string
	}{
		{"no tags", "Hello, world -- {not a tag}", map[string]any{"x": 1}, "Hello, world -- {not a tag}"},
		{"comment", "{%--nothing--%}", map[string]any{}, ""},
		{"bare dashes", "--", map[string]any{}, "--"},
		{"unterminated comment", "{%--", map[string]any{}, ""},
		{"truncated tail", "{{hello}}{%--{{test}}", map[string]any{"hello": "goodbye", "test": "x"}, "goodbye"},
		{"property in comment", "{%--{{test}}--%}", map[string]any{"test": "hello world"}, ""},
		{"nested comment", "a{%-- x {%-- y --%} z --%}b", nil, "ab"},
		{"property", "Hi {{ name }}!", map[string]any{"name": "Ada"}, "Hi Ada!"},
		{"nested path", "{{ user.address.city }}", map[string]any{"user": map[string]any{"address": map[string]any{"city": "Oslo"}}}, "Oslo"},
		{"missing is empty", "[{{ nope }}]", map[string]any{}, "[]"},
		{"escaped", "{{ html }}", map[string]any{"html": `<b class="x">&</b>`}, "&lt;b class=&quot;x&quot;&gt;&amp;&lt;/b&gt;"},
		{"raw", "{{{ html }}}", map[string]any{"html": "<b>"}, "<b>"},
		{"literal", `{{ "q" }}{{ 4 }}`, nil, "q4"},
		{"callable", "{{ greet }}", map[string]any{"greet": func() string { return "hey" }}, "hey"},
		{"filters left to right", "{{ x | upper | truncate(5) }}", map[string]any{"x": "abcdefgh"}, "ABCDE"},
		{"filter identifier arg", `{{ x | wrap open "]" }}`, map[string]any{"x": "v", "open": "["}, "[v]"},
		{"filter output is not escaped", `{{ x | wrap "<" ">" }}`, map[string]any{"x": "v"}, "<v>"},
		{"escape before filters", `{{ x | wrap "[" "]" }}`, map[string]any{"x": "a&b"}, "[a&amp;b]"},
		{"raw after filters", `{{{ x | wrap "<" ">" }}}`, map[string]any{"x": "v"}, "<v>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tmpl := compile(t, tc.src, WithFilters(testFilters))
			if got := render(t, tmpl, tc.data); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFiltersSeeEncodedValue(t *testing.T) {
	var seen []any
	spy := func(v any, _ ...any) (any, error) {
		seen = append(seen, v)
		return v, nil
	}
	tmpl := compile(t, "{{ x | spy }}{{{ x | spy }}}", WithFilters(map[string]runtime.Filter{"spy": spy}))
	if got := render(t, tmpl, map[string]any{"x": "a&b"}); got != "a&amp;ba&b" {
		t.Fatalf("got %q", got)
	}
	if len(seen) != 2 || seen[0] != "a&amp;b" || seen[1] != "a&b" {
		t.Fatalf("filter received %#v", seen)
	}
}

func TestConditionals(t *testing.T) {
	const chain = "{% if a %}A{% elsif b %}B{% else %}C{% endif %}"
	cases := []struct {
		name string
		src  string
		data map[string]any
		want string
	}{
		{"then", chain, map[string]any{"a": true, "b": true}, "A"},
		{"elsif before else", chain, map[string]any{"a": false, "b": true}, "B"},
		{"else", chain, map[string]any{}, "C"},
		{"no fallback", "x{% if a %}A{% endif %}y", map[string]any{"a": false}, "xy"},
		{"else only", "{% if a %}A{% else %}Z{% endif %}", map[string]any{"a": ""}, "Z"},
		{"elsif without else", "{% if a %}A{% elsif b %}B{% endif %}", map[string]any{}, ""},
		{"elsif chain", "{% if a %}A{% elsif b %}B{% elsif c %}C{% else %}D{% endif %}", map[string]any{"c": 1}, "C"},
		{"not keyword", "{% if not a %}N{% endif %}", map[string]any{"a": false}, "N"},
		{"bang", "{% if !a %}N{% else %}Y{% endif %}", map[string]any{"a": "set"}, "Y"},
		{"double not", "{% if not not a %}Y{% endif %}", map[string]any{"a": 1}, "Y"},
		{"equality string", `{% if role == "admin" %}yes{% endif %}`, map[string]any{"role": "admin"}, "yes"},
		{"inequality", `{% if role != 'admin' %}no{% endif %}`, map[string]any{"role": "user"}, "no"},
		{"numeric", "{% if n > 3 %}big{% else %}small{% endif %}", map[string]any{"n": 10}, "big"},
		{"numeric le", "{% if n <= 3 %}le{% endif %}", map[string]any{"n": 3.0}, "le"},
		{"literal true", "{% if true %}T{% endif %}", nil, "T"},
		{"dotted path", "{% if user.admin %}A{% endif %}", map[string]any{"user": map[string]any{"admin": true}}, "A"},
		{"nested", "{% if a %}{% if b %}AB{% else %}A{% endif %}{% endif %}", map[string]any{"a": true}, "A"},
		{"empty list is false", "{% if xs %}has{% else %}none{% endif %}", map[string]any{"xs": []any{}}, "none"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := render(t, compile(t, tc.src), tc.data); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestInvalidConditions(t *testing.T) {
	for _, src := range []string{
		"{% if == a %}x{% endif %}",
		"{% if a == %}x{% endif %}",
		"{% if a 'b' %}x{% endif %}",
		"{% if not %}x{% endif %}",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(parse(t, src))
			if !errors.Is(err, ErrInvalidCondition) {
				t.Fatalf("got %v, want ErrInvalidCondition", err)
			}
		})
	}
}

func TestEmptyConditionRecheck(t *testing.T) {
	tree := &ast.Template{Nodes: []ast.Node{&ast.Conditional{}}}
	if _, err := Compile(tree); !errors.Is(err, ErrEmptyCondition) {
		t.Fatalf("got %v, want ErrEmptyCondition", err)
	}
}

func TestLoops(t *testing.T) {
	cases := []struct {
		name string
		src  string
		data any
		want string
	}{
		{"default aliases", "{% each %}{{ i }}:{{ . }} {% endeach %}", []any{"a", "b"}, "0:a 1:b "},
		{"source", "{% each items %}<{{.}}>{% endeach %}", map[string]any{"items": []string{"x", "y"}}, "<x><y>"},
		{"value alias", "{% each items as item %}{{ item }}{{ i }}{% endeach %}", map[string]any{"items": []any{"p", "q"}}, "p0q1"},
		{"both aliases", "{% each items as v, k %}{{ k }}={{ v }};{% endeach %}", map[string]any{"items": map[string]any{"b": 2, "a": 1}}, "a=1;b=2;"},
		{"element fields", "{% each people %}{{ name }} {% endeach %}", map[string]any{"people": []any{map[string]any{"name": "Ada"}, map[string]any{"name": "Bo"}}}, "Ada Bo "},
		{"outer scope", "{% each items %}{{ sep }}{{ . }}{% endeach %}", map[string]any{"items": []any{1, 2}, "sep": "-"}, "-1-2"},
		{"nested", "{% each rows as row %}{% each row as cell, j %}{{ cell }}{% endeach %}|{% endeach %}", map[string]any{"rows": []any{[]any{1, 2}, []any{3}}}, "12|3|"},
		{"missing source", "{% each nope %}x{% endeach %}after", map[string]any{}, "after"},
		{"loop with conditional", "{% each %}{% if . %}{{.}}{% else %}_{% endif %}{% endeach %}", []any{"a", "", "c"}, "a_c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := render(t, compile(t, tc.src), tc.data); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLoopOverScalarFails(t *testing.T) {
	tmpl := compile(t, "{% each n %}x{% endeach %}")
	if _, err := tmpl.Render(map[string]any{"n": 3}); err == nil {
		t.Fatalf("expected error iterating a number")
	}
}

func TestPartials(t *testing.T) {
	card := compile(t, "<{{ name }}>", WithDefaultData(map[string]any{"name": "default"}))
	page := compile(t, "{% partial card user %}{% partial card %}{% partial 'card' user %}")
	if err := page.RegisterPartial("card", card); err != nil {
		t.Fatalf("register: %v", err)
	}
	got := render(t, page, map[string]any{"name": "caller", "user": map[string]any{"name": "Ada"}})
	if want := "<Ada><default><Ada>"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPartialMissingContextIsNotDefaulted(t *testing.T) {
	card := compile(t, "<{{ name }}>", WithDefaultData(map[string]any{"name": "default"}))
	page := compile(t, "{% partial card user %}|{% partial card %}")
	if err := page.RegisterPartial("card", card); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := render(t, page, map[string]any{"name": "caller"}); got != "<>|<default>" {
		t.Fatalf("got %q, want %q", got, "<>|<default>")
	}
}

func TestPartialUsesOwnRegistries(t *testing.T) {
	inner := compile(t, "{{ . | upper }}", WithFilters(testFilters))
	outer := compile(t, "{% each %}{% partial inner . %}{% endeach %}")
	if err := outer.RegisterPartial("inner", inner); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := render(t, outer, []any{"a", "b"}); got != "AB" {
		t.Fatalf("got %q", got)
	}
}

func TestInvalidPartialArgument(t *testing.T) {
	if _, err := parser.Parse(lexer.Lex("{% partial card a == b %}")); !errors.Is(err, parser.ErrUnexpectedToken) {
		t.Fatalf("comparison argument: got %v", err)
	}
	_, err := Compile(parse(t, `{% partial card "literal" %}`))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("literal argument: got %v", err)
	}
}

func TestUnknownNames(t *testing.T) {
	tmpl := compile(t, "{{ x | uper }}", WithFilters(testFilters))
	_, err := tmpl.Render(map[string]any{"x": "a"})
	if !errors.Is(err, ErrUnknownFilter) {
		t.Fatalf("got %v, want ErrUnknownFilter", err)
	}
	if !strings.Contains(err.Error(), `did you mean "upper"`) {
		t.Fatalf("missing suggestion: %v", err)
	}

	tmpl = compile(t, "{% partial missing %}")
	if _, err := tmpl.Render(nil); !errors.Is(err, ErrUnknownPartial) {
		t.Fatalf("got %v, want ErrUnknownPartial", err)
	}
}

func TestMaxDepth(t *testing.T) {
	tmpl := compile(t, "x{% partial self %}", WithMaxDepth(5))
	if err := tmpl.RegisterPartial("self", tmpl); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := tmpl.Render(nil); !errors.Is(err, ErrMaxDepth) {
		t.Fatalf("got %v, want ErrMaxDepth", err)
	}
}

func TestDefaultData(t *testing.T) {
	tmpl := compile(t, "{{ who }}", WithDefaultData(map[string]any{"who": "world"}))
	if got := render(t, tmpl, nil); got != "world" {
		t.Fatalf("got %q", got)
	}
	if got := render(t, tmpl, map[string]any{"who": "you"}); got != "you" {
		t.Fatalf("got %q", got)
	}
}

func TestSeal(t *testing.T) {
	tmpl := compile(t, "x")
	tmpl.Seal()
	if err := tmpl.RegisterFilter("f", testFilters["upper"]); !errors.Is(err, ErrSealed) {
		t.Fatalf("filter: got %v", err)
	}
	if err := tmpl.RegisterPartial("p", tmpl); !errors.Is(err, ErrSealed) {
		t.Fatalf("partial: got %v", err)
	}
	if !tmpl.Sealed() {
		t.Fatalf("Sealed() = false")
	}
}

func TestDeterminism(t *testing.T) {
	src := "a{{ b | upper }}{% if c == 1 %}\n'x'{% else %}y{% endif %}{% each d as v, k %}{{ k }}{% endeach %}{% partial p d %}"
	tree := parse(t, src)
	first, err := Compile(tree, WithFilters(testFilters))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	second, err := Compile(tree, WithFilters(testFilters))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if first.Plan() != second.Plan() {
		t.Fatalf("plans differ:\n%s\n---\n%s", first.Plan(), second.Plan())
	}
	p := compile(t, "[{{ . }}]")
	for _, tmpl := range []*Template{first, second} {
		if err := tmpl.RegisterPartial("p", p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	data := map[string]any{"b": "q", "c": 1, "d": []any{"x", "y"}}
	if a, b := render(t, first, data), render(t, second, data); a != b {
		t.Fatalf("outputs differ: %q vs %q", a, b)
	}
	if a, b := render(t, first, data), render(t, first, data); a != b {
		t.Fatalf("repeated renders differ: %q vs %q", a, b)
	}
}

func TestHelpers(t *testing.T) {
	cases := []struct {
		src  string
		want []string
	}{
		{"plain", nil},
		{"{{{ x }}}", nil},
		{"{{ x }}", []string{"escape"}},
		{"{% if a == b %}{% endif %}", []string{"kind"}},
		{"{% each %}{{{ . }}}{% endeach %}", []string{"iterate", "kind", "scope"}},
		{"{% each %}{{ . }}{% endeach %}", []string{"escape", "iterate", "kind", "scope"}},
	}
	for _, tc := range cases {
		got := compile(t, tc.src).Helpers().Names()
		if fmt.Sprint(got) != fmt.Sprint(tc.want) {
			t.Fatalf("%q: got %v, want %v", tc.src, got, tc.want)
		}
	}
}

func TestPlan(t *testing.T) {
	tmpl := compile(t, "it's\n{{ a | upper }}{% each xs as x %}{% if !x %}-{% endif %}{% endeach %}{% partial p %}")
	want := strings.Join([]string{
		"helpers escape iterate kind scope",
		`text 'it\'s\n'`,
		"property escape a | upper",
		"each xs as x, i",
		"  if !x",
		"    text '-'",
		"  endif",
		"endeach",
		"partial p",
		"",
	}, "\n")
	if got := tmpl.Plan(); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestQuoteText(t *testing.T) {
	got := quoteText("a\\b'c\r\n\t\u2028\u2029")
	want := `'a\\b\'c\r\n\t\u2028\u2029'`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestConcurrentRender(t *testing.T) {
	tmpl := compile(t, "{% each %}{{ . | upper }}{% endeach %}", WithFilters(testFilters))
	tmpl.Seal()
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := tmpl.Render([]any{"a", i})
			if err != nil {
				errs <- err
				return
			}
			if want := fmt.Sprintf("A%d", i); out != want {
				errs <- fmt.Errorf("got %q, want %q", out, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
