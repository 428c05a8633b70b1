package starlark

import (
	"strings"
	"testing"

	"github.com/neurodesk/quill"
	"github.com/neurodesk/quill/pkg/compiler"
	"go.starlark.net/starlark"
)

func TestToStarlark(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string value", "hello", `"hello"`},
		{"int value", 42, "42"},
		{"whole float", 3.0, "3"},
		{"float value", 3.14, "3.14"},
		{"bool value", true, "True"},
		{"nil value", nil, "None"},
		{"list", []any{"a", 1}, `["a", 1]`},
		{"map", map[string]any{"b": 2, "a": "x"}, `{"a": "x", "b": 2}`},
		{"struct", struct {
			Name string
			age  int
		}{"Ada", 1}, `{"Name": "Ada"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ToStarlark(tt.input)
			if err != nil {
				t.Fatalf("ToStarlark() error: %v", err)
			}
			if result.String() != tt.expected {
				t.Errorf("ToStarlark() = %v, want %v", result, tt.expected)
			}
		})
	}

	if _, err := ToStarlark(make(chan int)); err == nil {
		t.Errorf("expected error converting a channel")
	}
}

func TestFromStarlark(t *testing.T) {
	dict := starlark.NewDict(1)
	if err := dict.SetKey(starlark.String("k"), starlark.NewList([]starlark.Value{starlark.MakeInt(1)})); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	tests := []struct {
		name     string
		input    starlark.Value
		expected any
	}{
		{"string", starlark.String("hello"), "hello"},
		{"int", starlark.MakeInt64(42), int64(42)},
		{"float", starlark.Float(1.5), 1.5},
		{"bool", starlark.Bool(true), true},
		{"none", starlark.None, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromStarlark(tt.input); got != tt.expected {
				t.Errorf("FromStarlark() = %#v, want %#v", got, tt.expected)
			}
		})
	}

	got, ok := FromStarlark(dict).(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", FromStarlark(dict))
	}
	list, ok := got["k"].([]any)
	if !ok || len(list) != 1 || list[0] != int64(1) {
		t.Fatalf("nested list: got %#v", got["k"])
	}
}

func TestEvaluatorBasic(t *testing.T) {
	eval := NewEvaluator()

	result, err := eval.Eval("2 + 3")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if result != int64(5) {
		t.Errorf("Expected 5, got %v", result)
	}
}

func TestEvaluatorWithGlobals(t *testing.T) {
	eval := NewEvaluator()
	if err := eval.SetGlobal("test_var", "hello"); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}

	result, err := eval.Eval("test_var + ' world'")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if result != "hello world" {
		t.Errorf("Expected 'hello world', got %v", result)
	}
}

func TestEvaluatorScript(t *testing.T) {
	eval := NewEvaluator()
	if err := eval.LoadData(map[string]any{"base": 10}); err != nil {
		t.Fatalf("LoadData: %v", err)
	}

	script := `
y = 20
result = base + y

def helper(v):
    return v
`
	if _, err := eval.ExecFile("script.star", script); err != nil {
		t.Fatalf("ExecFile error: %v", err)
	}

	exported := eval.Export()
	if exported["result"] != int64(30) {
		t.Errorf("Expected result=30, got %v", exported["result"])
	}
	if _, ok := exported["helper"]; ok {
		t.Error("functions should not be exported as data")
	}
	if _, ok := exported["escape"]; ok {
		t.Error("builtins should not be exported as data")
	}
}

func TestLoadScript(t *testing.T) {
	src := `
label = prefix + "-v2"

def tag(v):
    return prefix + ":" + v

def _hidden():
    return 1
`
	script, err := LoadScript("tags.star", src, map[string]any{"prefix": "app"})
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if script.Data["label"] != "app-v2" || script.Data["prefix"] != "app" {
		t.Fatalf("data = %#v", script.Data)
	}
	if _, ok := script.Data["_hidden"]; ok {
		t.Fatalf("private name exported")
	}
	got, err := script.Filters["tag"]("web")
	if err != nil || got != "app:web" {
		t.Fatalf("tag = %v, %v", got, err)
	}

	if _, err := LoadScript("bad.star", "x = 1", map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatalf("expected conversion error for unsupported global")
	}
}

func TestBuiltins(t *testing.T) {
	eval := NewEvaluator()
	result, err := eval.Eval(`escape("<a>") + kind_of([1]) + to_str(None)`)
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if result != "&lt;a&gt;list" {
		t.Errorf("got %v", result)
	}
}

const filterScript = `
def shout(v, suffix="!"):
    return v.upper() + suffix

def double(v):
    return v * 2

def _private(v):
    return v

greeting = "hi"
`

func TestLoadFilters(t *testing.T) {
	filters, err := LoadFilters("filters.star", filterScript)
	if err != nil {
		t.Fatalf("LoadFilters: %v", err)
	}
	if _, ok := filters["_private"]; ok {
		t.Errorf("private function exported as filter")
	}
	if _, ok := filters["greeting"]; ok {
		t.Errorf("non-function exported as filter")
	}

	got, err := filters["shout"]("hey", "?")
	if err != nil {
		t.Fatalf("shout: %v", err)
	}
	if got != "HEY?" {
		t.Errorf("shout = %v", got)
	}

	tmpl, err := quill.New(`{{ name | shout }} {{{ n | double }}}`, compiler.WithFilters(filters))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := tmpl.Render(map[string]any{"name": "ada", "n": 21})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "ADA! 42" {
		t.Errorf("got %q", out)
	}
}

func TestFilterErrors(t *testing.T) {
	filters, err := LoadFilters("filters.star", filterScript)
	if err != nil {
		t.Fatalf("LoadFilters: %v", err)
	}
	_, err = filters["shout"](5)
	if err == nil || !strings.Contains(err.Error(), "filter shout") {
		t.Fatalf("expected wrapped starlark error, got %v", err)
	}

	if _, err := LoadFilters("bad.star", "def broken(:\n"); err == nil {
		t.Fatalf("expected syntax error")
	}
}
