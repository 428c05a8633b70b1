// Package starlark lets template filters be written as Starlark functions.
package starlark

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/neurodesk/quill/pkg/runtime"
	"go.starlark.net/starlark"
)

const threadName = "quill"

// Evaluator runs Starlark scripts and exposes their functions as filters.
// An Evaluator is not safe for concurrent use; the filters it returns are.
type Evaluator struct {
	thread   *starlark.Thread
	builtins starlark.StringDict
	globals  starlark.StringDict
}

// NewEvaluator creates a new Starlark evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{
		thread:   newThread(threadName),
		builtins: CreateBuiltins(),
		globals:  make(starlark.StringDict),
	}
}

func newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(thread *starlark.Thread, msg string) {
			slog.Info("starlark print", "thread", thread.Name, "msg", msg)
		},
	}
}

// SetGlobal sets a global variable in the Starlark environment
func (e *Evaluator) SetGlobal(name string, value any) error {
	v, err := ToStarlark(value)
	if err != nil {
		return fmt.Errorf("set global %s: %w", name, err)
	}
	e.globals[name] = v
	return nil
}

// LoadData makes every entry of data a Starlark global.
func (e *Evaluator) LoadData(data map[string]any) error {
	for key, value := range data {
		if err := e.SetGlobal(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) predeclared() starlark.StringDict {
	predeclared := make(starlark.StringDict, len(e.builtins)+len(e.globals))
	for k, v := range e.builtins {
		predeclared[k] = v
	}
	for k, v := range e.globals {
		predeclared[k] = v
	}
	return predeclared
}

// Eval evaluates a Starlark expression and converts the result.
func (e *Evaluator) Eval(expr string) (any, error) {
	val, err := starlark.Eval(e.thread, "<eval>", expr, e.predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark evaluation error: %w", err)
	}
	return FromStarlark(val), nil
}

// ExecFile executes a Starlark file and returns the globals it defined.
// src may be nil (read filename), a string or a []byte.
func (e *Evaluator) ExecFile(filename string, src any) (starlark.StringDict, error) {
	globals, err := starlark.ExecFile(e.thread, filename, src, e.predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark execution error: %w", err)
	}
	for k, v := range globals {
		e.globals[k] = v
	}
	return globals, nil
}

// Export returns the script's exportable globals as template data.
// Functions are left out.
func (e *Evaluator) Export() map[string]any {
	out := make(map[string]any)
	for key, value := range e.globals {
		if !isExportableKey(key) {
			continue
		}
		if _, ok := value.(starlark.Callable); ok {
			continue
		}
		out[key] = FromStarlark(value)
	}
	return out
}

// isExportableKey skips builtins and names starting with an underscore.
func isExportableKey(key string) bool {
	if _, builtin := builtinNames[key]; builtin {
		return false
	}
	return key != "" && key[0] != '_'
}

// Filters returns every exported Starlark function defined so far as a
// filter. The globals are frozen first so the filters can run concurrently,
// each call on its own thread.
func (e *Evaluator) Filters() map[string]runtime.Filter {
	e.globals.Freeze()
	out := make(map[string]runtime.Filter)
	for name, value := range e.globals {
		fn, ok := value.(*starlark.Function)
		if !ok || !isExportableKey(name) {
			continue
		}
		out[name] = wrapFilter(name, fn)
	}
	return out
}

// FilterNames lists the functions Filters would return, sorted.
func (e *Evaluator) FilterNames() []string {
	var names []string
	for name, value := range e.globals {
		if _, ok := value.(*starlark.Function); ok && isExportableKey(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func wrapFilter(name string, fn *starlark.Function) runtime.Filter {
	return func(value any, args ...any) (any, error) {
		callArgs := make(starlark.Tuple, 0, len(args)+1)
		for _, a := range append([]any{value}, args...) {
			v, err := ToStarlark(a)
			if err != nil {
				return nil, fmt.Errorf("filter %s: %w", name, err)
			}
			callArgs = append(callArgs, v)
		}
		thread := newThread(threadName + ":" + name)
		res, err := starlark.Call(thread, fn, callArgs, nil)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		return FromStarlark(res), nil
	}
}

// Script is an executed filter script.
type Script struct {
	Filters map[string]runtime.Filter
	// Data holds the script's exportable non-function globals, including
	// the globals it was loaded with.
	Data map[string]any
}

// LoadScript executes a filter script with globals predeclared. src follows
// the ExecFile conventions.
func LoadScript(filename string, src any, globals map[string]any) (*Script, error) {
	e := NewEvaluator()
	if err := e.LoadData(globals); err != nil {
		return nil, fmt.Errorf("load filters from %s: %w", filename, err)
	}
	if _, err := e.ExecFile(filename, src); err != nil {
		return nil, fmt.Errorf("load filters from %s: %w", filename, err)
	}
	script := &Script{Data: e.Export(), Filters: e.Filters()}
	slog.Debug("loaded starlark filters", "file", filename, "filters", strings.Join(e.FilterNames(), ","))
	return script, nil
}

// LoadFilters executes a filter script and returns its functions as filters.
func LoadFilters(filename string, src any) (map[string]runtime.Filter, error) {
	script, err := LoadScript(filename, src, nil)
	if err != nil {
		return nil, err
	}
	return script.Filters, nil
}
