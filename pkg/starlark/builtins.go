package starlark

import (
	"fmt"

	"github.com/neurodesk/quill/pkg/runtime"
	"go.starlark.net/starlark"
)

var builtinNames = map[string]struct{}{
	"escape":  {},
	"kind_of": {},
	"to_str":  {},
}

// CreateBuiltins returns the template helpers available to filter scripts:
// escape(v), kind_of(v) and to_str(v), each matching the template runtime.
func CreateBuiltins() starlark.StringDict {
	unary := func(name string, fn func(any) string) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) != 1 || len(kwargs) != 0 {
				return starlark.None, fmt.Errorf("%s requires exactly 1 argument", b.Name())
			}
			return starlark.String(fn(FromStarlark(args[0]))), nil
		})
	}
	return starlark.StringDict{
		"escape":  unary("escape", runtime.Escape),
		"kind_of": unary("kind_of", func(v any) string { return runtime.KindOf(v).String() }),
		"to_str":  unary("to_str", runtime.ToString),
	}
}
