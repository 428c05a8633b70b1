// Package filters provides a standard set of property filters. None are
// registered implicitly; pass Default() to compiler.WithFilters.
package filters

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/neurodesk/quill/pkg/runtime"
)

// Default returns a fresh map of the standard filters.
func Default() map[string]runtime.Filter {
	return map[string]runtime.Filter{
		"upper":      Upper,
		"lower":      Lower,
		"trim":       Trim,
		"capitalize": Capitalize,
		"default":    DefaultValue,
		"join":       Join,
		"length":     Length,
		"truncate":   Truncate,
		"replace":    Replace,
		"first":      First,
		"last":       Last,
	}
}

func Upper(v any, _ ...any) (any, error) { return strings.ToUpper(runtime.ToString(v)), nil }
func Lower(v any, _ ...any) (any, error) { return strings.ToLower(runtime.ToString(v)), nil }
func Trim(v any, _ ...any) (any, error)  { return strings.TrimSpace(runtime.ToString(v)), nil }

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(v any, _ ...any) (any, error) {
	s := runtime.ToString(v)
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s, nil
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:]), nil
}

// DefaultValue returns its argument when v is falsy.
func DefaultValue(v any, args ...any) (any, error) {
	if len(args) < 1 || runtime.Truthy(v) {
		return v, nil
	}
	return args[0], nil
}

// Join joins a list with the given separator, "," by default.
func Join(v any, args ...any) (any, error) {
	sep := ","
	if len(args) > 0 {
		sep = runtime.ToString(args[0])
	}
	switch t := v.(type) {
	case []string:
		return strings.Join(t, sep), nil
	case nil:
		return "", nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = runtime.ToString(rv.Index(i).Interface())
		}
		return strings.Join(parts, sep), nil
	}
	return runtime.ToString(v), nil
}

// Length counts the elements of a list or map, or the runes of a string.
func Length(v any, _ ...any) (any, error) {
	if s, ok := v.(string); ok {
		return float64(utf8.RuneCountInString(s)), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return float64(rv.Len()), nil
	}
	return float64(0), nil
}

// Truncate shortens a string to n runes, appending an optional suffix when
// anything was cut.
func Truncate(v any, args ...any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("truncate: missing length")
	}
	n, ok := runtime.ToNumber(args[0])
	if !ok || n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, fmt.Errorf("truncate: invalid length %v", args[0])
	}
	s := runtime.ToString(v)
	runes := []rune(s)
	if n >= float64(len(runes)) {
		return s, nil
	}
	out := string(runes[:int(n)])
	if len(args) > 1 {
		out += runtime.ToString(args[1])
	}
	return out, nil
}

// Replace replaces every occurrence of old with new.
func Replace(v any, args ...any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("replace: want 2 arguments, got %d", len(args))
	}
	return strings.ReplaceAll(runtime.ToString(v), runtime.ToString(args[0]), runtime.ToString(args[1])), nil
}

func First(v any, _ ...any) (any, error) { return element(v, false), nil }
func Last(v any, _ ...any) (any, error)  { return element(v, true), nil }

func element(v any, last bool) any {
	if s, ok := v.(string); ok {
		runes := []rune(s)
		if len(runes) == 0 {
			return ""
		}
		if last {
			return string(runes[len(runes)-1])
		}
		return string(runes[0])
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	if rv.Len() == 0 {
		return nil
	}
	if last {
		return rv.Index(rv.Len() - 1).Interface()
	}
	return rv.Index(0).Interface()
}
