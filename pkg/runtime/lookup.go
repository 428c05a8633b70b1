package runtime

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// SplitPath splits a dotted identifier path. "." on its own is kept as a
// single segment meaning the current data.
func SplitPath(path string) []string {
	if path == "." || path == "" {
		return []string{"."}
	}
	parts := strings.Split(path, ".")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"."}
	}
	return out
}

// Lookup returns the member key of v: a map entry, a struct field or method
// (exact name first, then case-insensitive), or a slice element when key is
// an index.
func Lookup(v any, key string) (any, bool) {
	if v == nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		val, ok := m[key]
		return val, ok
	}
	rv := reflect.ValueOf(v)
	if m := methodByName(rv, key); m.IsValid() {
		return m.Interface(), true
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if mv.IsValid() {
			return mv.Interface(), true
		}
		return nil, false
	case reflect.Struct:
		f := rv.FieldByName(key)
		if !f.IsValid() {
			f = rv.FieldByNameFunc(func(n string) bool { return strings.EqualFold(n, key) })
		}
		if f.IsValid() && f.CanInterface() {
			return f.Interface(), true
		}
		return nil, false
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, false
		}
		return Lookup(rv.Elem().Interface(), key)
	}
	return nil, false
}

func methodByName(rv reflect.Value, key string) reflect.Value {
	if !rv.IsValid() || rv.NumMethod() == 0 {
		return reflect.Value{}
	}
	if m := rv.MethodByName(key); m.IsValid() {
		return m
	}
	return reflect.Value{}
}

// Invoke calls v when it is a function taking no arguments and returns its
// result; any other value is returned unchanged. A trailing error result is
// returned as the error.
func Invoke(v any) (any, error) {
	switch fn := v.(type) {
	case nil:
		return nil, nil
	case func() any:
		return fn(), nil
	case func() string:
		return fn(), nil
	case func() (any, error):
		return fn()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return v, nil
	}
	t := rv.Type()
	if t.NumIn() != 0 && !(t.IsVariadic() && t.NumIn() == 1) {
		return nil, fmt.Errorf("cannot call %s without arguments", t)
	}
	out := rv.Call(nil)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if isErrorType(t.Out(0)) {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		if isErrorType(t.Out(len(out) - 1)) {
			if err := asError(out[len(out)-1]); err != nil {
				return nil, err
			}
		}
		return out[0].Interface(), nil
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func isErrorType(t reflect.Type) bool { return t == errorType }

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
