package starlark

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/neurodesk/quill/pkg/runtime"
	"go.starlark.net/starlark"
)

// ToStarlark converts a template value to a Starlark value. Maps with
// string keys become dicts, slices become lists and structs become dicts of
// their exported fields.
func ToStarlark(val any) (starlark.Value, error) {
	switch v := val.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case string:
		return starlark.String(v), nil
	case bool:
		return starlark.Bool(v), nil
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return starlark.MakeInt64(int64(v)), nil
		}
		return starlark.Float(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return starlark.MakeUint64(rv.Uint()), nil
	case reflect.Float32:
		return starlark.Float(rv.Float()), nil
	case reflect.String:
		return starlark.String(rv.String()), nil
	case reflect.Slice, reflect.Array:
		items := make([]starlark.Value, rv.Len())
		for i := range items {
			item, err := ToStarlark(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return starlark.NewList(items), nil
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
		dict := starlark.NewDict(len(keys))
		for _, k := range keys {
			value, err := ToStarlark(rv.MapIndex(k).Interface())
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(fmt.Sprint(k.Interface())), value); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case reflect.Struct:
		t := rv.Type()
		dict := starlark.NewDict(t.NumField())
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			value, err := ToStarlark(rv.Field(i).Interface())
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(t.Field(i).Name), value); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return starlark.None, nil
		}
		return ToStarlark(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("cannot convert %s value %T to starlark", runtime.KindOf(val), val)
}

// FromStarlark converts a Starlark value to a plain Go value: strings, int64,
// float64, bool, []any, map[string]any or nil. Other values become their
// string form.
func FromStarlark(val starlark.Value) any {
	if val == nil || val == starlark.None {
		return nil
	}

	switch v := val.(type) {
	case starlark.String:
		return string(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i
		}
		return v.String()
	case starlark.Float:
		return float64(v)
	case starlark.Bool:
		return bool(v)
	case *starlark.List:
		items := make([]any, v.Len())
		for i := range items {
			items[i] = FromStarlark(v.Index(i))
		}
		return items
	case starlark.Tuple:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = FromStarlark(item)
		}
		return items
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			if key, ok := item[0].(starlark.String); ok {
				out[string(key)] = FromStarlark(item[1])
			} else {
				out[item[0].String()] = FromStarlark(item[1])
			}
		}
		return out
	default:
		return val.String()
	}
}
