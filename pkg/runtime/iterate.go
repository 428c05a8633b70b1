package runtime

import (
	"fmt"
	"reflect"
	"sort"
)

// Iterate calls fn once per element of collection, each time with a child of
// outer whose data is the element. valueAlias (unless ".") names the element
// and keyAlias its index or key. The fragments fn returns are collected in
// iteration order.
//
// Slices and arrays iterate by index, maps by sorted key, structs by exported
// field and strings by rune. A nil collection yields nothing.
func Iterate(collection any, keyAlias, valueAlias string, outer *Scope, fn func(*Scope) (string, error)) ([]string, error) {
	if collection == nil {
		return nil, nil
	}
	var out []string
	visit := func(key, value any) error {
		vars := make(map[string]any, 2)
		if keyAlias != "" {
			vars[keyAlias] = key
		}
		if valueAlias != "" && valueAlias != "." {
			vars[valueAlias] = value
		}
		s, err := fn(outer.Child(value, vars))
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	}

	if s, ok := collection.(string); ok {
		i := 0
		for _, r := range s {
			if err := visit(i, string(r)); err != nil {
				return nil, err
			}
			i++
		}
		return out, nil
	}

	rv := reflect.ValueOf(collection)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := visit(i, rv.Index(i).Interface()); err != nil {
				return nil, err
			}
		}
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			if err := visit(k.Interface(), rv.MapIndex(k).Interface()); err != nil {
				return nil, err
			}
		}
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := visit(t.Field(i).Name, rv.Field(i).Interface()); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("cannot iterate over %s", KindOf(collection))
	}
	return out, nil
}
