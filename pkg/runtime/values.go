package runtime

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Kind is the coarse type of a template value.
type Kind int

const (
	Nil Kind = iota
	Bool
	Number
	String
	List
	Map
	Struct
	Func
	Other
)

func (k Kind) String() string {
	switch k {
	case Nil:
		return "nil"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case List:
		return "list"
	case Map:
		return "map"
	case Struct:
		return "struct"
	case Func:
		return "func"
	default:
		return "other"
	}
}

// KindOf classifies v. Pointers are classified by what they point to.
func KindOf(v any) Kind {
	if v == nil {
		return Nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return Number
	case reflect.String:
		return String
	case reflect.Slice, reflect.Array:
		return List
	case reflect.Map:
		return Map
	case reflect.Struct:
		return Struct
	case reflect.Func:
		return Func
	default:
		return Other
	}
}

// ToNumber converts numeric values and numeric strings to float64.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// Truthy reports whether v counts as true in a condition. Empty strings and
// collections, zero numbers, nil and false are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface, reflect.Func:
		return !rv.IsNil()
	case reflect.Bool:
		return rv.Bool()
	}
	if f, ok := ToNumber(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// Compare applies a comparison operator. Two numbers compare numerically, two
// strings lexically; otherwise only equality is defined.
func Compare(a any, op string, b any) (bool, error) {
	if _, isStr := a.(string); !isStr || !isString(b) {
		af, aok := ToNumber(a)
		bf, bok := ToNumber(b)
		if aok && bok {
			return compareOrdered(af, op, bf)
		}
	} else {
		return compareOrdered(a.(string), op, b.(string))
	}
	switch op {
	case "==":
		return equal(a, b), nil
	case "!=":
		return !equal(a, b), nil
	}
	return false, fmt.Errorf("cannot apply %s to %s and %s", op, KindOf(a), KindOf(b))
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func compareOrdered[T float64 | string](a T, op string, b T) (bool, error) {
	switch op {
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	case "<":
		return a < b, nil
	case ">":
		return a > b, nil
	case "<=":
		return a <= b, nil
	case ">=":
		return a >= b, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if KindOf(a) != KindOf(b) {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// ToString renders v as output text. nil renders as the empty string and
// lists are joined with commas.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = ToString(rv.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	case reflect.Pointer:
		if rv.IsNil() {
			return ""
		}
		return ToString(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}
