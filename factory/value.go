package factory

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Generator computes an attribute value on every materialization.
type Generator func(ctx context.Context) (any, error)

type valueKind uint8

const (
	kindLiteral valueKind = iota
	kindGenerator
)

// Value is an attribute definition: a literal or a generator.
type Value struct {
	kind valueKind
	lit  any
	gen  Generator
}

// Literal returns a Value that resolves to a copy of v.
func Literal(v any) Value {
	return Value{kind: kindLiteral, lit: v}
}

// Generate returns a Value that resolves by calling fn.
func Generate(fn Generator) Value {
	if fn == nil {
		return Literal(nil)
	}
	return Value{kind: kindGenerator, gen: fn}
}

// ValueOf normalizes a Go value into a Value.
// Supported generator forms are Generator, func(context.Context) (any, error),
// func() (any, error) and func() any. Everything else is a literal.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case Value:
		return t
	case Generator:
		return Generate(t)
	case func(context.Context) (any, error):
		return Generate(t)
	case func() (any, error):
		return Generate(func(context.Context) (any, error) { return t() })
	case func() any:
		return Generate(func(context.Context) (any, error) { return t(), nil })
	default:
		return Literal(v)
	}
}

// IsGenerator reports whether the value is computed on every materialization.
func (v Value) IsGenerator() bool {
	return v.kind == kindGenerator
}

// Resolve returns the concrete value.
func (v Value) Resolve(ctx context.Context) (any, error) {
	if v.kind == kindGenerator {
		return v.gen(ctx)
	}
	return copyValue(v.lit), nil
}

// copyValue deep-copies maps and slices so bags never share literal state.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case Attrs:
		return Attrs(copyValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// mergeLiteral merges over onto base. Nested maps merge recursively;
// on any other conflict over wins.
func mergeLiteral(base, over any) any {
	bm, ok := asMap(base)
	if !ok {
		return copyValue(over)
	}
	om, ok := asMap(over)
	if !ok {
		return copyValue(over)
	}
	out := copyValue(bm).(map[string]any)
	for k, v := range om {
		if cur, exists := out[k]; exists {
			out[k] = mergeLiteral(cur, v)
			continue
		}
		out[k] = copyValue(v)
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Attrs:
		return map[string]any(t), true
	case Record:
		return map[string]any(t), true
	}
	return nil, false
}

// leadingInt parses the integer prefix of v the way sequence bases are seeded:
// integers as is, floats truncated, strings by their leading digits, anything else 0.
func leadingInt(v any) int64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return int64(math.Trunc(f))
	case reflect.String:
		return parseIntPrefix(rv.String())
	}
	return 0
}

func parseIntPrefix(s string) int64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// addSequence combines a sequence base with the current counter.
// Numeric bases keep their type, anything else is rendered and suffixed.
func addSequence(base any, seq int64) any {
	if base == nil {
		return seq
	}
	rv := reflect.ValueOf(base)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out := reflect.New(rv.Type()).Elem()
		out.SetInt(rv.Int() + seq)
		return out.Interface()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out := reflect.New(rv.Type()).Elem()
		out.SetUint(uint64(int64(rv.Uint()) + seq))
		return out.Interface()
	case reflect.Float32, reflect.Float64:
		out := reflect.New(rv.Type()).Elem()
		out.SetFloat(rv.Float() + float64(seq))
		return out.Interface()
	case reflect.String:
		return rv.String() + strconv.FormatInt(seq, 10)
	}
	return fmt.Sprint(base) + strconv.FormatInt(seq, 10)
}

// truthy reports whether an untyped option value is set.
func truthy(v any) bool {
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
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	}
	return true
}
