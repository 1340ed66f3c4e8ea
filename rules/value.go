package rules

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Value is a fact value. It is sealed: only Number, String, Bool, Object, Array
// and Null implement it, so every switch over a Value can be exhaustive.
type Value interface {
	Kind() Kind
	String() string
	value()
}

// Kind tags the Value variants.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Number is a 64-bit float. Arithmetic and ordering are defined only over Numbers.
type Number float64

// String is a text value.
type String string

// Bool is a boolean value.
type Bool bool

// Object maps field names to values.
type Object map[string]Value

// Array is an ordered sequence of values.
type Array []Value

// Null is the absent-but-present value. A fact holding Null exists.
type Null struct{}

func (Number) value() {}
func (String) value() {}
func (Bool) value()   {}
func (Object) value() {}
func (Array) value()  {}
func (Null) value()   {}

func (Number) Kind() Kind { return KindNumber }
func (String) Kind() Kind { return KindString }
func (Bool) Kind() Kind   { return KindBool }
func (Object) Kind() Kind { return KindObject }
func (Array) Kind() Kind  { return KindArray }
func (Null) Kind() Kind   { return KindNull }

func (n Number) String() string { return formatNumber(float64(n)) }
func (s String) String() string { return quote(string(s)) }
func (b Bool) String() string   { return strconv.FormatBool(bool(b)) }
func (Null) String() string     { return "null" }

func (o Object) String() string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(valueString(o[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}

func (a Array) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(valueString(v))
	}
	sb.WriteByte(']')
	return sb.String()
}

func valueString(v Value) string {
	if v == nil {
		return "null"
	}
	return v.String()
}

// formatNumber renders a float the way GRL source writes it: no exponent, no
// trailing zeros.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// quote renders s as a GRL string literal. Only quote and backslash are escaped.
func quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
	return sb.String()
}

// Equal reports structural equality. Values of different kinds are never equal.
func Equal(a, b Value) bool {
	return equal(a, b, false)
}

// same is Equal except that NaN matches NaN. It decides whether a value
// changed, where comparison semantics would make a NaN look new on every read.
func same(a, b Value) bool {
	return equal(a, b, true)
}

func equal(a, b Value, nanMatches bool) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	switch av := a.(type) {
	case Number:
		bv, ok := b.(Number)
		if !ok {
			return false
		}
		if nanMatches && math.IsNaN(float64(av)) && math.IsNaN(float64(bv)) {
			return true
		}
		return av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Null:
		_, ok := b.(Null)
		return ok
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, exists := bv[k]
			if !exists || !equal(v, w, nanMatches) {
				return false
			}
		}
		return true
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equal(av[i], bv[i], nanMatches) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy of v. Scalars are returned as is.
func Clone(v Value) Value {
	switch tv := v.(type) {
	case Object:
		out := make(Object, len(tv))
		for k, fv := range tv {
			out[k] = Clone(fv)
		}
		return out
	case Array:
		out := make(Array, len(tv))
		for i, ev := range tv {
			out[i] = Clone(ev)
		}
		return out
	case nil:
		return Null{}
	default:
		return v
	}
}

// GetField returns the named field of an Object value.
func GetField(v Value, field string) (Value, error) {
	obj, ok := v.(Object)
	if !ok {
		return nil, evalErrorf(ErrTypeMismatch, nil, "cannot access field %q on %s", field, kindOf(v))
	}
	fv, exists := obj[field]
	if !exists {
		return nil, evalErrorf(ErrFieldNotFound, nil, "field %q not found", field)
	}
	return fv, nil
}

// GetIndex returns element i of an Array value.
func GetIndex(v Value, i int) (Value, error) {
	arr, ok := v.(Array)
	if !ok {
		return nil, evalErrorf(ErrTypeMismatch, nil, "cannot index %s", kindOf(v))
	}
	if i < 0 || i >= len(arr) {
		return nil, evalErrorf(ErrIndexOutOfRange, nil, "index %d out of range [0, %d)", i, len(arr))
	}
	return arr[i], nil
}

func kindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}

// FromNative converts the generic shapes produced by encoding/json and yaml.v3
// decoding (maps, slices, numbers, strings, bools, nil) into a Value.
func FromNative(v any) (Value, error) {
	switch tv := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return Clone(tv), nil
	case bool:
		return Bool(tv), nil
	case string:
		return String(tv), nil
	case float64:
		return Number(tv), nil
	case float32:
		return Number(tv), nil
	case int:
		return Number(tv), nil
	case int64:
		return Number(tv), nil
	case int32:
		return Number(tv), nil
	case uint64:
		return Number(tv), nil
	case map[string]any:
		obj := make(Object, len(tv))
		for k, fv := range tv {
			cv, err := FromNative(fv)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			obj[k] = cv
		}
		return obj, nil
	case []any:
		arr := make(Array, len(tv))
		for i, ev := range tv {
			cv, err := FromNative(ev)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = cv
		}
		return arr, nil
	}

	// Fall back to reflection for typed maps and slices (e.g. map[string]float64).
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		obj := make(Object, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cv, err := FromNative(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", iter.Key().String(), err)
			}
			obj[iter.Key().String()] = cv
		}
		return obj, nil
	case reflect.Slice, reflect.Array:
		arr := make(Array, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			cv, err := FromNative(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = cv
		}
		return arr, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	}
	return nil, fmt.Errorf("unsupported fact value of type %T", v)
}

// ToNative converts a Value into plain Go values suitable for encoding/json.
func ToNative(v Value) any {
	switch tv := v.(type) {
	case Number:
		f := float64(tv)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return formatNumber(f)
		}
		return f
	case String:
		return string(tv)
	case Bool:
		return bool(tv)
	case Object:
		out := make(map[string]any, len(tv))
		for k, fv := range tv {
			out[k] = ToNative(fv)
		}
		return out
	case Array:
		out := make([]any, len(tv))
		for i, ev := range tv {
			out[i] = ToNative(ev)
		}
		return out
	default:
		return nil
	}
}
