package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over JSON values.
// Only Null, Bool, Int, Float, String, Array and *Object implement it.
// Values are never mutated once they are shared with a stream, scalar or trace.
type Value interface {
	jvalue() // Sealed - only these types implement it
}

// Null represents a JSON null.
type Null struct{}

func (Null) jvalue() {}

// Bool represents a JSON boolean.
type Bool bool

func (Bool) jvalue() {}

// Int represents a JSON number without fraction or exponent that fits int64.
type Int int64

func (Int) jvalue() {}

// Float represents every other JSON number.
type Float float64

func (Float) jvalue() {}

// String represents a JSON string.
type String string

func (String) jvalue() {}

// Array represents an ordered sequence of values.
type Array []Value

func (Array) jvalue() {}

// Object is a string-keyed mapping that remembers insertion order.
// Use SortedKeys() for canonical iteration and Keys() for insertion order.
type Object struct {
	keys   []string
	fields map[string]Value
}

func (*Object) jvalue() {}

// Pair is a key-value pair for Object construction.
type Pair struct {
	Key   string
	Value Value
}

// O is a shorthand for Pair.
// Example: NewObject(O("error_code", Int(1)), O("message", String("boom")))
func O(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject creates an Object from pairs, keeping their order.
// A repeated key keeps its first position and takes the last value.
func NewObject(pairs ...Pair) *Object {
	obj := &Object{fields: make(map[string]Value, len(pairs))}
	for _, p := range pairs {
		obj.Set(p.Key, p.Value)
	}
	return obj
}

// Set inserts or replaces a field. Only call this while building a value.
func (obj *Object) Set(key string, v Value) {
	if obj.fields == nil {
		obj.fields = make(map[string]Value)
	}
	if _, ok := obj.fields[key]; !ok {
		obj.keys = append(obj.keys, key)
	}
	obj.fields[key] = v
}

// Get returns the field value for key.
func (obj *Object) Get(key string) (Value, bool) {
	if obj == nil {
		return nil, false
	}
	v, ok := obj.fields[key]
	return v, ok
}

// Len returns the number of fields.
func (obj *Object) Len() int {
	if obj == nil {
		return 0
	}
	return len(obj.keys)
}

// Keys returns field names in insertion order.
func (obj *Object) Keys() []string {
	if obj == nil {
		return nil
	}
	return slices.Clone(obj.keys)
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces DIFFERENT order.
func (obj *Object) SortedKeys() []string {
	keys := obj.Keys()
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Parse decodes JSON bytes into a Value, keeping object key order.
// Trailing data after the first value is an error.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected trailing data after JSON value")
	}
	return v, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or with known-valid literals.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return parseNumber(t)
	case json.Delim:
		switch t {
		case '[':
			arr := Array{}
			for dec.More() {
				elem, err := decodeValue(dec)
				if err != nil {
					return nil, fmt.Errorf("array[%d]: %w", len(arr), err)
				}
				arr = append(arr, elem)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string: %v", keyTok)
				}
				elem, err := decodeValue(dec)
				if err != nil {
					return nil, fmt.Errorf("object[%q]: %w", key, err)
				}
				obj.Set(key, elem)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

func parseNumber(n json.Number) (Value, error) {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return Int(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("number %s: %w", s, err)
	}
	return Float(f), nil
}

// Marshal serializes v as compact JSON keeping object insertion order.
// This is the form handed to services; CIDs use MarshalCanonical.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler for Object.
func (obj *Object) MarshalJSON() ([]byte, error) {
	return Marshal(obj)
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Int:
		fmt.Fprintf(buf, "%d", int64(val))
	case Float:
		b, err := marshalFloat(float64(val))
		if err != nil {
			return err
		}
		buf.Write(b)
	case String:
		b, err := marshalString(string(val), false)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case *Object:
		buf.WriteByte('{')
		for i, k := range val.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalString(k, false)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeValue(buf, val.fields[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown Value type: %T", v)
	}
	return nil
}

// marshalFloat formats like encoding/json, which matches the ES6 number
// serialization RFC 8785 asks for.
func marshalFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v cannot be serialized", f)
	}
	return json.Marshal(f)
}

// Equal reports structural equality. Numbers compare by numeric value,
// objects ignore field order.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Int:
		switch y := b.(type) {
		case Int:
			return x == y
		case Float:
			return float64(x) == float64(y)
		}
		return false
	case Float:
		switch y := b.(type) {
		case Float:
			return x == y
		case Int:
			return float64(x) == float64(y)
		}
		return false
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Object:
		y, ok := b.(*Object)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, k := range x.keys {
			yv, ok := y.fields[k]
			if !ok || !Equal(x.fields[k], yv) {
				return false
			}
		}
		return true
	}
	return false
}

// TypeName names the JSON kind of v for error messages.
func TypeName(v Value) string {
	switch v.(type) {
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Int, Float:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case *Object:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// ToString renders v as JSON for logs and error messages.
func ToString(v Value) string {
	b, err := Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
