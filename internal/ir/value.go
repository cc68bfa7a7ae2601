package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the variable types a process instance can
// carry. Only Null, String, Int, Bool, Array and Object implement it.
// There is no float: virtual-time scenarios must replay byte-identically.
type Value interface {
	value()
}

// Null is an explicit JSON null.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string variable.
type String string

func (String) value() {}

// Int is an integer variable. Always int64.
type Int int64

func (Int) value() {}

// Bool is a boolean variable.
type Bool bool

func (Bool) value() {}

// Array is an ordered list of values.
type Array []Value

func (Array) value() {}

// Object maps names to values. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// Variables is the payload passed into and out of process instances.
type Variables = Object

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// Merge returns a copy of obj with every key of other applied on top.
// Neither input is modified.
func (obj Object) Merge(other Object) Object {
	out := make(Object, len(obj)+len(other))
	for k, v := range obj {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// compareUTF16 orders strings by UTF-16 code units as RFC 8785 requires.
// Go's native string comparison is UTF-8 byte order, which differs for
// characters outside the BMP.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
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

// Truthy reports whether v counts as true for gateway conditions.
// Missing (nil), Null, false, 0, "" and empty collections are false.
func Truthy(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return false
	case Bool:
		return bool(val)
	case Int:
		return val != 0
	case String:
		return val != ""
	case Array:
		return len(val) > 0
	case Object:
		return len(val) > 0
	default:
		return false
	}
}

// FromAny converts a decoded YAML/JSON value into a Value.
// YAML decodes integers as int; JSON (with UseNumber) as json.Number.
// Floats are rejected unless they hold an integral value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case float64:
		if val == float64(int64(val)) {
			return Int(int64(val)), nil
		}
		return nil, fmt.Errorf("floats are not allowed in variables: %v", val)
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed in variables: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		return ObjectFromMap(val)
	default:
		return nil, fmt.Errorf("unsupported variable type %T", v)
	}
}

// ObjectFromMap converts a decoded map into an Object.
// A nil map yields an empty Object.
func ObjectFromMap(m map[string]any) (Object, error) {
	obj := make(Object, len(m))
	for k, elem := range m {
		conv, err := FromAny(elem)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		obj[k] = conv
	}
	return obj, nil
}

// MarshalJSON writes keys in RFC 8785 order. This is not the canonical form
// (HTML escaping stays on); use MarshalCanonical for digests.
func (obj Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := MarshalValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (obj *Object) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalValue(data)
	if err != nil {
		return err
	}
	o, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*obj = o
	return nil
}

// MarshalValue marshals any Value to JSON.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := MarshalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Object:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown value type %T", v)
	}
}

// UnmarshalValue decodes JSON into a Value, rejecting floats.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}
