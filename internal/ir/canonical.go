package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 style canonical JSON.
// This is the only serialization used for trace digests and golden files.
//
// Differences from json.Marshal:
//   - object keys sorted by UTF-16 code units
//   - no HTML escaping
//   - strings NFC normalized
//   - floats rejected
//   - time.Time written as RFC 3339 UTC with nanosecond precision trimmed
func MarshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return canonicalString(string(val))
	case string:
		return canonicalString(val)
	case Int:
		return []byte(fmt.Sprintf("%d", int64(val))), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case Bool:
		return canonicalBool(bool(val)), nil
	case bool:
		return canonicalBool(val), nil
	case time.Time:
		return canonicalString(val.UTC().Format(time.RFC3339Nano))
	case Array:
		items := make([]any, len(val))
		for i, elem := range val {
			items[i] = elem
		}
		return canonicalArray(items)
	case []any:
		return canonicalArray(val)
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return canonicalArray(items)
	case Object:
		m := make(map[string]any, len(val))
		for k, elem := range val {
			m[k] = elem
		}
		return canonicalObject(m)
	case map[string]any:
		return canonicalObject(val)
	case float32, float64:
		return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func canonicalBool(b bool) []byte {
	if b {
		return []byte("true")
	}
	return []byte("false")
}

// canonicalString NFC-normalizes s and escapes only what JSON requires.
func canonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	// encoding/json escapes U+2028/U+2029 for JavaScript; RFC 8785 does not.
	out = unescapeLineSeparators(out)
	return out, nil
}

// unescapeLineSeparators turns \u2028 and \u2029 escapes back into literal
// characters. An escape preceded by an odd run of backslashes is a literal
// backslash followed by text and is left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && string(data[i+1:i+5]) == "u202" &&
			(data[i+5] == '8' || data[i+5] == '9') {
			backslashes := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				backslashes++
			}
			if backslashes%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

func canonicalArray(items []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func canonicalObject(m map[string]any) ([]byte, error) {
	keys := make(Object, len(m))
	for k := range m {
		keys[k] = Null{}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := canonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := MarshalCanonical(m[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
