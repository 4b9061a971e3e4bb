package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for hashing.
// CRITICAL: This is the ONLY serialization that may feed a CID.
//
// Differences from Marshal:
//  1. Object keys sorted by UTF-16 code units, not insertion order
//  2. Strings and keys are NFC normalized
//  3. U+2028 and U+2029 are written literally
//
// Both forms skip HTML escaping and format numbers the ES6 way.
func MarshalCanonical(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case String:
		b, err := marshalString(string(val), true)
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
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case *Object:
		buf.WriteByte('{')
		// Keys are normalized before sorting so that two spellings of the
		// same key land in the same slot.
		keys := make([]string, 0, val.Len())
		byNormalized := make(map[string]string, val.Len())
		for _, k := range val.Keys() {
			nk := norm.NFC.String(k)
			if _, dup := byNormalized[nk]; dup {
				return fmt.Errorf("object keys %q collide after NFC normalization", k)
			}
			byNormalized[nk] = k
			keys = append(keys, nk)
		}
		slices.SortFunc(keys, compareKeysRFC8785)
		for i, nk := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalString(nk, true)
			if err != nil {
				return fmt.Errorf("key %q: %w", nk, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val.fields[byNormalized[nk]]); err != nil {
				return fmt.Errorf("value for key %q: %w", nk, err)
			}
		}
		buf.WriteByte('}')
	default:
		return writeValue(buf, v)
	}
	return nil
}

// marshalString writes a JSON string literal without HTML escaping.
// In canonical mode the string is NFC normalized and U+2028/U+2029 are
// left unescaped, as RFC 8785 requires.
func marshalString(s string, canonical bool) ([]byte, error) {
	if canonical {
		s = norm.NFC.String(s)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // CRITICAL: <, >, & must NOT be escaped
	if err := enc.Encode(s); err != nil {
		return nil, err
	}

	// json.Encoder adds trailing newline, remove it
	result := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	if canonical {
		result = unescapeLineSeparators(result)
	}
	return result, nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes produced by
// encoding/json back into literal characters. An escape preceded by an odd
// number of backslashes is literal text and stays untouched.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') && evenBackslashesBefore(out) {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, data[i])
	}
	return out
}

func evenBackslashesBefore(out []byte) bool {
	n := 0
	for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
		n++
	}
	return n%2 == 0
}
