package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"float", Float(1.5), "1.5"},
		{"integral float", Float(2), "2"},
		{"tiny float", Float(1e-7), "1e-7"},
		{"huge float", Float(1e21), "1e+21"},
		{"bool true", Bool(true), "true"},
		{"null", Null{}, "null"},
		{"empty array", Array{}, "[]"},
		{"empty object", NewObject(), "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"simple object", NewObject(O("a", Int(1))), `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortsKeysMarshalKeepsOrder(t *testing.T) {
	obj := NewObject(
		O("zebra", Int(1)),
		O("alpha", Int(2)),
		O("beta", NewObject(O("y", Int(1)), O("x", Int(2)))),
	)

	canonical, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"x":2,"y":1},"zebra":1}`, string(canonical))

	plain, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"zebra":1,"alpha":2,"beta":{"y":1,"x":2}}`, string(plain))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// UTF-16 order: 0xD800 < 0xE000, so the surrogate pair key comes first
	obj := NewObject(
		O("\uE000", Int(1)),
		O("\U00010000", Int(2)),
	)

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	for _, s := range []string{"<script>", "a & b", "</b>"} {
		t.Run(s, func(t *testing.T) {
			result, err := MarshalCanonical(String(s))
			require.NoError(t, err)
			assert.Equal(t, `"`+s+`"`, string(result))
			assert.NotContains(t, string(result), "\\u003c")
			assert.NotContains(t, string(result), "\\u0026")
		})
	}
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	result1, err := MarshalCanonical(String(composed))
	require.NoError(t, err)
	result2, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	assert.Equal(t, result1, result2, "NFC normalization should make these equal")

	key1, err := MarshalCanonical(NewObject(O(composed, Int(1))))
	require.NoError(t, err)
	key2, err := MarshalCanonical(NewObject(O(decomposed, Int(1))))
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}

func TestMarshalCanonicalRejectsNormalizedKeyCollision(t *testing.T) {
	obj := NewObject(O("caf\u00e9", Int(1)), O("cafe\u0301", Int(2)))

	_, err := MarshalCanonical(obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collide")
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical(String("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))

	// A literal backslash followed by the text u2028 stays escaped.
	result, err = MarshalCanonical(String(`x\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(result))

	// Marshal keeps the encoding/json escapes.
	plain, err := Marshal(String("a\u2028b"))
	require.NoError(t, err)
	assert.Equal(t, `"a\u2028b"`, string(plain))
}

func TestMarshalCanonicalControlCharacters(t *testing.T) {
	result, err := MarshalCanonical(String("tab\tnew\nquote\"back\\"))
	require.NoError(t, err)
	assert.Equal(t, `"tab\tnew\nquote\"back\\"`, string(result))
}
