package air

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm/internal/ir"
)

func TestParseSeqOfCalls(t *testing.T) {
	src := `(seq (call "P1" ("s" "f") [] r) (call "P2" ("s" "f") [r] g))`

	instr, err := Parse(src)
	require.NoError(t, err)

	seq, ok := instr.(*Seq)
	require.True(t, ok)
	assert.Equal(t, 0, seq.Pos())

	first, ok := seq.Left.(*Call)
	require.True(t, ok)
	assert.Equal(t, Literal{V: ir.String("P1")}, first.Peer)
	assert.Equal(t, Literal{V: ir.String("s")}, first.Service)
	assert.Empty(t, first.Args)
	require.NotNil(t, first.Output)
	assert.Equal(t, Variable{Kind: KindScalar, Name: "r"}, *first.Output)
	assert.Equal(t, strings.Index(src, `(call "P1"`), first.Pos())

	second := seq.Right.(*Call)
	require.Len(t, second.Args, 1)
	assert.Equal(t, VarRef{Var: Variable{Kind: KindScalar, Name: "r"}}, second.Args[0])
}

func TestParseValues(t *testing.T) {
	src := `(seq (call %init_peer_id% ("s" "f") [] x)
	  (call "p" ("s" "f") ["str" 42 -1.5 true nil [] %timestamp% %ttl% x.$.a.[0] x.length %last_error%.$.message :error:]))`

	instr, err := Parse(src)
	require.NoError(t, err)

	call := instr.(*Seq).Right.(*Call)
	assert.Equal(t, InitPeerID{}, instr.(*Seq).Left.(*Call).Peer)
	expected := []Value{
		Literal{V: ir.String("str")},
		Literal{V: ir.Int(42)},
		Literal{V: ir.Float(-1.5)},
		Literal{V: ir.Bool(true)},
		Literal{V: ir.Null{}},
		Literal{V: ir.Array{}},
		Timestamp{},
		TTL{},
		VarRef{
			Var: Variable{Kind: KindScalar, Name: "x"},
			Lambda: Lambda{Accessors: []Accessor{
				{Kind: FieldByName, Field: "a"},
				{Kind: ArrayIndex, Index: 0},
			}},
		},
		VarRef{Var: Variable{Kind: KindScalar, Name: "x"}, Lambda: Lambda{Length: true}},
		LastError{Lambda: Lambda{Accessors: []Accessor{{Kind: FieldByName, Field: "message"}}}},
		ErrorValue{},
	}
	assert.Equal(t, expected, call.Args)
}

func TestParseFoldAndNext(t *testing.T) {
	src := `(fold $s i (seq (ap i $out) (next i)) (null))`

	instr, err := Parse(src)
	require.NoError(t, err)

	fold, ok := instr.(*Fold)
	require.True(t, ok)
	assert.Equal(t, VarRef{Var: Variable{Kind: KindStream, Name: "s"}}, fold.Iterable)
	assert.Equal(t, "i", fold.Iterator)
	require.NotNil(t, fold.Last)
	_, ok = fold.Last.(*Null)
	assert.True(t, ok)

	body := fold.Body.(*Seq)
	ap := body.Left.(*Ap)
	assert.Equal(t, Variable{Kind: KindStream, Name: "out"}, ap.Result)
	assert.Equal(t, &Next{Position: strings.Index(src, "(next"), Iterator: "i"}, body.Right)
}

func TestParseCanonApMapAndNew(t *testing.T) {
	src := `(new %m (seq (ap ("k" 1) %m) (seq (canon "p" %m #%c) (new $s (canon "p" $s #c)))))`

	instr, err := Parse(src)
	require.NoError(t, err)

	n := instr.(*New)
	assert.Equal(t, Variable{Kind: KindStreamMap, Name: "m"}, n.Target)
	body := n.Body.(*Seq)
	apMap := body.Left.(*ApMap)
	assert.Equal(t, Literal{V: ir.String("k")}, apMap.Key)
	assert.Equal(t, Literal{V: ir.Int(1)}, apMap.Arg)

	canon := body.Right.(*Seq).Left.(*Canon)
	assert.Equal(t, Variable{Kind: KindStreamMap, Name: "m"}, canon.Source)
	assert.Equal(t, Variable{Kind: KindCanonMap, Name: "c"}, canon.Target)
}

func TestParseFailForms(t *testing.T) {
	tests := []struct {
		src  string
		kind FailKind
	}{
		{`(fail 42 "boom")`, FailLiteral},
		{`(fail %last_error%)`, FailLastError},
		{`(fail :error:)`, FailError},
		{`(seq (ap 1 e) (fail e))`, FailScalar},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			instr, err := Parse(tt.src)
			require.NoError(t, err)
			if seq, ok := instr.(*Seq); ok {
				instr = seq.Right
			}
			fail, ok := instr.(*Fail)
			require.True(t, ok)
			assert.Equal(t, tt.kind, fail.Kind)
		})
	}

	instr, err := Parse(`(fail 42 "boom")`)
	require.NoError(t, err)
	assert.Equal(t, int64(42), instr.(*Fail).Code)
	assert.Equal(t, "boom", instr.(*Fail).Message)
}

func TestParseComments(t *testing.T) {
	src := "; leading comment\n(seq ; inline\n (null) (never))"

	instr, err := Parse(src)
	require.NoError(t, err)
	_, ok := instr.(*Seq)
	assert.True(t, ok)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"empty", ``, "expected '('"},
		{"unknown instruction", `(frobnicate)`, "unknown instruction"},
		{"unterminated", `(seq (null)`, "expected '('"},
		{"trailing", `(null) (null)`, "after the top-level instruction"},
		{"undefined scalar", `(call "p" ("s" "f") [x])`, "used before it is defined"},
		{"undefined canon", `(ap #c.length n)`, "used before it is defined"},
		{"undefined lambda scalar", `(seq (ap 1 x) (ap x.$.[k] y))`, "lambda scalar k"},
		{"next outside fold", `(next i)`, "not inside a fold"},
		{"next wrong iterator", `(seq (ap [] a) (fold a i (next j)))`, "not inside a fold"},
		{"stream as argument", `(call "p" ("s" "f") [$s])`, "only be read through fold or canon"},
		{"stream lambda", `(fold $s.$.a i (null))`, "canonicalize it first"},
		{"fail zero", `(fail 0 "x")`, "must not be 0"},
		{"ap map without key", `(ap 1 %m)`, "needs a (key value) pair"},
		{"canon into scalar", `(canon "p" $s c)`, "cannot be stored in"},
		{"bad lambda", `(seq (ap 1 x) (ap x.foo y))`, "invalid lambda"},
		{"unterminated string", `(ap "abc x)`, "unterminated string"},
		{"fold literal", `(fold "abc" i (null))`, "only allowed for []"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			require.Error(t, err)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := Parse("(seq\n  (null)\n  (bogus))")
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Line)
	assert.Equal(t, 4, perr.Column)
}

func TestParseMaxDepth(t *testing.T) {
	src := strings.Repeat("(seq (null) ", 20) + "(null)" + strings.Repeat(")", 20)

	_, err := Parse(src)
	require.NoError(t, err)

	_, err = Parse(src, WithMaxDepth(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting exceeds 10 levels")
}

func TestInstructionStrings(t *testing.T) {
	src := `(seq (call "peer" ("s" "f") ["a" 1] r) (xor (match r "a" (fail 7 "bad")) (ap r.$.[0] $out)))`

	instr, err := Parse(src)
	require.NoError(t, err)

	seq := instr.(*Seq)
	assert.Equal(t, `call "peer" ("s" "f") ["a" 1] r`, seq.Left.String())
	xor := seq.Right.(*Xor)
	assert.Equal(t, `match r "a"`, xor.Left.String())
	assert.Equal(t, `fail 7 "bad"`, xor.Left.(*Match).Body.String())
	assert.Equal(t, `ap r.$.[0] $out`, xor.Right.String())
}

func TestFormatRoundTrip(t *testing.T) {
	src := `(seq (call %init_peer_id% ("s" "f") [] r)
	  (par (fold r.$.items i (seq (ap i $s) (next i)) (null))
	       (new $t (xor (canon "p" $t #c) (fail :error:)))))`

	instr, err := Parse(src)
	require.NoError(t, err)

	formatted := Format(instr)
	again, err := Parse(formatted)
	require.NoError(t, err)
	assert.Equal(t, formatted, Format(again))
	assert.True(t, strings.HasPrefix(formatted, "(seq\n  (call %init_peer_id% (\"s\" \"f\") [] r)"))
}
