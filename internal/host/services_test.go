package host

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm/internal/interpreter"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/trace"
)

func TestRegistry_Call(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	r.Register("math", "answer", Constant(ir.Int(42)))
	r.Register("bad", "coded", Fail(7, "nope"))
	r.Register("bad", "plain", func(context.Context, CallRequest) (ir.Value, error) {
		return nil, errors.New("plain failure")
	})
	r.RegisterService("any", Echo)

	tests := []struct {
		name     string
		service  string
		function string
		args     ir.Array
		want     interpreter.CallServiceResult
	}{
		{"identity", "op", "identity", ir.Array{ir.String("x"), ir.Int(1)}, interpreter.CallServiceResult{Result: `"x"`}},
		{"identity without args", "op", "identity", nil, interpreter.CallServiceResult{Result: `null`}},
		{"array", "op", "array", ir.Array{ir.Int(1), ir.Bool(true)}, interpreter.CallServiceResult{Result: `[1,true]`}},
		{"noop", "op", "noop", nil, interpreter.CallServiceResult{Result: `""`}},
		{"constant", "math", "answer", nil, interpreter.CallServiceResult{Result: `42`}},
		{"service wide binding", "any", "whatever", ir.Array{ir.String("a")}, interpreter.CallServiceResult{Result: `["a"]`}},
		{"service error code", "bad", "coded", nil, interpreter.CallServiceResult{RetCode: 7, Result: `"nope"`}},
		{"plain error", "bad", "plain", nil, interpreter.CallServiceResult{RetCode: 1, Result: `"plain failure"`}},
		{"missing function", "math", "question", nil, interpreter.CallServiceResult{RetCode: 1, Result: `"service math.question not found"`}},
		{"missing service", "nope", "f", nil, interpreter.CallServiceResult{RetCode: 1, Result: `"service nope.f not found"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Call(context.Background(), CallRequest{ServiceID: tt.service, FunctionName: tt.function, Arguments: tt.args})
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, []string{"any.*", "bad.coded", "bad.plain", "math.answer", "op.array", "op.identity", "op.noop"}, r.Names())
}

func TestDecodeCallRequest(t *testing.T) {
	p := Particle{ID: "p1", InitPeerID: "init"}

	req, err := decodeCallRequest(3, interpreter.CallRequestParams{
		ServiceID:    "s",
		FunctionName: "f",
		Arguments:    `["a",{"k":1}]`,
		Tetraplets:   `[[{"peer_pk":"init","service_id":"","function_name":"","lens":""}],[{"peer_pk":"x","service_id":"s","function_name":"g","lens":".$.k"}]]`,
	}, p, "me")
	require.NoError(t, err)

	assert.Equal(t, uint32(3), req.ID)
	assert.Equal(t, "me", req.PeerID)
	assert.Equal(t, "init", req.InitPeerID)
	assert.Equal(t, "p1", req.ParticleID)
	require.Len(t, req.Arguments, 2)
	assert.Equal(t, ir.String("a"), req.Arguments[0])
	assert.Equal(t, [][]trace.Tetraplet{
		{{PeerPK: "init"}},
		{{PeerPK: "x", ServiceID: "s", FunctionName: "g", Lens: ".$.k"}},
	}, req.Tetraplets)

	_, err = decodeCallRequest(1, interpreter.CallRequestParams{Arguments: `{"a":1}`}, p, "me")
	assert.Error(t, err)
	_, err = decodeCallRequest(1, interpreter.CallRequestParams{Arguments: `[`}, p, "me")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	data, err := m.LoadParticle(ctx, "p", "a")
	require.NoError(t, err)
	assert.Nil(t, data)

	buf := []byte("one")
	require.NoError(t, m.SaveParticle(ctx, "p", "a", buf))
	buf[0] = 'X'

	data, err = m.LoadParticle(ctx, "p", "a")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data), "store keeps its own copy")
}
