package peerconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm/internal/host"
	"github.com/roach88/airvm/internal/interpreter"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/signing"
)

func TestParse_Full(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	src := `
peer: {
	name:       "alice"
	secret_key: "` + base58.Encode(seed) + `"
}
particle: {
	id:           "p-1"
	init_peer:    "bob"
	ttl_ms:       5000
	timestamp_ms: 1700000000000
}
limits: {
	air_size:          1024
	particle_size:     2048
	call_results_size: 512
	hard:              true
}
services: {
	greeter: hello: result: {greeting: "hi", n: 2}
	flaky: call: error: {code: 3, message: "unavailable"}
}
`
	cfg, err := Parse(src)
	require.NoError(t, err)

	want, err := signing.NewKeyPair(signing.Ed25519, seed)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Name)
	assert.Equal(t, want.PeerID(), cfg.PeerID())
	assert.Equal(t, ParticleDefaults{ID: "p-1", InitPeer: "bob", TTLMs: 5000, TimestampMs: 1700000000000}, cfg.Particle)
	assert.Equal(t, host.Limits{AIRSize: 1024, ParticleSize: 2048, CallResultsSize: 512, Hard: true}, cfg.Limits)

	require.Len(t, cfg.Services, 2)
	assert.Equal(t, "greeter", cfg.Services[0].Service)
	assert.Equal(t, "hello", cfg.Services[0].Function)
	assert.Equal(t, ir.MustParse(`{"greeting":"hi","n":2}`), cfg.Services[0].Result)
	assert.Equal(t, &host.ServiceError{RetCode: 3, Message: "unavailable"}, cfg.Services[1].Error)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(`peer: name: "bob"`)
	require.NoError(t, err)

	assert.Equal(t, signing.DeriveKeyPair("bob").PeerID(), cfg.PeerID())
	assert.Equal(t, uint32(host.DefaultTTL.Milliseconds()), cfg.Particle.TTLMs)
	assert.Equal(t, host.Limits{}, cfg.Limits)
	assert.Empty(t, cfg.Services)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing peer", `particle: ttl_ms: 5`},
		{"empty name", `peer: name: ""`},
		{"unknown field", `peer: name: "a", colour: "red"`},
		{"negative limit", `peer: name: "a", limits: air_size: -1`},
		{"ttl overflow", `peer: name: "a", particle: ttl_ms: 4294967296`},
		{"stub with both", `peer: name: "a", services: s: f: {result: 1, error: {code: 1, message: "x"}}`},
		{"stub error code zero", `peer: name: "a", services: s: f: error: {code: 0, message: "x"}}`},
		{"bad secret", `peer: {name: "a", secret_key: "0OIl"}`},
		{"short secret", `peer: {name: "a", secret_key: "` + base58.Encode([]byte("short")) + `"}`},
		{"syntax", `peer: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			assert.Error(t, err)
		})
	}
}

func TestLoad_FileAndDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.cue")
	require.NoError(t, os.WriteFile(path, []byte(`package peer

peer: name: "carol"
services: op: greet: result: "hello"
`), 0o644))

	fromFile, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "carol", fromFile.Name)

	fromDir, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, fromFile.PeerID(), fromDir.PeerID())

	_, err = Load(filepath.Join(dir, "missing.cue"))
	assert.Error(t, err)
}

func TestConfig_Registry(t *testing.T) {
	cfg, err := Parse(`
peer: name: "alice"
services: {
	op: greet: result: "hello"
	flaky: call: error: {code: 3, message: "unavailable"}
}
`)
	require.NoError(t, err)
	r := cfg.Registry()
	ctx := context.Background()

	assert.Equal(t, interpreter.CallServiceResult{Result: `"hello"`},
		r.Call(ctx, host.CallRequest{ServiceID: "op", FunctionName: "greet"}))
	assert.Equal(t, interpreter.CallServiceResult{RetCode: 3, Result: `"unavailable"`},
		r.Call(ctx, host.CallRequest{ServiceID: "flaky", FunctionName: "call"}))
	assert.Equal(t, interpreter.CallServiceResult{Result: `"x"`},
		r.Call(ctx, host.CallRequest{ServiceID: "op", FunctionName: "identity", Arguments: ir.Array{ir.String("x")}}),
		"builtins stay available")
}

func TestConfigError_Position(t *testing.T) {
	_, err := Parse("peer: {\n\tname: 42\n}")
	require.Error(t, err)
	var ce *ConfigError
	if assert.ErrorAs(t, err, &ce) {
		assert.True(t, ce.Pos.IsValid())
		assert.Regexp(t, `^\S+:\d+:\d+: `, ce.Error())
	}
}
