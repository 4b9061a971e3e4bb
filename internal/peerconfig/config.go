// Package peerconfig loads peer configuration written in CUE.
//
// A configuration names the peer and its key, the defaults for particles it
// starts, its size limits and the stub services it answers with:
//
//	peer: name: "alice"
//	particle: ttl_ms: 60000
//	limits: {air_size: 1048576, hard: true}
//	services: op: greet: result: "hello"
//	services: flaky: call: error: {code: 3, message: "unavailable"}
//
// Files are checked against the #Config schema before decoding.
package peerconfig

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"github.com/mr-tron/base58"

	"github.com/roach88/airvm/internal/host"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/signing"
)

//go:embed schema.cue
var schemaCUE string

// Config is a decoded peer configuration.
type Config struct {
	Name     string
	Key      *signing.KeyPair
	Particle ParticleDefaults
	Limits   host.Limits
	Services []Stub
}

// ParticleDefaults seed particles started from this configuration.
type ParticleDefaults struct {
	ID          string
	InitPeer    string
	TTLMs       uint32
	TimestampMs uint64
}

// Stub is a service function answering with a fixed result or error.
type Stub struct {
	Service  string
	Function string
	Result   ir.Value
	Error    *host.ServiceError
}

// PeerID returns the id of the configured key.
func (c *Config) PeerID() string {
	return c.Key.PeerID()
}

// Registry returns a registry with the builtin services and every stub.
func (c *Config) Registry() *host.Registry {
	r := host.NewRegistry()
	host.RegisterBuiltins(r)
	for _, s := range c.Services {
		if s.Error != nil {
			r.Register(s.Service, s.Function, host.Fail(s.Error.RetCode, s.Error.Message))
			continue
		}
		r.Register(s.Service, s.Function, host.Constant(s.Result))
	}
	return r
}

// Load reads a configuration from a .cue file or from the CUE package in a
// directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("peer config: %w", err)
	}
	ctx := cuecontext.New()
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, fmt.Errorf("peer config: no CUE instances in %s", path)
		}
		if err := instances[0].Err; err != nil {
			return nil, formatCUEError(err)
		}
		return Decode(ctx.BuildInstance(instances[0]))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("peer config: %w", err)
	}
	return Decode(ctx.CompileBytes(data, cue.Filename(path)))
}

// Parse decodes a configuration from CUE source.
func Parse(src string) (*Config, error) {
	return Decode(cuecontext.New().CompileString(src, cue.Filename("config.cue")))
}

// Decode checks v against the schema and decodes it.
func Decode(v cue.Value) (*Config, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	schema := v.Context().CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("peer config schema: %w", err)
	}
	v = schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	cfg := &Config{}
	var err error
	if cfg.Name, err = v.LookupPath(cue.ParsePath("peer.name")).String(); err != nil {
		return nil, formatCUEError(err)
	}
	if cfg.Key, err = decodeKey(v); err != nil {
		return nil, err
	}
	if cfg.Particle, err = decodeParticle(v); err != nil {
		return nil, err
	}
	if cfg.Limits, err = decodeLimits(v); err != nil {
		return nil, err
	}
	if cfg.Services, err = decodeServices(v); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeKey(v cue.Value) (*signing.KeyPair, error) {
	name, _ := v.LookupPath(cue.ParsePath("peer.name")).String()
	keyVal := v.LookupPath(cue.ParsePath("peer.secret_key"))
	if !keyVal.Exists() {
		return signing.DeriveKeyPair(name), nil
	}
	encoded, err := keyVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	secret, err := base58.Decode(encoded)
	if err != nil {
		return nil, &ConfigError{Field: "peer.secret_key", Message: fmt.Sprintf("not base58: %v", err), Pos: keyVal.Pos()}
	}
	kp, err := signing.NewKeyPair(signing.Ed25519, secret)
	if err != nil {
		return nil, &ConfigError{Field: "peer.secret_key", Message: err.Error(), Pos: keyVal.Pos()}
	}
	return kp, nil
}

func decodeParticle(v cue.Value) (ParticleDefaults, error) {
	d := ParticleDefaults{TTLMs: uint32(host.DefaultTTL.Milliseconds())}
	p := v.LookupPath(cue.ParsePath("particle"))
	if !p.Exists() {
		return d, nil
	}
	var err error
	if d.ID, err = optionalString(p, "id"); err != nil {
		return d, err
	}
	if d.InitPeer, err = optionalString(p, "init_peer"); err != nil {
		return d, err
	}
	if ttl := p.LookupPath(cue.ParsePath("ttl_ms")); ttl.Exists() {
		n, err := ttl.Uint64()
		if err != nil {
			return d, formatCUEError(err)
		}
		d.TTLMs = uint32(n)
	}
	if ts := p.LookupPath(cue.ParsePath("timestamp_ms")); ts.Exists() {
		if d.TimestampMs, err = ts.Uint64(); err != nil {
			return d, formatCUEError(err)
		}
	}
	return d, nil
}

func decodeLimits(v cue.Value) (host.Limits, error) {
	var l host.Limits
	lv := v.LookupPath(cue.ParsePath("limits"))
	if !lv.Exists() {
		return l, nil
	}
	sizes := []struct {
		name string
		dst  *uint64
	}{
		{"air_size", &l.AIRSize},
		{"particle_size", &l.ParticleSize},
		{"call_results_size", &l.CallResultsSize},
	}
	for _, s := range sizes {
		f := lv.LookupPath(cue.ParsePath(s.name))
		if !f.Exists() {
			continue
		}
		n, err := f.Uint64()
		if err != nil {
			return l, formatCUEError(err)
		}
		*s.dst = n
	}
	if hard := lv.LookupPath(cue.ParsePath("hard")); hard.Exists() {
		b, err := hard.Bool()
		if err != nil {
			return l, formatCUEError(err)
		}
		l.Hard = b
	}
	return l, nil
}

func decodeServices(v cue.Value) ([]Stub, error) {
	sv := v.LookupPath(cue.ParsePath("services"))
	if !sv.Exists() {
		return nil, nil
	}
	var stubs []Stub
	services, err := sv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for services.Next() {
		service := services.Selector().Unquoted()
		funcs, err := services.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for funcs.Next() {
			stub, err := decodeStub(service, funcs.Selector().Unquoted(), funcs.Value())
			if err != nil {
				return nil, err
			}
			stubs = append(stubs, stub)
		}
	}
	return stubs, nil
}

func decodeStub(service, function string, v cue.Value) (Stub, error) {
	stub := Stub{Service: service, Function: function}
	field := "services." + service + "." + function

	if ev := v.LookupPath(cue.ParsePath("error")); ev.Exists() {
		code, err := ev.LookupPath(cue.ParsePath("code")).Int64()
		if err != nil {
			return stub, formatCUEError(err)
		}
		msg, err := ev.LookupPath(cue.ParsePath("message")).String()
		if err != nil {
			return stub, formatCUEError(err)
		}
		stub.Error = &host.ServiceError{RetCode: int32(code), Message: msg}
		return stub, nil
	}

	rv := v.LookupPath(cue.ParsePath("result"))
	raw, err := rv.MarshalJSON()
	if err != nil {
		return stub, &ConfigError{Field: field, Message: err.Error(), Pos: rv.Pos()}
	}
	if stub.Result, err = ir.Parse(raw); err != nil {
		return stub, &ConfigError{Field: field, Message: err.Error(), Pos: rv.Pos()}
	}
	return stub, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}
