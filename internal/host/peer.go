package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/airvm/internal/interpreter"
	"github.com/roach88/airvm/internal/signing"
	"github.com/roach88/airvm/internal/store"
)

// Limits are the size limits a peer passes to every execution. Zero values
// fall back to the interpreter defaults.
type Limits struct {
	AIRSize         uint64
	ParticleSize    uint64
	CallResultsSize uint64
	Hard            bool
}

// Peer is one node: a key pair, local services and the data it holds.
type Peer struct {
	key       *signing.KeyPair
	id        string
	services  Services
	particles ParticleStore
	recorder  Recorder
	interp    *interpreter.Interpreter
	logger    *slog.Logger
	clock     Clock
	ids       ParticleIDGenerator
	limits    Limits
	maxRounds int
}

// PeerOption configures a Peer.
type PeerOption func(*Peer)

// WithServices sets the services answering call requests.
// Default: an empty Registry, so every call fails as not found.
func WithServices(s Services) PeerOption {
	return func(p *Peer) { p.services = s }
}

// WithParticleStore sets where the peer keeps particle data.
// Default: a MemoryStore.
func WithParticleStore(s ParticleStore) PeerOption {
	return func(p *Peer) { p.particles = s }
}

// WithRecorder logs every execution the peer makes.
func WithRecorder(r Recorder) PeerOption {
	return func(p *Peer) { p.recorder = r }
}

// WithInterpreter sets the interpreter. Default: interpreter.New().
func WithInterpreter(it *interpreter.Interpreter) PeerOption {
	return func(p *Peer) { p.interp = it }
}

// WithPeerLogger sets the logger.
func WithPeerLogger(l *slog.Logger) PeerOption {
	return func(p *Peer) { p.logger = l }
}

// WithClock sets the clock stamping particles created by this peer.
func WithClock(c Clock) PeerOption {
	return func(p *Peer) { p.clock = c }
}

// WithParticleIDs sets the generator for particle ids.
func WithParticleIDs(g ParticleIDGenerator) PeerOption {
	return func(p *Peer) { p.ids = g }
}

// WithLimits sets the size limits.
func WithLimits(l Limits) PeerOption {
	return func(p *Peer) { p.limits = l }
}

// WithMaxRounds bounds the execute/call loop of one Receive.
//
// Default: DefaultMaxRounds
func WithMaxRounds(n int) PeerOption {
	return func(p *Peer) { p.maxRounds = n }
}

// NewPeer creates a peer identified by key.
func NewPeer(key *signing.KeyPair, opts ...PeerOption) *Peer {
	p := &Peer{
		key:       key,
		id:        key.PeerID(),
		services:  NewRegistry(),
		particles: NewMemoryStore(),
		logger:    slog.Default(),
		clock:     SystemClock{},
		ids:       UUIDv7Generator{},
		maxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.interp == nil {
		p.interp = interpreter.New(interpreter.WithLogger(p.logger))
	}
	return p
}

// ID returns the peer id.
func (p *Peer) ID() string { return p.id }

// NewParticle creates a particle initiated by this peer.
func (p *Peer) NewParticle(script string) Particle {
	return Particle{
		ID:          p.ids.Generate(),
		InitPeerID:  p.id,
		Script:      script,
		TimestampMs: p.clock.NowMs(),
		TTLMs:       uint32(DefaultTTL.Milliseconds()),
	}
}

// Data returns the data the peer holds for a particle.
func (p *Peer) Data(ctx context.Context, particleID string) ([]byte, error) {
	return p.particles.LoadParticle(ctx, particleID, p.id)
}

// Result is what one Receive produced.
type Result struct {
	// Outcome is the last execution's outcome. Its Data is what the peer now
	// holds and what it sends to NextPeerPKs.
	Outcome interpreter.InterpreterOutcome

	// Rounds counts the executions, one more than the service batches run.
	Rounds int

	// Calls counts the service calls made.
	Calls int
}

// Receive executes a particle on this peer. The particle's Data is the
// sender's data; what the peer held before is loaded from its store.
//
// Local call requests are answered by the peer's services in call id order
// and fed back until an execution asks for nothing more. The final data is
// saved even when the execution failed, since a failed execution still
// returns the data the peer should keep.
func (p *Peer) Receive(ctx context.Context, particle Particle) (Result, error) {
	prev, err := p.particles.LoadParticle(ctx, particle.ID, p.id)
	if err != nil {
		return Result{}, fmt.Errorf("receive %s: %w", particle.ID, err)
	}
	current := particle.Data
	var results map[uint32]interpreter.CallServiceResult

	rounds := newQuota(particle.ID, "rounds", p.maxRounds)
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := rounds.check(); err != nil {
			return res, err
		}

		params := p.params(particle)
		out := p.interp.Execute(ctx, particle.Script, prev, current, params, results)
		res.Outcome = out
		res.Rounds++

		if p.recorder != nil {
			if _, err := p.recorder.LogExecution(ctx, store.Execution{
				ParticleID:  particle.ID,
				PeerID:      p.id,
				Script:      particle.Script,
				PrevData:    prev,
				CurrentData: current,
				Params:      params,
				CallResults: results,
				Outcome:     out,
			}); err != nil {
				return res, fmt.Errorf("receive %s: %w", particle.ID, err)
			}
		}

		if len(out.Data) > 0 {
			if err := p.particles.SaveParticle(ctx, particle.ID, p.id, out.Data); err != nil {
				return res, fmt.Errorf("receive %s: %w", particle.ID, err)
			}
		}

		if !out.IsSuccess() {
			p.logger.Warn("execution failed",
				"particle_id", particle.ID,
				"peer", p.id,
				"ret_code", out.RetCode,
				"error", out.ErrorMessage,
			)
			return res, nil
		}
		if len(out.CallRequests) == 0 {
			return res, nil
		}

		results = p.callServices(ctx, particle, out.CallRequests)
		res.Calls += len(results)
		prev = out.Data
		current = nil
	}
}

func (p *Peer) params(particle Particle) interpreter.RunParameters {
	return interpreter.RunParameters{
		InitPeerID:           particle.InitPeerID,
		CurrentPeerID:        p.id,
		TimestampMs:          particle.TimestampMs,
		TTLMs:                particle.TTLMs,
		KeyFormat:            uint8(signing.Ed25519),
		SecretKeyBytes:       p.key.Seed(),
		ParticleID:           particle.ID,
		AIRSizeLimit:         p.limits.AIRSize,
		ParticleSizeLimit:    p.limits.ParticleSize,
		CallResultsSizeLimit: p.limits.CallResultsSize,
		HardLimitEnabled:     p.limits.Hard,
	}
}

// callServices answers call requests sequentially in call id order.
func (p *Peer) callServices(ctx context.Context, particle Particle, requests map[uint32]interpreter.CallRequestParams) map[uint32]interpreter.CallServiceResult {
	ids := make([]uint32, 0, len(requests))
	for id := range requests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	results := make(map[uint32]interpreter.CallServiceResult, len(ids))
	for _, id := range ids {
		req, err := decodeCallRequest(id, requests[id], particle, p.id)
		if err != nil {
			results[id] = failure(DefaultErrorCode, err.Error())
			continue
		}
		results[id] = p.services.Call(ctx, req)
		p.logger.Debug("service called",
			"particle_id", particle.ID,
			"call_id", id,
			"service", req.ServiceID,
			"function", req.FunctionName,
			"ret_code", results[id].RetCode,
		)
	}
	return results
}
