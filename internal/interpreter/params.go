package interpreter

import (
	"github.com/roach88/airvm/internal/execution"
)

// Default size limits, used when a limit is zero.
const (
	DefaultAIRSizeLimit         = 16 << 20
	DefaultParticleSizeLimit    = 64 << 20
	DefaultCallResultsSizeLimit = 32 << 20
)

// RunParameters describe one invocation.
type RunParameters struct {
	InitPeerID    string `json:"init_peer_id" validate:"required"`
	CurrentPeerID string `json:"current_peer_id"`
	TimestampMs   uint64 `json:"timestamp_ms"`
	TTLMs         uint32 `json:"ttl_ms"`

	// KeyFormat 0 is ed25519. SecretKeyBytes is either a 32-byte seed or a
	// 64-byte private key; without it nothing is signed for the current peer.
	KeyFormat      uint8  `json:"key_format" validate:"eq=0"`
	SecretKeyBytes []byte `json:"secret_key_bytes" validate:"omitempty,len=32|len=64"`

	ParticleID string `json:"particle_id" validate:"required"`

	AIRSizeLimit         uint64 `json:"air_size_limit"`
	ParticleSizeLimit    uint64 `json:"particle_size_limit"`
	CallResultsSizeLimit uint64 `json:"call_results_size_limit"`
	HardLimitEnabled     bool   `json:"hard_limit_enabled"`
}

func (p RunParameters) limits() (air, particle, callResults uint64) {
	air, particle, callResults = p.AIRSizeLimit, p.ParticleSizeLimit, p.CallResultsSizeLimit
	if air == 0 {
		air = DefaultAIRSizeLimit
	}
	if particle == 0 {
		particle = DefaultParticleSizeLimit
	}
	if callResults == 0 {
		callResults = DefaultCallResultsSizeLimit
	}
	return air, particle, callResults
}

// CallServiceResult is the host's answer to a call request.
type CallServiceResult = execution.CallServiceResult

// CallRequestParams asks the host to run a local service.
type CallRequestParams = execution.CallRequestParams

// SoftLimitsTriggering flags the size limits an execution exceeded while
// hard limits were off.
type SoftLimitsTriggering struct {
	AIRSize        bool `json:"air_size"`
	ParticleSize   bool `json:"particle_size"`
	CallResultSize bool `json:"call_result_size"`
}

func (s SoftLimitsTriggering) names() []string {
	var out []string
	if s.AIRSize {
		out = append(out, "air_size")
	}
	if s.ParticleSize {
		out = append(out, "particle_size")
	}
	if s.CallResultSize {
		out = append(out, "call_result_size")
	}
	return out
}

// InterpreterOutcome is everything one execution returns to the host.
type InterpreterOutcome struct {
	RetCode              int64                        `json:"ret_code"`
	ErrorMessage         string                       `json:"error_message"`
	Data                 []byte                       `json:"data"`
	NextPeerPKs          []string                     `json:"next_peer_pks"`
	CallRequests         map[uint32]CallRequestParams `json:"call_requests"`
	SoftLimitsTriggering SoftLimitsTriggering         `json:"soft_limits_triggering"`
}

// IsSuccess reports a zero return code.
func (o InterpreterOutcome) IsSuccess() bool {
	return o.RetCode == Success
}
