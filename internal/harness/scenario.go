package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultParticleID is the particle id of scenarios that set none.
const DefaultParticleID = "test-particle-default"

// Scenario defines a multi-peer execution of one script.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ParticleID is the fixed particle id. Defaults to DefaultParticleID.
	ParticleID string `yaml:"particle_id,omitempty"`

	// InitPeer names the peer that starts the particle.
	InitPeer string `yaml:"init_peer"`

	// Peers lists the participating peers.
	Peers []PeerSpec `yaml:"peers"`

	// Script is the AIR source; "@name" is replaced by the peer id.
	Script string `yaml:"script"`

	// Flow lists explicit hops. Empty means automatic routing.
	Flow []Hop `yaml:"flow,omitempty"`

	// Assertions validate the data peers hold after the flow.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// PeerSpec declares a peer and its stub services.
type PeerSpec struct {
	Name     string        `yaml:"name"`
	Services []ServiceStub `yaml:"services,omitempty"`
}

// ServiceStub answers one service function with a fixed result or error.
type ServiceStub struct {
	Service  string     `yaml:"service"`
	Function string     `yaml:"function"`
	Result   any        `yaml:"result,omitempty"`
	Error    *StubError `yaml:"error,omitempty"`
}

// StubError is the failure a stub returns.
type StubError struct {
	Code    int32  `yaml:"code"`
	Message string `yaml:"message"`
}

// Hop delivers the particle to Peer with the data From holds. An empty From
// starts the particle without data.
type Hop struct {
	Peer   string        `yaml:"peer"`
	From   string        `yaml:"from,omitempty"`
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks the outcome of one hop. Unset fields are not checked.
type ExpectClause struct {
	RetCode       *int64    `yaml:"ret_code,omitempty"`
	NextPeers     *[]string `yaml:"next_peers,omitempty"`
	TraceLength   *int      `yaml:"trace_length,omitempty"`
	Calls         *int      `yaml:"calls,omitempty"`
	ErrorContains string    `yaml:"error_contains,omitempty"`
}

// Assertion validates the final data of a peer or the route taken.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Peer whose held data is checked.
	Peer string `yaml:"peer,omitempty"`

	// Count is the expected trace length (trace_length).
	Count int `yaml:"count,omitempty"`

	// States are the expected state kinds (trace_states).
	States []string `yaml:"states,omitempty"`

	// Index and Value locate and describe an executed call (call_result).
	Index int `yaml:"index,omitempty"`
	Value any `yaml:"value,omitempty"`

	// Peers are the expected signers (signers) or route (route).
	Peers []string `yaml:"peers,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceLength     = "trace_length"
	AssertTraceStates     = "trace_states"
	AssertCallResult      = "call_result"
	AssertSignaturesValid = "signatures_valid"
	AssertSigners         = "signers"
	AssertRoute           = "route"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected to catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Script == "" {
		return fmt.Errorf("script is required")
	}
	if len(s.Peers) == 0 {
		return fmt.Errorf("at least one peer is required")
	}

	known := make(map[string]bool, len(s.Peers))
	for i, p := range s.Peers {
		if p.Name == "" {
			return fmt.Errorf("peers[%d]: name is required", i)
		}
		if known[p.Name] {
			return fmt.Errorf("peers[%d]: duplicate peer %q", i, p.Name)
		}
		known[p.Name] = true
		for j, svc := range p.Services {
			if svc.Service == "" || svc.Function == "" {
				return fmt.Errorf("peers[%d].services[%d]: service and function are required", i, j)
			}
			if svc.Error != nil && svc.Result != nil {
				return fmt.Errorf("peers[%d].services[%d]: result and error are exclusive", i, j)
			}
			if svc.Error != nil && svc.Error.Code == 0 {
				return fmt.Errorf("peers[%d].services[%d]: error code must be non-zero", i, j)
			}
		}
	}

	if s.InitPeer == "" {
		return fmt.Errorf("init_peer is required")
	}
	if !known[s.InitPeer] {
		return fmt.Errorf("init_peer %q is not a declared peer", s.InitPeer)
	}

	for i, hop := range s.Flow {
		if !known[hop.Peer] {
			return fmt.Errorf("flow[%d]: unknown peer %q", i, hop.Peer)
		}
		if hop.From != "" && !known[hop.From] {
			return fmt.Errorf("flow[%d]: unknown peer %q in from", i, hop.From)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, i, known); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a Assertion, index int, known map[string]bool) error {
	needsPeer := func() error {
		if a.Peer == "" {
			return fmt.Errorf("assertions[%d]: peer is required for %s", index, a.Type)
		}
		if !known[a.Peer] {
			return fmt.Errorf("assertions[%d]: unknown peer %q", index, a.Peer)
		}
		return nil
	}

	switch a.Type {
	case AssertTraceLength:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
		return needsPeer()
	case AssertTraceStates:
		return needsPeer()
	case AssertCallResult:
		if a.Index < 0 {
			return fmt.Errorf("assertions[%d]: index must be non-negative", index)
		}
		return needsPeer()
	case AssertSignaturesValid:
		return needsPeer()
	case AssertSigners:
		return needsPeer()
	case AssertRoute:
		if len(a.Peers) == 0 {
			return fmt.Errorf("assertions[%d]: peers list is required for route", index)
		}
		return nil
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
}
