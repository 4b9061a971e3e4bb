package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/airvm/internal/envelope"
	"github.com/roach88/airvm/internal/host"
	"github.com/roach88/airvm/internal/interpreter"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/testutil"
	"github.com/roach88/airvm/internal/trace"
)

// Harness holds the peers of one scenario run.
type Harness struct {
	scenario *Scenario
	keys     *testutil.Keyring
	network  *host.Network
	peers    map[string]*host.Peer
	particle host.Particle

	// toID replaces "@name" with peer ids, toName replaces ids with names.
	toID   *strings.Replacer
	toName *strings.Replacer
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on fresh in-memory peers. Deterministic helpers ensure
// reproducible results.
//
// Execution flow:
// 1. Derive a key pair per peer and build its stub services
// 2. Substitute peer ids into the script
// 3. Make the listed hops, or route automatically from init_peer
// 4. Evaluate assertions against the data peers hold
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	if len(scenario.Flow) == 0 {
		err = h.route(ctx, result)
	} else {
		err = h.executeFlow(ctx, result)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	for _, msg := range h.evaluateAssertions(ctx, result) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	logger := slog.New(slog.DiscardHandler)
	it := interpreter.New(interpreter.WithLogger(logger))

	particleID := scenario.ParticleID
	if particleID == "" {
		particleID = DefaultParticleID
	}

	h := &Harness{
		scenario: scenario,
		keys:     testutil.NewKeyring(),
		network:  host.NewNetwork(host.WithNetworkLogger(logger)),
		peers:    make(map[string]*host.Peer, len(scenario.Peers)),
	}

	names := make([]string, 0, len(scenario.Peers))
	for _, spec := range scenario.Peers {
		registry, err := buildRegistry(spec)
		if err != nil {
			return nil, err
		}
		peer := host.NewPeer(h.keys.Key(spec.Name),
			host.WithServices(registry),
			host.WithInterpreter(it),
			host.WithPeerLogger(logger),
			host.WithClock(testutil.NewDeterministicClock()),
			host.WithParticleIDs(testutil.NewFixedParticleIDs(particleID)),
		)
		h.peers[spec.Name] = peer
		h.network.Add(peer)
		names = append(names, spec.Name)
	}

	// Longer names first so "@alice2" is not read as "@alice" + "2".
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	// In scripts a name becomes a string literal; inside expected values it
	// is already within one.
	var toLiteral, toID, toName []string
	for _, name := range names {
		toLiteral = append(toLiteral, "@"+name, strconv.Quote(h.keys.ID(name)))
		toID = append(toID, "@"+name, h.keys.ID(name))
		toName = append(toName, h.keys.ID(name), name)
	}
	h.toID = strings.NewReplacer(toID...)
	h.toName = strings.NewReplacer(toName...)

	script := strings.NewReplacer(toLiteral...).Replace(scenario.Script)
	h.particle = h.peers[scenario.InitPeer].NewParticle(script)
	return h, nil
}

func buildRegistry(spec PeerSpec) (*host.Registry, error) {
	r := host.NewRegistry()
	host.RegisterBuiltins(r)
	for _, svc := range spec.Services {
		if svc.Error != nil {
			r.Register(svc.Service, svc.Function, host.Fail(svc.Error.Code, svc.Error.Message))
			continue
		}
		value, err := toValue(svc.Result)
		if err != nil {
			return nil, fmt.Errorf("peer %s: service %s.%s: %w", spec.Name, svc.Service, svc.Function, err)
		}
		r.Register(svc.Service, svc.Function, host.Constant(value))
	}
	return r, nil
}

// toValue converts a YAML value into an ir.Value.
func toValue(v any) (ir.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return ir.Parse(b)
}

func (h *Harness) executeFlow(ctx context.Context, result *Result) error {
	for i, step := range h.scenario.Flow {
		var data []byte
		if step.From != "" {
			var err error
			if data, err = h.peers[step.From].Data(ctx, h.particle.ID); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
		}
		res, err := h.peers[step.Peer].Receive(ctx, h.particle.WithData(data))
		if err != nil {
			return fmt.Errorf("flow[%d] on %s: %w", i, step.Peer, err)
		}
		hop, err := h.hopTrace(step.Peer, step.From, res)
		if err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
		result.Hops = append(result.Hops, hop)

		if step.Expect != nil {
			for _, msg := range checkExpect(step.Expect, hop) {
				result.AddError(fmt.Sprintf("flow[%d] on %s: %s", i, step.Peer, msg))
			}
		}
	}
	return nil
}

func (h *Harness) route(ctx context.Context, result *Result) error {
	report, err := h.network.Run(ctx, h.particle, h.keys.ID(h.scenario.InitPeer))
	if err != nil {
		return err
	}
	for _, hop := range report.Hops {
		from := ""
		if hop.From != "" {
			from = h.keys.Name(hop.From)
		}
		ht, err := h.hopTrace(h.keys.Name(hop.To), from, hop.Outcome)
		if err != nil {
			return err
		}
		result.Hops = append(result.Hops, ht)
	}
	for _, id := range report.Undelivered {
		result.AddError(fmt.Sprintf("particle addressed to unknown peer %s", id))
	}
	return nil
}

func (h *Harness) hopTrace(peer, from string, res host.Result) (HopTrace, error) {
	out := res.Outcome
	hop := HopTrace{
		Peer:      peer,
		From:      from,
		RetCode:   out.RetCode,
		Error:     h.toName.Replace(out.ErrorMessage),
		NextPeers: []string{},
		Calls:     res.Calls,
		Trace:     []string{},
	}
	for _, id := range out.NextPeerPKs {
		hop.NextPeers = append(hop.NextPeers, h.keys.Name(id))
	}
	if len(out.Data) == 0 {
		return hop, nil
	}
	d, err := envelope.Decode(out.Data)
	if err != nil {
		return hop, fmt.Errorf("decode data of %s: %w", peer, err)
	}
	for _, st := range d.Inner.Trace {
		hop.Trace = append(hop.Trace, h.toName.Replace(summarize(d, st)))
	}
	return hop, nil
}

// summarize renders a state with its values resolved from the CID store.
func summarize(d *envelope.Data, st trace.State) string {
	switch s := st.(type) {
	case trace.Executed:
		value := renderCID(d, s.Value)
		if s.Output == trace.OutputStream {
			return fmt.Sprintf("executed stream gen=%d %s", s.Generation, value)
		}
		return fmt.Sprintf("executed %s %s", s.Output, value)
	case trace.Failed:
		return fmt.Sprintf("failed ret_code=%d %s", s.RetCode, renderCID(d, s.Message))
	case trace.SentBy:
		if s.CallID != nil {
			return fmt.Sprintf("sent_by %s call_id=%d", s.Peer, *s.CallID)
		}
		return "sent_by " + s.Peer
	}
	return trace.Describe(st)
}

func renderCID(d *envelope.Data, cid ir.CID) string {
	v, ok := d.Inner.CIDInfo.Values.Get(cid)
	if !ok {
		return "<missing " + string(cid) + ">"
	}
	b, err := ir.Marshal(v)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(b)
}

// stateKind names a state for trace_states assertions.
func stateKind(st trace.State) string {
	switch st.(type) {
	case trace.Executed:
		return "executed"
	case trace.Failed:
		return "failed"
	case trace.SentBy:
		return "sent_by"
	}
	return string(st.Kind())
}

func checkExpect(e *ExpectClause, hop HopTrace) []string {
	var errs []string
	if e.RetCode != nil && *e.RetCode != hop.RetCode {
		errs = append(errs, fmt.Sprintf("ret_code: expected %d, got %d (%s)", *e.RetCode, hop.RetCode, hop.Error))
	}
	if e.NextPeers != nil && !slices.Equal(*e.NextPeers, hop.NextPeers) {
		errs = append(errs, fmt.Sprintf("next_peers: expected %v, got %v", *e.NextPeers, hop.NextPeers))
	}
	if e.TraceLength != nil && *e.TraceLength != len(hop.Trace) {
		errs = append(errs, fmt.Sprintf("trace_length: expected %d, got %d", *e.TraceLength, len(hop.Trace)))
	}
	if e.Calls != nil && *e.Calls != hop.Calls {
		errs = append(errs, fmt.Sprintf("calls: expected %d, got %d", *e.Calls, hop.Calls))
	}
	if e.ErrorContains != "" && !strings.Contains(hop.Error, e.ErrorContains) {
		errs = append(errs, fmt.Sprintf("error: expected to contain %q, got %q", e.ErrorContains, hop.Error))
	}
	return errs
}
