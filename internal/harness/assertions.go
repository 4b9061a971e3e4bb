package harness

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/roach88/airvm/internal/envelope"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/signing"
	"github.com/roach88/airvm/internal/trace"
)

// evaluateAssertions checks every assertion and returns error messages for
// the ones that failed.
func (h *Harness) evaluateAssertions(ctx context.Context, result *Result) []string {
	var errs []string
	for i, a := range h.scenario.Assertions {
		if err := h.evaluateAssertion(ctx, a, result); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %s", i, a.Type, h.toName.Replace(err.Error())))
		}
	}
	return errs
}

func (h *Harness) evaluateAssertion(ctx context.Context, a Assertion, result *Result) error {
	if a.Type == AssertRoute {
		return assertRoute(a, result)
	}

	d, err := h.held(ctx, a.Peer)
	if err != nil {
		return err
	}
	switch a.Type {
	case AssertTraceLength:
		if got := len(d.Inner.Trace); got != a.Count {
			return fmt.Errorf("expected %d states on %s, got %d", a.Count, a.Peer, got)
		}
	case AssertTraceStates:
		got := make([]string, len(d.Inner.Trace))
		for i, st := range d.Inner.Trace {
			got[i] = stateKind(st)
		}
		if fmt.Sprint(got) != fmt.Sprint(a.States) {
			return fmt.Errorf("expected states %v on %s, got %v", a.States, a.Peer, got)
		}
	case AssertCallResult:
		return h.assertCallResult(a, d)
	case AssertSignaturesValid:
		return signing.VerifyAll(d.Inner.Trace, d.Inner.CIDInfo, d.Inner.Signatures, h.particle.ID)
	case AssertSigners:
		got := make([]string, 0, len(d.Inner.Signatures))
		for id := range d.Inner.Signatures {
			got = append(got, h.keys.Name(id))
		}
		sort.Strings(got)
		want := append([]string(nil), a.Peers...)
		sort.Strings(want)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return fmt.Errorf("expected signers %v on %s, got %v", want, a.Peer, got)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// held decodes the data a peer holds for the scenario's particle.
func (h *Harness) held(ctx context.Context, name string) (*envelope.Data, error) {
	data, err := h.peers[name].Data(ctx, h.particle.ID)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s holds no data", name)
	}
	return envelope.Decode(data)
}

func (h *Harness) assertCallResult(a Assertion, d *envelope.Data) error {
	if a.Index >= len(d.Inner.Trace) {
		return fmt.Errorf("index %d out of range, %s holds %d states", a.Index, a.Peer, len(d.Inner.Trace))
	}
	st, ok := d.Inner.Trace[a.Index].(trace.Executed)
	if !ok {
		return fmt.Errorf("state %d on %s is %s, not an executed call", a.Index, a.Peer, trace.Describe(d.Inner.Trace[a.Index]))
	}
	got, ok := d.Inner.CIDInfo.Values.Get(st.Value)
	if !ok {
		return fmt.Errorf("value %s of state %d is missing", st.Value, a.Index)
	}

	want, err := toValue(a.Value)
	if err != nil {
		return fmt.Errorf("expected value: %w", err)
	}
	wantJSON, err := ir.MarshalCanonical(want)
	if err != nil {
		return err
	}
	wantJSON = []byte(h.toID.Replace(string(wantJSON)))
	gotJSON, err := ir.MarshalCanonical(got)
	if err != nil {
		return err
	}
	if !bytes.Equal(wantJSON, gotJSON) {
		return fmt.Errorf("state %d on %s: expected %s, got %s", a.Index, a.Peer, wantJSON, gotJSON)
	}
	return nil
}

func assertRoute(a Assertion, result *Result) error {
	got := make([]string, len(result.Hops))
	for i, hop := range result.Hops {
		got[i] = hop.Peer
	}
	if fmt.Sprint(got) != fmt.Sprint(a.Peers) {
		return fmt.Errorf("expected route %v, got %v", a.Peers, got)
	}
	return nil
}
