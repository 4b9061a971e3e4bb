package execution

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/merger"
	"github.com/roach88/airvm/internal/trace"
)

// callSite is a call whose triplet and arguments are resolved.
type callSite struct {
	instr     *air.Call
	tetraplet *trace.Tetraplet
	tetCID    ir.CID
	args      ir.Array
	argTets   [][]*trace.Tetraplet
	argHash   ir.CID
}

func (cs *callSite) outputKind() trace.OutputKind {
	switch {
	case cs.instr.Output == nil:
		return trace.OutputUnused
	case cs.instr.Output.Kind == air.KindStream:
		return trace.OutputStream
	}
	return trace.OutputScalar
}

func (cs *callSite) describe() string {
	return fmt.Sprintf("%s.%s on %q", cs.tetraplet.ServiceID, cs.tetraplet.FunctionName, cs.tetraplet.PeerPK)
}

func (c *ExecutionCtx) execCall(i *air.Call) error {
	site, err := c.resolveCallSite(i)
	if err != nil {
		return err
	}
	merged, err := merger.MergeCall(c.keeper)
	if err != nil {
		return FromDataError(err)
	}

	switch merged.Kind {
	case merger.CallExecuted:
		return c.replayExecuted(site, merged)
	case merger.CallFailed:
		return c.replayFailed(site, merged)
	case merger.CallSentBy:
		return c.replaySentBy(site, merged.State.(trace.SentBy))
	}
	return c.callNotMet(site)
}

func (c *ExecutionCtx) resolveCallSite(i *air.Call) (*callSite, error) {
	peer, err := c.resolveString(i.Peer, "peer")
	if err != nil {
		return nil, err
	}
	service, err := c.resolveString(i.Service, "service")
	if err != nil {
		return nil, err
	}
	function, err := c.resolveString(i.Function, "function")
	if err != nil {
		return nil, err
	}

	site := &callSite{
		instr:     i,
		tetraplet: &trace.Tetraplet{PeerPK: peer, ServiceID: service, FunctionName: function},
		args:      make(ir.Array, 0, len(i.Args)),
		argTets:   make([][]*trace.Tetraplet, 0, len(i.Args)),
	}
	for _, arg := range i.Args {
		r, err := c.resolve(arg)
		if err != nil {
			return nil, err
		}
		site.args = append(site.args, r.value)
		site.argTets = append(site.argTets, r.items)
	}

	if site.argHash, err = ir.ComputeCID(site.args); err != nil {
		return nil, uncatchable(MalformedCallServiceResult, "arguments of %s: %s", site.describe(), err)
	}
	if site.tetCID, err = ir.ComputeCID(site.tetraplet.ToValue()); err != nil {
		return nil, uncatchable(MalformedCallServiceResult, "tetraplet of %s: %s", site.describe(), err)
	}
	return site, nil
}

func (c *ExecutionCtx) resolveString(v air.Value, what string) (string, error) {
	r, err := c.resolve(v)
	if err != nil {
		return "", err
	}
	s, ok := r.value.(ir.String)
	if !ok {
		return "", catchable(NonStringTriplet, "%s %s resolved to %s, not a string", what, v, ir.ToString(r.value))
	}
	return string(s), nil
}

// replayExecuted reuses a result recorded by either side after checking it
// was produced by the same call with the same arguments.
func (c *ExecutionCtx) replayExecuted(site *callSite, merged merger.CallResult) error {
	st := merged.State.(trace.Executed)
	if st.ArgumentHash != site.argHash || st.Tetraplet != site.tetCID {
		return uncatchable(CallParametersMismatch,
			"recorded result of %s was produced for arguments %s and tetraplet %s, expected %s and %s",
			site.describe(), st.ArgumentHash, st.Tetraplet, site.argHash, site.tetCID)
	}
	if st.Output != site.outputKind() {
		return uncatchable(IncompatibleExecutedState, "recorded result of %s went to %s output, the call writes to %s",
			site.describe(), st.Output, site.outputKind())
	}

	value, err := c.keeper.Ctx(merged.Source).CIDInfo().Values.MustGet(st.Value)
	if err != nil {
		return FromDataError(err)
	}
	c.stores.Values.PutWithCID(st.Value, value)
	return c.bindCallResult(site, value, st.Value, NthGeneration(merged.Source, st.Generation))
}

func (c *ExecutionCtx) replayFailed(site *callSite, merged merger.CallResult) error {
	st := merged.State.(trace.Failed)
	if st.Tetraplet != site.tetCID {
		return uncatchable(CallParametersMismatch, "recorded failure of %s was produced for tetraplet %s, expected %s",
			site.describe(), st.Tetraplet, site.tetCID)
	}

	msg, err := c.keeper.Ctx(merged.Source).CIDInfo().Values.MustGet(st.Message)
	if err != nil {
		return FromDataError(err)
	}
	c.stores.Values.PutWithCID(st.Message, msg)
	c.stores.Tetraplets.PutWithCID(site.tetCID, *site.tetraplet)
	c.keeper.PushResult(st)

	text := ir.ToString(msg)
	if s, ok := msg.(ir.String); ok {
		text = string(s)
	}
	return c.serviceError(site, st.RetCode, text)
}

// replaySentBy handles a call some peer already handed off. A request this
// peer issued is completed from the host's results when they are there; a
// request addressed to this peer is executed; anything else stays pending,
// and a remote request this peer sent is forwarded again.
func (c *ExecutionCtx) replaySentBy(site *callSite, st trace.SentBy) error {
	current := c.params.CurrentPeerID
	if st.Peer == current && st.CallID != nil {
		if res, ok := c.callResults[*st.CallID]; ok {
			return c.applyServiceResult(site, res)
		}
		c.keeper.PushResult(st)
		c.subgraphComplete = false
		return nil
	}
	if site.tetraplet.PeerPK == current {
		return c.callNotMet(site)
	}
	if st.Peer == current {
		c.addNextPeer(site.tetraplet.PeerPK)
	}
	c.keeper.PushResult(st)
	c.subgraphComplete = false
	return nil
}

// callNotMet issues a call nobody recorded yet: a remote call names its peer
// as a next peer, a local call becomes a request to the host.
func (c *ExecutionCtx) callNotMet(site *callSite) error {
	current := c.params.CurrentPeerID
	c.subgraphComplete = false

	if site.tetraplet.PeerPK != current {
		c.keeper.PushResult(trace.SentBy{Peer: current})
		c.addNextPeer(site.tetraplet.PeerPK)
		return nil
	}

	params, err := site.requestParams()
	if err != nil {
		return err
	}
	c.lastCallID++
	id := c.lastCallID
	c.callRequests[id] = params
	c.keeper.PushResult(trace.SentBy{Peer: current, CallID: trace.CallID(id)})
	c.logger.Debug("call requested", "call_id", id, "service", params.ServiceID, "function", params.FunctionName)
	return nil
}

func (site *callSite) requestParams() (CallRequestParams, error) {
	args, err := ir.Marshal(site.args)
	if err != nil {
		return CallRequestParams{}, uncatchable(MalformedCallServiceResult, "arguments of %s: %s", site.describe(), err)
	}
	tets, err := json.Marshal(site.argTets)
	if err != nil {
		return CallRequestParams{}, uncatchable(MalformedCallServiceResult, "tetraplets of %s: %s", site.describe(), err)
	}
	return CallRequestParams{
		ServiceID:    site.tetraplet.ServiceID,
		FunctionName: site.tetraplet.FunctionName,
		Arguments:    string(args),
		Tetraplets:   string(tets),
	}, nil
}

// applyServiceResult records what the host's service returned.
func (c *ExecutionCtx) applyServiceResult(site *callSite, res CallServiceResult) error {
	if res.RetCode == 0 {
		value, err := ir.Parse([]byte(res.Result))
		if err != nil {
			return uncatchable(MalformedCallServiceResult, "result of %s is not JSON: %s", site.describe(), err)
		}
		cid, err := c.stores.Values.Put(value)
		if err != nil {
			return uncatchable(MalformedCallServiceResult, "result of %s: %s", site.describe(), err)
		}
		return c.bindCallResult(site, value, cid, LastGeneration())
	}

	text := res.Result
	if parsed, err := ir.Parse([]byte(res.Result)); err == nil {
		if s, ok := parsed.(ir.String); ok {
			text = string(s)
		}
	}
	cid, err := c.stores.Values.Put(ir.String(text))
	if err != nil {
		return uncatchable(MalformedCallServiceResult, "error of %s: %s", site.describe(), err)
	}
	c.stores.Tetraplets.PutWithCID(site.tetCID, *site.tetraplet)
	c.keeper.PushResult(trace.Failed{RetCode: res.RetCode, Message: cid, Tetraplet: site.tetCID})
	return c.serviceError(site, res.RetCode, text)
}

func (c *ExecutionCtx) serviceError(site *callSite, retCode int32, msg string) error {
	return &CatchableError{
		Code:      LocalServiceError,
		Message:   fmt.Sprintf("service %s failed with %d: %s", site.describe(), retCode, msg),
		Object:    &ErrorObject{ErrorCode: int64(retCode), Message: msg},
		Tetraplet: site.tetraplet,
	}
}

// bindCallResult writes a call result to the call's output and records the
// executed state.
func (c *ExecutionCtx) bindCallResult(site *callSite, value ir.Value, cid ir.CID, gen Generation) error {
	c.stores.Tetraplets.PutWithCID(site.tetCID, *site.tetraplet)
	st := trace.Executed{
		Value:        cid,
		Tetraplet:    site.tetCID,
		ArgumentHash: site.argHash,
		Output:       site.outputKind(),
	}
	agg := ValueAggregate{
		Value:      value,
		Tetraplet:  site.tetraplet,
		TracePos:   c.keeper.ResultLen(),
		Provenance: trace.Provenance{Kind: trace.ProvenanceServiceResult, CID: cid},
	}

	switch st.Output {
	case trace.OutputScalar:
		if err := c.scopes.setScalar(site.instr.Output.Name, agg); err != nil {
			return err
		}
	case trace.OutputStream:
		idx, err := c.stream(*site.instr.Output).Add(agg, gen)
		if err != nil {
			return err
		}
		st.Generation = idx
	}
	c.keeper.PushResult(st)
	return nil
}
