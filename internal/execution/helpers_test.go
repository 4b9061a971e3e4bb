package execution

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/envelope"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/keeper"
)

const initPeer = "init"

// hop is one execution of a script on one peer.
type hop struct {
	peer    string
	prev    *envelope.Data
	current *envelope.Data
	results map[uint32]CallServiceResult
	limit   int
}

// outcome is what a hop left behind.
type outcome struct {
	ctx  *ExecutionCtx
	data *envelope.Data
	err  error
}

func run(t *testing.T, script string, h hop) outcome {
	t.Helper()
	root, err := air.Parse(script)
	require.NoError(t, err)

	if h.prev == nil {
		h.prev = envelope.New()
	}
	if h.current == nil {
		h.current = envelope.New()
	}
	k := keeper.New(h.prev, h.current)
	c := NewContext(k, Params{InitPeerID: initPeer, CurrentPeerID: h.peer, ParticleID: "particle", IterationLimit: h.limit}, h.results, nil)
	execErr := c.Execute(root)
	c.Finalize()
	return outcome{ctx: c, data: toData(c), err: execErr}
}

func toData(c *ExecutionCtx) *envelope.Data {
	d := envelope.New()
	d.Inner.Trace = c.Result()
	d.Inner.CIDInfo = c.Stores()
	d.Inner.Streams = c.StreamGenerations()
	d.Inner.RestrictedStreams = c.RestrictedStreams()
	d.Inner.LastCallRequestID = c.LastCallRequestID()
	return d
}

func ok(v string) CallServiceResult {
	return CallServiceResult{RetCode: 0, Result: v}
}

// scalarValue reads a scalar bound in the root scope.
func scalarValue(t *testing.T, c *ExecutionCtx, name string) ir.Value {
	t.Helper()
	agg, found := c.scopes.scalar(name)
	require.True(t, found, "scalar %s is not set", name)
	return agg.Value
}

func streamValues(c *ExecutionCtx, key string) []ir.Value {
	s, found := c.streams[key]
	if !found {
		return nil
	}
	var out []ir.Value
	for _, v := range s.Values() {
		out = append(out, v.Value)
	}
	return out
}
