package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/trace"
)

func TestExecutorSeqOfRemoteCalls(t *testing.T) {
	script := `(seq (call "P1" ("s" "f") [] r) (call "P2" ("s" "f") [] g))`

	first := run(t, script, hop{peer: ""})
	require.NoError(t, first.err)
	assert.Equal(t, []string{"P1"}, first.ctx.NextPeers())
	assert.Equal(t, trace.Trace{trace.SentBy{Peer: ""}}, first.data.Inner.Trace)
	assert.False(t, first.ctx.SubgraphComplete())

	second := run(t, script, hop{peer: "P1", prev: first.data})
	require.NoError(t, second.err)
	assert.Empty(t, second.ctx.NextPeers())
	require.Len(t, second.ctx.CallRequests(), 1)
	assert.Equal(t, CallRequestParams{ServiceID: "s", FunctionName: "f", Arguments: "[]", Tetraplets: "[]"}, second.ctx.CallRequests()[1])
	assert.Equal(t, trace.Trace{trace.SentBy{Peer: "P1", CallID: trace.CallID(1)}}, second.data.Inner.Trace)

	third := run(t, script, hop{peer: "P1", prev: second.data, results: map[uint32]CallServiceResult{1: ok(`"r"`)}})
	require.NoError(t, third.err)
	assert.Equal(t, []string{"P2"}, third.ctx.NextPeers())
	require.Len(t, third.data.Inner.Trace, 2)
	executed, isExecuted := third.data.Inner.Trace[0].(trace.Executed)
	require.True(t, isExecuted)
	assert.Equal(t, ir.MustCID(ir.String("r")), executed.Value)
	assert.Equal(t, trace.SentBy{Peer: "P1"}, third.data.Inner.Trace[1])
	assert.Equal(t, uint32(1), third.ctx.LastCallRequestID())
}

func TestExecutorParWithLocalBranch(t *testing.T) {
	script := `(par (call "local" ("s" "f") [] r) (call "P2" ("s" "f") [] g))`

	first := run(t, script, hop{peer: "local"})
	require.NoError(t, first.err)
	assert.Equal(t, []string{"P2"}, first.ctx.NextPeers())
	assert.Equal(t, trace.Trace{
		trace.Par{Left: 1, Right: 1},
		trace.SentBy{Peer: "local", CallID: trace.CallID(1)},
		trace.SentBy{Peer: "local"},
	}, first.data.Inner.Trace)

	second := run(t, script, hop{peer: "local", prev: first.data, results: map[uint32]CallServiceResult{1: ok(`"ok"`)}})
	require.NoError(t, second.err)
	assert.Equal(t, []string{"P2"}, second.ctx.NextPeers())
	tr := second.data.Inner.Trace
	require.Len(t, tr, 3)
	assert.Equal(t, trace.Par{Left: 1, Right: 1}, tr[0])
	executed, isExecuted := tr[1].(trace.Executed)
	require.True(t, isExecuted)
	assert.Equal(t, ir.MustCID(ir.String("ok")), executed.Value)
	assert.Equal(t, trace.SentBy{Peer: "local"}, tr[2])
	assert.Equal(t, ir.String("ok"), scalarValue(t, second.ctx, "r"))
}

func TestExecutorXorCatchesServiceFailure(t *testing.T) {
	script := `(xor (call "local" ("s" "fail") [] r) (ap "fallback" out))`

	first := run(t, script, hop{peer: "local"})
	require.NoError(t, first.err)

	second := run(t, script, hop{
		peer:    "local",
		prev:    first.data,
		results: map[uint32]CallServiceResult{1: {RetCode: 1, Result: `"err"`}},
	})
	require.NoError(t, second.err)
	tr := second.data.Inner.Trace
	require.Len(t, tr, 2)
	failed, isFailed := tr[0].(trace.Failed)
	require.True(t, isFailed)
	assert.Equal(t, int32(1), failed.RetCode)
	assert.Equal(t, trace.Ap{Generations: []uint32{}}, tr[1])

	lastErr := second.ctx.LastError()
	assert.Equal(t, "err", lastErr.Message)
	assert.Equal(t, int64(1), lastErr.ErrorCode)
	assert.Equal(t, "local", lastErr.PeerID)
	assert.Equal(t, ir.String("fallback"), scalarValue(t, second.ctx, "out"))
}

func TestExecutorCanonIsDeterministicAcrossPeers(t *testing.T) {
	script := `(seq (ap 1 $s) (canon "P" $s #c))`

	a := run(t, script, hop{peer: "P"})
	b := run(t, script, hop{peer: "P"})
	require.NoError(t, a.err)
	require.NoError(t, b.err)

	canonA, isCanon := a.data.Inner.Trace[1].(trace.Canon)
	require.True(t, isCanon)
	assert.Equal(t, canonA, b.data.Inner.Trace[1])

	merged := run(t, script, hop{peer: "P", prev: a.data, current: b.data})
	require.NoError(t, merged.err)
	assert.Equal(t, trace.Trace{trace.Ap{Generations: []uint32{0}}, canonA}, merged.data.Inner.Trace)
	assert.True(t, merged.ctx.Stores().Canons.Has(canonA.CID))
}

func TestCanonWaitsForItsPeer(t *testing.T) {
	out := run(t, `(seq (ap 1 $s) (canon "P" $s #c))`, hop{peer: initPeer})
	require.NoError(t, out.err)
	assert.Equal(t, []string{"P"}, out.ctx.NextPeers())
	assert.Equal(t, trace.Trace{trace.Ap{Generations: []uint32{0}}}, out.data.Inner.Trace)
	assert.False(t, out.ctx.SubgraphComplete())
}

func TestCanonMapKeepsFirstKey(t *testing.T) {
	script := `(seq
		(seq (ap ("a" 1) %m) (ap ("a" 2) %m))
		(seq (canon "init" %m #%c) (ap #%c.$.a r)))`

	out := run(t, script, hop{peer: initPeer})
	require.NoError(t, out.err)
	assert.Equal(t, ir.Int(1), scalarValue(t, out.ctx, "r"))
}

func TestXorCatchesOnlyCatchableErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		code   ErrorCode
	}{
		{name: "fail", script: `(xor (fail 42 "boom") (ap %last_error%.$.message r))`},
		{name: "lambda", script: `(seq (ap "s" x) (xor (ap x.$.field y) (ap "caught" r)))`},
		{name: "shadowing", script: `(xor (seq (ap 1 x) (ap 2 x)) (ap "caught" r))`, code: ShadowingIsNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, tt.script, hop{peer: initPeer})
			if tt.code != 0 {
				require.Error(t, out.err)
				assert.True(t, IsUncatchable(out.err))
				assert.Equal(t, tt.code, CodeOf(out.err))
				return
			}
			require.NoError(t, out.err)
			_, bound := out.ctx.scopes.scalar("r")
			assert.True(t, bound)
		})
	}
}

func TestFailMessageReachesLastError(t *testing.T) {
	out := run(t, `(xor (fail 42 "boom") (ap %last_error%.$.message r))`, hop{peer: initPeer})
	require.NoError(t, out.err)
	assert.Equal(t, ir.String("boom"), scalarValue(t, out.ctx, "r"))
	assert.Equal(t, int64(42), out.ctx.LastError().ErrorCode)
}

func TestUncaughtFailEscapes(t *testing.T) {
	out := run(t, `(fail 7 "boom")`, hop{peer: initPeer})
	require.Error(t, out.err)
	assert.True(t, IsCatchable(out.err))
	assert.Equal(t, UserError, CodeOf(out.err))
	assert.Equal(t, "boom", out.ctx.LastError().Message)
}

func TestMatchDoesNotTouchLastError(t *testing.T) {
	out := run(t, `(xor (match "a" "b" (null)) (ap "no" r))`, hop{peer: initPeer})
	require.NoError(t, out.err)
	assert.Equal(t, ir.String("no"), scalarValue(t, out.ctx, "r"))
	assert.False(t, out.ctx.LastError().IsSet())
}

func TestJoinEmitsNothing(t *testing.T) {
	script := `(par (call "P2" ("s" "f") [] x) (call "init" ("s" "g") [x] y))`

	out := run(t, script, hop{peer: initPeer})
	require.NoError(t, out.err)
	assert.Equal(t, trace.Trace{trace.Par{Left: 1}, trace.SentBy{Peer: initPeer}}, out.data.Inner.Trace)
	assert.Empty(t, out.ctx.CallRequests())
	assert.False(t, out.ctx.SubgraphComplete())
}

func TestNewRestrictsStream(t *testing.T) {
	out := run(t, `(new $s (seq (ap 1 $s) (canon "init" $s #c)))`, hop{peer: initPeer})
	require.NoError(t, out.err)
	assert.NotContains(t, out.data.Inner.Streams, "$s")
	require.Contains(t, out.data.Inner.RestrictedStreams, "$s")
	for _, counts := range out.data.Inner.RestrictedStreams["$s"] {
		assert.Equal(t, []uint32{1}, counts)
	}
}

func TestReplayIsStable(t *testing.T) {
	scripts := map[string]string{
		"par":        `(par (ap 1 $s) (seq (ap 2 $s) (canon "init" $s #c)))`,
		"fold":       `(seq (seq (ap 1 $s) (ap 2 $s)) (fold $s i (par (ap i $out) (next i))))`,
		"xor":        `(xor (fail 1 "x") (ap %last_error%.$.error_code r))`,
		"canon fold": `(seq (seq (ap 1 $s) (canon "init" $s #c)) (fold #c x (seq (ap x $o) (next x))))`,
		"self-feeding fold": selfFeedingFold,
	}
	for name, script := range scripts {
		t.Run(name, func(t *testing.T) {
			first := run(t, script, hop{peer: initPeer})
			require.NoError(t, first.err)
			again := run(t, script, hop{peer: initPeer, prev: first.data, current: first.data})
			require.NoError(t, again.err)
			assert.Equal(t, first.data.Inner.Trace, again.data.Inner.Trace)

			a, err := first.data.Encode()
			require.NoError(t, err)
			b, err := again.data.Encode()
			require.NoError(t, err)
			assert.Equal(t, string(a), string(b))
		})
	}
}

// selfFeedingFold appends to the stream it folds over: iterating 1 adds 2,
// which the same fold then visits.
const selfFeedingFold = `(seq (seq (ap 1 $s) (ap 0 $s)) (fold $s i (seq (ap i $out) (seq (xor (match i 1 (ap 2 $s)) (null)) (next i)))))`

func TestSelfFeedingFoldReplaysOnNextHop(t *testing.T) {
	first := run(t, selfFeedingFold, hop{peer: initPeer})
	require.NoError(t, first.err)
	assert.Equal(t, []ir.Value{ir.Int(1), ir.Int(0), ir.Int(2)}, streamValues(first.ctx, "$out"))

	tests := []struct {
		name string
		h    hop
	}{
		{"as previous data", hop{peer: initPeer, prev: first.data}},
		{"as current data", hop{peer: initPeer, current: first.data}},
		{"as both", hop{peer: initPeer, prev: first.data, current: first.data}},
		{"on another peer", hop{peer: "P2", current: first.data}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, selfFeedingFold, tt.h)
			require.NoError(t, out.err)
			assert.Equal(t, first.data.Inner.Trace, out.data.Inner.Trace)
			assert.Equal(t, []ir.Value{ir.Int(1), ir.Int(0), ir.Int(2)}, streamValues(out.ctx, "$out"))
		})
	}
}

func TestStreamFoldValueArrivesMidFold(t *testing.T) {
	// B's call inside the first iteration feeds the folded stream. The
	// initiator learns about that value only through current data.
	script := `(seq (ap 1 $s) (fold $s i (par (xor (match i 1 (call "B" ("s" "f") [] $s)) (null)) (next i))))`

	sent := run(t, script, hop{peer: initPeer})
	require.NoError(t, sent.err)
	assert.Equal(t, []string{"B"}, sent.ctx.NextPeers())

	requested := run(t, script, hop{peer: "B", current: sent.data})
	require.NoError(t, requested.err)
	require.Len(t, requested.ctx.CallRequests(), 1)

	answered := run(t, script, hop{peer: "B", prev: requested.data, results: map[uint32]CallServiceResult{1: ok(`2`)}})
	require.NoError(t, answered.err)
	assert.Equal(t, []ir.Value{ir.Int(1), ir.Int(2)}, streamValues(answered.ctx, "$s"))

	merged := run(t, script, hop{peer: initPeer, prev: sent.data, current: answered.data})
	require.NoError(t, merged.err)
	assert.Equal(t, answered.data.Inner.Trace, merged.data.Inner.Trace)
	assert.Equal(t, []ir.Value{ir.Int(1), ir.Int(2)}, streamValues(merged.ctx, "$s"))
	require.NoError(t, trace.Validate(merged.data.Inner.Trace))
}

func TestDisjointParBranchesMergeInEitherOrder(t *testing.T) {
	script := `(par (call "A" ("s" "f") [] a) (call "B" ("s" "f") [] b))`

	start := run(t, script, hop{peer: initPeer})
	require.NoError(t, start.err)
	assert.ElementsMatch(t, []string{"A", "B"}, start.ctx.NextPeers())

	branch := func(peer, result string) *outcome {
		requested := run(t, script, hop{peer: peer, current: start.data})
		require.NoError(t, requested.err)
		require.Len(t, requested.ctx.CallRequests(), 1)
		answered := run(t, script, hop{peer: peer, prev: requested.data, results: map[uint32]CallServiceResult{1: ok(result)}})
		require.NoError(t, answered.err)
		return &answered
	}
	a := branch("A", `"a"`)
	b := branch("B", `"b"`)

	ab := run(t, script, hop{peer: initPeer, prev: a.data, current: b.data})
	require.NoError(t, ab.err)
	ba := run(t, script, hop{peer: initPeer, prev: b.data, current: a.data})
	require.NoError(t, ba.err)

	assert.Equal(t, ab.data.Inner.Trace, ba.data.Inner.Trace)
	assert.Equal(t, ab.data.Inner.CIDInfo.Values.CIDs(), ba.data.Inner.CIDInfo.Values.CIDs())
	assert.Equal(t, ir.String("a"), scalarValue(t, ab.ctx, "a"))
	assert.Equal(t, ir.String("b"), scalarValue(t, ba.ctx, "b"))
	for _, st := range ab.data.Inner.Trace[1:] {
		_, isExecuted := st.(trace.Executed)
		assert.True(t, isExecuted, "both branches executed, got %s", trace.Describe(st))
	}
}

func TestProducedTracesValidate(t *testing.T) {
	script := `(seq (seq (ap 1 $s) (ap 2 $s)) (fold $s i (par (ap i $out) (next i))))`
	out := run(t, script, hop{peer: initPeer})
	require.NoError(t, out.err)
	require.NoError(t, trace.Validate(out.data.Inner.Trace))
	require.NoError(t, trace.CheckClosure(out.data.Inner.Trace, out.data.Inner.CIDInfo))
}
