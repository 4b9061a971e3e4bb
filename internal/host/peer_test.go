package host

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm/internal/envelope"
	"github.com/roach88/airvm/internal/interpreter"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/signing"
	"github.com/roach88/airvm/internal/store"
	"github.com/roach88/airvm/internal/testutil"
	"github.com/roach88/airvm/internal/trace"
)

var quiet = slog.New(slog.DiscardHandler)

func newTestPeer(t *testing.T, keys *testutil.Keyring, name string, opts ...PeerOption) *Peer {
	t.Helper()
	r := NewRegistry()
	RegisterBuiltins(r)
	base := []PeerOption{
		WithServices(r),
		WithPeerLogger(quiet),
		WithClock(testutil.NewDeterministicClock()),
		WithParticleIDs(testutil.NewFixedParticleIDs("particle-" + name)),
	}
	return NewPeer(keys.Key(name), append(base, opts...)...)
}

func decode(t *testing.T, data []byte) *envelope.Data {
	t.Helper()
	d, err := envelope.Decode(data)
	require.NoError(t, err)
	return d
}

func TestPeer_NewParticle(t *testing.T) {
	keys := testutil.NewKeyring("alice")
	alice := newTestPeer(t, keys, "alice")

	p := alice.NewParticle("(null)")
	assert.Equal(t, "particle-alice", p.ID)
	assert.Equal(t, keys.ID("alice"), p.InitPeerID)
	assert.Equal(t, testutil.DefaultEpochMs, p.TimestampMs)
	assert.Equal(t, uint32(DefaultTTL.Milliseconds()), p.TTLMs)
	assert.Nil(t, p.Data)
}

func TestPeer_ReceiveRunsLocalCalls(t *testing.T) {
	ctx := context.Background()
	keys := testutil.NewKeyring("alice")
	alice := newTestPeer(t, keys, "alice")

	script := `(seq
		(call %init_peer_id% ("op" "identity") ["hi"] r)
		(call %init_peer_id% ("op" "array") [r "there"] r2))`
	p := alice.NewParticle(script)

	res, err := alice.Receive(ctx, p)
	require.NoError(t, err)
	require.True(t, res.Outcome.IsSuccess(), res.Outcome.ErrorMessage)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, 2, res.Calls)
	assert.Empty(t, res.Outcome.NextPeerPKs)
	assert.Empty(t, res.Outcome.CallRequests)

	d := decode(t, res.Outcome.Data)
	require.Len(t, d.Inner.Trace, 2)
	last, ok := d.Inner.Trace[1].(trace.Executed)
	require.True(t, ok, "got %T", d.Inner.Trace[1])
	value, ok := d.Inner.CIDInfo.Values.Get(last.Value)
	require.True(t, ok)
	assert.Equal(t, ir.MustParse(`["hi","there"]`), value)

	held, err := alice.Data(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Outcome.Data, held)
	require.NoError(t, signing.VerifyAll(d.Inner.Trace, d.Inner.CIDInfo, d.Inner.Signatures, p.ID))
}

func TestPeer_ReceiveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	keys := testutil.NewKeyring("alice")
	alice := newTestPeer(t, keys, "alice")
	p := alice.NewParticle(`(call %init_peer_id% ("op" "identity") [1] r)`)

	first, err := alice.Receive(ctx, p)
	require.NoError(t, err)
	again, err := alice.Receive(ctx, p.WithData(first.Outcome.Data))
	require.NoError(t, err)

	assert.Equal(t, 1, again.Rounds, "nothing left to call")
	assert.Equal(t, first.Outcome.Data, again.Outcome.Data)
}

func TestPeer_ServiceFailureIsCatchable(t *testing.T) {
	ctx := context.Background()
	keys := testutil.NewKeyring("alice")
	alice := newTestPeer(t, keys, "alice")

	script := `(xor
		(call %init_peer_id% ("missing" "f") [] r)
		(call %init_peer_id% ("op" "identity") [%last_error%.$.message] m))`
	res, err := alice.Receive(ctx, alice.NewParticle(script))
	require.NoError(t, err)
	require.True(t, res.Outcome.IsSuccess(), res.Outcome.ErrorMessage)

	d := decode(t, res.Outcome.Data)
	require.Len(t, d.Inner.Trace, 2)
	_, failed := d.Inner.Trace[0].(trace.Failed)
	assert.True(t, failed, "got %T", d.Inner.Trace[0])
}

func TestPeer_UncaughtFailureIsReported(t *testing.T) {
	ctx := context.Background()
	keys := testutil.NewKeyring("alice")
	alice := newTestPeer(t, keys, "alice")

	res, err := alice.Receive(ctx, alice.NewParticle(`(fail 42 "boom")`))
	require.NoError(t, err)
	assert.False(t, res.Outcome.IsSuccess())
	assert.Equal(t, 1, res.Rounds)
	assert.Contains(t, res.Outcome.ErrorMessage, "boom")
}

func TestPeer_MaxRounds(t *testing.T) {
	keys := testutil.NewKeyring("alice")
	alice := newTestPeer(t, keys, "alice", WithMaxRounds(1))

	_, err := alice.Receive(context.Background(), alice.NewParticle(`(call %init_peer_id% ("op" "noop") [] r)`))
	require.Error(t, err)
	assert.True(t, IsQuotaExceededError(err))
}

func TestPeer_CanceledContext(t *testing.T) {
	keys := testutil.NewKeyring("alice")
	alice := newTestPeer(t, keys, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := alice.Receive(ctx, alice.NewParticle(`(null)`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPeer_SQLiteStoreAndRecorder(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "peer.db"))
	require.NoError(t, err)
	defer s.Close()

	keys := testutil.NewKeyring("alice")
	alice := newTestPeer(t, keys, "alice", WithParticleStore(s), WithRecorder(s))
	p := alice.NewParticle(`(call %init_peer_id% ("op" "identity") ["v"] r)`)

	res, err := alice.Receive(ctx, p)
	require.NoError(t, err)
	require.True(t, res.Outcome.IsSuccess(), res.Outcome.ErrorMessage)

	held, err := s.LoadParticle(ctx, p.ID, alice.ID())
	require.NoError(t, err)
	assert.Equal(t, res.Outcome.Data, held)

	logged, err := s.ReadExecutions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Len(t, logged[0].Outcome.CallRequests, 1)
	assert.Equal(t, interpreter.CallServiceResult{Result: `"v"`}, logged[1].CallResults[1])
	assert.Equal(t, logged[0].Outcome.Data, logged[1].PrevData)

	// Every logged execution replays to the same outcome.
	it := interpreter.New()
	for _, e := range logged {
		out := it.Execute(ctx, e.Script, e.PrevData, e.CurrentData, e.Params, e.CallResults)
		assert.Equal(t, e.Outcome.Data, out.Data, fmt.Sprintf("seq %d", e.Seq))
	}
}
