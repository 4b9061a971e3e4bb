package trace

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm/internal/ir"
)

func TestStorePutIsContentAddressed(t *testing.T) {
	s := NewValueStore()

	c1, err := s.Put(ir.MustParse(`{"b":1,"a":2}`))
	require.NoError(t, err)
	c2, err := s.Put(ir.MustParse(`{"a":2,"b":1}`))
	require.NoError(t, err)

	assert.Equal(t, c1, c2)
	assert.Equal(t, 1, s.Len())
	assert.NoError(t, s.Verify())
}

func TestCIDInfoRoundTrip(t *testing.T) {
	info := NewCIDInfo()
	valueCID, err := info.Values.Put(ir.String("<ok & fine>"))
	require.NoError(t, err)
	tetCID, err := info.Tetraplets.Put(Tetraplet{PeerPK: "peer", ServiceID: "s", FunctionName: "f"})
	require.NoError(t, err)
	canonCID, err := info.Canons.Put(CanonResult{
		Tetraplet: tetCID,
		Values: []CanonValue{{
			Value:      valueCID,
			Tetraplet:  tetCID,
			Provenance: Provenance{Kind: ProvenanceServiceResult, CID: valueCID},
		}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	require.NoError(t, enc.Encode(info))
	data := buf.Bytes()
	assert.Contains(t, string(data), "<ok & fine>", "stored values are not HTML escaped")
	assert.Contains(t, string(data), `"codec":"json"`)

	var back CIDInfo
	require.NoError(t, json.Unmarshal(data, &back))
	require.NoError(t, back.Verify())

	res, ok := back.Canons.Get(canonCID)
	require.True(t, ok)
	assert.Equal(t, valueCID, res.Values[0].Value)
	assert.Equal(t, ProvenanceServiceResult, res.Values[0].Provenance.Kind)

	tet, ok := back.Tetraplets.Get(tetCID)
	require.True(t, ok)
	assert.Equal(t, "peer", tet.PeerPK)
}

func TestCIDInfoVerifyDetectsTampering(t *testing.T) {
	good := ir.MustCID(ir.String("ok"))
	data := `{"value_store":{"` + string(good) + `":"tampered"},"tetraplet_store":{},"canon_store":{}}`

	var info CIDInfo
	require.NoError(t, json.Unmarshal([]byte(data), &info))

	err := info.Verify()
	require.Error(t, err)
	var mismatch *CIDMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, ValueStoreName, mismatch.Store)
	assert.Equal(t, good, mismatch.Claimed)
}

func TestCIDInfoRejectsUnknownCodec(t *testing.T) {
	var info CIDInfo
	err := json.Unmarshal([]byte(`{"codec":"cbor"}`), &info)
	require.Error(t, err)
}

func TestCheckClosure(t *testing.T) {
	info := NewCIDInfo()
	valueCID, err := info.Values.Put(ir.Int(1))
	require.NoError(t, err)
	tetCID, err := info.Tetraplets.Put(Tetraplet{PeerPK: "p"})
	require.NoError(t, err)

	tr := Trace{Executed{Value: valueCID, Tetraplet: tetCID, Output: OutputScalar}}
	require.NoError(t, CheckClosure(tr, info))

	tr = append(tr, Canon{CID: "bagaaieramissing"})
	err = CheckClosure(tr, info)
	var notFound *CIDNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, CanonStoreName, notFound.Store)

	_, err = info.Canons.Put(CanonResult{Tetraplet: tetCID, Values: []CanonValue{{Value: "missing", Tetraplet: tetCID, Provenance: Provenance{Kind: ProvenanceLiteral}}}})
	require.NoError(t, err)
	err = CheckClosure(Trace{}, info)
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, ValueStoreName, notFound.Store)
}

func TestTetrapletWithLens(t *testing.T) {
	base := &Tetraplet{PeerPK: "p", ServiceID: "s", FunctionName: "f", Lens: ".$.a"}

	derived := base.WithLens(".$.[0]")
	assert.Equal(t, ".$.a.$.[0]", derived.Lens)
	assert.Equal(t, ".$.a", base.Lens, "the original is not modified")
	assert.Same(t, base, base.WithLens(""))
}
