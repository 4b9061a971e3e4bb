package execution

import (
	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/merger"
	"github.com/roach88/airvm/internal/trace"
)

// execCanon binds a snapshot of a stream. A canon recorded by either side
// is reused as is; otherwise only the canon's peer may take it, and every
// other peer waits for it.
func (c *ExecutionCtx) execCanon(i *air.Canon) error {
	peer, err := c.resolveString(i.Peer, "canon peer")
	if err != nil {
		return err
	}
	merged, err := merger.MergeCanon(c.keeper)
	if err != nil {
		return FromDataError(err)
	}

	if merged.Met {
		return c.replayCanon(i, peer, merged)
	}
	if peer != c.params.CurrentPeerID {
		c.addNextPeer(peer)
		return errJoin
	}
	return c.snapshotCanon(i, peer)
}

func (c *ExecutionCtx) replayCanon(i *air.Canon, peer string, merged merger.CanonResult) error {
	src := c.keeper.Ctx(merged.Source).CIDInfo()
	res, err := src.Canons.MustGet(merged.CID)
	if err != nil {
		return FromDataError(err)
	}
	tet, err := src.Tetraplets.MustGet(res.Tetraplet)
	if err != nil {
		return FromDataError(err)
	}
	if tet.PeerPK != peer {
		return uncatchable(CanonResultsMismatch, "canon %s was taken on %q, the instruction names %q", merged.CID, tet.PeerPK, peer)
	}

	pos := c.keeper.ResultLen()
	cs := &CanonStream{Tetraplet: &tet, CID: merged.CID, IsMap: i.Target.Kind == air.KindCanonMap}
	for _, cv := range res.Values {
		value, err := src.Values.MustGet(cv.Value)
		if err != nil {
			return FromDataError(err)
		}
		vt, err := src.Tetraplets.MustGet(cv.Tetraplet)
		if err != nil {
			return FromDataError(err)
		}
		c.stores.Values.PutWithCID(cv.Value, value)
		c.stores.Tetraplets.PutWithCID(cv.Tetraplet, vt)
		cs.Values = append(cs.Values, ValueAggregate{Value: value, Tetraplet: &vt, TracePos: pos, Provenance: cv.Provenance})
	}
	c.stores.Tetraplets.PutWithCID(res.Tetraplet, tet)
	c.stores.Canons.PutWithCID(merged.CID, res)

	if err := c.scopes.setCanon(i.Target, cs); err != nil {
		return err
	}
	c.keeper.PushResult(trace.Canon{CID: merged.CID})
	return nil
}

func (c *ExecutionCtx) snapshotCanon(i *air.Canon, peer string) error {
	tet := trace.Tetraplet{PeerPK: peer}
	tetCID, err := c.stores.Tetraplets.Put(tet)
	if err != nil {
		return FromDataError(err)
	}

	pos := c.keeper.ResultLen()
	res := trace.CanonResult{Tetraplet: tetCID}
	cs := &CanonStream{Tetraplet: &tet, IsMap: i.Target.Kind == air.KindCanonMap}
	for _, v := range c.stream(i.Source).Values() {
		vcid, err := c.stores.Values.Put(v.Value)
		if err != nil {
			return FromDataError(err)
		}
		vtcid, err := c.stores.Tetraplets.Put(*v.Tetraplet)
		if err != nil {
			return FromDataError(err)
		}
		res.Values = append(res.Values, trace.CanonValue{Value: vcid, Tetraplet: vtcid, Provenance: v.Provenance})
		cs.Values = append(cs.Values, ValueAggregate{Value: v.Value, Tetraplet: v.Tetraplet, TracePos: pos, Provenance: v.Provenance})
	}

	var cid ir.CID
	if cid, err = c.stores.Canons.Put(res); err != nil {
		return FromDataError(err)
	}
	cs.CID = cid

	if err := c.scopes.setCanon(i.Target, cs); err != nil {
		return err
	}
	c.keeper.PushResult(trace.Canon{CID: cid})
	return nil
}
