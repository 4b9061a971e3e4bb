package execution

import (
	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/merger"
	"github.com/roach88/airvm/internal/trace"
)

// execAp binds a scalar or appends to a stream. The operand is resolved
// before the merger is consulted, so an ap that joins leaves both input
// sliders untouched.
func (c *ExecutionCtx) execAp(i *air.Ap) error {
	src, err := c.resolve(i.Arg)
	if err != nil {
		return err
	}
	merged, err := merger.MergeAp(c.keeper)
	if err != nil {
		return FromDataError(err)
	}

	agg := ValueAggregate{
		Value:      src.value,
		Tetraplet:  src.tetraplet,
		TracePos:   c.keeper.ResultLen(),
		Provenance: src.provenance,
	}

	switch i.Result.Kind {
	case air.KindStream, air.KindStreamMap:
		return c.appendToStream(i.Result, agg, merged)
	case air.KindScalar:
		if err := c.scopes.setScalar(i.Result.Name, agg); err != nil {
			return err
		}
		c.keeper.PushResult(trace.Ap{Generations: []uint32{}})
		return nil
	}
	return uncatchable(TraceCorrupted, "ap cannot write into %s", i.Result)
}

// execApMap inserts a {"key", "value"} entry into a stream map.
func (c *ExecutionCtx) execApMap(i *air.ApMap) error {
	key, err := c.resolve(i.Key)
	if err != nil {
		return err
	}
	if !validMapKey(key.value) {
		return catchable(StreamMapKeyError, "stream map key must be a string or a non-negative integer, got %s", ir.ToString(key.value))
	}
	src, err := c.resolve(i.Arg)
	if err != nil {
		return err
	}
	merged, err := merger.MergeAp(c.keeper)
	if err != nil {
		return FromDataError(err)
	}

	agg := ValueAggregate{
		Value:      newMapEntry(key.value, src.value),
		Tetraplet:  src.tetraplet,
		TracePos:   c.keeper.ResultLen(),
		Provenance: src.provenance,
	}
	return c.appendToStream(i.Map, agg, merged)
}

func (c *ExecutionCtx) appendToStream(v air.Variable, agg ValueAggregate, merged merger.ApResult) error {
	gen := LastGeneration()
	if merged.Met && len(merged.Generations) > 0 {
		gen = NthGeneration(merged.Source, merged.Generations[0])
	}
	idx, err := c.stream(v).Add(agg, gen)
	if err != nil {
		return err
	}
	c.keeper.PushResult(trace.Ap{Generations: []uint32{idx}})
	return nil
}
