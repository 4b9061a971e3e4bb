package execution

import (
	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/trace"
)

// iterable feeds items to a fold.
type iterable interface {
	next() (ValueAggregate, bool)
	// peek reports whether next would return an item.
	peek() bool
	len() int
}

// sliceIterable walks a fixed list: an array scalar, a lambda result, a
// canon or a canon map.
type sliceIterable struct {
	items []ValueAggregate
	pos   int
}

func (s *sliceIterable) next() (ValueAggregate, bool) {
	if s.pos >= len(s.items) {
		return ValueAggregate{}, false
	}
	v := s.items[s.pos]
	s.pos++
	return v, true
}

func (s *sliceIterable) peek() bool { return s.pos < len(s.items) }
func (s *sliceIterable) len() int   { return len(s.items) }

// streamIterable walks a stream that may grow while the fold runs.
type streamIterable struct {
	cursor *streamCursor
}

func (s *streamIterable) next() (ValueAggregate, bool) { return s.cursor.next() }

func (s *streamIterable) peek() bool {
	for g, gen := range s.cursor.stream.values {
		seen := 0
		if g < len(s.cursor.visited) {
			seen = s.cursor.visited[g]
		}
		if seen < len(gen) {
			return true
		}
	}
	return false
}

func (s *streamIterable) len() int { return s.cursor.stream.Len() }

// newIterable builds the items of a fold. recordsLore is set for streams and
// stream maps, whose iterations depend on what each peer saw.
func (c *ExecutionCtx) newIterable(v air.Value) (it iterable, recordsLore bool, err error) {
	ref, isRef := v.(air.VarRef)
	if isRef && ref.Var.IsStreamLike() {
		if !ref.Lambda.IsEmpty() {
			return nil, false, catchable(IncompatibleIterable, "stream %s is folded with a lambda", ref.Var)
		}
		s := c.stream(ref.Var)
		s.openGeneration()
		return &streamIterable{cursor: s.cursor()}, true, nil
	}

	if isRef && (ref.Var.Kind == air.KindCanon || ref.Var.Kind == air.KindCanonMap) && ref.Lambda.IsEmpty() {
		cs, ok := c.scopes.canon(ref.Var)
		if !ok {
			return nil, false, errJoin
		}
		items := make([]ValueAggregate, len(cs.Values))
		for i, agg := range cs.Values {
			items[i] = agg
			items[i].Provenance = trace.Provenance{Kind: trace.ProvenanceCanon, CID: cs.CID}
		}
		return &sliceIterable{items: items}, false, nil
	}

	r, err := c.resolve(v)
	if err != nil {
		return nil, false, err
	}
	arr, ok := r.value.(ir.Array)
	if !ok {
		return nil, false, catchable(IncompatibleIterable, "%s resolved to %s, only arrays can be folded", v, ir.TypeName(r.value))
	}

	var pos uint32
	if isRef && ref.Var.Kind == air.KindScalar {
		if agg, ok := c.scopes.scalar(ref.Var.Name); ok {
			pos = agg.TracePos
		}
	}
	items := make([]ValueAggregate, len(arr))
	for i, elem := range arr {
		acc := air.Accessor{Kind: air.ArrayIndex, Index: uint32(i)}
		lens := acc.String()
		if r.tetraplet.Lens == "" {
			lens = air.Lambda{Accessors: []air.Accessor{acc}}.String()
		}
		items[i] = ValueAggregate{
			Value:      elem,
			Tetraplet:  r.tetraplet.WithLens(lens),
			TracePos:   pos,
			Provenance: r.provenance,
		}
	}
	return &sliceIterable{items: items}, false, nil
}
