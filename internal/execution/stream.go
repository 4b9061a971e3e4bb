package execution

import (
	"github.com/roach88/airvm/internal/keeper"
	"github.com/roach88/airvm/internal/trace"
)

// Generation selects where a stream append lands: the open generation, or
// a generation recorded by one of the input traces.
type Generation struct {
	Last   bool
	Source keeper.Side
	N      uint32
}

// LastGeneration is the open generation of the current execution.
func LastGeneration() Generation {
	return Generation{Last: true}
}

// NthGeneration is generation n as numbered by the given input side.
func NthGeneration(side keeper.Side, n uint32) Generation {
	return Generation{Source: side, N: n}
}

// Stream is an append-only sequence partitioned into generations. The first
// prevGens generations come from previous data, the next curGens from
// current data, and the rest are opened by this execution.
type Stream struct {
	values   [][]ValueAggregate
	prevGens uint32
	curGens  uint32
}

func newStream(prevGens, curGens uint32) *Stream {
	return &Stream{
		values:   make([][]ValueAggregate, prevGens+curGens+1),
		prevGens: prevGens,
		curGens:  curGens,
	}
}

// Add appends v to the generation g resolves to and returns its index.
func (s *Stream) Add(v ValueAggregate, g Generation) (uint32, error) {
	idx, err := s.resolve(g)
	if err != nil {
		return 0, err
	}
	s.values[idx] = append(s.values[idx], v)
	return idx, nil
}

func (s *Stream) resolve(g Generation) (uint32, error) {
	switch {
	case g.Last:
		return uint32(len(s.values) - 1), nil
	case g.Source == keeper.Previous && g.N < s.prevGens:
		return g.N, nil
	case g.Source == keeper.Current && g.N < s.curGens:
		return s.prevGens + g.N, nil
	}
	limit := s.prevGens
	if g.Source == keeper.Current {
		limit = s.curGens
	}
	return 0, uncatchable(StreamGenerationOutOfBounds, "generation %d of %s data is out of bounds, it has %d", g.N, g.Source, limit)
}

// openGeneration starts a fresh generation unless the open one is empty.
func (s *Stream) openGeneration() {
	if len(s.values[len(s.values)-1]) > 0 {
		s.values = append(s.values, nil)
	}
}

// Values returns every value, generation by generation.
func (s *Stream) Values() []ValueAggregate {
	var all []ValueAggregate
	for _, gen := range s.values {
		all = append(all, gen...)
	}
	return all
}

// Len returns the number of values.
func (s *Stream) Len() int {
	n := 0
	for _, gen := range s.values {
		n += len(gen)
	}
	return n
}

// compact drops empty generations and rewrites the generation recorded in
// result for every value. It returns the number of generations left.
func (s *Stream) compact(result trace.Trace) uint32 {
	kept := s.values[:0]
	for _, gen := range s.values {
		if len(gen) == 0 {
			continue
		}
		idx := uint32(len(kept))
		for _, v := range gen {
			if int(v.TracePos) >= len(result) {
				continue
			}
			switch st := result[v.TracePos].(type) {
			case trace.Ap:
				result[v.TracePos] = trace.Ap{Generations: []uint32{idx}}
			case trace.Executed:
				st.Generation = idx
				result[v.TracePos] = st
			}
		}
		kept = append(kept, gen)
	}
	s.values = kept
	return uint32(len(kept))
}

// streamCursor walks a stream while it grows. Values appended to any
// generation after the cursor was created are still visited, generation
// by generation.
type streamCursor struct {
	stream  *Stream
	visited []int
}

func (s *Stream) cursor() *streamCursor {
	return &streamCursor{stream: s}
}

func (c *streamCursor) next() (ValueAggregate, bool) {
	for g, gen := range c.stream.values {
		if g >= len(c.visited) {
			c.visited = append(c.visited, 0)
		}
		if c.visited[g] < len(gen) {
			v := gen[c.visited[g]]
			c.visited[g]++
			return v, true
		}
	}
	return ValueAggregate{}, false
}
