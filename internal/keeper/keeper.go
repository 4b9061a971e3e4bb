// Package keeper holds the merge substrate of one execution: a slider over
// each input trace and the result trace being produced.
package keeper

import (
	"github.com/roach88/airvm/internal/envelope"
	"github.com/roach88/airvm/internal/trace"
)

// Side selects one of the two input traces.
type Side int

const (
	Previous Side = iota
	Current
)

func (s Side) String() string {
	if s == Previous {
		return "previous"
	}
	return "current"
}

// MergeCtx is one input side: its data, a slider over its trace and the
// mapping from its trace positions to result positions.
type MergeCtx struct {
	Side   Side
	Data   *envelope.Data
	Slider *TraceSlider

	resultPos map[uint32]uint32
	sourcePos map[uint32]uint32
	pending   *uint32
}

func newMergeCtx(side Side, data *envelope.Data) *MergeCtx {
	return &MergeCtx{
		Side:      side,
		Data:      data,
		Slider:    NewTraceSlider(data.Inner.Trace),
		resultPos: make(map[uint32]uint32),
		sourcePos: make(map[uint32]uint32),
	}
}

// CIDInfo returns the side's CID stores.
func (m *MergeCtx) CIDInfo() *trace.CIDInfo {
	return m.Data.Inner.CIDInfo
}

// NextState reads the next state of the side's active window.
func (m *MergeCtx) NextState() (trace.State, bool) {
	st, pos, ok := m.Slider.NextState()
	if !ok {
		m.pending = nil
		return nil, false
	}
	m.pending = &pos
	return st, true
}

// ResultPos maps a position of this side's trace to the result position the
// state was merged into.
func (m *MergeCtx) ResultPos(pos uint32) (uint32, bool) {
	r, ok := m.resultPos[pos]
	return r, ok
}

// SourcePos maps a result position back to the position of the state of
// this side that was merged into it.
func (m *MergeCtx) SourcePos(pos uint32) (uint32, bool) {
	s, ok := m.sourcePos[pos]
	return s, ok
}

// DataKeeper drives both sliders and accumulates the result trace.
type DataKeeper struct {
	Prev    *MergeCtx
	Current *MergeCtx
	Result  trace.Trace
}

// New builds a keeper over two decoded envelopes.
func New(prev, current *envelope.Data) *DataKeeper {
	return &DataKeeper{
		Prev:    newMergeCtx(Previous, prev),
		Current: newMergeCtx(Current, current),
		Result:  trace.Trace{},
	}
}

// Ctx returns the merge context of a side.
func (k *DataKeeper) Ctx(side Side) *MergeCtx {
	if side == Previous {
		return k.Prev
	}
	return k.Current
}

// ResultLen returns the number of states produced so far.
func (k *DataKeeper) ResultLen() uint32 {
	return uint32(len(k.Result))
}

// PushResult appends st and returns its position. The states last read from
// either side are mapped to that position.
func (k *DataKeeper) PushResult(st trace.State) uint32 {
	pos := uint32(len(k.Result))
	k.Result = append(k.Result, st)
	k.flush(pos)
	return pos
}

// SetResult overwrites a state reserved earlier with PushResult.
func (k *DataKeeper) SetResult(pos uint32, st trace.State) {
	k.Result[pos] = st
}

// DiscardPending forgets the states last read without producing a result
// for them.
func (k *DataKeeper) DiscardPending() {
	k.Prev.pending = nil
	k.Current.pending = nil
}

func (k *DataKeeper) flush(pos uint32) {
	for _, m := range []*MergeCtx{k.Prev, k.Current} {
		if m.pending != nil {
			m.resultPos[*m.pending] = pos
			m.sourcePos[pos] = *m.pending
			m.pending = nil
		}
	}
}
