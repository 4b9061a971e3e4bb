// Package merger reconciles the states two executions of the same script
// recorded for one instruction.
//
// Every Merge function reads at most one state from each side's active
// window. A state of the wrong kind, or two states that disagree, is an
// *Error; the interpreter treats all of them as uncatchable.
package merger

import (
	"fmt"

	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/keeper"
	"github.com/roach88/airvm/internal/trace"
)

// ErrorKind classifies merge failures.
type ErrorKind int

const (
	IncompatibleExecutedState ErrorKind = iota
	CallResultsMismatch
	IncompatibleCallResults
	InconsistentParState
	CanonResultsMismatch
	FoldStateCorrupted
)

var kindNames = map[ErrorKind]string{
	IncompatibleExecutedState: "incompatible executed state",
	CallResultsMismatch:       "call results mismatch",
	IncompatibleCallResults:   "incompatible call results",
	InconsistentParState:      "inconsistent par state",
	CanonResultsMismatch:      "canon results mismatch",
	FoldStateCorrupted:        "fold state corrupted",
}

func (k ErrorKind) String() string { return kindNames[k] }

// Error reports two states that cannot be reconciled.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func mergeError(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func readBoth(k *keeper.DataKeeper) (prev, cur trace.State) {
	prev, _ = k.Prev.NextState()
	cur, _ = k.Current.NextState()
	return prev, cur
}

func wrongKind(want trace.Kind, side keeper.Side, got trace.State) error {
	return mergeError(IncompatibleExecutedState, "expected %s state in %s data, found %s", want, side, trace.Describe(got))
}

// CallKind says what a merged call state asks the interpreter to do.
type CallKind int

const (
	CallNotMet CallKind = iota
	CallExecuted
	CallFailed
	CallSentBy
)

// CallResult is the merged state of one call.
type CallResult struct {
	Kind   CallKind
	State  trace.State
	Source keeper.Side
}

// MergeCall reconciles the call states of both sides. An executed or failed
// state beats a sent_by; on a tie the previous side wins.
func MergeCall(k *keeper.DataKeeper) (CallResult, error) {
	prev, cur := readBoth(k)
	if prev != nil && prev.Kind() != trace.KindCall {
		return CallResult{}, wrongKind(trace.KindCall, keeper.Previous, prev)
	}
	if cur != nil && cur.Kind() != trace.KindCall {
		return CallResult{}, wrongKind(trace.KindCall, keeper.Current, cur)
	}

	switch {
	case prev == nil && cur == nil:
		return CallResult{Kind: CallNotMet}, nil
	case cur == nil:
		return callResult(prev, keeper.Previous), nil
	case prev == nil:
		return callResult(cur, keeper.Current), nil
	}

	switch p := prev.(type) {
	case trace.Executed:
		switch c := cur.(type) {
		case trace.Executed:
			if p.Value != c.Value || p.Tetraplet != c.Tetraplet || p.ArgumentHash != c.ArgumentHash || p.Output != c.Output {
				return CallResult{}, mergeError(CallResultsMismatch, "%s != %s", trace.Describe(p), trace.Describe(c))
			}
		case trace.Failed:
			return CallResult{}, mergeError(IncompatibleCallResults, "%s in previous data, %s in current data", trace.Describe(p), trace.Describe(c))
		}
		return callResult(p, keeper.Previous), nil
	case trace.Failed:
		switch c := cur.(type) {
		case trace.Failed:
			if p != c {
				return CallResult{}, mergeError(CallResultsMismatch, "%s != %s", trace.Describe(p), trace.Describe(c))
			}
		case trace.Executed:
			return CallResult{}, mergeError(IncompatibleCallResults, "%s in previous data, %s in current data", trace.Describe(p), trace.Describe(c))
		}
		return callResult(p, keeper.Previous), nil
	}

	if _, ok := cur.(trace.SentBy); ok {
		return callResult(prev, keeper.Previous), nil
	}
	return callResult(cur, keeper.Current), nil
}

func callResult(st trace.State, side keeper.Side) CallResult {
	res := CallResult{State: st, Source: side}
	switch st.(type) {
	case trace.Executed:
		res.Kind = CallExecuted
	case trace.Failed:
		res.Kind = CallFailed
	case trace.SentBy:
		res.Kind = CallSentBy
	}
	return res
}

// ApResult is the merged state of one ap. Met is false when neither side
// recorded the ap; the value then goes to the open generation.
type ApResult struct {
	Met         bool
	Generations []uint32
	Source      keeper.Side
}

// MergeAp reconciles the ap states of both sides.
func MergeAp(k *keeper.DataKeeper) (ApResult, error) {
	prev, cur := readBoth(k)
	p, ok := prev.(trace.Ap)
	if prev != nil && !ok {
		return ApResult{}, wrongKind(trace.KindAp, keeper.Previous, prev)
	}
	c, ok := cur.(trace.Ap)
	if cur != nil && !ok {
		return ApResult{}, wrongKind(trace.KindAp, keeper.Current, cur)
	}

	switch {
	case prev != nil && cur != nil:
		if len(p.Generations) != len(c.Generations) {
			return ApResult{}, mergeError(IncompatibleExecutedState, "ap wrote %d generations in previous data, %d in current data",
				len(p.Generations), len(c.Generations))
		}
		return ApResult{Met: true, Generations: p.Generations, Source: keeper.Previous}, nil
	case prev != nil:
		return ApResult{Met: true, Generations: p.Generations, Source: keeper.Previous}, nil
	case cur != nil:
		return ApResult{Met: true, Generations: c.Generations, Source: keeper.Current}, nil
	}
	return ApResult{}, nil
}

// ParSide is the par state one side recorded, if any.
type ParSide struct {
	Met         bool
	Left, Right uint32
}

// ParResult is the merged state of one par.
type ParResult struct {
	Prev, Current ParSide
}

// MergePar reads the par state of both sides. Each side must hold a par or
// nothing at all.
func MergePar(k *keeper.DataKeeper) (ParResult, error) {
	prev, cur := readBoth(k)
	var res ParResult
	for _, s := range []struct {
		side keeper.Side
		st   trace.State
		dst  *ParSide
	}{{keeper.Previous, prev, &res.Prev}, {keeper.Current, cur, &res.Current}} {
		if s.st == nil {
			continue
		}
		par, ok := s.st.(trace.Par)
		if !ok {
			return ParResult{}, mergeError(InconsistentParState, "expected par state in %s data, found %s", s.side, trace.Describe(s.st))
		}
		*s.dst = ParSide{Met: true, Left: par.Left, Right: par.Right}
	}
	return res, nil
}

// FoldSide is the fold state one side recorded. Lore is keyed by the
// position, in that side's trace, of the state that produced each iterated
// value. Values a fold appends to its own stream are produced inside the
// fold's subtrace, so the lore is resolved per iteration, once the value's
// state has been merged.
type FoldSide struct {
	Met   bool
	Lore  map[uint32]trace.SubtraceLore
	Total uint32
}

// LoreFor returns the lore of the value merged into result position pos.
func (s FoldSide) LoreFor(ctx *keeper.MergeCtx, pos uint32) (trace.SubtraceLore, bool) {
	src, ok := ctx.SourcePos(pos)
	if !ok {
		return trace.SubtraceLore{}, false
	}
	l, ok := s.Lore[src]
	return l, ok
}

// FoldResult is the merged state of one stream fold.
type FoldResult struct {
	Prev, Current FoldSide
}

// MergeFold reads the fold state of both sides.
func MergeFold(k *keeper.DataKeeper) (FoldResult, error) {
	prev, cur := readBoth(k)
	var res FoldResult
	for _, s := range []struct {
		ctx *keeper.MergeCtx
		st  trace.State
		dst *FoldSide
	}{{k.Prev, prev, &res.Prev}, {k.Current, cur, &res.Current}} {
		if s.st == nil {
			continue
		}
		fold, ok := s.st.(trace.Fold)
		if !ok {
			return FoldResult{}, wrongKind(trace.KindFold, s.ctx.Side, s.st)
		}
		side, err := indexLore(s.ctx, fold)
		if err != nil {
			return FoldResult{}, err
		}
		*s.dst = side
	}
	return res, nil
}

func indexLore(ctx *keeper.MergeCtx, fold trace.Fold) (FoldSide, error) {
	side := FoldSide{Met: true, Lore: make(map[uint32]trace.SubtraceLore, len(fold.Lore))}
	for _, lore := range fold.Lore {
		if _, dup := side.Lore[lore.ValuePos]; dup {
			return FoldSide{}, mergeError(FoldStateCorrupted, "%s data iterates value at %d twice", ctx.Side, lore.ValuePos)
		}
		if lore.Before.End < lore.Before.Begin || lore.After.End < lore.After.Begin {
			return FoldSide{}, mergeError(FoldStateCorrupted, "%s data has a reversed subtrace for value at %d", ctx.Side, lore.ValuePos)
		}
		side.Lore[lore.ValuePos] = lore
		side.Total += lore.Before.Len() + lore.After.Len()
	}
	return side, nil
}

// CanonResult is the merged state of one canon.
type CanonResult struct {
	Met    bool
	CID    ir.CID
	Source keeper.Side
}

// MergeCanon reconciles the canon states of both sides.
func MergeCanon(k *keeper.DataKeeper) (CanonResult, error) {
	prev, cur := readBoth(k)
	p, ok := prev.(trace.Canon)
	if prev != nil && !ok {
		return CanonResult{}, wrongKind(trace.KindCanon, keeper.Previous, prev)
	}
	c, ok := cur.(trace.Canon)
	if cur != nil && !ok {
		return CanonResult{}, wrongKind(trace.KindCanon, keeper.Current, cur)
	}

	switch {
	case prev != nil && cur != nil:
		if p.CID != c.CID {
			return CanonResult{}, mergeError(CanonResultsMismatch, "%s in previous data, %s in current data", p.CID, c.CID)
		}
		return CanonResult{Met: true, CID: p.CID, Source: keeper.Previous}, nil
	case prev != nil:
		return CanonResult{Met: true, CID: p.CID, Source: keeper.Previous}, nil
	case cur != nil:
		return CanonResult{Met: true, CID: c.CID, Source: keeper.Current}, nil
	}
	return CanonResult{}, nil
}
