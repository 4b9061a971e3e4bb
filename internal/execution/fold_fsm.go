package execution

import (
	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/keeper"
	"github.com/roach88/airvm/internal/merger"
	"github.com/roach88/airvm/internal/trace"
)

// foldState is a fold being executed. Iterations nest: each next runs the
// following iteration before the current one resumes after its next.
type foldState struct {
	instr *air.Fold
	items iterable

	// recordsLore is set for folds over streams and stream maps. Their
	// iterations are laid out in a fold state; every iteration replays its
	// own before and after windows of both input traces.
	recordsLore bool
	sides       [2]foldSide
	lore        []trace.SubtraceLore

	iters []*iteration
}

type foldSide struct {
	ctx    *keeper.MergeCtx
	merged merger.FoldSide
	start  uint32
}

// iteration tracks where one iteration wrote into the result trace.
type iteration struct {
	value      ValueAggregate
	loreIdx    int
	depths     [2]int
	nextCalled bool
	begin      uint32
	beforeEnd  uint32
	afterBegin uint32
}

func (c *ExecutionCtx) execFold(i *air.Fold) error {
	items, recordsLore, err := c.newIterable(i.Iterable)
	if err != nil {
		return err
	}
	fs := &foldState{instr: i, items: items, recordsLore: recordsLore}
	empty := !items.peek()

	if !recordsLore {
		if empty {
			return c.execLast(fs)
		}
		return c.runFold(fs)
	}

	merged, err := merger.MergeFold(c.keeper)
	if err != nil {
		return FromDataError(err)
	}
	fs.lore = []trace.SubtraceLore{}
	slot := c.keeper.PushResult(trace.Fold{Lore: fs.lore})
	if err := fs.openRegion(c.keeper, merged); err != nil {
		return err
	}

	if !empty {
		err = c.runFold(fs)
	}
	c.keeper.SetResult(slot, trace.Fold{Lore: fs.lore})
	if closeErr := fs.closeRegion(); closeErr != nil && (err == nil || IsCatchable(err)) {
		return closeErr
	}
	if err != nil || !empty {
		return err
	}
	return c.execLast(fs)
}

func (c *ExecutionCtx) runFold(fs *foldState) error {
	c.folds = append(c.folds, fs)
	defer func() { c.folds = c.folds[:len(c.folds)-1] }()

	item, _ := fs.items.next()
	return c.iterate(fs, item)
}

func (c *ExecutionCtx) execLast(fs *foldState) error {
	if fs.instr.Last == nil {
		return nil
	}
	return c.execute(fs.instr.Last)
}

// iterate runs the body over one item.
func (c *ExecutionCtx) iterate(fs *foldState, item ValueAggregate) error {
	c.iterations++
	if c.iterations > c.params.IterationLimit {
		return uncatchable(IterationLimitExceeded, "folds ran more than %d iterations", c.params.IterationLimit)
	}

	it := &iteration{value: item, begin: c.keeper.ResultLen()}
	if fs.recordsLore {
		it.loreIdx = len(fs.lore)
		fs.lore = append(fs.lore, trace.SubtraceLore{ValuePos: item.TracePos})
		if err := fs.enterIteration(it); err != nil {
			return err
		}
	}

	f := newFrame("")
	f.scalars[fs.instr.Iterator] = item
	c.scopes.push(f)
	fs.iters = append(fs.iters, it)
	err := c.execute(fs.instr.Body)
	fs.iters = fs.iters[:len(fs.iters)-1]
	c.scopes.pop()

	end := c.keeper.ResultLen()
	if !it.nextCalled {
		it.beforeEnd, it.afterBegin = end, end
	}
	if fs.recordsLore {
		fs.lore[it.loreIdx] = trace.SubtraceLore{
			ValuePos: item.TracePos,
			Before:   trace.SubtraceDesc{Begin: it.begin, End: it.beforeEnd},
			After:    trace.SubtraceDesc{Begin: it.afterBegin, End: end},
		}
		fs.leaveIteration()
	}
	return err
}

// execNext runs the rest of the fold from inside the current iteration and
// then lets the iteration continue with its after window. When no item is
// left, the fold's last instruction runs instead.
func (c *ExecutionCtx) execNext(i *air.Next) error {
	fs := c.foldOf(i.Iterator)
	if fs == nil || len(fs.iters) == 0 {
		return uncatchable(FoldStateCorrupted, "next %s is not inside a running fold over %s", i.Iterator, i.Iterator)
	}
	it := fs.iters[len(fs.iters)-1]
	if it.nextCalled {
		return nil
	}
	it.nextCalled = true
	it.beforeEnd = c.keeper.ResultLen()

	item, more := fs.items.next()
	var err error
	if more {
		err = c.iterate(fs, item)
		if err != nil && !IsCatchable(err) {
			return err
		}
	}

	it.afterBegin = c.keeper.ResultLen()
	if fs.recordsLore {
		if werr := fs.afterNext(it); werr != nil {
			return werr
		}
	}
	if err != nil || more {
		return err
	}
	return c.execLast(fs)
}

func (c *ExecutionCtx) foldOf(iterator string) *foldState {
	for i := len(c.folds) - 1; i >= 0; i-- {
		if c.folds[i].instr.Iterator == iterator {
			return c.folds[i]
		}
	}
	return nil
}

// openRegion narrows both sliders to the states the fold recorded. A side
// with no fold state gets an empty region.
func (fs *foldState) openRegion(k *keeper.DataKeeper, merged merger.FoldResult) error {
	for i, s := range []struct {
		ctx  *keeper.MergeCtx
		side merger.FoldSide
	}{{k.Prev, merged.Prev}, {k.Current, merged.Current}} {
		start := s.ctx.Slider.Position()
		fs.sides[i] = foldSide{ctx: s.ctx, merged: s.side, start: start}
		for pos, l := range s.side.Lore {
			if l.Before.Begin < start || l.After.End > start+s.side.Total || l.Before.End > start+s.side.Total {
				return uncatchable(FoldStateCorrupted, "%s data iterates value %d outside the fold subtrace [%d, %d)",
					s.ctx.Side, pos, start, start+s.side.Total)
			}
		}
		if _, err := s.ctx.Slider.PushWindow(start, s.side.Total); err != nil {
			return FromDataError(err)
		}
	}
	return nil
}

func (fs *foldState) closeRegion() error {
	for _, s := range fs.sides {
		s.ctx.Slider.PopWindow()
		if !s.merged.Met {
			continue
		}
		if err := s.ctx.Slider.Seek(s.start + s.merged.Total); err != nil {
			return FromDataError(err)
		}
	}
	return nil
}

// enterIteration opens the before window each side recorded for the item.
func (fs *foldState) enterIteration(it *iteration) error {
	for i, s := range fs.sides {
		pos, n := s.ctx.Slider.Position(), uint32(0)
		if l, ok := s.merged.LoreFor(s.ctx, it.value.TracePos); ok {
			pos, n = l.Before.Begin, l.Before.Len()
		}
		depth, err := s.ctx.Slider.PushWindow(pos, n)
		if err != nil {
			return FromDataError(err)
		}
		it.depths[i] = depth
	}
	return nil
}

// afterNext swaps the iteration's before window for its after window.
// Windows opened above it, by a par around the next, stay as they are.
func (fs *foldState) afterNext(it *iteration) error {
	for i, s := range fs.sides {
		pos, n := s.ctx.Slider.Position(), uint32(0)
		if l, ok := s.merged.LoreFor(s.ctx, it.value.TracePos); ok {
			pos, n = l.After.Begin, l.After.Len()
		}
		if err := s.ctx.Slider.Rewindow(it.depths[i], pos, n); err != nil {
			return FromDataError(err)
		}
	}
	return nil
}

func (fs *foldState) leaveIteration() {
	for _, s := range fs.sides {
		s.ctx.Slider.PopWindow()
	}
}
