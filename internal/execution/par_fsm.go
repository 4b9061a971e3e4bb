package execution

import (
	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/keeper"
	"github.com/roach88/airvm/internal/merger"
	"github.com/roach88/airvm/internal/trace"
)

// parSides holds, per input side, where the subtraces of one par start and
// how they split into the left and right branch.
type parSides struct {
	sides [2]parSide
}

type parSide struct {
	ctx   *keeper.MergeCtx
	met   bool
	start uint32
	left  uint32
	right uint32
}

func newParSides(k *keeper.DataKeeper, merged merger.ParResult) *parSides {
	ps := &parSides{}
	for i, s := range []struct {
		ctx  *keeper.MergeCtx
		side merger.ParSide
	}{{k.Prev, merged.Prev}, {k.Current, merged.Current}} {
		ps.sides[i] = parSide{
			ctx:   s.ctx,
			met:   s.side.Met,
			start: s.ctx.Slider.Position(),
			left:  s.side.Left,
			right: s.side.Right,
		}
	}
	return ps
}

// enter narrows every slider to one branch. A side that recorded no par
// gets an empty window.
func (ps *parSides) enter(right bool) error {
	for _, s := range ps.sides {
		pos, n := s.ctx.Slider.Position(), uint32(0)
		if s.met {
			pos, n = s.start, s.left
			if right {
				pos, n = s.start+s.left, s.right
			}
		}
		if _, err := s.ctx.Slider.PushWindow(pos, n); err != nil {
			return FromDataError(err)
		}
	}
	return nil
}

// leave restores the enclosing windows. Once the right branch is done the
// sliders continue right after the par's subtraces.
func (ps *parSides) leave(right bool) error {
	for _, s := range ps.sides {
		s.ctx.Slider.PopWindow()
		if !right || !s.met {
			continue
		}
		if err := s.ctx.Slider.Seek(s.start + s.left + s.right); err != nil {
			return FromDataError(err)
		}
	}
	return nil
}

// execPar runs both branches, left then right, each over its own subtrace.
// The par completes when either branch does, and fails only when both fail.
func (c *ExecutionCtx) execPar(i *air.Par) error {
	merged, err := merger.MergePar(c.keeper)
	if err != nil {
		return FromDataError(err)
	}
	slot := c.keeper.PushResult(trace.Par{})
	ps := newParSides(c.keeper, merged)

	leftStart := c.keeper.ResultLen()
	leftComplete, leftErr := c.execParBranch(ps, i.Left, false)
	leftLen := c.keeper.ResultLen() - leftStart
	if leftErr != nil && !IsCatchable(leftErr) {
		c.keeper.SetResult(slot, trace.Par{Left: leftLen})
		return leftErr
	}

	rightStart := c.keeper.ResultLen()
	rightComplete, rightErr := c.execParBranch(ps, i.Right, true)
	c.keeper.SetResult(slot, trace.Par{Left: leftLen, Right: c.keeper.ResultLen() - rightStart})
	if rightErr != nil && !IsCatchable(rightErr) {
		return rightErr
	}

	c.subgraphComplete = leftComplete || rightComplete
	if leftErr != nil && rightErr != nil {
		return leftErr
	}
	if leftErr != nil || rightErr != nil {
		c.lastError.meetParSuccessEnd()
	}
	return nil
}

// execParBranch runs one branch and reports whether it completed. A branch
// that failed did not complete.
func (c *ExecutionCtx) execParBranch(ps *parSides, branch air.Instruction, right bool) (bool, error) {
	if err := ps.enter(right); err != nil {
		return false, err
	}
	c.subgraphComplete = true
	err := c.execute(branch)
	complete := c.subgraphComplete && err == nil
	if leaveErr := ps.leave(right); leaveErr != nil && (err == nil || IsCatchable(err)) {
		return false, leaveErr
	}
	return complete, err
}
