package execution

import (
	"errors"
	"fmt"

	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/ir"
)

// execute runs one instruction. A join raised by a leaf stops here: the
// subgraph is marked incomplete and no error escapes. A catchable error is
// recorded in %last_error% and :error: by the first instruction it passes.
func (c *ExecutionCtx) execute(instr air.Instruction) error {
	var err error
	switch i := instr.(type) {
	case *air.Seq:
		err = c.execSeq(i)
	case *air.Par:
		err = c.execPar(i)
	case *air.Xor:
		err = c.execXor(i)
	case *air.Match:
		err = c.execMatch(i.Left, i.Right, i.Body, true)
	case *air.Mismatch:
		err = c.execMatch(i.Left, i.Right, i.Body, false)
	case *air.Fold:
		err = c.execFold(i)
	case *air.Next:
		err = c.execNext(i)
	case *air.New:
		err = c.execNew(i)
	case *air.Ap:
		err = c.execAp(i)
	case *air.ApMap:
		err = c.execApMap(i)
	case *air.Call:
		err = c.execCall(i)
	case *air.Canon:
		err = c.execCanon(i)
	case *air.Fail:
		err = c.execFail(i)
	case *air.Never:
		c.subgraphComplete = false
	case *air.Null:
	default:
		err = uncatchable(TraceCorrupted, "unknown instruction %T", instr)
	}
	return c.handleError(instr, err)
}

func (c *ExecutionCtx) handleError(instr air.Instruction, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errJoin) {
		c.subgraphComplete = false
		c.keeper.DiscardPending()
		c.logger.Debug("instruction joined", "instruction", instr.String())
		return nil
	}

	var ce *CatchableError
	if !errors.As(err, &ce) {
		return err
	}
	if ce.Flow {
		c.logger.Debug("flow error", "instruction", instr.String(), "code", ce.Code)
		return err
	}

	obj := ErrorObject{ErrorCode: int64(ce.Code), Message: ce.Message}
	if ce.Object != nil {
		obj = *ce.Object
	}
	if obj.Instruction == "" {
		obj.Instruction = instr.String()
	}
	if obj.PeerID == "" {
		obj.PeerID = c.params.CurrentPeerID
	}
	if c.lastError.trySet(obj, ce.Tetraplet) {
		c.errorObj.set(obj, ce.Tetraplet)
		c.logger.Debug("error recorded", "instruction", obj.Instruction, "code", obj.ErrorCode, "message", obj.Message)
	}
	return err
}

func (c *ExecutionCtx) execSeq(i *air.Seq) error {
	if err := c.execute(i.Left); err != nil {
		return err
	}
	if !c.subgraphComplete {
		return nil
	}
	return c.execute(i.Right)
}

func (c *ExecutionCtx) execXor(i *air.Xor) error {
	err := c.execute(i.Left)
	if err == nil || !IsCatchable(err) {
		return err
	}

	c.lastError.meetXorRightBranch()
	c.subgraphComplete = true
	if err := c.execute(i.Right); err != nil {
		return err
	}
	c.errorObj.clear()
	return nil
}

func (c *ExecutionCtx) execMatch(left, right air.Value, body air.Instruction, wantEqual bool) error {
	l, err := c.resolve(left)
	if err != nil {
		return err
	}
	r, err := c.resolve(right)
	if err != nil {
		return err
	}

	if ir.Equal(l.value, r.value) != wantEqual {
		code, verb := MatchValuesNotEqual, "are not equal"
		if !wantEqual {
			code, verb = MismatchValuesEqual, "are equal"
		}
		return &CatchableError{
			Code:    code,
			Message: fmt.Sprintf("values %s and %s %s", ir.ToString(l.value), ir.ToString(r.value), verb),
			Flow:    true,
		}
	}
	return c.execute(body)
}

// execNew runs the body with the target restricted to a fresh binding. A
// restricted stream starts from the generations this new recorded in the
// input data the same number of executions ago.
func (c *ExecutionCtx) execNew(i *air.New) error {
	key := i.Target.Key()
	pos := uint32(i.Position)
	if c.newCounts[key] == nil {
		c.newCounts[key] = make(map[uint32]int)
	}
	nth := c.newCounts[key][pos]
	c.newCounts[key][pos]++

	f := newFrame(key)
	if i.Target.IsStreamLike() {
		f.stream = newStream(
			c.keeper.Prev.Data.RestrictedGenerations(key, pos, nth),
			c.keeper.Current.Data.RestrictedGenerations(key, pos, nth),
		)
	}

	c.scopes.push(f)
	err := c.execute(i.Body)
	c.scopes.pop()

	if f.stream != nil {
		c.recordRestricted(key, pos, nth, f.stream.compact(c.keeper.Result))
	}
	return err
}

func (c *ExecutionCtx) recordRestricted(key string, pos uint32, nth int, gens uint32) {
	if c.restricted[key] == nil {
		c.restricted[key] = make(map[uint32][]uint32)
	}
	counts := c.restricted[key][pos]
	for len(counts) <= nth {
		counts = append(counts, 0)
	}
	counts[nth] = gens
	c.restricted[key][pos] = counts
}

// execFail raises a catchable error. Rethrowing %last_error% or :error:
// when no error is set does nothing.
func (c *ExecutionCtx) execFail(i *air.Fail) error {
	var obj ErrorObject
	tet := c.literalTetraplet()

	switch i.Kind {
	case air.FailLiteral:
		obj = ErrorObject{ErrorCode: i.Code, Message: i.Message}
	case air.FailScalar:
		r, err := c.resolve(*i.Scalar)
		if err != nil {
			return err
		}
		parsed, err := ErrorObjectFromValue(r.value)
		if err != nil {
			return catchable(InvalidErrorObject, "%s", err)
		}
		obj, tet = parsed, r.tetraplet
	case air.FailLastError:
		if !c.lastError.object.IsSet() {
			return nil
		}
		obj, tet = c.lastError.object, c.lastError.tetraplet
	case air.FailError:
		if !c.errorObj.object.IsSet() {
			return nil
		}
		obj, tet = c.errorObj.object, c.errorObj.tetraplet
	}

	return &CatchableError{
		Code:      UserError,
		Message:   fmt.Sprintf("fail with %s", ir.ToString(obj.ToValue())),
		Object:    &obj,
		Tetraplet: tet,
	}
}
