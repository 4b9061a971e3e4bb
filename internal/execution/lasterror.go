package execution

import (
	"fmt"

	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/trace"
)

// ErrorObject is the value of %last_error% and :error:.
type ErrorObject struct {
	ErrorCode   int64
	Message     string
	Instruction string
	PeerID      string
}

// IsSet reports whether the object describes an error.
func (e ErrorObject) IsSet() bool {
	return e.ErrorCode != 0
}

// ToValue renders the object as JSON.
func (e ErrorObject) ToValue() ir.Value {
	return ir.NewObject(
		ir.O("error_code", ir.Int(e.ErrorCode)),
		ir.O("message", ir.String(e.Message)),
		ir.O("instruction", ir.String(e.Instruction)),
		ir.O("peer_id", ir.String(e.PeerID)),
	)
}

// ErrorObjectFromValue reads an error object raised by fail. error_code must
// be a non-zero integer and message a string; the other fields are optional.
func ErrorObjectFromValue(v ir.Value) (ErrorObject, error) {
	obj, ok := v.(*ir.Object)
	if !ok {
		return ErrorObject{}, fmt.Errorf("error object must be an object, got %s", ir.TypeName(v))
	}
	code, ok := obj.Get("error_code")
	if !ok {
		return ErrorObject{}, fmt.Errorf("error object is missing error_code")
	}
	n, ok := code.(ir.Int)
	if !ok || n == 0 {
		return ErrorObject{}, fmt.Errorf("error_code must be a non-zero integer, got %s", ir.ToString(code))
	}
	msg, ok := obj.Get("message")
	if !ok {
		return ErrorObject{}, fmt.Errorf("error object is missing message")
	}
	s, ok := msg.(ir.String)
	if !ok {
		return ErrorObject{}, fmt.Errorf("message must be a string, got %s", ir.TypeName(msg))
	}

	res := ErrorObject{ErrorCode: int64(n), Message: string(s)}
	if instr, ok := obj.Get("instruction"); ok {
		if is, isStr := instr.(ir.String); isStr {
			res.Instruction = string(is)
		}
	}
	if peer, ok := obj.Get("peer_id"); ok {
		if ps, isStr := peer.(ir.String); isStr {
			res.PeerID = string(ps)
		}
	}
	return res, nil
}

// errorDescriptor holds one error object and the tetraplet of the value
// that caused it, if any.
type errorDescriptor struct {
	object    ErrorObject
	tetraplet *trace.Tetraplet
}

// lastErrorDescriptor is %last_error%. Once set it stays locked until an
// xor enters its right branch or a par succeeds, so the error that reaches a
// handler is the one raised at the failing leaf.
type lastErrorDescriptor struct {
	errorDescriptor
	locked bool
}

func (d *lastErrorDescriptor) trySet(obj ErrorObject, tet *trace.Tetraplet) bool {
	if d.locked {
		return false
	}
	d.object = obj
	d.tetraplet = tet
	d.locked = true
	return true
}

func (d *lastErrorDescriptor) meetXorRightBranch() { d.locked = false }

func (d *lastErrorDescriptor) meetParSuccessEnd() { d.locked = false }

func (d *errorDescriptor) set(obj ErrorObject, tet *trace.Tetraplet) {
	d.object = obj
	d.tetraplet = tet
}

func (d *errorDescriptor) clear() {
	*d = errorDescriptor{}
}
