package trace

import (
	"fmt"

	"github.com/roach88/airvm/internal/ir"
)

// Kind names the instruction family an executed state belongs to.
type Kind string

const (
	KindCall  Kind = "call"
	KindAp    Kind = "ap"
	KindPar   Kind = "par"
	KindFold  Kind = "fold"
	KindCanon Kind = "canon"
)

// State is a sealed interface over executed states.
// Executed, Failed and SentBy are the three call states.
type State interface {
	Kind() Kind
	state() // Sealed
}

// OutputKind records where a call result went.
type OutputKind string

const (
	OutputScalar OutputKind = "scalar"
	OutputStream OutputKind = "stream"
	OutputUnused OutputKind = "unused"
)

// Executed is a call that returned a value.
// Generation is meaningful only for stream output.
type Executed struct {
	Value        ir.CID     `json:"value"`
	Tetraplet    ir.CID     `json:"tetraplet"`
	ArgumentHash ir.CID     `json:"argument_hash"`
	Output       OutputKind `json:"output"`
	Generation   uint32     `json:"generation"`
}

// Failed is a call whose service returned a non-zero code.
type Failed struct {
	RetCode   int32  `json:"ret_code"`
	Message   ir.CID `json:"message"`
	Tetraplet ir.CID `json:"tetraplet"`
}

// SentBy is a call that was handed off by Peer. CallID is set when Peer
// is the call's target and asked its host to run it.
type SentBy struct {
	Peer   string  `json:"peer"`
	CallID *uint32 `json:"call_id,omitempty"`
}

// Ap records the generations an ap wrote into; empty for scalar targets.
type Ap struct {
	Generations []uint32 `json:"gens"`
}

// Par records how many states each branch produced.
type Par struct {
	Left  uint32 `json:"left"`
	Right uint32 `json:"right"`
}

// Fold records one lore entry per iteration over a stream or stream map.
type Fold struct {
	Lore []SubtraceLore `json:"lore"`
}

// SubtraceLore locates one iteration: the value it iterated and the states it
// produced before its next and after the next returned.
type SubtraceLore struct {
	ValuePos uint32       `json:"value_pos"`
	Before   SubtraceDesc `json:"before"`
	After    SubtraceDesc `json:"after"`
}

// SubtraceDesc is the half-open position range [Begin, End).
type SubtraceDesc struct {
	Begin uint32 `json:"begin"`
	End   uint32 `json:"end"`
}

// Len returns the number of states in the range.
func (d SubtraceDesc) Len() uint32 {
	return d.End - d.Begin
}

// Canon references a canon result in the canon store.
type Canon struct {
	CID ir.CID `json:"cid"`
}

func (Executed) Kind() Kind { return KindCall }
func (Failed) Kind() Kind   { return KindCall }
func (SentBy) Kind() Kind   { return KindCall }
func (Ap) Kind() Kind       { return KindAp }
func (Par) Kind() Kind      { return KindPar }
func (Fold) Kind() Kind     { return KindFold }
func (Canon) Kind() Kind    { return KindCanon }

func (Executed) state() {}
func (Failed) state()   {}
func (SentBy) state()   {}
func (Ap) state()       {}
func (Par) state()      {}
func (Fold) state()     {}
func (Canon) state()    {}

// Describe renders a state for logs and diffs.
func Describe(s State) string {
	switch st := s.(type) {
	case Executed:
		if st.Output == OutputStream {
			return fmt.Sprintf("call executed %s (stream gen %d)", st.Value, st.Generation)
		}
		return fmt.Sprintf("call executed %s (%s)", st.Value, st.Output)
	case Failed:
		return fmt.Sprintf("call failed ret_code=%d %s", st.RetCode, st.Message)
	case SentBy:
		if st.CallID != nil {
			return fmt.Sprintf("call sent_by %q call_id=%d", st.Peer, *st.CallID)
		}
		return fmt.Sprintf("call sent_by %q", st.Peer)
	case Ap:
		return fmt.Sprintf("ap %v", st.Generations)
	case Par:
		return fmt.Sprintf("par(%d, %d)", st.Left, st.Right)
	case Fold:
		return fmt.Sprintf("fold lore=%d", len(st.Lore))
	case Canon:
		return fmt.Sprintf("canon %s", st.CID)
	}
	return fmt.Sprintf("%T", s)
}

// CallID returns a pointer to id, for building SentBy states.
func CallID(id uint32) *uint32 {
	return &id
}
