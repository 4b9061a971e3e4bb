package trace

import (
	"encoding/json"
	"fmt"
)

// Trace is the ordered list of executed states of one script run.
type Trace []State

type wireState struct {
	Call  *wireCall `json:"call,omitempty"`
	Ap    *Ap       `json:"ap,omitempty"`
	Par   *Par      `json:"par,omitempty"`
	Fold  *Fold     `json:"fold,omitempty"`
	Canon *Canon    `json:"canon,omitempty"`
}

type wireCall struct {
	Executed *Executed `json:"executed,omitempty"`
	Failed   *Failed   `json:"failed,omitempty"`
	SentBy   *SentBy   `json:"sent_by,omitempty"`
}

// MarshalJSON implements json.Marshaler for Trace.
func (t Trace) MarshalJSON() ([]byte, error) {
	out := make([]wireState, len(t))
	for i, s := range t {
		switch st := s.(type) {
		case Executed:
			out[i].Call = &wireCall{Executed: &st}
		case Failed:
			out[i].Call = &wireCall{Failed: &st}
		case SentBy:
			out[i].Call = &wireCall{SentBy: &st}
		case Ap:
			if st.Generations == nil {
				st.Generations = []uint32{}
			}
			out[i].Ap = &st
		case Par:
			out[i].Par = &st
		case Fold:
			if st.Lore == nil {
				st.Lore = []SubtraceLore{}
			}
			out[i].Fold = &st
		case Canon:
			out[i].Canon = &st
		default:
			return nil, fmt.Errorf("trace[%d]: unknown state %T", i, s)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler for Trace.
// Every element must carry exactly one state.
func (t *Trace) UnmarshalJSON(data []byte) error {
	var raw []wireState
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	states := make(Trace, len(raw))
	for i, w := range raw {
		var found []State
		if w.Call != nil {
			c := w.Call
			if c.Executed != nil {
				found = append(found, *c.Executed)
			}
			if c.Failed != nil {
				found = append(found, *c.Failed)
			}
			if c.SentBy != nil {
				found = append(found, *c.SentBy)
			}
		}
		if w.Ap != nil {
			found = append(found, *w.Ap)
		}
		if w.Par != nil {
			found = append(found, *w.Par)
		}
		if w.Fold != nil {
			found = append(found, *w.Fold)
		}
		if w.Canon != nil {
			found = append(found, *w.Canon)
		}
		if len(found) != 1 {
			return fmt.Errorf("trace[%d]: expected exactly one state, found %d", i, len(found))
		}
		states[i] = found[0]
	}
	*t = states
	return nil
}

// Len returns the trace length as a position.
func (t Trace) Len() uint32 {
	return uint32(len(t))
}
