package trace

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/airvm/internal/ir"
)

func TestTraceWireForm(t *testing.T) {
	value := ir.MustCID(ir.String("ok"))
	tr := Trace{
		Par{Left: 1, Right: 1},
		Executed{Value: value, Tetraplet: "t", ArgumentHash: "h", Output: OutputScalar},
		SentBy{Peer: "local"},
		SentBy{Peer: "local", CallID: CallID(3)},
		Failed{RetCode: 1, Message: "m", Tetraplet: "t"},
		Ap{},
		Fold{},
		Canon{CID: "c"},
	}

	data, err := json.Marshal(tr)
	require.NoError(t, err)

	expected := `[` +
		`{"par":{"left":1,"right":1}},` +
		`{"call":{"executed":{"value":"` + string(value) + `","tetraplet":"t","argument_hash":"h","output":"scalar","generation":0}}},` +
		`{"call":{"sent_by":{"peer":"local"}}},` +
		`{"call":{"sent_by":{"peer":"local","call_id":3}}},` +
		`{"call":{"failed":{"ret_code":1,"message":"m","tetraplet":"t"}}},` +
		`{"ap":{"gens":[]}},` +
		`{"fold":{"lore":[]}},` +
		`{"canon":{"cid":"c"}}` +
		`]`
	assert.JSONEq(t, expected, string(data))

	var back Trace
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, len(tr))
	assert.Equal(t, tr[1], back[1])
	assert.Equal(t, tr[3], back[3])
	assert.Equal(t, Ap{Generations: []uint32{}}, back[5])
}

func TestTraceUnmarshalRejectsAmbiguousStates(t *testing.T) {
	tests := []string{
		`[{}]`,
		`[{"par":{"left":0,"right":0},"ap":{"gens":[]}}]`,
		`[{"call":{}}]`,
		`[{"call":{"sent_by":{"peer":"a"},"failed":{"ret_code":1}}}]`,
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			var tr Trace
			err := json.Unmarshal([]byte(input), &tr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "exactly one state")
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		trace Trace
		err   string
	}{
		{
			name:  "par covers following states",
			trace: Trace{Par{Left: 1, Right: 1}, Ap{}, Ap{}},
		},
		{
			name:  "par overflows",
			trace: Trace{Par{Left: 1, Right: 2}, Ap{}, Ap{}},
			err:   "overflows",
		},
		{
			name: "nested fold lore",
			trace: Trace{
				Ap{Generations: []uint32{0}},
				Ap{Generations: []uint32{0}},
				Fold{Lore: []SubtraceLore{
					{ValuePos: 0, Before: SubtraceDesc{Begin: 3, End: 4}, After: SubtraceDesc{Begin: 5, End: 6}},
					{ValuePos: 1, Before: SubtraceDesc{Begin: 4, End: 5}, After: SubtraceDesc{Begin: 5, End: 5}},
				}},
				Ap{}, Ap{}, Ap{},
			},
		},
		{
			name: "overlapping lore windows",
			trace: Trace{
				Ap{}, Ap{},
				Fold{Lore: []SubtraceLore{
					{ValuePos: 0, Before: SubtraceDesc{Begin: 3, End: 5}},
					{ValuePos: 1, After: SubtraceDesc{Begin: 4, End: 5}},
				}},
				Ap{}, Ap{},
			},
			err: "overlap",
		},
		{
			name:  "lore before fold",
			trace: Trace{Ap{}, Fold{Lore: []SubtraceLore{{ValuePos: 0, Before: SubtraceDesc{Begin: 0, End: 1}}}}},
			err:   "outside the fold",
		},
		{
			name:  "reversed window",
			trace: Trace{Ap{}, Fold{Lore: []SubtraceLore{{ValuePos: 0, Before: SubtraceDesc{Begin: 2, End: 1}}}}},
			err:   "reversed",
		},
		{
			name:  "value out of bounds",
			trace: Trace{Fold{Lore: []SubtraceLore{{ValuePos: 7}}}},
			err:   "out of bounds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.trace)
			if tt.err == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var serr *StructureError
			require.ErrorAs(t, err, &serr)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}
