package trace

import (
	"fmt"
	"slices"
)

// StructureError reports a trace whose par or fold records do not describe
// the states that follow them.
type StructureError struct {
	Pos int
	Msg string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("trace[%d]: %s", e.Pos, e.Msg)
}

// Validate checks the structural invariants of a trace: every par covers
// exactly the states after it that fit in the trace, and every fold lore
// window lies after its fold, within the trace, disjoint from the others.
func Validate(tr Trace) error {
	n := uint32(len(tr))
	for p, s := range tr {
		pos := uint32(p)
		switch st := s.(type) {
		case Par:
			if uint64(pos)+1+uint64(st.Left)+uint64(st.Right) > uint64(n) {
				return &StructureError{Pos: p, Msg: fmt.Sprintf("par(%d, %d) overflows trace of %d states", st.Left, st.Right, n)}
			}
		case Fold:
			if err := validateLore(p, st, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateLore(p int, f Fold, n uint32) error {
	var windows []SubtraceDesc
	for i, lore := range f.Lore {
		if lore.ValuePos >= n {
			return &StructureError{Pos: p, Msg: fmt.Sprintf("lore %d value_pos %d is out of bounds", i, lore.ValuePos)}
		}
		for _, w := range []SubtraceDesc{lore.Before, lore.After} {
			if w.End < w.Begin {
				return &StructureError{Pos: p, Msg: fmt.Sprintf("lore %d window [%d, %d) is reversed", i, w.Begin, w.End)}
			}
			if w.Len() == 0 {
				continue
			}
			if w.Begin <= uint32(p) || w.End > n {
				return &StructureError{Pos: p, Msg: fmt.Sprintf("lore %d window [%d, %d) is outside the fold", i, w.Begin, w.End)}
			}
			windows = append(windows, w)
		}
		if i > 0 && lore.Before.Len() > 0 && f.Lore[i-1].Before.Len() > 0 && lore.Before.Begin < f.Lore[i-1].Before.End {
			return &StructureError{Pos: p, Msg: fmt.Sprintf("lore %d starts before lore %d ends", i, i-1)}
		}
	}

	slices.SortFunc(windows, func(a, b SubtraceDesc) int { return int(a.Begin) - int(b.Begin) })
	for i := 1; i < len(windows); i++ {
		if windows[i].Begin < windows[i-1].End {
			return &StructureError{Pos: p, Msg: fmt.Sprintf("lore windows [%d, %d) and [%d, %d) overlap",
				windows[i-1].Begin, windows[i-1].End, windows[i].Begin, windows[i].End)}
		}
	}
	return nil
}

// CheckClosure verifies that every CID the trace references is present in
// info, and that every canon result only references stored values and
// tetraplets.
func CheckClosure(tr Trace, info *CIDInfo) error {
	for _, s := range tr {
		switch st := s.(type) {
		case Executed:
			if _, err := info.Values.MustGet(st.Value); err != nil {
				return err
			}
			if _, err := info.Tetraplets.MustGet(st.Tetraplet); err != nil {
				return err
			}
		case Failed:
			if _, err := info.Values.MustGet(st.Message); err != nil {
				return err
			}
			if _, err := info.Tetraplets.MustGet(st.Tetraplet); err != nil {
				return err
			}
		case Canon:
			if _, err := info.Canons.MustGet(st.CID); err != nil {
				return err
			}
		}
	}

	for _, c := range info.Canons.CIDs() {
		res, _ := info.Canons.Get(c)
		if _, err := info.Tetraplets.MustGet(res.Tetraplet); err != nil {
			return err
		}
		for _, v := range res.Values {
			if _, err := info.Values.MustGet(v.Value); err != nil {
				return err
			}
			if _, err := info.Tetraplets.MustGet(v.Tetraplet); err != nil {
				return err
			}
		}
	}
	return nil
}
