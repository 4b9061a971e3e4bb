package air

import (
	"strings"
)

// Format renders an instruction tree back into AIR source, two spaces per
// nesting level. Parse(Format(x)) yields a tree equal to x up to positions.
func Format(instr Instruction) string {
	var b strings.Builder
	format(&b, instr, 0)
	return b.String()
}

func format(b *strings.Builder, instr Instruction, depth int) {
	indent := strings.Repeat("  ", depth)
	b.WriteString(indent)
	b.WriteByte('(')

	var children []Instruction
	switch i := instr.(type) {
	case *Seq:
		children = []Instruction{i.Left, i.Right}
	case *Par:
		children = []Instruction{i.Left, i.Right}
	case *Xor:
		children = []Instruction{i.Left, i.Right}
	case *Match:
		children = []Instruction{i.Body}
	case *Mismatch:
		children = []Instruction{i.Body}
	case *Fold:
		children = []Instruction{i.Body}
		if i.Last != nil {
			children = append(children, i.Last)
		}
	case *New:
		children = []Instruction{i.Body}
	}

	b.WriteString(instr.String())
	for _, child := range children {
		b.WriteByte('\n')
		format(b, child, depth+1)
	}
	b.WriteByte(')')
}
