package air

import (
	"fmt"
	"strings"
)

// Instruction is a sealed interface over AIR instructions.
// Pos is the byte offset of the instruction's opening parenthesis.
// String renders the instruction header the way it appears in error objects.
type Instruction interface {
	Pos() int
	String() string
	instruction() // Sealed
}

// Seq executes Left, then Right if Left completed.
type Seq struct {
	Position    int
	Left, Right Instruction
}

// Par executes both branches; it completes if either does.
type Par struct {
	Position    int
	Left, Right Instruction
}

// Xor executes Right only when Left fails with a catchable error.
type Xor struct {
	Position    int
	Left, Right Instruction
}

// Match executes Body when Left and Right resolve to equal values.
type Match struct {
	Position    int
	Left, Right Value
	Body        Instruction
}

// Mismatch executes Body when Left and Right resolve to different values.
type Mismatch struct {
	Position    int
	Left, Right Value
	Body        Instruction
}

// Fold iterates Body over Iterable, binding each item to Iterator.
// Last, when present, runs once the iterable is exhausted.
type Fold struct {
	Position int
	Iterable Value
	Iterator string
	Body     Instruction
	Last     Instruction
}

// Next advances the innermost fold bound to Iterator.
type Next struct {
	Position int
	Iterator string
}

// New restricts Target to the scope of Body.
type New struct {
	Position int
	Target   Variable
	Body     Instruction
}

// Ap binds or appends Arg into Result.
type Ap struct {
	Position int
	Arg      Value
	Result   Variable
}

// ApMap inserts a key/value pair into a stream map.
type ApMap struct {
	Position int
	Key      Value
	Arg      Value
	Map      Variable
}

// Call invokes Service.Function on Peer with Args.
// Output is nil when the result is discarded.
type Call struct {
	Position int
	Peer     Value
	Service  Value
	Function Value
	Args     []Value
	Output   *Variable
}

// Canon snapshots Source (a stream or stream map) into Target on Peer.
type Canon struct {
	Position int
	Peer     Value
	Source   Variable
	Target   Variable
}

// FailKind selects the form of a fail instruction.
type FailKind int

const (
	FailLiteral FailKind = iota
	FailScalar
	FailLastError
	FailError
)

// Fail raises a catchable error.
type Fail struct {
	Position int
	Kind     FailKind
	Code     int64
	Message  string
	Scalar   *VarRef
}

// Never leaves its subgraph incomplete.
type Never struct {
	Position int
}

// Null does nothing.
type Null struct {
	Position int
}

func (i *Seq) Pos() int      { return i.Position }
func (i *Par) Pos() int      { return i.Position }
func (i *Xor) Pos() int      { return i.Position }
func (i *Match) Pos() int    { return i.Position }
func (i *Mismatch) Pos() int { return i.Position }
func (i *Fold) Pos() int     { return i.Position }
func (i *Next) Pos() int     { return i.Position }
func (i *New) Pos() int      { return i.Position }
func (i *Ap) Pos() int       { return i.Position }
func (i *ApMap) Pos() int    { return i.Position }
func (i *Call) Pos() int     { return i.Position }
func (i *Canon) Pos() int    { return i.Position }
func (i *Fail) Pos() int     { return i.Position }
func (i *Never) Pos() int    { return i.Position }
func (i *Null) Pos() int     { return i.Position }

func (*Seq) instruction()      {}
func (*Par) instruction()      {}
func (*Xor) instruction()      {}
func (*Match) instruction()    {}
func (*Mismatch) instruction() {}
func (*Fold) instruction()     {}
func (*Next) instruction()     {}
func (*New) instruction()      {}
func (*Ap) instruction()       {}
func (*ApMap) instruction()    {}
func (*Call) instruction()     {}
func (*Canon) instruction()    {}
func (*Fail) instruction()     {}
func (*Never) instruction()    {}
func (*Null) instruction()     {}

func (*Seq) String() string        { return "seq" }
func (*Par) String() string        { return "par" }
func (*Xor) String() string        { return "xor" }
func (i *Match) String() string    { return fmt.Sprintf("match %s %s", i.Left, i.Right) }
func (i *Mismatch) String() string { return fmt.Sprintf("mismatch %s %s", i.Left, i.Right) }
func (i *Next) String() string     { return "next " + i.Iterator }
func (i *New) String() string      { return "new " + i.Target.String() }
func (i *Ap) String() string       { return fmt.Sprintf("ap %s %s", i.Arg, i.Result) }
func (*Never) String() string      { return "never" }
func (*Null) String() string       { return "null" }

func (i *Fold) String() string {
	return fmt.Sprintf("fold %s %s", i.Iterable, i.Iterator)
}

func (i *ApMap) String() string {
	return fmt.Sprintf("ap (%s %s) %s", i.Key, i.Arg, i.Map)
}

func (i *Call) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "call %s (%s %s) [", i.Peer, i.Service, i.Function)
	for n, arg := range i.Args {
		if n > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(arg.String())
	}
	b.WriteByte(']')
	if i.Output != nil {
		b.WriteByte(' ')
		b.WriteString(i.Output.String())
	}
	return b.String()
}

func (i *Canon) String() string {
	return fmt.Sprintf("canon %s %s %s", i.Peer, i.Source, i.Target)
}

func (i *Fail) String() string {
	switch i.Kind {
	case FailScalar:
		return "fail " + i.Scalar.String()
	case FailLastError:
		return "fail %last_error%"
	case FailError:
		return "fail :error:"
	}
	return fmt.Sprintf("fail %d %s", i.Code, quote(i.Message))
}

// VarKind is the sigil class of a variable.
type VarKind int

const (
	KindScalar    VarKind = iota // name
	KindStream                   // $name
	KindStreamMap                // %name
	KindCanon                    // #name
	KindCanonMap                 // #%name
)

var sigils = map[VarKind]string{
	KindScalar:    "",
	KindStream:    "$",
	KindStreamMap: "%",
	KindCanon:     "#",
	KindCanonMap:  "#%",
}

// Variable names a scalar, stream, stream map, canon or canon map.
// Name carries no sigil.
type Variable struct {
	Kind VarKind
	Name string
}

// Key returns the name with its sigil, unique across kinds.
func (v Variable) Key() string {
	return sigils[v.Kind] + v.Name
}

func (v Variable) String() string {
	return v.Key()
}

// IsStreamLike reports whether the variable is a stream or stream map.
func (v Variable) IsStreamLike() bool {
	return v.Kind == KindStream || v.Kind == KindStreamMap
}
