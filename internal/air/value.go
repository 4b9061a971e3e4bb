package air

import (
	"strconv"
	"strings"

	"github.com/roach88/airvm/internal/ir"
)

// Value is a sealed interface over instruction operands.
type Value interface {
	String() string
	value() // Sealed
}

// Literal is a string, number, boolean, nil or empty array written in the script.
type Literal struct {
	V ir.Value
}

// InitPeerID is %init_peer_id%.
type InitPeerID struct{}

// Timestamp is %timestamp%.
type Timestamp struct{}

// TTL is %ttl%.
type TTL struct{}

// LastError is %last_error% with an optional lambda.
type LastError struct {
	Lambda Lambda
}

// ErrorValue is :error: with an optional lambda.
type ErrorValue struct {
	Lambda Lambda
}

// VarRef references a variable with an optional lambda.
// Streams and stream maps only appear as fold iterables.
type VarRef struct {
	Var    Variable
	Lambda Lambda
}

func (Literal) value()    {}
func (InitPeerID) value() {}
func (Timestamp) value()  {}
func (TTL) value()        {}
func (LastError) value()  {}
func (ErrorValue) value() {}
func (VarRef) value()     {}

func (l Literal) String() string {
	if s, ok := l.V.(ir.String); ok {
		return quote(string(s))
	}
	if _, ok := l.V.(ir.Null); ok {
		return "nil"
	}
	return ir.ToString(l.V)
}

func (InitPeerID) String() string   { return "%init_peer_id%" }
func (Timestamp) String() string    { return "%timestamp%" }
func (TTL) String() string          { return "%ttl%" }
func (v LastError) String() string  { return "%last_error%" + v.Lambda.String() }
func (v ErrorValue) String() string { return ":error:" + v.Lambda.String() }
func (v VarRef) String() string     { return v.Var.String() + v.Lambda.String() }

// AccessorKind selects how one lambda step reads into a value.
type AccessorKind int

const (
	FieldByName AccessorKind = iota
	ArrayIndex
	FieldByScalar
)

// Accessor is one step of a lambda path.
type Accessor struct {
	Kind   AccessorKind
	Field  string
	Index  uint32
	Scalar string
}

func (a Accessor) String() string {
	switch a.Kind {
	case ArrayIndex:
		return ".[" + strconv.FormatUint(uint64(a.Index), 10) + "]"
	case FieldByScalar:
		return ".[" + a.Scalar + "]"
	}
	return "." + a.Field
}

// Lambda is a path applied to a value, or the length functor.
// A lambda has either accessors or Length, never both.
type Lambda struct {
	Accessors []Accessor
	Length    bool
}

// IsEmpty reports whether the lambda does nothing.
func (l Lambda) IsEmpty() bool {
	return len(l.Accessors) == 0 && !l.Length
}

// String renders the lambda as written after the variable name.
func (l Lambda) String() string {
	if l.Length {
		return ".length"
	}
	if len(l.Accessors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(".$")
	for _, a := range l.Accessors {
		b.WriteString(a.String())
	}
	return b.String()
}

// Scalars lists the scalar names the lambda reads.
func (l Lambda) Scalars() []string {
	var names []string
	for _, a := range l.Accessors {
		if a.Kind == FieldByScalar {
			names = append(names, a.Scalar)
		}
	}
	return names
}

func quote(s string) string {
	return strconv.Quote(s)
}
