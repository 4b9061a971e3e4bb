package trace

import (
	"fmt"

	"github.com/roach88/airvm/internal/ir"
)

// Tetraplet records where a value came from: the peer, service and function
// that produced it, and the lambda path applied since.
type Tetraplet struct {
	PeerPK       string `json:"peer_pk"`
	ServiceID    string `json:"service_id"`
	FunctionName string `json:"function_name"`
	Lens         string `json:"lens"`
}

// LiteralTetraplet is the tetraplet of a value written in the script.
func LiteralTetraplet(initPeerID string) *Tetraplet {
	return &Tetraplet{PeerPK: initPeerID}
}

// WithLens returns a copy with lens appended to the existing lens.
func (t *Tetraplet) WithLens(lens string) *Tetraplet {
	if lens == "" {
		return t
	}
	c := *t
	c.Lens += lens
	return &c
}

// ToValue converts the tetraplet into its stored JSON form.
func (t Tetraplet) ToValue() ir.Value {
	return ir.NewObject(
		ir.O("peer_pk", ir.String(t.PeerPK)),
		ir.O("service_id", ir.String(t.ServiceID)),
		ir.O("function_name", ir.String(t.FunctionName)),
		ir.O("lens", ir.String(t.Lens)),
	)
}

// TetrapletFromValue is the inverse of ToValue.
func TetrapletFromValue(v ir.Value) (Tetraplet, error) {
	obj, ok := v.(*ir.Object)
	if !ok {
		return Tetraplet{}, fmt.Errorf("tetraplet must be an object, got %s", ir.TypeName(v))
	}
	var t Tetraplet
	fields := []struct {
		name string
		dst  *string
	}{
		{"peer_pk", &t.PeerPK},
		{"service_id", &t.ServiceID},
		{"function_name", &t.FunctionName},
		{"lens", &t.Lens},
	}
	for _, f := range fields {
		fv, ok := obj.Get(f.name)
		if !ok {
			return Tetraplet{}, fmt.Errorf("tetraplet is missing %q", f.name)
		}
		s, ok := fv.(ir.String)
		if !ok {
			return Tetraplet{}, fmt.Errorf("tetraplet field %q must be a string", f.name)
		}
		*f.dst = string(s)
	}
	return t, nil
}

// ProvenanceKind says what produced a value.
type ProvenanceKind string

const (
	ProvenanceLiteral       ProvenanceKind = "literal"
	ProvenanceServiceResult ProvenanceKind = "service_result"
	ProvenanceCanon         ProvenanceKind = "canon"
)

// Provenance links a value to the stored record that produced it.
// CID is empty for literals.
type Provenance struct {
	Kind ProvenanceKind
	CID  ir.CID
}

func (p Provenance) toValue() ir.Value {
	obj := ir.NewObject(ir.O("kind", ir.String(p.Kind)))
	if p.Kind != ProvenanceLiteral {
		obj.Set("cid", ir.String(p.CID))
	}
	return obj
}

func provenanceFromValue(v ir.Value) (Provenance, error) {
	obj, ok := v.(*ir.Object)
	if !ok {
		return Provenance{}, fmt.Errorf("provenance must be an object")
	}
	kind, ok := obj.Get("kind")
	if !ok {
		return Provenance{}, fmt.Errorf("provenance is missing kind")
	}
	p := Provenance{Kind: ProvenanceKind(asString(kind))}
	switch p.Kind {
	case ProvenanceLiteral:
		return p, nil
	case ProvenanceServiceResult, ProvenanceCanon:
		c, ok := obj.Get("cid")
		if !ok {
			return Provenance{}, fmt.Errorf("%s provenance is missing cid", p.Kind)
		}
		p.CID = ir.CID(asString(c))
		return p, nil
	}
	return Provenance{}, fmt.Errorf("unknown provenance kind %q", p.Kind)
}

// CanonResult is a stored canon: the tetraplet of the canon instruction and
// the values of the stream at the moment it was taken.
type CanonResult struct {
	Tetraplet ir.CID
	Values    []CanonValue
}

// CanonValue is one stream item inside a canon result.
type CanonValue struct {
	Value      ir.CID
	Tetraplet  ir.CID
	Provenance Provenance
}

// ToValue converts the canon result into its stored JSON form.
func (c CanonResult) ToValue() ir.Value {
	values := make(ir.Array, len(c.Values))
	for i, v := range c.Values {
		values[i] = ir.NewObject(
			ir.O("value", ir.String(v.Value)),
			ir.O("tetraplet", ir.String(v.Tetraplet)),
			ir.O("provenance", v.Provenance.toValue()),
		)
	}
	return ir.NewObject(
		ir.O("tetraplet", ir.String(c.Tetraplet)),
		ir.O("values", values),
	)
}

// CanonResultFromValue is the inverse of ToValue.
func CanonResultFromValue(v ir.Value) (CanonResult, error) {
	obj, ok := v.(*ir.Object)
	if !ok {
		return CanonResult{}, fmt.Errorf("canon result must be an object")
	}
	tet, _ := obj.Get("tetraplet")
	raw, _ := obj.Get("values")
	values, ok := raw.(ir.Array)
	if !ok {
		return CanonResult{}, fmt.Errorf("canon result values must be an array")
	}

	res := CanonResult{Tetraplet: ir.CID(asString(tet)), Values: make([]CanonValue, len(values))}
	for i, item := range values {
		itemObj, ok := item.(*ir.Object)
		if !ok {
			return CanonResult{}, fmt.Errorf("canon value %d must be an object", i)
		}
		val, _ := itemObj.Get("value")
		itemTet, _ := itemObj.Get("tetraplet")
		prov, _ := itemObj.Get("provenance")
		p, err := provenanceFromValue(prov)
		if err != nil {
			return CanonResult{}, fmt.Errorf("canon value %d: %w", i, err)
		}
		res.Values[i] = CanonValue{Value: ir.CID(asString(val)), Tetraplet: ir.CID(asString(itemTet)), Provenance: p}
	}
	if res.Tetraplet == "" {
		return CanonResult{}, fmt.Errorf("canon result is missing its tetraplet")
	}
	return res, nil
}

func asString(v ir.Value) string {
	if s, ok := v.(ir.String); ok {
		return string(s)
	}
	return ""
}
