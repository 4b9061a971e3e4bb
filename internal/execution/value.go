package execution

import (
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/trace"
)

// ValueAggregate is a value together with where it came from and the result
// trace position of the state that produced it.
type ValueAggregate struct {
	Value      ir.Value
	Tetraplet  *trace.Tetraplet
	TracePos   uint32
	Provenance trace.Provenance
}

// CanonStream is an immutable snapshot of a stream or stream map.
type CanonStream struct {
	Values    []ValueAggregate
	Tetraplet *trace.Tetraplet
	CID       ir.CID
	// IsMap marks a snapshot of a stream map; each value is a
	// {"key", "value"} object.
	IsMap bool
}

// AsValue renders the canon as JSON: an array of values for a stream, an
// object from key to value for a stream map.
func (c *CanonStream) AsValue() ir.Value {
	if c.IsMap {
		obj := ir.NewObject()
		for _, v := range c.Values {
			key, value, ok := mapEntry(v.Value)
			if !ok {
				continue
			}
			k := ir.ToString(key)
			if s, isStr := key.(ir.String); isStr {
				k = string(s)
			}
			if _, dup := obj.Get(k); !dup {
				obj.Set(k, value)
			}
		}
		return obj
	}
	arr := make(ir.Array, len(c.Values))
	for i, v := range c.Values {
		arr[i] = v.Value
	}
	return arr
}

// Tetraplets lists the tetraplet of every value in the canon.
func (c *CanonStream) Tetraplets() []*trace.Tetraplet {
	tets := make([]*trace.Tetraplet, len(c.Values))
	for i, v := range c.Values {
		tets[i] = v.Tetraplet
	}
	return tets
}

// Lookup returns the first entry of a canon map whose key equals key.
func (c *CanonStream) Lookup(key ir.Value) (ValueAggregate, bool) {
	for _, v := range c.Values {
		k, value, ok := mapEntry(v.Value)
		if ok && ir.Equal(k, key) {
			return ValueAggregate{Value: value, Tetraplet: v.Tetraplet, TracePos: v.TracePos, Provenance: v.Provenance}, true
		}
	}
	return ValueAggregate{}, false
}

// Len returns the number of values, or of distinct keys for a canon map.
func (c *CanonStream) Len() int {
	if !c.IsMap {
		return len(c.Values)
	}
	if obj, ok := c.AsValue().(*ir.Object); ok {
		return obj.Len()
	}
	return 0
}

func mapEntry(v ir.Value) (key, value ir.Value, ok bool) {
	obj, isObj := v.(*ir.Object)
	if !isObj {
		return nil, nil, false
	}
	key, hasKey := obj.Get("key")
	value, hasValue := obj.Get("value")
	return key, value, hasKey && hasValue
}

func newMapEntry(key, value ir.Value) *ir.Object {
	return ir.NewObject(ir.O("key", key), ir.O("value", value))
}

// validMapKey reports whether key can index a stream map.
func validMapKey(key ir.Value) bool {
	switch k := key.(type) {
	case ir.String:
		return true
	case ir.Int:
		return k >= 0
	}
	return false
}
