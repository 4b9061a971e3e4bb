package execution

import (
	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/trace"
)

// resolved is an operand after variable lookup and lambda application.
// items holds one tetraplet per element when the operand is a whole canon,
// and the operand's own tetraplet otherwise.
type resolved struct {
	value      ir.Value
	tetraplet  *trace.Tetraplet
	items      []*trace.Tetraplet
	provenance trace.Provenance
}

func (c *ExecutionCtx) literal(v ir.Value) resolved {
	tet := c.literalTetraplet()
	return resolved{value: v, tetraplet: tet, items: []*trace.Tetraplet{tet}, provenance: trace.Provenance{Kind: trace.ProvenanceLiteral}}
}

func single(v ir.Value, tet *trace.Tetraplet, prov trace.Provenance) resolved {
	return resolved{value: v, tetraplet: tet, items: []*trace.Tetraplet{tet}, provenance: prov}
}

// resolve evaluates an operand. Unbound scalars and canons join.
func (c *ExecutionCtx) resolve(v air.Value) (resolved, error) {
	switch val := v.(type) {
	case air.Literal:
		return c.literal(val.V), nil
	case air.InitPeerID:
		return c.literal(ir.String(c.params.InitPeerID)), nil
	case air.Timestamp:
		return c.literal(ir.Int(int64(c.params.Timestamp))), nil
	case air.TTL:
		return c.literal(ir.Int(int64(c.params.TTL))), nil
	case air.LastError:
		return c.resolveError(c.lastError.errorDescriptor, val.Lambda)
	case air.ErrorValue:
		return c.resolveError(c.errorObj, val.Lambda)
	case air.VarRef:
		return c.resolveVar(val)
	}
	return resolved{}, uncatchable(TraceCorrupted, "operand %s cannot be resolved", v)
}

func (c *ExecutionCtx) resolveError(d errorDescriptor, l air.Lambda) (resolved, error) {
	tet := d.tetraplet
	if tet == nil {
		tet = c.literalTetraplet()
	}
	v, err := c.applyLambda(d.object.ToValue(), l)
	if err != nil {
		return resolved{}, err
	}
	return single(v, tet.WithLens(l.String()), trace.Provenance{Kind: trace.ProvenanceLiteral}), nil
}

func (c *ExecutionCtx) resolveVar(ref air.VarRef) (resolved, error) {
	switch ref.Var.Kind {
	case air.KindScalar:
		agg, ok := c.scopes.scalar(ref.Var.Name)
		if !ok {
			return resolved{}, errJoin
		}
		v, err := c.applyLambda(agg.Value, ref.Lambda)
		if err != nil {
			return resolved{}, err
		}
		return single(v, agg.Tetraplet.WithLens(ref.Lambda.String()), agg.Provenance), nil
	case air.KindCanon, air.KindCanonMap:
		cs, ok := c.scopes.canon(ref.Var)
		if !ok {
			return resolved{}, errJoin
		}
		return c.resolveCanon(cs, ref.Lambda)
	}

	// Streams are only read through fold. An empty one has nothing to read
	// yet, so the reader waits for it.
	if c.stream(ref.Var).Len() == 0 {
		return resolved{}, errJoin
	}
	return resolved{}, catchable(LambdaApplierError, "stream %s can only be iterated by fold", ref.Var)
}

func (c *ExecutionCtx) resolveCanon(cs *CanonStream, l air.Lambda) (resolved, error) {
	prov := trace.Provenance{Kind: trace.ProvenanceCanon, CID: cs.CID}
	if l.Length {
		return single(ir.Int(cs.Len()), cs.Tetraplet.WithLens(l.String()), prov), nil
	}
	if len(l.Accessors) == 0 {
		return resolved{value: cs.AsValue(), tetraplet: cs.Tetraplet, items: cs.Tetraplets(), provenance: prov}, nil
	}

	elem, err := c.canonElement(cs, l.Accessors[0])
	if err != nil {
		return resolved{}, err
	}
	rest := air.Lambda{Accessors: l.Accessors[1:]}
	v, err := c.applyLambda(elem.Value, rest)
	if err != nil {
		return resolved{}, err
	}
	return single(v, elem.Tetraplet.WithLens(rest.String()), prov), nil
}

// canonElement applies the first accessor of a lambda to a canon: an index
// into a canon stream, a key lookup into a canon map.
func (c *ExecutionCtx) canonElement(cs *CanonStream, acc air.Accessor) (ValueAggregate, error) {
	var key ir.Value
	switch acc.Kind {
	case air.FieldByName:
		key = ir.String(acc.Field)
	case air.ArrayIndex:
		key = ir.Int(int64(acc.Index))
	default:
		k, err := c.accessorKey(acc)
		if err != nil {
			return ValueAggregate{}, err
		}
		key = k
	}

	if cs.IsMap {
		if !validMapKey(key) {
			return ValueAggregate{}, catchable(LambdaApplierError, "canon map key must be a string or an integer, got %s", ir.ToString(key))
		}
		elem, ok := cs.Lookup(key)
		if !ok {
			return ValueAggregate{}, catchable(LambdaApplierError, "key %s is not found in the canon map", ir.ToString(key))
		}
		return elem, nil
	}

	idx, ok := key.(ir.Int)
	if !ok {
		return ValueAggregate{}, catchable(LambdaApplierError, "canon stream is indexed by %s, not an integer", ir.ToString(key))
	}
	if idx < 0 || int(idx) >= len(cs.Values) {
		return ValueAggregate{}, catchable(LambdaApplierError, "index %d is out of range for a canon of %d", idx, len(cs.Values))
	}
	return cs.Values[idx], nil
}
