package execution

import (
	"github.com/roach88/airvm/internal/air"
	"github.com/roach88/airvm/internal/ir"
)

// applyLambda reads a path out of v. Missing fields, out of range indices
// and type mismatches are catchable LambdaApplierError failures; a scalar
// accessor that is not bound yet joins.
func (c *ExecutionCtx) applyLambda(v ir.Value, l air.Lambda) (ir.Value, error) {
	if l.Length {
		arr, ok := v.(ir.Array)
		if !ok {
			return nil, catchable(LambdaApplierError, "length is applied to %s, not an array", ir.TypeName(v))
		}
		return ir.Int(len(arr)), nil
	}

	for _, acc := range l.Accessors {
		var err error
		v, err = c.applyAccessor(v, acc)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (c *ExecutionCtx) applyAccessor(v ir.Value, acc air.Accessor) (ir.Value, error) {
	switch acc.Kind {
	case air.FieldByName:
		return field(v, acc.Field)
	case air.ArrayIndex:
		return index(v, int64(acc.Index))
	}

	key, err := c.accessorKey(acc)
	if err != nil {
		return nil, err
	}
	switch k := key.(type) {
	case ir.String:
		return field(v, string(k))
	case ir.Int:
		return index(v, int64(k))
	}
	return nil, catchable(LambdaApplierError, "scalar %s used as an accessor is %s, not a string or an integer", acc.Scalar, ir.TypeName(key))
}

// accessorKey resolves the scalar of a FieldByScalar accessor.
func (c *ExecutionCtx) accessorKey(acc air.Accessor) (ir.Value, error) {
	agg, ok := c.scopes.scalar(acc.Scalar)
	if !ok {
		return nil, errJoin
	}
	return agg.Value, nil
}

func field(v ir.Value, name string) (ir.Value, error) {
	obj, ok := v.(*ir.Object)
	if !ok {
		return nil, catchable(LambdaApplierError, "field %q is read from %s, not an object", name, ir.TypeName(v))
	}
	f, ok := obj.Get(name)
	if !ok {
		return nil, catchable(LambdaApplierError, "field %q is not found in %s", name, ir.ToString(v))
	}
	return f, nil
}

func index(v ir.Value, idx int64) (ir.Value, error) {
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, catchable(LambdaApplierError, "index %d is read from %s, not an array", idx, ir.TypeName(v))
	}
	if idx < 0 || idx >= int64(len(arr)) {
		return nil, catchable(LambdaApplierError, "index %d is out of range for an array of %d", idx, len(arr))
	}
	return arr[idx], nil
}
