package air

// validate runs the static checks: every scalar, canon or canon map is
// produced somewhere earlier in the script text, and every next names an
// iterator of an enclosing fold.
func validate(src string, root Instruction) error {
	v := &validator{src: src, defined: make(map[string]bool)}
	return v.walk(root)
}

type validator struct {
	src       string
	defined   map[string]bool
	iterators []string
}

func (v *validator) walk(instr Instruction) error {
	switch i := instr.(type) {
	case *Seq:
		return v.walkPair(i.Left, i.Right)
	case *Par:
		return v.walkPair(i.Left, i.Right)
	case *Xor:
		return v.walkPair(i.Left, i.Right)
	case *Match:
		if err := v.checkValues(i.Pos(), i.Left, i.Right); err != nil {
			return err
		}
		return v.walk(i.Body)
	case *Mismatch:
		if err := v.checkValues(i.Pos(), i.Left, i.Right); err != nil {
			return err
		}
		return v.walk(i.Body)
	case *Fold:
		if err := v.checkValues(i.Pos(), i.Iterable); err != nil {
			return err
		}
		v.iterators = append(v.iterators, i.Iterator)
		defer func() { v.iterators = v.iterators[:len(v.iterators)-1] }()
		if err := v.walk(i.Body); err != nil {
			return err
		}
		if i.Last != nil {
			return v.walk(i.Last)
		}
		return nil
	case *Next:
		if !v.isIterator(i.Iterator) {
			return newParseError(v.src, i.Pos(), "next %s is not inside a fold over %s", i.Iterator, i.Iterator)
		}
		return nil
	case *New:
		return v.walk(i.Body)
	case *Ap:
		if err := v.checkValues(i.Pos(), i.Arg); err != nil {
			return err
		}
		v.define(i.Result)
		return nil
	case *ApMap:
		return v.checkValues(i.Pos(), i.Key, i.Arg)
	case *Call:
		vals := append([]Value{i.Peer, i.Service, i.Function}, i.Args...)
		if err := v.checkValues(i.Pos(), vals...); err != nil {
			return err
		}
		if i.Output != nil {
			v.define(*i.Output)
		}
		return nil
	case *Canon:
		if err := v.checkValues(i.Pos(), i.Peer); err != nil {
			return err
		}
		v.define(i.Target)
		return nil
	case *Fail:
		if i.Kind == FailScalar {
			return v.checkValues(i.Pos(), *i.Scalar)
		}
		return nil
	case *Never, *Null:
		return nil
	}
	return newParseError(v.src, instr.Pos(), "unsupported instruction %T", instr)
}

func (v *validator) walkPair(left, right Instruction) error {
	if err := v.walk(left); err != nil {
		return err
	}
	return v.walk(right)
}

func (v *validator) define(target Variable) {
	switch target.Kind {
	case KindScalar, KindCanon, KindCanonMap:
		v.defined[target.Key()] = true
	}
}

func (v *validator) isIterator(name string) bool {
	for _, it := range v.iterators {
		if it == name {
			return true
		}
	}
	return false
}

func (v *validator) checkValues(pos int, vals ...Value) error {
	for _, val := range vals {
		var lambda Lambda
		switch ref := val.(type) {
		case VarRef:
			lambda = ref.Lambda
			if !ref.Var.IsStreamLike() && !v.known(ref.Var) {
				return newParseError(v.src, pos, "variable %s is used before it is defined", ref.Var)
			}
		case LastError:
			lambda = ref.Lambda
		case ErrorValue:
			lambda = ref.Lambda
		}
		for _, name := range lambda.Scalars() {
			if !v.known(Variable{Kind: KindScalar, Name: name}) {
				return newParseError(v.src, pos, "lambda scalar %s is used before it is defined", name)
			}
		}
	}
	return nil
}

func (v *validator) known(target Variable) bool {
	if target.Kind == KindScalar && v.isIterator(target.Name) {
		return true
	}
	return v.defined[target.Key()]
}
