package sandbox

import (
	"fmt"
	"math"
	"strings"

	"github.com/nextlevelbuilder/superloop/internal/pyscript"
)

const maxCallDepth = 200

// interp executes a validated module against the sandbox namespace.
type interp struct {
	globals   map[string]Value
	builtins  map[string]*Builtin
	stdout    *strings.Builder
	checkTick func() error // wall-clock guard, called per loop iteration
	callDepth int
}

type frame struct {
	locals map[string]Value
	parent *frame
}

// Control-flow signals travel as errors.
type breakSignal struct{}
type continueSignal struct{}
type returnSignal struct{ value Value }

func (breakSignal) Error() string    { return "break outside loop" }
func (continueSignal) Error() string { return "continue outside loop" }
func (returnSignal) Error() string   { return "return outside function" }

func (in *interp) run(mod *pyscript.Module) error {
	top := &frame{locals: in.globals}
	if err := in.execStmts(mod.Body, top); err != nil {
		switch err.(type) {
		case breakSignal, continueSignal, returnSignal:
			return fmt.Errorf("invalid control flow at module level")
		}
		return err
	}
	return nil
}

func (in *interp) execStmts(stmts []pyscript.Stmt, fr *frame) error {
	for _, s := range stmts {
		if err := in.execStmt(s, fr); err != nil {
			return err
		}
	}
	return nil
}

func (in *interp) execStmt(s pyscript.Stmt, fr *frame) error {
	switch t := s.(type) {
	case *pyscript.ExprStmt:
		_, err := in.evalExpr(t.X, fr)
		return err
	case *pyscript.Assign:
		value, err := in.evalExpr(t.Value, fr)
		if err != nil {
			return err
		}
		for _, target := range t.Targets {
			if err := in.assign(target, value, fr); err != nil {
				return err
			}
		}
		return nil
	case *pyscript.AugAssign:
		return in.execAugAssign(t, fr)
	case *pyscript.If:
		cond, err := in.evalExpr(t.Cond, fr)
		if err != nil {
			return err
		}
		if Truthy(cond) {
			return in.execStmts(t.Body, fr)
		}
		return in.execStmts(t.Else, fr)
	case *pyscript.While:
		return in.execWhile(t, fr)
	case *pyscript.For:
		return in.execFor(t, fr)
	case *pyscript.Break:
		return breakSignal{}
	case *pyscript.Continue:
		return continueSignal{}
	case *pyscript.Pass:
		return nil
	case *pyscript.FunctionDef:
		fn := &Function{Name: t.Name, Params: t.Params, Body: t.Body}
		for _, param := range t.Params {
			if param.Default == nil {
				continue
			}
			dv, err := in.evalExpr(param.Default, fr)
			if err != nil {
				return err
			}
			fn.Defaults = append(fn.Defaults, dv)
		}
		fr.locals[t.Name] = fn
		return nil
	case *pyscript.Return:
		var value Value
		if t.Value != nil {
			v, err := in.evalExpr(t.Value, fr)
			if err != nil {
				return err
			}
			value = v
		}
		return returnSignal{value: value}
	}
	return fmt.Errorf("unsupported statement %T", s)
}

func (in *interp) execWhile(t *pyscript.While, fr *frame) error {
	broke := false
	for {
		if err := in.checkTick(); err != nil {
			return err
		}
		cond, err := in.evalExpr(t.Cond, fr)
		if err != nil {
			return err
		}
		if !Truthy(cond) {
			break
		}
		err = in.execStmts(t.Body, fr)
		if err != nil {
			if _, ok := err.(breakSignal); ok {
				broke = true
				break
			}
			if _, ok := err.(continueSignal); ok {
				continue
			}
			return err
		}
	}
	if !broke {
		return in.execStmts(t.Else, fr)
	}
	return nil
}

func (in *interp) execFor(t *pyscript.For, fr *frame) error {
	iter, err := in.evalExpr(t.Iter, fr)
	if err != nil {
		return err
	}
	items, err := iterate(iter)
	if err != nil {
		return err
	}
	broke := false
	for _, item := range items {
		if err := in.checkTick(); err != nil {
			return err
		}
		if err := in.assign(t.Target, item, fr); err != nil {
			return err
		}
		err := in.execStmts(t.Body, fr)
		if err != nil {
			if _, ok := err.(breakSignal); ok {
				broke = true
				break
			}
			if _, ok := err.(continueSignal); ok {
				continue
			}
			return err
		}
	}
	if !broke {
		return in.execStmts(t.Else, fr)
	}
	return nil
}

func (in *interp) execAugAssign(t *pyscript.AugAssign, fr *frame) error {
	rhs, err := in.evalExpr(t.Value, fr)
	if err != nil {
		return err
	}
	switch target := t.Target.(type) {
	case *pyscript.Name:
		cur, ok := in.lookup(target.ID, fr)
		if !ok {
			return fmt.Errorf("name '%s' is not defined", target.ID)
		}
		next, err := binOp(t.Op, cur, rhs)
		if err != nil {
			return err
		}
		in.store(target.ID, next, fr)
		return nil
	case *pyscript.Subscript:
		container, err := in.evalExpr(target.X, fr)
		if err != nil {
			return err
		}
		index, err := in.evalExpr(target.Index, fr)
		if err != nil {
			return err
		}
		cur, err := getItem(container, index)
		if err != nil {
			return err
		}
		next, err := binOp(t.Op, cur, rhs)
		if err != nil {
			return err
		}
		return setItem(container, index, next)
	}
	return fmt.Errorf("invalid augmented assignment target")
}

func (in *interp) assign(target pyscript.Expr, value Value, fr *frame) error {
	switch t := target.(type) {
	case *pyscript.Name:
		in.store(t.ID, value, fr)
		return nil
	case *pyscript.Subscript:
		container, err := in.evalExpr(t.X, fr)
		if err != nil {
			return err
		}
		index, err := in.evalExpr(t.Index, fr)
		if err != nil {
			return err
		}
		return setItem(container, index, value)
	case *pyscript.TupleLit:
		return in.unpack(t.Elts, value, fr)
	case *pyscript.ListLit:
		return in.unpack(t.Elts, value, fr)
	case *pyscript.Attribute:
		return fmt.Errorf("attribute assignment is not allowed")
	}
	return fmt.Errorf("cannot assign to %T", target)
}

func (in *interp) unpack(targets []pyscript.Expr, value Value, fr *frame) error {
	items, err := iterate(value)
	if err != nil {
		return err
	}
	if len(items) != len(targets) {
		return fmt.Errorf("cannot unpack %d value(s) into %d target(s)", len(items), len(targets))
	}
	for i, target := range targets {
		if err := in.assign(target, items[i], fr); err != nil {
			return err
		}
	}
	return nil
}

func (in *interp) lookup(name string, fr *frame) (Value, bool) {
	for f := fr; f != nil; f = f.parent {
		if v, ok := f.locals[name]; ok {
			return v, true
		}
	}
	if v, ok := in.globals[name]; ok {
		return v, true
	}
	if b, ok := in.builtins[name]; ok {
		return b, true
	}
	return nil, false
}

// store binds a name in the current frame, matching Python's
// assignment scoping (no implicit nonlocal).
func (in *interp) store(name string, value Value, fr *frame) {
	fr.locals[name] = value
}

func (in *interp) evalExpr(e pyscript.Expr, fr *frame) (Value, error) {
	switch t := e.(type) {
	case *pyscript.Constant:
		return t.Value, nil
	case *pyscript.Name:
		v, ok := in.lookup(t.ID, fr)
		if !ok {
			return nil, fmt.Errorf("name '%s' is not defined", t.ID)
		}
		return v, nil
	case *pyscript.ListLit:
		items, err := in.evalExprs(t.Elts, fr)
		if err != nil {
			return nil, err
		}
		return &List{Items: items}, nil
	case *pyscript.TupleLit:
		items, err := in.evalExprs(t.Elts, fr)
		if err != nil {
			return nil, err
		}
		return Tuple(items), nil
	case *pyscript.SetLit:
		items, err := in.evalExprs(t.Elts, fr)
		if err != nil {
			return nil, err
		}
		out := NewSet()
		for _, item := range items {
			if err := out.Add(item); err != nil {
				return nil, err
			}
		}
		return out, nil
	case *pyscript.DictLit:
		out := NewDict()
		for i := range t.Keys {
			k, err := in.evalExpr(t.Keys[i], fr)
			if err != nil {
				return nil, err
			}
			v, err := in.evalExpr(t.Values[i], fr)
			if err != nil {
				return nil, err
			}
			if err := out.SetItem(k, v); err != nil {
				return nil, err
			}
		}
		return out, nil
	case *pyscript.BinOp:
		l, err := in.evalExpr(t.L, fr)
		if err != nil {
			return nil, err
		}
		r, err := in.evalExpr(t.R, fr)
		if err != nil {
			return nil, err
		}
		return binOp(t.Op, l, r)
	case *pyscript.UnaryOp:
		x, err := in.evalExpr(t.X, fr)
		if err != nil {
			return nil, err
		}
		return unaryOp(t.Op, x)
	case *pyscript.BoolOp:
		var last Value
		for _, operand := range t.Values {
			v, err := in.evalExpr(operand, fr)
			if err != nil {
				return nil, err
			}
			last = v
			if t.Op == "and" && !Truthy(v) {
				return v, nil
			}
			if t.Op == "or" && Truthy(v) {
				return v, nil
			}
		}
		return last, nil
	case *pyscript.Compare:
		return in.evalCompare(t, fr)
	case *pyscript.IfExp:
		cond, err := in.evalExpr(t.Cond, fr)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return in.evalExpr(t.Body, fr)
		}
		return in.evalExpr(t.Else, fr)
	case *pyscript.Subscript:
		container, err := in.evalExpr(t.X, fr)
		if err != nil {
			return nil, err
		}
		if sl, ok := t.Index.(*pyscript.SliceExpr); ok {
			return in.evalSlice(container, sl, fr)
		}
		index, err := in.evalExpr(t.Index, fr)
		if err != nil {
			return nil, err
		}
		return getItem(container, index)
	case *pyscript.Call:
		return in.evalCall(t, fr)
	case *pyscript.Comp:
		return in.evalComp(t, fr)
	case *pyscript.FString:
		return in.evalFString(t, fr)
	case *pyscript.Attribute:
		return nil, fmt.Errorf("attribute access is not allowed")
	case *pyscript.SliceExpr:
		return nil, fmt.Errorf("slice outside subscript")
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func (in *interp) evalExprs(exprs []pyscript.Expr, fr *frame) ([]Value, error) {
	out := make([]Value, 0, len(exprs))
	for _, e := range exprs {
		v, err := in.evalExpr(e, fr)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (in *interp) evalCompare(t *pyscript.Compare, fr *frame) (Value, error) {
	left, err := in.evalExpr(t.Left, fr)
	if err != nil {
		return nil, err
	}
	for i, op := range t.Ops {
		right, err := in.evalExpr(t.Comparators[i], fr)
		if err != nil {
			return nil, err
		}
		ok, err := compareOp(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func compareOp(op string, a, b Value) (bool, error) {
	switch op {
	case "==":
		return valueEqual(a, b), nil
	case "!=":
		return !valueEqual(a, b), nil
	case "<", "<=", ">", ">=":
		c, err := valueCompare(a, b)
		if err != nil {
			return false, err
		}
		switch op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case "in":
		return contains(b, a)
	case "not in":
		ok, err := contains(b, a)
		return !ok, err
	case "is":
		return isIdentical(a, b), nil
	case "is not":
		return !isIdentical(a, b), nil
	}
	return false, fmt.Errorf("unsupported comparison %q", op)
}

// isIdentical approximates Python identity: exact for None, bool, and
// container references; value identity for interned-style scalars.
func isIdentical(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch at := a.(type) {
	case *List:
		bl, ok := b.(*List)
		return ok && at == bl
	case *Dict:
		bd, ok := b.(*Dict)
		return ok && at == bd
	case *Set:
		bs, ok := b.(*Set)
		return ok && at == bs
	case bool, int64, float64, string:
		return valueEqual(a, b) && TypeName(a) == TypeName(b)
	}
	return a == b
}

func contains(container, item Value) (bool, error) {
	switch t := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("'in <string>' requires string as left operand, not %s", TypeName(item))
		}
		return strings.Contains(t, s), nil
	case *List:
		for _, v := range t.Items {
			if valueEqual(v, item) {
				return true, nil
			}
		}
		return false, nil
	case Tuple:
		for _, v := range t {
			if valueEqual(v, item) {
				return true, nil
			}
		}
		return false, nil
	case *Dict:
		_, found, err := t.GetItem(item)
		return found, err
	case *Set:
		return t.Contains(item)
	case *Range:
		n, ok := asInt(item)
		if !ok {
			return false, nil
		}
		if t.Step > 0 {
			return n >= t.Start && n < t.Stop && (n-t.Start)%t.Step == 0, nil
		}
		return n <= t.Start && n > t.Stop && (t.Start-n)%(-t.Step) == 0, nil
	}
	return false, fmt.Errorf("argument of type '%s' is not iterable", TypeName(container))
}

func (in *interp) evalCall(t *pyscript.Call, fr *frame) (Value, error) {
	args := make([]Value, 0, len(t.Args))
	for _, a := range t.Args {
		v, err := in.evalExpr(a, fr)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	var kwargs map[string]Value
	if len(t.Keywords) > 0 {
		kwargs = make(map[string]Value, len(t.Keywords))
		for _, kw := range t.Keywords {
			v, err := in.evalExpr(kw.Value, fr)
			if err != nil {
				return nil, err
			}
			kwargs[kw.Name] = v
		}
	}

	// Method call on a receiver.
	if attr, ok := t.Func.(*pyscript.Attribute); ok {
		recv, err := in.evalExpr(attr.X, fr)
		if err != nil {
			return nil, err
		}
		return in.callMethod(recv, attr.Attr, args, kwargs)
	}

	fn, err := in.evalExpr(t.Func, fr)
	if err != nil {
		return nil, err
	}
	return in.callValue(fn, args, kwargs)
}

func (in *interp) callValue(fn Value, args []Value, kwargs map[string]Value) (Value, error) {
	switch f := fn.(type) {
	case *Builtin:
		return f.Fn(args, kwargs)
	case *Function:
		return in.callFunction(f, args, kwargs)
	}
	return nil, fmt.Errorf("'%s' object is not callable", TypeName(fn))
}

func (in *interp) callFunction(fn *Function, args []Value, kwargs map[string]Value) (Value, error) {
	if in.callDepth >= maxCallDepth {
		return nil, fmt.Errorf("maximum recursion depth exceeded")
	}
	locals := make(map[string]Value, len(fn.Params))

	if len(args) > len(fn.Params) {
		return nil, fmt.Errorf("%s() takes %d positional argument(s) but %d were given", fn.Name, len(fn.Params), len(args))
	}
	for i, v := range args {
		locals[fn.Params[i].Name] = v
	}
	for name, v := range kwargs {
		known := false
		for _, param := range fn.Params {
			if param.Name == name {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%s() got an unexpected keyword argument '%s'", fn.Name, name)
		}
		if _, dup := locals[name]; dup {
			return nil, fmt.Errorf("%s() got multiple values for argument '%s'", fn.Name, name)
		}
		locals[name] = v
	}
	firstDefault := len(fn.Params) - len(fn.Defaults)
	for i, param := range fn.Params {
		if _, bound := locals[param.Name]; bound {
			continue
		}
		if i >= firstDefault {
			locals[param.Name] = fn.Defaults[i-firstDefault]
			continue
		}
		return nil, fmt.Errorf("%s() missing required argument: '%s'", fn.Name, param.Name)
	}

	in.callDepth++
	defer func() { in.callDepth-- }()

	err := in.execStmts(fn.Body, &frame{locals: locals})
	if err != nil {
		if ret, ok := err.(returnSignal); ok {
			return ret.value, nil
		}
		return nil, err
	}
	return nil, nil
}

func (in *interp) evalComp(t *pyscript.Comp, fr *frame) (Value, error) {
	compFrame := &frame{locals: make(map[string]Value), parent: fr}

	var list *List
	var set *Set
	var dict *Dict
	switch t.Kind {
	case pyscript.CompDict:
		dict = NewDict()
	case pyscript.CompSet:
		set = NewSet()
	default:
		list = &List{}
	}

	var runClause func(depth int) error
	runClause = func(depth int) error {
		if depth == len(t.Generators) {
			switch t.Kind {
			case pyscript.CompDict:
				k, err := in.evalExpr(t.Key, compFrame)
				if err != nil {
					return err
				}
				v, err := in.evalExpr(t.Value, compFrame)
				if err != nil {
					return err
				}
				return dict.SetItem(k, v)
			case pyscript.CompSet:
				v, err := in.evalExpr(t.Elt, compFrame)
				if err != nil {
					return err
				}
				return set.Add(v)
			default:
				v, err := in.evalExpr(t.Elt, compFrame)
				if err != nil {
					return err
				}
				list.Items = append(list.Items, v)
				return nil
			}
		}
		gen := t.Generators[depth]
		iter, err := in.evalExpr(gen.Iter, compFrame)
		if err != nil {
			return err
		}
		items, err := iterate(iter)
		if err != nil {
			return err
		}
	outer:
		for _, item := range items {
			if err := in.checkTick(); err != nil {
				return err
			}
			if err := in.assign(gen.Target, item, compFrame); err != nil {
				return err
			}
			for _, cond := range gen.Ifs {
				v, err := in.evalExpr(cond, compFrame)
				if err != nil {
					return err
				}
				if !Truthy(v) {
					continue outer
				}
			}
			if err := runClause(depth + 1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := runClause(0); err != nil {
		return nil, err
	}
	switch t.Kind {
	case pyscript.CompDict:
		return dict, nil
	case pyscript.CompSet:
		return set, nil
	default:
		return list, nil
	}
}

func (in *interp) evalFString(t *pyscript.FString, fr *frame) (Value, error) {
	var sb strings.Builder
	for _, part := range t.Parts {
		if !part.IsExpr {
			sb.WriteString(part.Literal)
			continue
		}
		v, err := in.evalExpr(part.Expr, fr)
		if err != nil {
			return nil, err
		}
		formatted, err := formatValue(v, part.Spec, part.Conv)
		if err != nil {
			return nil, err
		}
		sb.WriteString(formatted)
	}
	return sb.String(), nil
}

func (in *interp) evalSlice(container Value, sl *pyscript.SliceExpr, fr *frame) (Value, error) {
	evalIdx := func(e pyscript.Expr) (*int64, error) {
		if e == nil {
			return nil, nil
		}
		v, err := in.evalExpr(e, fr)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		n, ok := asInt(v)
		if !ok {
			return nil, fmt.Errorf("slice indices must be integers or None, not %s", TypeName(v))
		}
		return &n, nil
	}
	lo, err := evalIdx(sl.Lo)
	if err != nil {
		return nil, err
	}
	hi, err := evalIdx(sl.Hi)
	if err != nil {
		return nil, err
	}
	step, err := evalIdx(sl.Step)
	if err != nil {
		return nil, err
	}

	switch t := container.(type) {
	case string:
		runes := []rune(t)
		picked := sliceIndices(int64(len(runes)), lo, hi, step)
		var sb strings.Builder
		for _, i := range picked {
			sb.WriteRune(runes[i])
		}
		return sb.String(), nil
	case *List:
		picked := sliceIndices(int64(len(t.Items)), lo, hi, step)
		out := make([]Value, 0, len(picked))
		for _, i := range picked {
			out = append(out, t.Items[i])
		}
		return &List{Items: out}, nil
	case Tuple:
		picked := sliceIndices(int64(len(t)), lo, hi, step)
		out := make(Tuple, 0, len(picked))
		for _, i := range picked {
			out = append(out, t[i])
		}
		return out, nil
	}
	return nil, fmt.Errorf("'%s' object is not subscriptable", TypeName(container))
}

// sliceIndices resolves Python slice semantics into concrete indices.
func sliceIndices(length int64, lo, hi, step *int64) []int64 {
	st := int64(1)
	if step != nil && *step != 0 {
		st = *step
	}

	norm := func(idx *int64, dflt int64) int64 {
		if idx == nil {
			return dflt
		}
		v := *idx
		if v < 0 {
			v += length
		}
		return v
	}

	var start, stop int64
	if st > 0 {
		start = clampIdx(norm(lo, 0), 0, length)
		stop = clampIdx(norm(hi, length), 0, length)
	} else {
		start = clampIdx(norm(lo, length-1), -1, length-1)
		stop = clampIdx(norm(hi, -1), -1, length-1)
		if hi != nil && *hi < -length {
			stop = -1
		}
	}

	var out []int64
	if st > 0 {
		for i := start; i < stop; i += st {
			out = append(out, i)
		}
	} else {
		for i := start; i > stop; i += st {
			out = append(out, i)
		}
	}
	return out
}

func clampIdx(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getItem(container, index Value) (Value, error) {
	switch t := container.(type) {
	case string:
		runes := []rune(t)
		i, err := normIndex(index, int64(len(runes)), "string")
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case *List:
		i, err := normIndex(index, int64(len(t.Items)), "list")
		if err != nil {
			return nil, err
		}
		return t.Items[i], nil
	case Tuple:
		i, err := normIndex(index, int64(len(t)), "tuple")
		if err != nil {
			return nil, err
		}
		return t[i], nil
	case *Dict:
		v, found, err := t.GetItem(index)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("KeyError: %s", Repr(index))
		}
		return v, nil
	}
	return nil, fmt.Errorf("'%s' object is not subscriptable", TypeName(container))
}

func setItem(container, index, value Value) error {
	switch t := container.(type) {
	case *List:
		i, err := normIndex(index, int64(len(t.Items)), "list")
		if err != nil {
			return err
		}
		t.Items[i] = value
		return nil
	case *Dict:
		return t.SetItem(index, value)
	}
	return fmt.Errorf("'%s' object does not support item assignment", TypeName(container))
}

func normIndex(index Value, length int64, kind string) (int64, error) {
	i, ok := asInt(index)
	if !ok {
		return 0, fmt.Errorf("%s indices must be integers, not %s", kind, TypeName(index))
	}
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, fmt.Errorf("%s index out of range", kind)
	}
	return i, nil
}

func binOp(op string, a, b Value) (Value, error) {
	switch op {
	case "+":
		return opAdd(a, b)
	case "-":
		return numericOp(op, a, b)
	case "*":
		return opMult(a, b)
	case "/", "//", "%", "**":
		return numericOp(op, a, b)
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}

func opAdd(a, b Value) (Value, error) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return nil, typeErr("+", a, b)
		}
		return as + bs, nil
	}
	if al, ok := a.(*List); ok {
		bl, ok := b.(*List)
		if !ok {
			return nil, typeErr("+", a, b)
		}
		out := make([]Value, 0, len(al.Items)+len(bl.Items))
		out = append(out, al.Items...)
		out = append(out, bl.Items...)
		return &List{Items: out}, nil
	}
	if at, ok := a.(Tuple); ok {
		bt, ok := b.(Tuple)
		if !ok {
			return nil, typeErr("+", a, b)
		}
		out := make(Tuple, 0, len(at)+len(bt))
		out = append(out, at...)
		out = append(out, bt...)
		return out, nil
	}
	return numericOp("+", a, b)
}

func opMult(a, b Value) (Value, error) {
	repeat := func(items []Value, n int64) []Value {
		if n < 0 {
			n = 0
		}
		out := make([]Value, 0, int64(len(items))*n)
		for i := int64(0); i < n; i++ {
			out = append(out, items...)
		}
		return out
	}
	if s, ok := a.(string); ok {
		if n, ok := asInt(b); ok {
			if n < 0 {
				n = 0
			}
			return strings.Repeat(s, int(n)), nil
		}
		return nil, typeErr("*", a, b)
	}
	if n, ok := asInt(a); ok {
		if s, ok := b.(string); ok {
			if n < 0 {
				n = 0
			}
			return strings.Repeat(s, int(n)), nil
		}
		if bl, ok := b.(*List); ok {
			return &List{Items: repeat(bl.Items, n)}, nil
		}
		if bt, ok := b.(Tuple); ok {
			return Tuple(repeat(bt, n)), nil
		}
	}
	if al, ok := a.(*List); ok {
		if n, ok := asInt(b); ok {
			return &List{Items: repeat(al.Items, n)}, nil
		}
		return nil, typeErr("*", a, b)
	}
	if at, ok := a.(Tuple); ok {
		if n, ok := asInt(b); ok {
			return Tuple(repeat(at, n)), nil
		}
		return nil, typeErr("*", a, b)
	}
	return numericOp("*", a, b)
}

func numericOp(op string, a, b Value) (Value, error) {
	ai, aInt := asInt(a)
	bi, bInt := asInt(b)
	if aInt && bInt {
		switch op {
		case "+":
			return ai + bi, nil
		case "-":
			return ai - bi, nil
		case "*":
			return ai * bi, nil
		case "/":
			if bi == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return float64(ai) / float64(bi), nil
		case "//":
			if bi == 0 {
				return nil, fmt.Errorf("integer division or modulo by zero")
			}
			q := ai / bi
			if ai%bi != 0 && (ai < 0) != (bi < 0) {
				q--
			}
			return q, nil
		case "%":
			if bi == 0 {
				return nil, fmt.Errorf("integer division or modulo by zero")
			}
			m := ai % bi
			if m != 0 && (m < 0) != (bi < 0) {
				m += bi
			}
			return m, nil
		case "**":
			if bi >= 0 {
				result := int64(1)
				base := ai
				for e := bi; e > 0; e >>= 1 {
					if e&1 == 1 {
						result *= base
					}
					base *= base
				}
				return result, nil
			}
			return math.Pow(float64(ai), float64(bi)), nil
		}
	}

	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if !aNum || !bNum {
		return nil, typeErr(op, a, b)
	}
	switch op {
	case "+":
		return af + bf, nil
	case "-":
		return af - bf, nil
	case "*":
		return af * bf, nil
	case "/":
		if bf == 0 {
			return nil, fmt.Errorf("float division by zero")
		}
		return af / bf, nil
	case "//":
		if bf == 0 {
			return nil, fmt.Errorf("float floor division by zero")
		}
		return math.Floor(af / bf), nil
	case "%":
		if bf == 0 {
			return nil, fmt.Errorf("float modulo by zero")
		}
		m := math.Mod(af, bf)
		if m != 0 && (m < 0) != (bf < 0) {
			m += bf
		}
		return m, nil
	case "**":
		return math.Pow(af, bf), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}

func unaryOp(op string, x Value) (Value, error) {
	switch op {
	case "not":
		return !Truthy(x), nil
	case "-":
		if n, ok := x.(int64); ok {
			return -n, nil
		}
		if f, ok := x.(float64); ok {
			return -f, nil
		}
		if b, ok := x.(bool); ok {
			if b {
				return int64(-1), nil
			}
			return int64(0), nil
		}
		return nil, fmt.Errorf("bad operand type for unary -: '%s'", TypeName(x))
	case "+":
		if n, ok := asInt(x); ok {
			return n, nil
		}
		if f, ok := x.(float64); ok {
			return f, nil
		}
		return nil, fmt.Errorf("bad operand type for unary +: '%s'", TypeName(x))
	}
	return nil, fmt.Errorf("unsupported unary operator %q", op)
}

func typeErr(op string, a, b Value) error {
	return fmt.Errorf("unsupported operand type(s) for %s: '%s' and '%s'", op, TypeName(a), TypeName(b))
}
