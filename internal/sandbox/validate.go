package sandbox

import (
	"strings"

	"github.com/nextlevelbuilder/superloop/internal/pyscript"
	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

// validator applies the name, attribute, and call-target rules to a
// parsed fragment. The grammar allow-list is enforced by the parser;
// what remains here is everything that depends on the binding table.
type validator struct {
	allowedCallables map[string]bool
}

// validate rejects any fragment that reaches outside the allow-list.
func validate(mod *pyscript.Module, bindings map[string]Value) error {
	v := &validator{allowedCallables: make(map[string]bool)}
	for _, name := range SafeBuiltinNames() {
		v.allowedCallables[name] = true
	}
	for name := range bindings {
		v.allowedCallables[name] = true
	}
	collectFunctionNames(mod.Body, v.allowedCallables)

	for _, s := range mod.Body {
		if err := v.checkStmt(s, stmtCtx{}); err != nil {
			return err
		}
	}
	return nil
}

// stmtCtx tracks the statement positions Python's parser cares about:
// return only inside a function, break/continue only inside a loop.
type stmtCtx struct {
	inFunction bool
	inLoop     bool
}

// collectFunctionNames gathers every function defined anywhere in the
// fragment; they are callable regardless of definition order.
func collectFunctionNames(stmts []pyscript.Stmt, out map[string]bool) {
	for _, s := range stmts {
		switch t := s.(type) {
		case *pyscript.FunctionDef:
			out[t.Name] = true
			collectFunctionNames(t.Body, out)
		case *pyscript.If:
			collectFunctionNames(t.Body, out)
			collectFunctionNames(t.Else, out)
		case *pyscript.While:
			collectFunctionNames(t.Body, out)
			collectFunctionNames(t.Else, out)
		case *pyscript.For:
			collectFunctionNames(t.Body, out)
			collectFunctionNames(t.Else, out)
		}
	}
}

func (v *validator) checkStmt(s pyscript.Stmt, ctx stmtCtx) error {
	switch t := s.(type) {
	case *pyscript.ExprStmt:
		return v.checkExpr(t.X)
	case *pyscript.Assign:
		for _, target := range t.Targets {
			if err := v.checkExpr(target); err != nil {
				return err
			}
		}
		return v.checkExpr(t.Value)
	case *pyscript.AugAssign:
		if err := v.checkExpr(t.Target); err != nil {
			return err
		}
		return v.checkExpr(t.Value)
	case *pyscript.If:
		if err := v.checkExpr(t.Cond); err != nil {
			return err
		}
		if err := v.checkStmts(t.Body, ctx); err != nil {
			return err
		}
		return v.checkStmts(t.Else, ctx)
	case *pyscript.While:
		if err := v.checkExpr(t.Cond); err != nil {
			return err
		}
		loopCtx := stmtCtx{inFunction: ctx.inFunction, inLoop: true}
		if err := v.checkStmts(t.Body, loopCtx); err != nil {
			return err
		}
		return v.checkStmts(t.Else, ctx)
	case *pyscript.For:
		if err := v.checkExpr(t.Target); err != nil {
			return err
		}
		if err := v.checkExpr(t.Iter); err != nil {
			return err
		}
		loopCtx := stmtCtx{inFunction: ctx.inFunction, inLoop: true}
		if err := v.checkStmts(t.Body, loopCtx); err != nil {
			return err
		}
		return v.checkStmts(t.Else, ctx)
	case *pyscript.Break:
		if !ctx.inLoop {
			return rlms.Violationf("syntax error: 'break' outside loop")
		}
		return nil
	case *pyscript.Continue:
		if !ctx.inLoop {
			return rlms.Violationf("syntax error: 'continue' not properly in loop")
		}
		return nil
	case *pyscript.Pass:
		return nil
	case *pyscript.FunctionDef:
		for _, param := range t.Params {
			if param.Default != nil {
				if err := v.checkExpr(param.Default); err != nil {
					return err
				}
			}
		}
		return v.checkStmts(t.Body, stmtCtx{inFunction: true})
	case *pyscript.Return:
		if !ctx.inFunction {
			return rlms.Violationf("syntax error: 'return' outside function")
		}
		if t.Value != nil {
			return v.checkExpr(t.Value)
		}
		return nil
	}
	return rlms.Violationf("node type not allowed: %T", s)
}

func (v *validator) checkStmts(group []pyscript.Stmt, ctx stmtCtx) error {
	for _, s := range group {
		if err := v.checkStmt(s, ctx); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) checkExpr(e pyscript.Expr) error {
	switch t := e.(type) {
	case *pyscript.Constant:
		return nil
	case *pyscript.Name:
		if strings.HasPrefix(t.ID, "__") {
			return rlms.Violationf("dunder names are not allowed")
		}
		return nil
	case *pyscript.Attribute:
		// Attribute reached outside a call's method position.
		return rlms.Violationf("attribute access is not allowed")
	case *pyscript.ListLit:
		return v.checkExprs(t.Elts)
	case *pyscript.TupleLit:
		return v.checkExprs(t.Elts)
	case *pyscript.SetLit:
		return v.checkExprs(t.Elts)
	case *pyscript.DictLit:
		if err := v.checkExprs(t.Keys); err != nil {
			return err
		}
		return v.checkExprs(t.Values)
	case *pyscript.Subscript:
		if err := v.checkExpr(t.X); err != nil {
			return err
		}
		return v.checkExpr(t.Index)
	case *pyscript.SliceExpr:
		return v.checkExprs([]pyscript.Expr{t.Lo, t.Hi, t.Step})
	case *pyscript.BinOp:
		if err := v.checkExpr(t.L); err != nil {
			return err
		}
		return v.checkExpr(t.R)
	case *pyscript.UnaryOp:
		return v.checkExpr(t.X)
	case *pyscript.BoolOp:
		return v.checkExprs(t.Values)
	case *pyscript.Compare:
		if err := v.checkExpr(t.Left); err != nil {
			return err
		}
		return v.checkExprs(t.Comparators)
	case *pyscript.IfExp:
		if err := v.checkExpr(t.Cond); err != nil {
			return err
		}
		if err := v.checkExpr(t.Body); err != nil {
			return err
		}
		return v.checkExpr(t.Else)
	case *pyscript.Call:
		return v.checkCall(t)
	case *pyscript.Comp:
		for _, gen := range t.Generators {
			if err := v.checkExpr(gen.Target); err != nil {
				return err
			}
			if err := v.checkExpr(gen.Iter); err != nil {
				return err
			}
			if err := v.checkExprs(gen.Ifs); err != nil {
				return err
			}
		}
		if t.Kind == pyscript.CompDict {
			if err := v.checkExpr(t.Key); err != nil {
				return err
			}
			return v.checkExpr(t.Value)
		}
		return v.checkExpr(t.Elt)
	case *pyscript.FString:
		for _, part := range t.Parts {
			if part.IsExpr {
				if err := v.checkExpr(part.Expr); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return rlms.Violationf("node type not allowed: %T", e)
}

func (v *validator) checkExprs(exprs []pyscript.Expr) error {
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if err := v.checkExpr(e); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) checkCall(call *pyscript.Call) error {
	switch fn := call.Func.(type) {
	case *pyscript.Name:
		if strings.HasPrefix(fn.ID, "__") {
			return rlms.Violationf("dunder names are not allowed")
		}
		if !v.allowedCallables[fn.ID] {
			return rlms.Violationf("call target not allowed: %s", fn.ID)
		}
	case *pyscript.Attribute:
		if !v.isAllowedMethodCallTarget(fn) {
			return rlms.Violationf("method call target not allowed")
		}
		if err := v.checkMethodReceiver(fn.X); err != nil {
			return err
		}
	default:
		return rlms.Violationf("only direct or safe method calls are allowed")
	}

	for _, arg := range call.Args {
		if err := v.checkExpr(arg); err != nil {
			return err
		}
	}
	for _, kw := range call.Keywords {
		if strings.HasPrefix(kw.Name, "__") {
			return rlms.Violationf("dunder keyword args are not allowed")
		}
		if err := v.checkExpr(kw.Value); err != nil {
			return err
		}
	}
	return nil
}

// isAllowedMethodCallTarget admits a narrow subset of non-dunder method
// calls used for container/string transformations: the receiver must be
// a plain name, a string literal, or the result of an allow-listed
// call.
func (v *validator) isAllowedMethodCallTarget(attr *pyscript.Attribute) bool {
	if attr.Attr == "" || strings.HasPrefix(attr.Attr, "__") {
		return false
	}
	if !SafeMethodNames[attr.Attr] {
		return false
	}
	switch base := attr.X.(type) {
	case *pyscript.Name:
		return !strings.HasPrefix(base.ID, "__")
	case *pyscript.Constant:
		_, isStr := base.Value.(string)
		return isStr
	case *pyscript.Call:
		// Chaining on outputs of approved helpers/safe builtins.
		if target, ok := base.Func.(*pyscript.Name); ok {
			return v.allowedCallables[target.ID]
		}
		return false
	}
	return false
}

// checkMethodReceiver validates the receiver subtree of an approved
// method call (its own arguments still need the call rules).
func (v *validator) checkMethodReceiver(x pyscript.Expr) error {
	switch base := x.(type) {
	case *pyscript.Name, *pyscript.Constant:
		return nil
	case *pyscript.Call:
		return v.checkCall(base)
	}
	return rlms.Violationf("method call target not allowed")
}
