package debugger

import (
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"

	"github.com/go-delve/execctl/pkg/proc"
)

var errNotACall = errors.New("expression is not a function call")

// call evaluates a function call expression such as "square(7)". The
// arguments must be constants or symbols; a call wrapped in a conversion,
// like "long(opaque())", calls a function whose return type is unknown
// assuming the given one.
func (d *Debugger) call(expr string) (*proc.Value, error) {
	t, err := parser.ParseExpr(expr)
	if err != nil {
		return nil, err
	}
	callExpr, ok := t.(*ast.CallExpr)
	if !ok {
		return nil, errNotACall
	}

	var retType *proc.Type
	if id, ok := callExpr.Fun.(*ast.Ident); ok && d.prog.LookupFunc(id.Name) == nil && len(callExpr.Args) == 1 {
		if typ, err := d.prog.Type(id.Name); err == nil {
			inner, ok := callExpr.Args[0].(*ast.CallExpr)
			if !ok {
				return nil, errNotACall
			}
			retType = typ
			callExpr = inner
		}
	}

	id, ok := callExpr.Fun.(*ast.Ident)
	if !ok {
		return nil, fmt.Errorf("can not call %s", exprString(expr, callExpr.Fun))
	}
	fn := d.prog.LookupFunc(id.Name)
	if fn == nil {
		return nil, fmt.Errorf("could not find symbol value for %s", id.Name)
	}

	args := make([]*proc.Value, len(callExpr.Args))
	for i, arg := range callExpr.Args {
		v, err := d.evalArg(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %v", i+1, err)
		}
		args[i] = v
	}
	return d.session.CallFunction(proc.FunctionValue(fn), args, retType)
}

func (d *Debugger) evalArg(arg ast.Expr) (*proc.Value, error) {
	switch arg := arg.(type) {
	case *ast.ParenExpr:
		return d.evalArg(arg.X)
	case *ast.Ident:
		switch arg.Name {
		case "true":
			return proc.NewIntValue(proc.BoolType, 1), nil
		case "false":
			return proc.NewIntValue(proc.BoolType, 0), nil
		}
		if fn := d.prog.LookupFunc(arg.Name); fn != nil {
			return proc.FunctionValue(fn), nil
		}
		if addr, ok := d.prog.Symbol(arg.Name); ok {
			return proc.NewPointerValue(proc.PointerTo(proc.VoidType), addr), nil
		}
		return nil, fmt.Errorf("could not find symbol value for %s", arg.Name)
	}

	c, err := constantValue(arg)
	if err != nil {
		return nil, err
	}
	switch c.Kind() {
	case constant.Int:
		n, exact := constant.Int64Val(c)
		if !exact {
			return nil, fmt.Errorf("constant %v overflows long", c)
		}
		return proc.NewIntValue(proc.LongType, n), nil
	case constant.Float:
		f, _ := constant.Float64Val(c)
		return proc.NewFloatValue(proc.DoubleType, f), nil
	}
	return nil, fmt.Errorf("unsupported constant %v", c)
}

// constantValue evaluates literals, optionally negated.
func constantValue(e ast.Expr) (constant.Value, error) {
	switch e := e.(type) {
	case *ast.BasicLit:
		switch e.Kind {
		case token.INT, token.FLOAT, token.CHAR:
			c := constant.MakeFromLiteral(e.Value, e.Kind, 0)
			if c.Kind() == constant.Unknown {
				return nil, fmt.Errorf("malformed literal %s", e.Value)
			}
			return c, nil
		}
		return nil, fmt.Errorf("unsupported literal %s", e.Value)
	case *ast.UnaryExpr:
		x, err := constantValue(e.X)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.SUB, token.ADD:
			return constant.UnaryOp(e.Op, x, 0), nil
		}
		return nil, fmt.Errorf("unsupported operator %v", e.Op)
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func exprString(src string, e ast.Expr) string {
	start, end := int(e.Pos())-1, int(e.End())-1
	if start >= 0 && end <= len(src) && start < end {
		return src[start:end]
	}
	return fmt.Sprintf("%T", e)
}
