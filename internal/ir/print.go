package ir

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ExprString renders e in a compact source-like notation.
func ExprString(e Expr) string {
	switch e := e.(type) {
	case nil:
		return "<nil>"
	case *Const:
		switch e.Type {
		case UndefinedType:
			return "undefined"
		case NullType:
			return "null"
		case BoolType:
			return strconv.FormatBool(e.Value != 0)
		default:
			return strconv.FormatFloat(e.Value, 'g', -1, 64)
		}
	case *String:
		return strconv.Quote(e.Value)
	case *RegExp:
		return "/" + e.Pattern + "/" + e.Flags.String()
	case *Name:
		if e.Builtin != BuiltinInvalid {
			return "builtin_" + e.Builtin.String()
		}
		return e.ID
	case *Temp:
		if e.Index < 0 {
			return fmt.Sprintf("a%d", -e.Index-1)
		}
		return fmt.Sprintf("%%%d", e.Index)
	case *Closure:
		return "closure(" + e.Function.Name + ")"
	case *Unop:
		return e.Op.Symbol() + ExprString(e.Expr)
	case *Binop:
		return ExprString(e.Left) + " " + e.Op.Symbol() + " " + ExprString(e.Right)
	case *Call:
		return ExprString(e.Base) + "(" + exprList(e.Args) + ")"
	case *New:
		return "new " + ExprString(e.Base) + "(" + exprList(e.Args) + ")"
	case *Member:
		return ExprString(e.Base) + "." + e.Name
	case *Subscript:
		return ExprString(e.Base) + "[" + ExprString(e.Index) + "]"
	default:
		return fmt.Sprintf("<%T>", e)
	}
}

func exprList(args []Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = ExprString(a)
	}
	return strings.Join(parts, ", ")
}

// StmtString renders s on a single line.
func StmtString(s Stmt) string {
	switch s := s.(type) {
	case *Exp:
		return ExprString(s.Expr)
	case *Move:
		op := "="
		if s.Op != OpInvalid {
			op = s.Op.Symbol() + "="
		}
		return ExprString(s.Target) + " " + op + " " + ExprString(s.Source)
	case *Jump:
		return fmt.Sprintf("goto L%d", s.Target)
	case *CJump:
		return fmt.Sprintf("if %s goto L%d else goto L%d", ExprString(s.Cond), s.IfTrue, s.IfFalse)
	case *Ret:
		return "return " + ExprString(s.Expr)
	default:
		return fmt.Sprintf("<%T>", s)
	}
}

// Fprint writes a listing of f to w.
func Fprint(w io.Writer, f *Function) error {
	if _, err := fmt.Fprintf(w, "function %s(%s) locals=%d temps=%d max_args=%d\n",
		f.Name, strings.Join(f.Formals, ", "), len(f.Locals), f.TempCount, f.MaxNumberOfArguments); err != nil {
		return err
	}
	for _, b := range f.Blocks {
		if _, err := fmt.Fprintf(w, "L%d:\n", b.Index); err != nil {
			return err
		}
		for _, s := range b.Statements {
			if _, err := fmt.Fprintf(w, "    %s\n", StmtString(s)); err != nil {
				return err
			}
		}
	}
	return nil
}
