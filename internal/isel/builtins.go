package isel

import (
	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/value"
)

// callBuiltin lowers a call to one of the reserved names. result may be nil.
func (s *selector) callBuiltin(b ir.Builtin, args []ir.Expr, result *ir.Temp) {
	switch b {
	case ir.BuiltinTypeof:
		s.builtinArity(b, args, 1)
		s.builtinTypeof(args[0], result)
	case ir.BuiltinDelete:
		s.builtinArity(b, args, 1)
		s.builtinDelete(args[0], result)
	case ir.BuiltinThrow:
		s.builtinArity(b, args, 1)
		s.callVoid("throw", s.valueArg(args[0]), contextArg())
	case ir.BuiltinCreateExceptionHandler:
		s.builtinArity(b, args, 0)
		s.callBool("create_exception_handler", contextArg())
		if result != nil {
			addr := s.tempAddress(result)
			s.a.Store32(addr.Add(value.PayloadOffset), s.regs.ReturnValue)
			s.a.Store32Imm(addr.Add(value.TagOffset), uint32(value.BooleanTag))
		}
	case ir.BuiltinDeleteExceptionHandler:
		s.builtinArity(b, args, 0)
		s.callVoid("delete_exception_handler", contextArg())
	case ir.BuiltinGetException:
		s.builtinArity(b, args, 0)
		s.callValue("get_exception", result, contextArg())
	case ir.BuiltinForeachIteratorObject:
		s.builtinArity(b, args, 1)
		s.callValue("foreach_iterator_object", result, s.valueArg(args[0]), contextArg())
	case ir.BuiltinForeachNextPropertyName:
		s.builtinArity(b, args, 1)
		s.callValue("foreach_next_property_name", result, s.tempArg(args[0]))
	case ir.BuiltinPushWith:
		s.builtinArity(b, args, 1)
		s.callVoid("push_with", s.valueArg(args[0]), contextArg())
	case ir.BuiltinPopWith:
		s.builtinArity(b, args, 0)
		s.callVoid("pop_with", contextArg())
	case ir.BuiltinDeclareVars:
		s.builtinDeclareVars(args)
	case ir.BuiltinDefineGetterSetter:
		s.builtinArity(b, args, 4)
		s.callVoid("define_getter_setter", s.tempArg(args[0]), s.identArg(s.propertyName(args[1])),
			s.valueArg(args[2]), s.valueArg(args[3]), contextArg())
	case ir.BuiltinDefineProperty:
		s.builtinArity(b, args, 3)
		s.callVoid("define_property", s.tempArg(args[0]), s.identArg(s.propertyName(args[1])),
			s.valueArg(args[2]), contextArg())
	default:
		Fatalf("%s: unsupported builtin %s", s.fn.Name, b)
	}
}

func (s *selector) builtinArity(b ir.Builtin, args []ir.Expr, n int) {
	if len(args) != n {
		Fatalf("%s: builtin %s takes %d arguments, got %d", s.fn.Name, b, n, len(args))
	}
}

// propertyName accepts a name or a string literal.
func (s *selector) propertyName(e ir.Expr) string {
	switch e := e.(type) {
	case *ir.Name:
		return e.ID
	case *ir.String:
		return e.Value
	default:
		Fatalf("%s: expected property name, got %s", s.fn.Name, ir.ExprString(e))
		return ""
	}
}

func (s *selector) builtinTypeof(arg ir.Expr, result *ir.Temp) {
	switch arg := arg.(type) {
	case *ir.Member:
		s.callValue("typeof_member", result, s.tempArg(arg.Base), s.identArg(arg.Name), contextArg())
	case *ir.Subscript:
		s.callValue("typeof_element", result, s.tempArg(arg.Base), s.tempArg(arg.Index), contextArg())
	case *ir.Name:
		s.callValue("typeof_name", result, s.identArg(arg.ID), contextArg())
	case *ir.Temp:
		s.callValue("typeof", result, s.tempArg(arg), contextArg())
	default:
		Fatalf("%s: unsupported typeof operand %s", s.fn.Name, ir.ExprString(arg))
	}
}

// builtinDelete removes a binding. Deleting a plain value always yields
// false without a runtime call.
func (s *selector) builtinDelete(arg ir.Expr, result *ir.Temp) {
	switch arg := arg.(type) {
	case *ir.Member:
		s.callValue("delete_member", result, contextArg(), s.tempArg(arg.Base), s.identArg(arg.Name))
	case *ir.Subscript:
		s.callValue("delete_subscript", result, contextArg(), s.tempArg(arg.Base), s.tempArg(arg.Index))
	case *ir.Name:
		s.callValue("delete_name", result, contextArg(), s.identArg(arg.ID))
	case *ir.Temp:
		if result != nil {
			s.storeValue(value.FromBoolean(false), result)
		}
	default:
		Fatalf("%s: unsupported delete operand %s", s.fn.Name, ir.ExprString(arg))
	}
}

// builtinDeclareVars takes a deletable flag followed by the names to
// declare.
func (s *selector) builtinDeclareVars(args []ir.Expr) {
	if len(args) == 0 {
		Fatalf("%s: declare_vars without deletable flag", s.fn.Name)
	}
	flag, ok := args[0].(*ir.Const)
	if !ok || flag.Type != ir.BoolType {
		Fatalf("%s: declare_vars flag must be a boolean constant, got %s", s.fn.Name, ir.ExprString(args[0]))
	}
	deletable := int32(0)
	if flag.Value != 0 {
		deletable = 1
	}
	for _, arg := range args[1:] {
		name, ok := arg.(*ir.Name)
		if !ok {
			Fatalf("%s: declare_vars expects names, got %s", s.fn.Name, ir.ExprString(arg))
		}
		s.callVoid("declare_var", contextArg(), int32Arg(deletable), s.identArg(name.ID))
	}
}
