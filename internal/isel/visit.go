package isel

import (
	"github.com/tinyrange/jit/internal/asm"
	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/value"
)

func (s *selector) visit(st ir.Stmt) {
	switch st := st.(type) {
	case *ir.Exp:
		s.visitExp(st)
	case *ir.Move:
		s.visitMove(st)
	case *ir.Jump:
		s.jumpToBlock(st.Target)
	case *ir.CJump:
		s.visitCJump(st)
	case *ir.Ret:
		s.visitRet(st)
	default:
		Fatalf("%s: unsupported statement %T", s.fn.Name, st)
	}
}

func (s *selector) visitExp(st *ir.Exp) {
	c, ok := st.Expr.(*ir.Call)
	if !ok {
		Fatalf("%s: unsupported expression statement %s", s.fn.Name, ir.StmtString(st))
	}
	s.callExpr(c, nil)
}

func (s *selector) visitMove(m *ir.Move) {
	if m.Op != ir.OpInvalid {
		s.visitInplace(m)
		return
	}
	switch target := m.Target.(type) {
	case *ir.Temp:
		s.moveToTemp(target, m.Source)
	case *ir.Name:
		s.callVoid("set_activation_property", contextArg(), s.identArg(target.ID), s.valueArg(m.Source))
	case *ir.Member:
		s.callVoid("set_property", contextArg(), s.tempArg(target.Base), s.identArg(target.Name), s.valueArg(m.Source))
	case *ir.Subscript:
		s.callVoid("set_element", contextArg(), s.tempArg(target.Base), s.tempArg(target.Index), s.valueArg(m.Source))
	default:
		Fatalf("%s: unsupported move %s", s.fn.Name, ir.StmtString(m))
	}
}

func (s *selector) visitInplace(m *ir.Move) {
	switch target := m.Target.(type) {
	case *ir.Temp:
		s.generateBinOp(m.Op, target, target, m.Source)
	case *ir.Name:
		s.inplaceNameOp(m.Op, m.Source, target.ID)
	case *ir.Subscript:
		s.inplaceElementOp(m.Op, m.Source, target.Base, target.Index)
	case *ir.Member:
		s.inplaceMemberOp(m.Op, m.Source, target.Base, target.Name)
	default:
		Fatalf("%s: unsupported compound assignment %s", s.fn.Name, ir.StmtString(m))
	}
}

func (s *selector) moveToTemp(t *ir.Temp, source ir.Expr) {
	switch src := source.(type) {
	case *ir.Name:
		if src.ID == "this" {
			s.callValue("get_this_object", t, contextArg())
			return
		}
		s.callValue("get_activation_property", t, contextArg(), s.identArg(src.ID))
	case *ir.Const:
		s.storeValue(convertToValue(src), t)
	case *ir.Temp:
		s.copyToTemp(t, src)
	case *ir.String:
		s.storeValue(s.engine.NewString(src.Value), t)
	case *ir.RegExp:
		v, err := s.engine.NewRegExp(src.Pattern, src.Flags)
		if err != nil {
			s.fail(err)
			v = value.Undefined()
		}
		s.generated = append(s.generated, v)
		s.storeValue(v, t)
	case *ir.Closure:
		handle, err := s.engine.FunctionHandle(src.Function)
		if err != nil {
			s.fail(err)
		}
		s.callValue("init_closure", t, pointerArg(handle), contextArg())
	case *ir.New:
		s.newExpr(src, t)
	case *ir.Member:
		s.callValue("get_property", t, contextArg(), s.tempArg(src.Base), s.identArg(src.Name))
	case *ir.Subscript:
		s.callValue("get_element", t, contextArg(), s.tempArg(src.Base), s.tempArg(src.Index))
	case *ir.Unop:
		s.unop(src.Op, src.Expr, t)
	case *ir.Binop:
		s.generateBinOp(src.Op, t, src.Left, src.Right)
	case *ir.Call:
		s.callExpr(src, t)
	default:
		Fatalf("%s: unsupported source %s", s.fn.Name, ir.ExprString(source))
	}
}

// callExpr calls through a name, a member or a value. result may be nil.
func (s *selector) callExpr(c *ir.Call, result *ir.Temp) {
	switch base := c.Base.(type) {
	case *ir.Name:
		if base.Builtin != ir.BuiltinInvalid {
			s.callBuiltin(base.Builtin, c.Args, result)
			return
		}
		s.callActivationProperty("call_activation_property", base.ID, c.Args, result)
	case *ir.Member:
		argc := s.prepareVariableArguments(c.Args)
		s.callValue("call_property", result, contextArg(), s.tempArg(base.Base), s.identArg(base.Name),
			argsArg(), int32Arg(argc))
	case *ir.Temp:
		argc := s.prepareVariableArguments(c.Args)
		s.callValue("call_value", result, contextArg(), boxedArg(value.Undefined()), s.tempArg(base),
			argsArg(), int32Arg(argc))
	default:
		Fatalf("%s: unsupported call %s", s.fn.Name, ir.ExprString(c))
	}
}

func (s *selector) callActivationProperty(entry, name string, args []ir.Expr, result *ir.Temp) {
	argc := s.prepareVariableArguments(args)
	s.callValue(entry, result, contextArg(), s.identArg(name), argsArg(), int32Arg(argc))
}

func (s *selector) newExpr(n *ir.New, result *ir.Temp) {
	switch base := n.Base.(type) {
	case *ir.Name:
		s.callActivationProperty("construct_activation_property", base.ID, n.Args, result)
	case *ir.Member:
		argc := s.prepareVariableArguments(n.Args)
		s.callValue("construct_property", result, contextArg(), s.tempArg(base.Base), s.identArg(base.Name),
			argsArg(), int32Arg(argc))
	case *ir.Temp:
		argc := s.prepareVariableArguments(n.Args)
		s.callValue("construct_value", result, contextArg(), s.tempArg(base), argsArg(), int32Arg(argc))
	default:
		Fatalf("%s: unsupported new %s", s.fn.Name, ir.ExprString(n))
	}
}

// visitCJump branches to IfTrue when the condition holds and falls through
// or jumps to IfFalse otherwise.
func (s *selector) visitCJump(st *ir.CJump) {
	switch cond := st.Cond.(type) {
	case *ir.Temp:
		booleanConversion := s.a.Branch32(asm.NotEqual, s.tempAddress(cond).Add(value.TagOffset), uint32(value.BooleanTag))
		s.a.Load32(s.regs.ReturnValue, s.tempAddress(cond).Add(value.PayloadOffset))
		testBoolean := s.a.Jump()

		s.a.LinkJump(booleanConversion, s.a.Len())
		s.callBool("to_boolean", s.tempArg(cond), contextArg())

		s.a.LinkJump(testBoolean, s.a.Len())
	case *ir.Binop:
		if !cond.Op.IsRelational() {
			Fatalf("%s: unsupported condition %s", s.fn.Name, ir.ExprString(cond))
		}
		info := binaryOperationFor(cond.Op)
		s.callBool("cmp_"+info.name, s.compareArg(cond.Left), s.compareArg(cond.Right), contextArg())
	default:
		Fatalf("%s: unsupported condition %s", s.fn.Name, ir.ExprString(st.Cond))
	}

	s.addPatch(st.IfTrue, s.a.BranchReg32(asm.NotEqual, s.regs.ReturnValue, 0))
	s.jumpToBlock(st.IfFalse)
}

func (s *selector) compareArg(e ir.Expr) operand {
	switch e.(type) {
	case *ir.Temp, *ir.Const:
		return s.valueArg(e)
	default:
		Fatalf("%s: unsupported comparison operand %s", s.fn.Name, ir.ExprString(e))
		return operand{}
	}
}

// visitRet hands the value back through the return register, or through
// the hidden return pointer under ViaDouble, and tears the frame down.
func (s *selector) visitRet(st *ir.Ret) {
	switch e := st.Expr.(type) {
	case *ir.Temp:
		if s.policy == value.FitsInRegister {
			s.a.LoadPtr(s.regs.ReturnValue, s.tempAddress(e))
		} else {
			s.a.LoadDouble(s.tempAddress(e))
			s.a.StoreDouble(Address{Base: s.regs.OutPointer})
		}
	case *ir.Const:
		v := convertToValue(e)
		if s.policy == value.FitsInRegister {
			s.a.MoveImm(s.regs.ReturnValue, uint64(v))
		} else {
			s.storeValueAt(v, Address{Base: s.regs.OutPointer})
		}
	default:
		Fatalf("%s: unsupported return %s", s.fn.Name, ir.StmtString(st))
	}
	if s.policy == value.ViaDouble {
		s.a.Move(s.regs.ReturnValue, s.regs.OutPointer)
	}
	s.leaveStandardFrame()
}
