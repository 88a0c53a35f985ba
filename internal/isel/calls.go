package isel

import (
	"github.com/tinyrange/jit/internal/asm"
	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/runtime"
	"github.com/tinyrange/jit/internal/value"
)

// operand is one argument of a runtime call.
type operand struct {
	kind  runtime.Kind
	temp  *ir.Temp
	value value.Value
	imm   uint64
}

func contextArg() operand { return operand{kind: runtime.KindContext} }

func argsArg() operand { return operand{kind: runtime.KindArgs} }

func int32Arg(n int32) operand { return operand{kind: runtime.KindInt32, imm: uint64(uint32(n))} }

func pointerArg(p uintptr) operand { return operand{kind: runtime.KindPointer, imm: uint64(p)} }

func boxedArg(v value.Value) operand { return operand{kind: runtime.KindValue, value: v} }

func (s *selector) identArg(name string) operand {
	return operand{kind: runtime.KindIdentifier, imm: uint64(s.engine.Identifier(name))}
}

// valueArg passes a temp by value or materializes a literal.
func (s *selector) valueArg(e ir.Expr) operand {
	switch e := e.(type) {
	case *ir.Temp:
		return operand{kind: runtime.KindValue, temp: e}
	case *ir.Const:
		return boxedArg(convertToValue(e))
	case *ir.String:
		return boxedArg(s.engine.NewString(e.Value))
	default:
		Fatalf("%s: unsupported value operand %s", s.fn.Name, ir.ExprString(e))
		return operand{}
	}
}

func (s *selector) tempArg(e ir.Expr) operand {
	t, ok := e.(*ir.Temp)
	if !ok {
		Fatalf("%s: expected temp, got %s", s.fn.Name, ir.ExprString(e))
	}
	return operand{kind: runtime.KindValue, temp: t}
}

// convertToValue boxes a literal.
func convertToValue(c *ir.Const) value.Value {
	switch c.Type {
	case ir.UndefinedType:
		return value.Undefined()
	case ir.NullType:
		return value.Null()
	case ir.BoolType:
		return value.FromBoolean(c.Value != 0)
	case ir.NumberType:
		return value.FromNumber(c.Value)
	default:
		Fatalf("unsupported constant type %s", c.Type)
		return value.Undefined()
	}
}

// loadArgument places op in the argument register reg.
func (s *selector) loadArgument(op operand, reg asm.Variable) {
	switch op.kind {
	case runtime.KindContext:
		s.a.Move(reg, s.regs.Context)
	case runtime.KindValue:
		if op.temp != nil {
			s.a.LoadPtr(reg, s.tempAddress(op.temp))
			return
		}
		s.a.MoveImm(reg, uint64(op.value))
	case runtime.KindIdentifier, runtime.KindPointer, runtime.KindInt32:
		s.a.MoveImm(reg, op.imm)
	case runtime.KindArgs:
		s.a.Lea(reg, s.baseAddressForCallArguments())
	default:
		Fatalf("unsupported operand kind %q", op.kind)
	}
}

// call emits a call to the runtime entry name. The signature spelled by
// ops and result must match the catalogue exactly.
func (s *selector) call(name string, result runtime.Result, ops ...operand) {
	entry, addr, err := s.table.Lookup(name)
	if err != nil {
		Fatalf("%s: %v", s.fn.Name, err)
	}
	kinds := make([]runtime.Kind, len(ops))
	for i, op := range ops {
		kinds[i] = op.kind
	}
	if sig := runtime.NewSignature(result, kinds...); sig != entry.Sig {
		Fatalf("%s: call to %s with signature %s, want %s", s.fn.Name, name, sig, entry.Sig)
	}

	args := s.target.ArgumentRegisters()
	if len(ops) > len(args) {
		Fatalf("%s: %s takes %d arguments, %s passes at most %d in registers",
			s.fn.Name, name, len(ops), s.target.Arch(), len(args))
	}
	for i, op := range ops {
		s.loadArgument(op, args[i])
	}
	s.deferCall(s.a.Call(name), addr)
	s.calls++
}

// callValue calls name and stores its value result into target, or
// discards it when target is nil.
func (s *selector) callValue(name string, target *ir.Temp, ops ...operand) {
	s.call(name, runtime.ResultValue, ops...)
	if target != nil {
		s.a.StorePtr(s.tempAddress(target), s.regs.ReturnValue)
	}
}

func (s *selector) callVoid(name string, ops ...operand) {
	s.call(name, runtime.ResultVoid, ops...)
}

// callBool leaves the boolean result in the return value register.
func (s *selector) callBool(name string, ops ...operand) {
	s.call(name, runtime.ResultBool, ops...)
}

// storeValue writes a boxed constant into t as payload and tag.
func (s *selector) storeValue(v value.Value, t *ir.Temp) {
	s.storeValueAt(v, s.tempAddress(t))
}

func (s *selector) storeValueAt(v value.Value, addr Address) {
	s.a.Store32Imm(addr.Add(value.PayloadOffset), v.Payload())
	s.a.Store32Imm(addr.Add(value.TagOffset), uint32(v.Tag()))
}

// copyValue copies the eight bytes of src into dst without inspecting the
// tag.
func (s *selector) copyValue(dst func() Address, src *ir.Temp) {
	if s.policy == value.FitsInRegister {
		s.a.LoadPtr(s.regs.ReturnValue, s.tempAddress(src))
		s.a.StorePtr(dst(), s.regs.ReturnValue)
		return
	}
	s.a.LoadDouble(s.tempAddress(src))
	s.a.StoreDouble(dst())
}

func (s *selector) copyToTemp(dst, src *ir.Temp) {
	s.copyValue(func() Address { return s.tempAddress(dst) }, src)
}

// prepareVariableArguments copies args into the outgoing argument area and
// returns their count.
func (s *selector) prepareVariableArguments(args []ir.Expr) int32 {
	if len(args) > s.fn.MaxNumberOfArguments {
		Fatalf("%s: %d call arguments exceed declared maximum %d", s.fn.Name, len(args), s.fn.MaxNumberOfArguments)
	}
	for i, arg := range args {
		switch arg := arg.(type) {
		case *ir.Temp:
			s.copyValue(func() Address { return s.argumentAddressForCall(i) }, arg)
		case *ir.Const:
			s.storeValueAt(convertToValue(arg), s.argumentAddressForCall(i))
		default:
			Fatalf("%s: unsupported call argument %s", s.fn.Name, ir.ExprString(arg))
		}
	}
	return int32(len(args))
}
