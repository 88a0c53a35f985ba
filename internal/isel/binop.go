package isel

import (
	"github.com/tinyrange/jit/internal/asm"
	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/value"
)

// binaryOperation describes how one operator is generated. name is the
// runtime fallback; inline operators also get an integer fast path.
type binaryOperation struct {
	name   string
	inline bool
	op     InlineOp
}

func fallbackOp(name string) binaryOperation { return binaryOperation{name: name} }

func inlineOp(name string, op InlineOp) binaryOperation {
	return binaryOperation{name: name, inline: true, op: op}
}

var binaryOperations = [ir.LastAluOp + 1]binaryOperation{
	ir.OpBitAnd: inlineOp("bit_and", InlineAnd),
	ir.OpBitOr:  inlineOp("bit_or", InlineOr),
	ir.OpBitXor: inlineOp("bit_xor", InlineXor),

	ir.OpAdd: inlineOp("add", InlineAdd),
	ir.OpSub: inlineOp("sub", InlineSub),
	ir.OpMul: inlineOp("mul", InlineMul),
	ir.OpDiv: fallbackOp("div"),
	ir.OpMod: fallbackOp("mod"),

	ir.OpLShift:  inlineOp("shl", InlineShl),
	ir.OpRShift:  inlineOp("shr", InlineShr),
	ir.OpURShift: inlineOp("ushr", InlineUShr),

	ir.OpGt:             fallbackOp("gt"),
	ir.OpLt:             fallbackOp("lt"),
	ir.OpGe:             fallbackOp("ge"),
	ir.OpLe:             fallbackOp("le"),
	ir.OpEqual:          fallbackOp("eq"),
	ir.OpNotEqual:       fallbackOp("ne"),
	ir.OpStrictEqual:    fallbackOp("se"),
	ir.OpStrictNotEqual: fallbackOp("sne"),

	ir.OpInstanceof: fallbackOp("instanceof"),
	ir.OpIn:         fallbackOp("in"),
}

func binaryOperationFor(op ir.AluOp) binaryOperation {
	if op > ir.LastAluOp || binaryOperations[op].name == "" {
		Fatalf("no binary operation for %s", op)
	}
	return binaryOperations[op]
}

// integerConst reports the int32 payload of a literal that converts to an
// integer.
func integerConst(e ir.Expr) (int32, bool) {
	c, ok := e.(*ir.Const)
	if !ok {
		return 0, false
	}
	v, ok := convertToValue(c).TryIntegerConversion()
	if !ok {
		return 0, false
	}
	return v.Int32(), true
}

// generateBinOp stores left op right into target. Integer operands take an
// inline path; anything else, and any overflow, calls the runtime.
func (s *selector) generateBinOp(op ir.AluOp, target *ir.Temp, left, right ir.Expr) {
	info := binaryOperationFor(op)
	for _, e := range []ir.Expr{left, right} {
		switch e.(type) {
		case *ir.Temp, *ir.Const:
		default:
			Fatalf("%s: unsupported %s operand %s", s.fn.Name, op, ir.ExprString(e))
		}
	}

	canDoInline := info.inline
	var leftConst, rightConst int32
	if canDoInline {
		if _, ok := left.(*ir.Const); ok {
			leftConst, canDoInline = integerConst(left)
		}
	}
	if canDoInline {
		if _, ok := right.(*ir.Const); ok {
			rightConst, canDoInline = integerConst(right)
		}
	}

	var binOpFinished asm.Jump
	if canDoInline {
		var leftTypeCheck, rightTypeCheck asm.Jump
		if t, ok := left.(*ir.Temp); ok {
			leftTypeCheck = s.a.Branch32(asm.NotEqual, s.tempAddress(t).Add(value.TagOffset), uint32(value.IntegerTag))
		}
		if t, ok := right.(*ir.Temp); ok {
			rightTypeCheck = s.a.Branch32(asm.NotEqual, s.tempAddress(t).Add(value.TagOffset), uint32(value.IntegerTag))
		}

		if t, ok := left.(*ir.Temp); ok {
			s.a.Load32(s.regs.IntegerOp, s.tempAddress(t).Add(value.PayloadOffset))
		} else {
			s.a.MoveImm(s.regs.IntegerOp, uint64(uint32(leftConst)))
		}

		var overflowCheck asm.Jump
		if t, ok := right.(*ir.Temp); ok {
			overflowCheck = s.a.InlineMem(info.op, s.regs.IntegerOp, s.tempAddress(t).Add(value.PayloadOffset))
		} else {
			overflowCheck = s.a.InlineImm(info.op, s.regs.IntegerOp, rightConst)
		}

		result := s.tempAddress(target)
		s.a.Store32(result.Add(value.PayloadOffset), s.regs.IntegerOp)
		s.a.Store32Imm(result.Add(value.TagOffset), uint32(value.IntegerTag))
		binOpFinished = s.a.Jump()

		for _, j := range []asm.Jump{leftTypeCheck, rightTypeCheck, overflowCheck} {
			if j.IsSet() {
				s.a.LinkJump(j, s.a.Len())
			}
		}
	}

	s.callValue(info.name, target, s.valueArg(left), s.valueArg(right), contextArg())

	if binOpFinished.IsSet() {
		s.a.LinkJump(binOpFinished, s.a.Len())
	}
}
