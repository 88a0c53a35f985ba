package isel

import (
	"github.com/tinyrange/jit/internal/ir"
)

var unaryOperations = [ir.LastAluOp + 1]string{
	ir.OpNot:       "not",
	ir.OpUMinus:    "uminus",
	ir.OpUPlus:     "uplus",
	ir.OpCompl:     "compl",
	ir.OpIncrement: "increment",
	ir.OpDecrement: "decrement",
}

// inplaceOperations holds the operator stem of the compound assignment
// entries: inplace_<stem>_name, _element and _member.
var inplaceOperations = [ir.LastAluOp + 1]string{
	ir.OpBitAnd:  "bit_and",
	ir.OpBitOr:   "bit_or",
	ir.OpBitXor:  "bit_xor",
	ir.OpAdd:     "add",
	ir.OpSub:     "sub",
	ir.OpMul:     "mul",
	ir.OpDiv:     "div",
	ir.OpMod:     "mod",
	ir.OpLShift:  "shl",
	ir.OpRShift:  "shr",
	ir.OpURShift: "ushr",
}

func lookupOperation(table *[ir.LastAluOp + 1]string, kind string, op ir.AluOp) string {
	if op > ir.LastAluOp || table[op] == "" {
		Fatalf("no %s operation for %s", kind, op)
	}
	return table[op]
}

func (s *selector) unop(op ir.AluOp, source ir.Expr, target *ir.Temp) {
	name := lookupOperation(&unaryOperations, "unary", op)
	s.callValue(name, target, s.tempArg(source), contextArg())
}

// inplaceNameOp updates an activation property: name op= source.
func (s *selector) inplaceNameOp(op ir.AluOp, source ir.Expr, name string) {
	stem := lookupOperation(&inplaceOperations, "in-place", op)
	s.callVoid("inplace_"+stem+"_name", s.valueArg(source), s.identArg(name), contextArg())
}

// inplaceElementOp updates base[index] op= source.
func (s *selector) inplaceElementOp(op ir.AluOp, source ir.Expr, base, index ir.Expr) {
	stem := lookupOperation(&inplaceOperations, "in-place", op)
	s.callVoid("inplace_"+stem+"_element", s.tempArg(base), s.tempArg(index), s.valueArg(source), contextArg())
}

// inplaceMemberOp updates base.name op= source.
func (s *selector) inplaceMemberOp(op ir.AluOp, source ir.Expr, base ir.Expr, name string) {
	stem := lookupOperation(&inplaceOperations, "in-place", op)
	s.callVoid("inplace_"+stem+"_member", s.valueArg(source), s.tempArg(base), s.identArg(name), contextArg())
}
