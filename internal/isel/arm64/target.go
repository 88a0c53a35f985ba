// Package arm64 registers the AArch64 target. Immediates and compare
// operands go through x11 and x12; x16 and x17 are left to the call and
// address sequences of the assembler.
package arm64

import (
	"github.com/tinyrange/jit/internal/asm"
	a64 "github.com/tinyrange/jit/internal/asm/arm64"
	"github.com/tinyrange/jit/internal/isel"
)

func init() {
	isel.RegisterTarget(Target{})
}

const (
	valueTemp     = a64.X11
	immediateTemp = a64.X12
)

var registers = isel.Registers{
	Context:     a64.X19,
	FramePtr:    a64.X29,
	StackPtr:    a64.SP,
	Scratch:     a64.X9,
	IntegerOp:   a64.X10,
	ReturnValue: a64.X0,
	OutPointer:  a64.X20,
}

// Target implements isel.Target for AArch64.
type Target struct{}

var _ isel.Target = Target{}

func (Target) Arch() isel.Architecture   { return isel.ArchitectureARM64 }
func (Target) Registers() isel.Registers { return registers }

func (Target) ArgumentRegisters() []asm.Variable {
	return []asm.Variable{a64.X0, a64.X1, a64.X2, a64.X3, a64.X4, a64.X5, a64.X6, a64.X7}
}

func (Target) CalleeSaved() []asm.Variable { return []asm.Variable{a64.X19, a64.X20} }

func (Target) StackAlignment() int32              { return 16 }
func (Target) LinkRegister() (asm.Variable, bool) { return a64.X30, true }
func (Target) HiddenArgumentStackBytes() int32    { return 0 }
func (Target) NewAssembler() isel.Assembler       { return &Assembler{ctx: a64.NewContext()} }

// Assembler wraps an arm64 context. Encoding failures are internal errors.
type Assembler struct {
	ctx *a64.Context
}

var _ isel.Assembler = (*Assembler)(nil)

func (a *Assembler) emit(frag asm.Fragment) {
	if err := frag.Emit(a.ctx); err != nil {
		isel.Fatalf("arm64: %v", err)
	}
}

func mem(addr isel.Address) a64.Memory {
	return a64.Mem(a64.Reg64(addr.Base)).WithDisp(addr.Offset)
}

func w(r asm.Variable) a64.Reg { return a64.Reg32(r) }
func x(r asm.Variable) a64.Reg { return a64.Reg64(r) }

func (a *Assembler) Len() int { return a.ctx.Len() }

// Push stores regs two at a time; an odd register gets a slot of its own.
func (a *Assembler) Push(regs ...asm.Variable) {
	i := 0
	for ; i+1 < len(regs); i += 2 {
		a.emit(a64.PushPair(regs[i], regs[i+1]))
	}
	if i < len(regs) {
		a.emit(a64.Push(regs[i]))
	}
}

func (a *Assembler) Pop(regs ...asm.Variable) {
	n := len(regs) &^ 1
	if n < len(regs) {
		a.emit(a64.Pop(regs[n]))
	}
	for i := n - 2; i >= 0; i -= 2 {
		a.emit(a64.PopPair(regs[i], regs[i+1]))
	}
}

func (a *Assembler) Move(dst, src asm.Variable) {
	a.emit(a64.MovReg(x(dst), x(src)))
}

func (a *Assembler) MoveImm(dst asm.Variable, v uint64) {
	a.emit(a64.MovImmediate(x(dst), int64(v)))
}

func (a *Assembler) AddSP(n int32) {
	if n != 0 {
		a.emit(a64.AddImm(x(a64.SP), x(a64.SP), int64(n)))
	}
}

func (a *Assembler) LoadPtr(dst asm.Variable, addr isel.Address) {
	a.emit(a64.MovFromMemory(x(dst), mem(addr)))
}

func (a *Assembler) StorePtr(addr isel.Address, src asm.Variable) {
	a.emit(a64.MovToMemory(mem(addr), x(src)))
}

func (a *Assembler) Load32(dst asm.Variable, addr isel.Address) {
	a.emit(a64.MovFromMemory(w(dst), mem(addr)))
}

func (a *Assembler) Store32(addr isel.Address, src asm.Variable) {
	a.emit(a64.MovToMemory(mem(addr), w(src)))
}

func (a *Assembler) Store32Imm(addr isel.Address, v uint32) {
	a.emit(a64.MovImmediate(w(valueTemp), int64(v)))
	a.emit(a64.MovToMemory(mem(addr), w(valueTemp)))
}

func (a *Assembler) Lea(dst asm.Variable, addr isel.Address) {
	a.emit(a64.Lea(x(dst), mem(addr)))
}

func (a *Assembler) LoadDouble(addr isel.Address) {
	a.emit(a64.LoadD(a64.D0, mem(addr)))
}

func (a *Assembler) StoreDouble(addr isel.Address) {
	a.emit(a64.StoreD(mem(addr), a64.D0))
}

func (a *Assembler) branch(cond asm.Condition) asm.Jump {
	j, err := a.ctx.EmitJump(cond)
	if err != nil {
		isel.Fatalf("arm64: %v", err)
	}
	return j
}

// compare sets flags from reg - imm. Immediates above twelve bits are
// materialized first.
func (a *Assembler) compare(reg a64.Reg, imm uint32) {
	if imm <= 0xFFF {
		a.emit(a64.CmpRegImm(reg, imm))
		return
	}
	a.emit(a64.MovImmediate(w(immediateTemp), int64(imm)))
	a.emit(a64.CmpRegReg(reg, w(immediateTemp)))
}

func (a *Assembler) Branch32(cond asm.Condition, addr isel.Address, imm uint32) asm.Jump {
	a.emit(a64.MovFromMemory(w(valueTemp), mem(addr)))
	a.compare(w(valueTemp), imm)
	return a.branch(cond)
}

func (a *Assembler) BranchReg32(cond asm.Condition, reg asm.Variable, imm uint32) asm.Jump {
	a.compare(w(reg), imm)
	return a.branch(cond)
}

func (a *Assembler) Jump() asm.Jump { return a.branch(asm.Always) }

func (a *Assembler) LinkJump(j asm.Jump, target int) {
	if err := a.ctx.LinkJump(j, target); err != nil {
		isel.Fatalf("arm64: %v", err)
	}
}

func (a *Assembler) InlineMem(op isel.InlineOp, reg asm.Variable, addr isel.Address) asm.Jump {
	a.emit(a64.MovFromMemory(w(valueTemp), mem(addr)))
	return a.inline(op, reg)
}

func (a *Assembler) InlineImm(op isel.InlineOp, reg asm.Variable, imm int32) asm.Jump {
	a.emit(a64.MovImmediate(w(valueTemp), int64(imm)))
	return a.inline(op, reg)
}

// inline computes reg op x11 on W registers. The variable shifts take
// their count modulo 32.
func (a *Assembler) inline(op isel.InlineOp, reg asm.Variable) asm.Jump {
	r, v := w(reg), w(valueTemp)
	switch op {
	case isel.InlineAnd:
		a.emit(a64.AndW(r, r, v))
	case isel.InlineOr:
		a.emit(a64.OrrW(r, r, v))
	case isel.InlineXor:
		a.emit(a64.EorW(r, r, v))
	case isel.InlineAdd:
		a.emit(a64.AddsW(r, r, v))
		return a.branch(asm.Overflow)
	case isel.InlineSub:
		a.emit(a64.SubsW(r, r, v))
		return a.branch(asm.Overflow)
	case isel.InlineMul:
		a.emit(a64.Smull(x(reg), r, v))
		a.emit(a64.CmpSxtw(x(reg), r))
		return a.branch(asm.NotEqual)
	case isel.InlineShl:
		a.emit(a64.LslvW(r, r, v))
	case isel.InlineShr:
		a.emit(a64.AsrvW(r, r, v))
	case isel.InlineUShr:
		a.emit(a64.LsrvW(r, r, v))
		a.emit(a64.TestZero(r))
		return a.branch(asm.Negative)
	default:
		isel.Fatalf("arm64: unsupported inline operation %s", op)
	}
	return asm.Jump{}
}

func (a *Assembler) Call(name string) asm.CallSite {
	site, err := a.ctx.EmitCallAbsolute(name)
	if err != nil {
		isel.Fatalf("arm64: %v", err)
	}
	return site
}

func (a *Assembler) PatchCall(site asm.CallSite, addr uintptr) {
	if err := a.ctx.PatchCallSite(site, addr); err != nil {
		isel.Fatalf("arm64: %v", err)
	}
}

func (a *Assembler) Ret() { a.emit(a64.Ret()) }

func (a *Assembler) Finalize() asm.Program {
	prog, err := a.ctx.Finalize()
	if err != nil {
		isel.Fatalf("arm64: %v", err)
	}
	return prog
}
