// Package amd64 registers the x86-64 target: System V argument registers,
// rbp frames and the inline int32 fast paths.
package amd64

import (
	"math"

	"github.com/tinyrange/jit/internal/asm"
	x64 "github.com/tinyrange/jit/internal/asm/amd64"
	"github.com/tinyrange/jit/internal/isel"
)

func init() {
	isel.RegisterTarget(Target{})
}

var registers = isel.Registers{
	Context:     x64.R14,
	FramePtr:    x64.RBP,
	StackPtr:    x64.RSP,
	Scratch:     x64.R10,
	IntegerOp:   x64.RDX,
	ReturnValue: x64.RAX,
	OutPointer:  x64.R15,
}

// Target implements isel.Target for x86-64.
type Target struct{}

var _ isel.Target = Target{}

func (Target) Arch() isel.Architecture   { return isel.ArchitectureX86_64 }
func (Target) Registers() isel.Registers { return registers }

func (Target) ArgumentRegisters() []asm.Variable {
	return []asm.Variable{x64.RDI, x64.RSI, x64.RDX, x64.RCX, x64.R8, x64.R9}
}

// CalleeSaved keeps rsp 16 byte aligned: two pushes on top of an aligned
// frame.
func (Target) CalleeSaved() []asm.Variable { return []asm.Variable{x64.R14, x64.R15} }

func (Target) StackAlignment() int32              { return 16 }
func (Target) LinkRegister() (asm.Variable, bool) { return 0, false }
func (Target) HiddenArgumentStackBytes() int32    { return 0 }
func (Target) NewAssembler() isel.Assembler       { return &Assembler{ctx: x64.NewContext()} }

// Assembler wraps an amd64 context. Encoding failures are internal errors.
type Assembler struct {
	ctx *x64.Context
}

var _ isel.Assembler = (*Assembler)(nil)

func (a *Assembler) emit(frag asm.Fragment) {
	if err := frag.Emit(a.ctx); err != nil {
		isel.Fatalf("amd64: %v", err)
	}
}

func mem(addr isel.Address) x64.Memory {
	return x64.Mem(x64.Reg64(addr.Base)).WithDisp(addr.Offset)
}

func (a *Assembler) Len() int { return a.ctx.Len() }

func (a *Assembler) Push(regs ...asm.Variable) {
	for _, r := range regs {
		a.emit(x64.Push(r))
	}
}

func (a *Assembler) Pop(regs ...asm.Variable) {
	for i := len(regs) - 1; i >= 0; i-- {
		a.emit(x64.Pop(regs[i]))
	}
}

func (a *Assembler) Move(dst, src asm.Variable) {
	a.emit(x64.MovReg(x64.Reg64(dst), x64.Reg64(src)))
}

// MoveImm picks the shortest encoding: a 32-bit move zero extends.
func (a *Assembler) MoveImm(dst asm.Variable, v uint64) {
	if v <= math.MaxUint32 {
		a.emit(x64.MovImmediate(x64.Reg32(dst), int64(v)))
		return
	}
	a.emit(x64.MovImmediate(x64.Reg64(dst), int64(v)))
}

func (a *Assembler) AddSP(n int32) {
	switch {
	case n < 0:
		a.emit(x64.SubRegImm(x64.Reg64(x64.RSP), -n))
	case n > 0:
		a.emit(x64.AddRegImm(x64.Reg64(x64.RSP), n))
	}
}

func (a *Assembler) LoadPtr(dst asm.Variable, addr isel.Address) {
	a.emit(x64.MovFromMemory(x64.Reg64(dst), mem(addr)))
}

func (a *Assembler) StorePtr(addr isel.Address, src asm.Variable) {
	a.emit(x64.MovToMemory(mem(addr), x64.Reg64(src)))
}

func (a *Assembler) Load32(dst asm.Variable, addr isel.Address) {
	a.emit(x64.MovFromMemory(x64.Reg32(dst), mem(addr)))
}

func (a *Assembler) Store32(addr isel.Address, src asm.Variable) {
	a.emit(x64.MovToMemory(mem(addr), x64.Reg32(src)))
}

func (a *Assembler) Store32Imm(addr isel.Address, v uint32) {
	a.emit(x64.MovStoreImm32(mem(addr), int32(v)))
}

func (a *Assembler) Lea(dst asm.Variable, addr isel.Address) {
	a.emit(x64.Lea(x64.Reg64(dst), mem(addr)))
}

func (a *Assembler) LoadDouble(addr isel.Address) {
	a.emit(x64.MovsdLoad(x64.XMM0, mem(addr)))
}

func (a *Assembler) StoreDouble(addr isel.Address) {
	a.emit(x64.MovsdStore(mem(addr), x64.XMM0))
}

func (a *Assembler) branch(cond asm.Condition) asm.Jump {
	j, err := a.ctx.EmitJump(cond)
	if err != nil {
		isel.Fatalf("amd64: %v", err)
	}
	return j
}

func (a *Assembler) Branch32(cond asm.Condition, addr isel.Address, imm uint32) asm.Jump {
	a.emit(x64.CmpMemImm32(mem(addr), int32(imm)))
	return a.branch(cond)
}

func (a *Assembler) BranchReg32(cond asm.Condition, reg asm.Variable, imm uint32) asm.Jump {
	if imm == 0 && (cond == asm.Equal || cond == asm.NotEqual) {
		a.emit(x64.TestReg(x64.Reg32(reg), x64.Reg32(reg)))
	} else {
		a.emit(x64.CmpRegImm(x64.Reg32(reg), int32(imm)))
	}
	return a.branch(cond)
}

func (a *Assembler) Jump() asm.Jump { return a.branch(asm.Always) }

func (a *Assembler) LinkJump(j asm.Jump, target int) {
	if err := a.ctx.LinkJump(j, target); err != nil {
		isel.Fatalf("amd64: %v", err)
	}
}

// InlineMem computes reg op [addr] on 32-bit operands. Shift counts go
// through cl.
func (a *Assembler) InlineMem(op isel.InlineOp, reg asm.Variable, addr isel.Address) asm.Jump {
	r := x64.Reg32(reg)
	m := mem(addr)
	switch op {
	case isel.InlineAnd:
		a.emit(x64.AndRegMem(r, m))
	case isel.InlineOr:
		a.emit(x64.OrRegMem(r, m))
	case isel.InlineXor:
		a.emit(x64.XorRegMem(r, m))
	case isel.InlineAdd:
		a.emit(x64.AddRegMem(r, m))
		return a.branch(asm.Overflow)
	case isel.InlineSub:
		a.emit(x64.SubRegMem(r, m))
		return a.branch(asm.Overflow)
	case isel.InlineMul:
		a.emit(x64.ImulRegMem(r, m))
		return a.branch(asm.Overflow)
	case isel.InlineShl, isel.InlineShr, isel.InlineUShr:
		a.emit(x64.MovFromMemory(x64.Reg32(x64.RCX), m))
		return a.shiftCL(op, r)
	default:
		isel.Fatalf("amd64: unsupported inline operation %s", op)
	}
	return asm.Jump{}
}

func (a *Assembler) shiftCL(op isel.InlineOp, r x64.Reg) asm.Jump {
	switch op {
	case isel.InlineShl:
		a.emit(x64.ShlRegCL(r))
	case isel.InlineShr:
		a.emit(x64.SarRegCL(r))
	default:
		a.emit(x64.ShrRegCL(r))
		return a.unsignedCheck(r)
	}
	return asm.Jump{}
}

// unsignedCheck bails out when an unsigned shift leaves the sign bit set:
// the result does not fit an int32.
func (a *Assembler) unsignedCheck(r x64.Reg) asm.Jump {
	a.emit(x64.TestReg(r, r))
	return a.branch(asm.Negative)
}

func (a *Assembler) InlineImm(op isel.InlineOp, reg asm.Variable, imm int32) asm.Jump {
	r := x64.Reg32(reg)
	count := uint8(imm & 31)
	switch op {
	case isel.InlineAnd:
		a.emit(x64.AndRegImm(r, imm))
	case isel.InlineOr:
		a.emit(x64.OrRegImm(r, imm))
	case isel.InlineXor:
		a.emit(x64.XorRegImm(r, imm))
	case isel.InlineAdd:
		a.emit(x64.AddRegImm(r, imm))
		return a.branch(asm.Overflow)
	case isel.InlineSub:
		a.emit(x64.SubRegImm(r, imm))
		return a.branch(asm.Overflow)
	case isel.InlineMul:
		a.emit(x64.ImulRegImm(r, r, imm))
		return a.branch(asm.Overflow)
	case isel.InlineShl:
		if count != 0 {
			a.emit(x64.ShlRegImm(r, count))
		}
	case isel.InlineShr:
		if count != 0 {
			a.emit(x64.SarRegImm(r, count))
		}
	case isel.InlineUShr:
		if count != 0 {
			a.emit(x64.ShrRegImm(r, count))
		}
		return a.unsignedCheck(r)
	default:
		isel.Fatalf("amd64: unsupported inline operation %s", op)
	}
	return asm.Jump{}
}

func (a *Assembler) Call(name string) asm.CallSite {
	site, err := a.ctx.EmitCallAbsolute(name)
	if err != nil {
		isel.Fatalf("amd64: %v", err)
	}
	return site
}

func (a *Assembler) PatchCall(site asm.CallSite, addr uintptr) {
	if err := a.ctx.PatchCallSite(site, addr); err != nil {
		isel.Fatalf("amd64: %v", err)
	}
}

func (a *Assembler) Ret() { a.emit(x64.Ret()) }

func (a *Assembler) Finalize() asm.Program {
	prog, err := a.ctx.Finalize()
	if err != nil {
		isel.Fatalf("amd64: %v", err)
	}
	return prog
}
