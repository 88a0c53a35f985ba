package isel

import (
	"fmt"
	"strings"
	"testing"

	"github.com/tinyrange/jit/internal/asm"
	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/runtime"
	"github.com/tinyrange/jit/internal/value"
)

// Register numbers of the recording target.
const (
	fakeContext asm.Variable = 100 + iota
	fakeFP
	fakeSP
	fakeScratch
	fakeIntegerOp
	fakeRV
	fakeOut
	fakeLR
)

type fakeTarget struct {
	args   []asm.Variable
	lr     bool
	hidden int32
	asm    *fakeAssembler
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{args: []asm.Variable{0, 1, 2, 3, 4, 5}}
}

func (t *fakeTarget) Arch() Architecture { return "fake" }

func (t *fakeTarget) Registers() Registers {
	return Registers{
		Context:     fakeContext,
		FramePtr:    fakeFP,
		StackPtr:    fakeSP,
		Scratch:     fakeScratch,
		IntegerOp:   fakeIntegerOp,
		ReturnValue: fakeRV,
		OutPointer:  fakeOut,
	}
}

func (t *fakeTarget) ArgumentRegisters() []asm.Variable { return t.args }
func (t *fakeTarget) CalleeSaved() []asm.Variable       { return []asm.Variable{fakeContext, fakeOut} }
func (t *fakeTarget) StackAlignment() int32             { return 16 }
func (t *fakeTarget) HiddenArgumentStackBytes() int32   { return t.hidden }

func (t *fakeTarget) LinkRegister() (asm.Variable, bool) {
	return fakeLR, t.lr
}

func (t *fakeTarget) NewAssembler() Assembler {
	t.asm = &fakeAssembler{links: make(map[int]int)}
	return t.asm
}

// fakeAssembler records one line per instruction and tracks the stack
// pointer as a byte delta from entry.
type fakeAssembler struct {
	ops   []string
	sp    int32
	links map[int]int
	calls []asm.CallSite
}

func (a *fakeAssembler) op(format string, args ...any) int {
	a.ops = append(a.ops, fmt.Sprintf(format, args...))
	return len(a.ops) - 1
}

func (a *fakeAssembler) Len() int { return len(a.ops) }

func (a *fakeAssembler) Push(regs ...asm.Variable) {
	for _, r := range regs {
		a.op("push r%d", r)
		a.sp -= 8
	}
}

func (a *fakeAssembler) Pop(regs ...asm.Variable) {
	for i := len(regs) - 1; i >= 0; i-- {
		a.op("pop r%d", regs[i])
		a.sp += 8
	}
}

func (a *fakeAssembler) Move(dst, src asm.Variable)         { a.op("mov r%d, r%d", dst, src) }
func (a *fakeAssembler) MoveImm(dst asm.Variable, v uint64) { a.op("movi r%d, %#x", dst, v) }

func (a *fakeAssembler) AddSP(n int32) {
	a.op("addsp %d", n)
	a.sp += n
}

func (a *fakeAssembler) LoadPtr(dst asm.Variable, addr Address) {
	a.op("ldr r%d, [r%d%+d]", dst, addr.Base, addr.Offset)
}

func (a *fakeAssembler) StorePtr(addr Address, src asm.Variable) {
	a.op("str [r%d%+d], r%d", addr.Base, addr.Offset, src)
}

func (a *fakeAssembler) Load32(dst asm.Variable, addr Address) {
	a.op("ldr32 r%d, [r%d%+d]", dst, addr.Base, addr.Offset)
}

func (a *fakeAssembler) Store32(addr Address, src asm.Variable) {
	a.op("str32 [r%d%+d], r%d", addr.Base, addr.Offset, src)
}

func (a *fakeAssembler) Store32Imm(addr Address, v uint32) {
	a.op("str32i [r%d%+d], %#x", addr.Base, addr.Offset, v)
}

func (a *fakeAssembler) Lea(dst asm.Variable, addr Address) {
	a.op("lea r%d, [r%d%+d]", dst, addr.Base, addr.Offset)
}

func (a *fakeAssembler) LoadDouble(addr Address)  { a.op("ldd [r%d%+d]", addr.Base, addr.Offset) }
func (a *fakeAssembler) StoreDouble(addr Address) { a.op("std [r%d%+d]", addr.Base, addr.Offset) }

func (a *fakeAssembler) Branch32(cond asm.Condition, addr Address, imm uint32) asm.Jump {
	pos := a.op("b%s [r%d%+d], %#x", cond, addr.Base, addr.Offset, imm)
	return asm.NewJump(pos, cond)
}

func (a *fakeAssembler) BranchReg32(cond asm.Condition, reg asm.Variable, imm uint32) asm.Jump {
	pos := a.op("b%s r%d, %#x", cond, reg, imm)
	return asm.NewJump(pos, cond)
}

func (a *fakeAssembler) Jump() asm.Jump {
	return asm.NewJump(a.op("jmp"), asm.Always)
}

func (a *fakeAssembler) LinkJump(j asm.Jump, target int) {
	a.links[j.Pos()] = target
}

func (a *fakeAssembler) InlineMem(op InlineOp, reg asm.Variable, addr Address) asm.Jump {
	pos := a.op("%s r%d, [r%d%+d]", op, reg, addr.Base, addr.Offset)
	return asm.NewJump(pos, asm.Overflow)
}

func (a *fakeAssembler) InlineImm(op InlineOp, reg asm.Variable, imm int32) asm.Jump {
	pos := a.op("%s r%d, %d", op, reg, imm)
	if op == InlineAnd || op == InlineOr || op == InlineXor {
		return asm.Jump{}
	}
	return asm.NewJump(pos, asm.Overflow)
}

func (a *fakeAssembler) Call(name string) asm.CallSite {
	pos := a.op("call %s", name)
	site := asm.CallSite{Name: name, Start: pos, Pos: pos, End: pos + 1}
	a.calls = append(a.calls, site)
	return site
}

func (a *fakeAssembler) PatchCall(site asm.CallSite, addr uintptr) {
	for i := range a.calls {
		if a.calls[i].Pos == site.Pos {
			a.calls[i].Addr = addr
		}
	}
}

func (a *fakeAssembler) Ret() { a.op("ret") }

func (a *fakeAssembler) Finalize() asm.Program {
	code := make([]byte, len(a.ops))
	return asm.NewProgram(code, a.calls)
}

// count returns how many recorded instructions start with prefix.
func (a *fakeAssembler) count(prefix string) int {
	n := 0
	for _, op := range a.ops {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

func (a *fakeAssembler) has(op string) bool {
	for _, o := range a.ops {
		if o == op {
			return true
		}
	}
	return false
}

type fakeSetup struct {
	target *fakeTarget
	policy value.Policy
	// hidden overrides the target's hidden argument stack bytes.
	hidden int32
}

func newTestSelector(t *testing.T, fn *ir.Function, setup fakeSetup) (*selector, *fakeAssembler) {
	t.Helper()
	target := setup.target
	if target == nil {
		target = newFakeTarget()
	}
	if setup.hidden != 0 {
		target.hidden = setup.hidden
	}
	s := newSelector(fn, target, Options{
		Policy:  setup.policy,
		Runtime: runtime.PlaceholderTable(0x1000),
		Engine:  runtime.NewHeap(),
	})
	return s, target.asm
}

// selectFunction runs the whole selector over fn with the recording
// target.
func selectFunction(t *testing.T, fn *ir.Function, setup fakeSetup) (*selector, *fakeAssembler) {
	t.Helper()
	if err := ir.Validate(fn); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	s, a := newTestSelector(t, fn, setup)
	s.run()
	if s.err != nil {
		t.Fatalf("select %s: %v", fn.Name, s.err)
	}
	return s, a
}

// expectFatal runs f and returns the internal error it raised.
func expectFatal(t *testing.T, f func()) *InternalError {
	t.Helper()
	var got *InternalError
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			err, ok := r.(*InternalError)
			if !ok {
				panic(r)
			}
			got = err
		}()
		f()
	}()
	if got == nil {
		t.Fatalf("expected internal error")
	}
	return got
}

func block(index int, stmts ...ir.Stmt) *ir.BasicBlock {
	return &ir.BasicBlock{Index: index, Statements: stmts}
}

func function(name string, temps, maxArgs int, blocks ...*ir.BasicBlock) *ir.Function {
	return &ir.Function{Name: name, TempCount: temps, MaxNumberOfArguments: maxArgs, Blocks: blocks}
}
