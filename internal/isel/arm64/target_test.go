package arm64

import (
	"strings"
	"testing"

	"golang.org/x/arch/arm64/arm64asm"

	"github.com/tinyrange/jit/internal/asm"
	a64 "github.com/tinyrange/jit/internal/asm/arm64"
	"github.com/tinyrange/jit/internal/isel"
)

func assemble(t *testing.T, f func(a *Assembler)) []string {
	t.Helper()
	a := Target{}.NewAssembler().(*Assembler)
	f(a)
	code := a.Finalize().Bytes()
	if len(code)%4 != 0 {
		t.Fatalf("code length %d", len(code))
	}

	var out []string
	for off := 0; off < len(code); off += 4 {
		inst, err := arm64asm.Decode(code[off : off+4])
		if err != nil {
			t.Fatalf("decode at %d: %v", off, err)
		}
		out = append(out, arm64asm.GNUSyntax(inst))
	}
	return out
}

func expectPrefixes(t *testing.T, got []string, prefixes ...string) {
	t.Helper()
	if len(got) < len(prefixes) {
		t.Fatalf("got %d instructions, want at least %d: %q", len(got), len(prefixes), got)
	}
	tail := got[len(got)-len(prefixes):]
	for i, p := range prefixes {
		if p != "" && !strings.HasPrefix(tail[i], p) {
			t.Fatalf("instruction %q, want prefix %q in %q", tail[i], p, got)
		}
	}
}

func TestPushPopPairs(t *testing.T) {
	got := assemble(t, func(a *Assembler) {
		a.Push(a64.X19, a64.X20, a64.X21)
		a.Pop(a64.X19, a64.X20, a64.X21)
	})
	if len(got) != 4 {
		t.Fatalf("got %q", got)
	}
	expectPrefixes(t, got, "stp x19, x20", "str x21", "ldr x21", "ldp x19, x20")
}

func TestInlineAddChecksOverflow(t *testing.T) {
	var j asm.Jump
	got := assemble(t, func(a *Assembler) {
		j = a.InlineImm(isel.InlineAdd, a64.X10, 7)
		a.LinkJump(j, a.Len())
	})
	if !j.IsSet() {
		t.Fatalf("add must bail out on overflow")
	}
	expectPrefixes(t, got, "adds w10, w10, w11", "b.vs")
}

func TestInlineMulComparesWideResult(t *testing.T) {
	var j asm.Jump
	got := assemble(t, func(a *Assembler) {
		j = a.InlineMem(isel.InlineMul, a64.X10, isel.Address{Base: a64.X29, Offset: -16})
		a.LinkJump(j, a.Len())
	})
	expectPrefixes(t, got, "ldur w11", "smull x10", "cmp x10", "b.ne")
}

func TestInlineBitwiseCannotFail(t *testing.T) {
	for _, op := range []isel.InlineOp{isel.InlineAnd, isel.InlineOr, isel.InlineXor, isel.InlineShl, isel.InlineShr} {
		var j asm.Jump
		assemble(t, func(a *Assembler) { j = a.InlineImm(op, a64.X10, 3) })
		if j.IsSet() {
			t.Fatalf("%s returned a bail out jump", op)
		}
	}

	var j asm.Jump
	got := assemble(t, func(a *Assembler) {
		j = a.InlineImm(isel.InlineUShr, a64.X10, 0)
		a.LinkJump(j, a.Len())
	})
	expectPrefixes(t, got, "lsr", "tst w10", "b.mi")
}

func TestBranchLargeImmediate(t *testing.T) {
	got := assemble(t, func(a *Assembler) {
		j := a.Branch32(asm.NotEqual, isel.Address{Base: a64.X29, Offset: -12}, 0x7ffe0000)
		k := a.BranchReg32(asm.NotEqual, a64.X0, 0)
		a.LinkJump(j, a.Len())
		a.LinkJump(k, a.Len())
	})
	if !strings.HasPrefix(got[0], "ldur w11") {
		t.Fatalf("first instruction %q", got[0])
	}
	expectPrefixes(t, got, "cmp w11, w12", "b.ne", "cmp w0", "b.ne")
}

func TestCallThroughX16(t *testing.T) {
	got := assemble(t, func(a *Assembler) {
		site := a.Call("add")
		a.PatchCall(site, 0x0000ffff12345678)
		a.Ret()
	})
	if len(got) != 6 {
		t.Fatalf("call sequence = %q", got)
	}
	expectPrefixes(t, got, "blr x16", "ret")
}

func TestRegistered(t *testing.T) {
	target, err := isel.LookupTarget(isel.ArchitectureARM64)
	if err != nil {
		t.Fatalf("LookupTarget: %v", err)
	}
	lr, ok := target.LinkRegister()
	if !ok || lr != a64.X30 {
		t.Fatalf("link register = %d, %v", lr, ok)
	}
	regs := target.Registers()
	for _, r := range []asm.Variable{regs.Scratch, regs.IntegerOp, regs.Context, regs.OutPointer} {
		if r == valueTemp || r == immediateTemp || r == a64.X16 || r == a64.X17 {
			t.Fatalf("register %d is reserved by the assembler", r)
		}
	}
}
