package isel_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/tinyrange/jit/internal/asm"
	"github.com/tinyrange/jit/internal/disasm"
	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/isel"
	_ "github.com/tinyrange/jit/internal/isel/amd64"
	_ "github.com/tinyrange/jit/internal/isel/arm64"
	"github.com/tinyrange/jit/internal/runtime"
	"github.com/tinyrange/jit/internal/timeslice"
	"github.com/tinyrange/jit/internal/value"
)

// loopFunction sums 0..9 and prints the result.
func loopFunction() *ir.Function {
	i, sum := ir.T(0), ir.T(1)
	return &ir.Function{
		Name:                 "loop",
		TempCount:            2,
		MaxNumberOfArguments: 1,
		Blocks: []*ir.BasicBlock{
			{Index: 0, Statements: []ir.Stmt{
				&ir.Move{Target: i, Source: ir.Number(0)},
				&ir.Move{Target: sum, Source: ir.Number(0)},
				&ir.Jump{Target: 1},
			}},
			{Index: 1, Statements: []ir.Stmt{
				&ir.CJump{Cond: &ir.Binop{Op: ir.OpLt, Left: i, Right: ir.Number(10)}, IfTrue: 2, IfFalse: 3},
			}},
			{Index: 2, Statements: []ir.Stmt{
				&ir.Move{Target: sum, Source: &ir.Binop{Op: ir.OpAdd, Left: sum, Right: i}},
				&ir.Move{Target: i, Source: ir.Number(1), Op: ir.OpAdd},
				&ir.Jump{Target: 1},
			}},
			{Index: 3, Statements: []ir.Stmt{
				&ir.Exp{Expr: &ir.Call{Base: ir.Ident("print"), Args: []ir.Expr{sum}}},
				&ir.Ret{Expr: sum},
			}},
		},
	}
}

func options(arch isel.Architecture, policy value.Policy) isel.Options {
	return isel.Options{
		Arch:    arch,
		Policy:  policy,
		Runtime: runtime.PlaceholderTable(0x10000),
		Engine:  runtime.NewHeap(),
	}
}

func TestCompileTargets(t *testing.T) {
	for _, arch := range []isel.Architecture{isel.ArchitectureX86_64, isel.ArchitectureARM64} {
		for _, policy := range []value.Policy{value.FitsInRegister, value.ViaDouble} {
			t.Run(string(arch)+"/"+policy.String(), func(t *testing.T) {
				opts := options(arch, policy)
				code, err := isel.Compile(loopFunction(), opts)
				if err != nil {
					t.Fatalf("Compile: %v", err)
				}
				if code.Calls != 4 || len(code.Program.CallSites()) != 4 {
					t.Fatalf("calls = %d, call sites = %d, want 4", code.Calls, len(code.Program.CallSites()))
				}
				if code.Blocks != 4 || code.FrameSize%16 != 0 {
					t.Fatalf("blocks = %d, frame = %d", code.Blocks, code.FrameSize)
				}
				for _, site := range code.Program.CallSites() {
					if site.Addr == 0 {
						t.Fatalf("call to %s left unpatched", site.Name)
					}
				}

				lines, err := disasm.Decode(string(arch), code.Program, disasm.Options{
					Syntax:  disasm.SyntaxIntel,
					Symbols: opts.Runtime.Symbols(),
				})
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				called := make(map[string]bool)
				for _, l := range lines {
					if l.Text == "(bad)" {
						t.Fatalf("undecodable instruction at %#x", l.Offset)
					}
					if l.Call != "" {
						called[l.Call] = true
					}
				}
				for _, name := range []string{"cmp_lt", "add", "call_activation_property"} {
					if !called[name] {
						t.Errorf("no call to %s", name)
					}
				}
				if last := lines[len(lines)-1].Text; last != "ret" {
					t.Fatalf("last instruction = %q", last)
				}
			})
		}
	}
}

func TestCompileShowCode(t *testing.T) {
	var buf bytes.Buffer
	opts := options(isel.ArchitectureX86_64, value.FitsInRegister)
	opts.ShowCode = true
	opts.Diagnostics = &buf

	code, err := isel.Compile(loopFunction(), opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "function loop (x86_64, ") {
		t.Fatalf("header = %q", strings.SplitN(out, "\n", 2)[0])
	}
	if !strings.Contains(out, "; cmp_lt") || code.Disassembly == "" {
		t.Fatalf("call annotations missing:\n%s", out)
	}
}

func TestCompileRecordsTimeslices(t *testing.T) {
	var rec bytes.Buffer
	w, err := timeslice.Open(&rec)
	if err != nil {
		t.Fatalf("timeslice.Open: %v", err)
	}
	opts := options(isel.ArchitectureARM64, value.ViaDouble)
	opts.ShowCode = true
	opts.Diagnostics = &bytes.Buffer{}
	if _, err := isel.Compile(loopFunction(), opts); err != nil {
		w.Close()
		t.Fatalf("Compile: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	totals, err := timeslice.Summarize(&rec)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	seen := make(map[string]int)
	for _, total := range totals {
		seen[total.Name] = total.Count
	}
	if seen["isel.select"] != 1 || seen["isel.disasm"] != 1 || seen["isel.load"] != 0 {
		t.Fatalf("recorded %v", seen)
	}
}

func TestCompileErrors(t *testing.T) {
	good := options(isel.ArchitectureX86_64, value.FitsInRegister)
	tests := []struct {
		name string
		fn   *ir.Function
		opts func(o *isel.Options)
	}{
		{"no blocks", &ir.Function{Name: "empty"}, nil},
		{"unknown arch", loopFunction(), func(o *isel.Options) { o.Arch = "mips" }},
		{"no arch", loopFunction(), func(o *isel.Options) { o.Arch = "" }},
		{"no runtime", loopFunction(), func(o *isel.Options) { o.Runtime = nil }},
		{"incomplete runtime", loopFunction(), func(o *isel.Options) { o.Runtime = runtime.NewTable() }},
		{"no engine", loopFunction(), func(o *isel.Options) { o.Engine = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := good
			if tt.opts != nil {
				tt.opts(&opts)
			}
			if _, err := isel.Compile(tt.fn, opts); err == nil {
				t.Fatal("Compile succeeded")
			}
		})
	}

	_, err := isel.Compile(loopFunction(), func() isel.Options {
		o := good
		o.Runtime = runtime.NewTable()
		return o
	}())
	if !errors.Is(err, runtime.ErrUnbound) {
		t.Fatalf("incomplete runtime error = %v", err)
	}
}

func TestCompileInvalidRegExp(t *testing.T) {
	fn := &ir.Function{
		Name:      "re",
		TempCount: 1,
		Blocks: []*ir.BasicBlock{{Index: 0, Statements: []ir.Stmt{
			&ir.Move{Target: ir.T(0), Source: &ir.RegExp{Pattern: "("}},
			&ir.Ret{Expr: ir.T(0)},
		}}},
	}
	_, err := isel.Compile(fn, options(isel.ArchitectureARM64, value.FitsInRegister))
	if err == nil || !strings.Contains(err.Error(), "re:") {
		t.Fatalf("Compile error = %v", err)
	}
}

func TestCompileUnsupportedIRPanics(t *testing.T) {
	fn := &ir.Function{
		Name: "bad",
		Blocks: []*ir.BasicBlock{{Index: 0, Statements: []ir.Stmt{
			&ir.Ret{Expr: ir.Ident("x")},
		}}},
	}
	defer func() {
		r := recover()
		if _, ok := r.(*isel.InternalError); !ok {
			t.Fatalf("recovered %v, want *isel.InternalError", r)
		}
	}()
	isel.Compile(fn, options(isel.ArchitectureX86_64, value.FitsInRegister))
	t.Fatal("Compile returned")
}

func TestCompileModule(t *testing.T) {
	inner := &ir.Function{
		Name: "inner",
		Blocks: []*ir.BasicBlock{{Index: 0, Statements: []ir.Stmt{
			&ir.Ret{Expr: ir.Number(1)},
		}}},
	}
	outer := &ir.Function{
		Name:      "outer",
		TempCount: 1,
		Nested:    []*ir.Function{inner},
		Blocks: []*ir.BasicBlock{{Index: 0, Statements: []ir.Stmt{
			&ir.Move{Target: ir.T(0), Source: &ir.Closure{Function: inner}},
			&ir.Ret{Expr: ir.T(0)},
		}}},
	}
	mod := &ir.Module{Functions: []*ir.Function{outer, inner}}

	m, err := isel.CompileModule(mod, options(isel.ArchitectureARM64, value.FitsInRegister))
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	defer m.Release()

	if len(m.Code) != 2 {
		t.Fatalf("compiled %d functions, want 2", len(m.Code))
	}
	code := m.Lookup("inner")
	if code == nil || code.Function() != inner {
		t.Fatalf("Lookup(inner) = %v", code)
	}
	if m.Lookup("missing") != nil {
		t.Fatalf("Lookup(missing) found code")
	}
	ctx := runtime.NewExecutionContext(nil, value.Undefined(), nil, 0)
	if _, err := m.Invoke(inner, ctx); err == nil {
		t.Fatalf("Invoke of unloaded code succeeded")
	}
	if _, err := m.Invoke(&ir.Function{Name: "other"}, ctx); err == nil {
		t.Fatalf("Invoke of unknown function succeeded")
	}
}

func TestTargetRegisterRoles(t *testing.T) {
	for _, arch := range []isel.Architecture{isel.ArchitectureX86_64, isel.ArchitectureARM64} {
		target, err := isel.LookupTarget(arch)
		if err != nil {
			t.Fatalf("LookupTarget(%s): %v", arch, err)
		}
		regs := target.Registers()
		if regs.IntegerOp == regs.Scratch {
			t.Errorf("%s: IntegerOp shares the scratch register", arch)
		}
		for _, r := range target.ArgumentRegisters() {
			if r == regs.Scratch {
				t.Errorf("%s: scratch register %d is an argument register", arch, r)
			}
		}
		saved := make(map[asm.Variable]bool)
		for _, r := range target.CalleeSaved() {
			saved[r] = true
		}
		if !saved[regs.Context] || !saved[regs.OutPointer] {
			t.Errorf("%s: context or out pointer is not callee-saved", arch)
		}
	}
}

func TestParseArchitecture(t *testing.T) {
	tests := []struct {
		in   string
		want isel.Architecture
	}{
		{"amd64", isel.ArchitectureX86_64},
		{"x86-64", isel.ArchitectureX86_64},
		{"aarch64", isel.ArchitectureARM64},
		{"arm64", isel.ArchitectureARM64},
	}
	for _, tt := range tests {
		got, err := isel.ParseArchitecture(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseArchitecture(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := isel.ParseArchitecture("sparc"); err == nil {
		t.Errorf("unknown architecture accepted")
	}
}
