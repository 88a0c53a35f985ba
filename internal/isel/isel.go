// Package isel selects native instructions for the basic block IR. Every
// temp lives in memory; the selector emits an inline int32 fast path for
// arithmetic and bitwise operators and calls into the runtime library for
// everything else. Code is linked in place: block labels, branch patches
// and absolute call targets are resolved once the whole function has been
// emitted.
package isel

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	goruntime "runtime"
	"sync"
	"unsafe"

	"github.com/tinyrange/jit/internal/asm"
	"github.com/tinyrange/jit/internal/disasm"
	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/runtime"
	"github.com/tinyrange/jit/internal/timeslice"
	"github.com/tinyrange/jit/internal/value"
)

var (
	timesliceSelect = timeslice.RegisterKind("isel.select", timeslice.SliceFlagCompile)
	timesliceDisasm = timeslice.RegisterKind("isel.disasm", timeslice.SliceFlagCompile)
	timesliceLoad   = timeslice.RegisterKind("isel.load", timeslice.SliceFlagCompile)
	timesliceInvoke = timeslice.RegisterKind("isel.invoke", timeslice.SliceFlagNative)
)

type Options struct {
	Arch   Architecture
	Policy value.Policy

	// Runtime binds every catalogue entry to its address. It must be
	// complete.
	Runtime *runtime.Table
	Engine  runtime.Engine
	// Layout overrides runtime.DefaultLayout.
	Layout *runtime.ContextLayout

	// ShowCode writes a disassembly of every compiled function to
	// Diagnostics, or to standard error when Diagnostics is nil.
	ShowCode    bool
	Diagnostics io.Writer

	// Load maps the code for execution after linking.
	Load bool

	Logger *slog.Logger
}

// Code is one compiled function.
type Code struct {
	Name      string
	Arch      Architecture
	Policy    value.Policy
	Program   asm.Program
	FrameSize int32
	Blocks    int
	Calls     int

	// GeneratedValues holds the values created while compiling, such as
	// regular expression objects, that the code refers to by payload.
	GeneratedValues []value.Value

	Disassembly string

	// Func is set when the code was loaded.
	Func *asm.Func

	fn *ir.Function
}

// Function returns the IR the code was compiled from.
func (c *Code) Function() *ir.Function { return c.fn }

var resultSlots = sync.Pool{New: func() any { return new(value.Value) }}

// Invoke runs loaded code in ctx.
func (c *Code) Invoke(ctx *runtime.ExecutionContext) (value.Value, error) {
	if c.Func == nil {
		return value.Undefined(), fmt.Errorf("isel: function %s is not loaded", c.Name)
	}
	if c.Arch != ArchitectureNative {
		return value.Undefined(), fmt.Errorf("isel: cannot run %s code on %s", c.Arch, goruntime.GOARCH)
	}
	if timeslice.Recording() {
		// Includes nested calls back into generated code.
		defer timeslice.NewRecorder().Record(timesliceInvoke)
	}
	if c.Policy == value.FitsInRegister {
		v := value.Value(c.Func.Call(ctx.Pointer()))
		goruntime.KeepAlive(ctx)
		return v, nil
	}

	slot := resultSlots.Get().(*value.Value)
	defer resultSlots.Put(slot)
	c.Func.Call(uintptr(unsafe.Pointer(slot)), ctx.Pointer())
	goruntime.KeepAlive(ctx)
	return *slot, nil
}

// Release unmaps loaded code.
func (c *Code) Release() error {
	if c.Func == nil {
		return nil
	}
	return c.Func.Release()
}

type selector struct {
	fn     *ir.Function
	target Target
	regs   Registers
	a      Assembler

	policy value.Policy
	table  *runtime.Table
	engine runtime.Engine
	layout runtime.ContextLayout
	logger *slog.Logger

	link      *linker
	block     *ir.BasicBlock
	frameSize int32
	calls     int
	generated []value.Value

	// err records the first engine failure; selection continues so the
	// rest of the function is still checked.
	err error
}

func (s *selector) fail(err error) {
	if s.err == nil {
		s.err = fmt.Errorf("isel: %s: %w", s.fn.Name, err)
	}
}

// run emits the prologue and every block in order, then links.
func (s *selector) run() asm.Program {
	s.enterStandardFrame()
	for _, b := range s.fn.Blocks {
		s.block = b
		s.registerBlock(b.Index)
		for _, st := range b.Statements {
			s.visit(st)
		}
	}
	return s.linkProgram()
}

func newSelector(fn *ir.Function, target Target, opts Options) *selector {
	layout := runtime.DefaultLayout()
	if opts.Layout != nil {
		layout = *opts.Layout
	}
	return &selector{
		fn:        fn,
		target:    target,
		regs:      target.Registers(),
		a:         target.NewAssembler(),
		policy:    opts.Policy,
		table:     opts.Runtime,
		engine:    opts.Engine,
		layout:    layout,
		logger:    opts.logger(),
		link:      newLinker(),
		frameSize: FrameSize(fn, target.StackAlignment()),
	}
}

func (opts Options) logger() *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return slog.Default()
}

// Compile selects and links code for fn. Malformed IR that passes
// validation but cannot be translated panics with *InternalError.
func Compile(fn *ir.Function, opts Options) (*Code, error) {
	if err := ir.Validate(fn); err != nil {
		return nil, fmt.Errorf("isel: %w", err)
	}
	target, err := LookupTarget(opts.Arch)
	if err != nil {
		return nil, err
	}
	if opts.Runtime == nil {
		return nil, fmt.Errorf("isel: runtime table must be non-nil")
	}
	if err := opts.Runtime.Complete(); err != nil {
		return nil, fmt.Errorf("isel: %w", err)
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("isel: engine must be non-nil")
	}
	rec := timeslice.NewRecorder()
	s := newSelector(fn, target, opts)
	prog := s.run()
	if s.err != nil {
		return nil, s.err
	}
	rec.Record(timesliceSelect)

	code := &Code{
		Name:            fn.Name,
		Arch:            target.Arch(),
		Policy:          opts.Policy,
		Program:         prog,
		FrameSize:       s.frameSize,
		Blocks:          len(fn.Blocks),
		Calls:           s.calls,
		GeneratedValues: s.generated,
		fn:              fn,
	}
	s.logger.Debug("compiled function",
		"name", fn.Name,
		"arch", code.Arch,
		"policy", code.Policy,
		"bytes", prog.Len(),
		"blocks", code.Blocks,
		"calls", code.Calls,
		"patches", s.link.jumps,
		"frame", code.FrameSize,
	)

	if opts.ShowCode {
		text, err := disasm.Text(string(code.Arch), prog, disasm.Options{Symbols: opts.Runtime.Symbols()})
		if err != nil {
			return nil, fmt.Errorf("isel: disassemble %s: %w", fn.Name, err)
		}
		code.Disassembly = text
		w := opts.Diagnostics
		if w == nil {
			w = os.Stderr
		}
		fmt.Fprintf(w, "function %s (%s, %d bytes):\n%s", fn.Name, code.Arch, prog.Len(), text)
		rec.Record(timesliceDisasm)
	}

	if opts.Load {
		f, err := asm.Load(prog)
		if err != nil {
			return nil, fmt.Errorf("isel: load %s: %w", fn.Name, err)
		}
		code.Func = f
		rec.Record(timesliceLoad)
	}

	return code, nil
}

// Module is the compiled form of an ir.Module, nested functions included.
// It runs closures for the host runtime.
type Module struct {
	Code []*Code

	byFunction map[*ir.Function]*Code
}

// CompileModule compiles every function of mod and every function they
// instantiate as closures.
func CompileModule(mod *ir.Module, opts Options) (*Module, error) {
	m := &Module{byFunction: make(map[*ir.Function]*Code)}
	var walk func(fn *ir.Function) error
	walk = func(fn *ir.Function) error {
		if _, ok := m.byFunction[fn]; ok {
			return nil
		}
		code, err := Compile(fn, opts)
		if err != nil {
			m.Release()
			return err
		}
		m.byFunction[fn] = code
		m.Code = append(m.Code, code)
		for _, nested := range fn.Nested {
			if err := walk(nested); err != nil {
				return err
			}
		}
		return nil
	}
	for _, fn := range mod.Functions {
		if err := walk(fn); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Lookup returns the code compiled for the function called name.
func (m *Module) Lookup(name string) *Code {
	for _, c := range m.Code {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Invoke runs the code compiled for fn.
func (m *Module) Invoke(fn *ir.Function, ctx *runtime.ExecutionContext) (value.Value, error) {
	code, ok := m.byFunction[fn]
	if !ok {
		return value.Undefined(), fmt.Errorf("isel: function %s was not compiled", fn.Name)
	}
	return code.Invoke(ctx)
}

// Release unmaps every loaded function.
func (m *Module) Release() error {
	var first error
	for _, c := range m.Code {
		if err := c.Release(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
