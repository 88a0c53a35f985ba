package isel

import (
	"github.com/tinyrange/jit/internal/asm"
	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/value"
)

// SlotKind selects the base a temp is addressed from.
type SlotKind uint8

const (
	// SlotArgument is relative to the context's argument array.
	SlotArgument SlotKind = iota
	// SlotLocal is relative to the context's locals array.
	SlotLocal
	// SlotStack is relative to the frame pointer.
	SlotStack
)

func (k SlotKind) String() string {
	switch k {
	case SlotArgument:
		return "argument"
	case SlotLocal:
		return "local"
	case SlotStack:
		return "stack"
	default:
		return "invalid"
	}
}

// Slot is the resolved location of a temp.
type Slot struct {
	Kind   SlotKind
	Offset int32
}

// ResolveSlot maps temp index to its location in fn's frame.
func ResolveSlot(fn *ir.Function, index int) Slot {
	locals := len(fn.Locals)
	switch {
	case index < 0:
		return Slot{Kind: SlotArgument, Offset: int32(-index-1) * value.Size}
	case index < locals:
		return Slot{Kind: SlotLocal, Offset: int32(index) * value.Size}
	default:
		// The frame pointer addresses the saved frame pointer, so even the
		// first extra temp sits one value below it.
		extra := fn.MaxNumberOfArguments + index - locals + 1
		return Slot{Kind: SlotStack, Offset: -value.Size * int32(extra+1)}
	}
}

// FrameLocals is the number of value slots reserved below the frame
// pointer: outgoing call arguments, extra temps and one spare, rounded up
// to an even count.
func FrameLocals(fn *ir.Function) int {
	n := fn.TempCount - len(fn.Locals) + fn.MaxNumberOfArguments + 1
	return (n + 1) &^ 1
}

// FrameSize is the byte size of the reserved area, including the slot that
// holds the context pointer.
func FrameSize(fn *ir.Function, alignment int32) int32 {
	return alignUp(int32(FrameLocals(fn))*value.Size+pointerSize, alignment)
}

const pointerSize = 8

func alignUp(n, alignment int32) int32 {
	if alignment <= 1 {
		return n
	}
	return (n + alignment - 1) &^ (alignment - 1)
}

// resolveOperandAddress returns the address of temp t. Argument and local
// bases are loaded into scratch on every call.
func (s *selector) resolveOperandAddress(t *ir.Temp, scratch asm.Variable) Address {
	if t.Index >= s.fn.TempCount {
		Fatalf("%s: temp %d outside declared count %d", s.fn.Name, t.Index, s.fn.TempCount)
	}
	slot := ResolveSlot(s.fn, t.Index)
	switch slot.Kind {
	case SlotArgument:
		s.a.LoadPtr(scratch, Address{Base: s.regs.Context, Offset: s.layout.Arguments})
		return Address{Base: scratch, Offset: slot.Offset}
	case SlotLocal:
		s.a.LoadPtr(scratch, Address{Base: s.regs.Context, Offset: s.layout.Locals})
		return Address{Base: scratch, Offset: slot.Offset}
	default:
		return Address{Base: s.regs.FramePtr, Offset: slot.Offset}
	}
}

func (s *selector) tempAddress(t *ir.Temp) Address {
	return s.resolveOperandAddress(t, s.regs.Scratch)
}

// argumentAddressForCall is the slot of outgoing call argument i.
func (s *selector) argumentAddressForCall(i int) Address {
	if i < 0 || i >= s.fn.MaxNumberOfArguments {
		Fatalf("%s: call argument %d exceeds declared maximum %d", s.fn.Name, i, s.fn.MaxNumberOfArguments)
	}
	return Address{Base: s.regs.FramePtr, Offset: -value.Size*int32(s.fn.MaxNumberOfArguments-i) - pointerSize}
}

// baseAddressForCallArguments is the address of the first outgoing
// argument slot. It is valid even when the function makes no calls with
// arguments.
func (s *selector) baseAddressForCallArguments() Address {
	return Address{Base: s.regs.FramePtr, Offset: -value.Size*int32(s.fn.MaxNumberOfArguments) - pointerSize}
}

// contextSlot holds the context pointer for the lifetime of the frame.
func (s *selector) contextSlot() Address {
	return Address{Base: s.regs.FramePtr, Offset: -s.frameSize}
}

func (s *selector) frameRegisters() []asm.Variable {
	if lr, ok := s.target.LinkRegister(); ok {
		return []asm.Variable{s.regs.FramePtr, lr}
	}
	return []asm.Variable{s.regs.FramePtr}
}

// enterStandardFrame saves the link and frame registers, reserves the
// frame, saves the callee-saved registers and stores the incoming context
// pointer. Under ViaDouble the hidden return pointer arrives first.
func (s *selector) enterStandardFrame() {
	s.a.Push(s.frameRegisters()...)
	s.a.Move(s.regs.FramePtr, s.regs.StackPtr)
	s.a.AddSP(-s.frameSize)
	s.a.Push(s.target.CalleeSaved()...)

	args := s.target.ArgumentRegisters()
	if len(args) < 2 {
		Fatalf("%s: target has %d argument registers", s.target.Arch(), len(args))
	}
	ctxArg := args[0]
	if s.policy == value.ViaDouble {
		s.a.Move(s.regs.OutPointer, args[0])
		ctxArg = args[1]
	}
	s.a.Move(s.regs.Context, ctxArg)
	s.a.StorePtr(s.contextSlot(), s.regs.Context)
}

// leaveStandardFrame undoes enterStandardFrame and returns.
func (s *selector) leaveStandardFrame() {
	s.a.LoadPtr(s.regs.Context, s.contextSlot())
	s.a.Pop(s.target.CalleeSaved()...)
	s.a.AddSP(s.frameSize)
	s.a.Pop(s.frameRegisters()...)

	if n := s.target.HiddenArgumentStackBytes(); n > 0 && s.policy == value.ViaDouble {
		if _, ok := s.target.LinkRegister(); ok {
			Fatalf("%s: hidden argument stack bytes need a pushed return address", s.target.Arch())
		}
		// Move the return address over the caller's hidden argument.
		s.a.Pop(s.regs.Scratch)
		s.a.AddSP(n)
		s.a.Push(s.regs.Scratch)
	}
	s.a.Ret()
}
