package isel

import (
	"fmt"
	goruntime "runtime"
	"sync"

	"github.com/tinyrange/jit/internal/asm"
)

type Architecture string

const (
	ArchitectureInvalid Architecture = "invalid"
	ArchitectureX86_64  Architecture = "x86_64"
	ArchitectureARM64   Architecture = "arm64"
)

// ArchitectureNative is the architecture of the running process, or
// ArchitectureInvalid when no target exists for it.
var ArchitectureNative = nativeArchitecture()

func nativeArchitecture() Architecture {
	switch goruntime.GOARCH {
	case "amd64":
		return ArchitectureX86_64
	case "arm64":
		return ArchitectureARM64
	default:
		return ArchitectureInvalid
	}
}

// ParseArchitecture accepts both the Go and the ELF spellings.
func ParseArchitecture(s string) (Architecture, error) {
	switch s {
	case "", "native":
		if ArchitectureNative == ArchitectureInvalid {
			return ArchitectureInvalid, fmt.Errorf("isel: no target for host architecture %s", goruntime.GOARCH)
		}
		return ArchitectureNative, nil
	case "amd64", "x86_64", "x86-64":
		return ArchitectureX86_64, nil
	case "arm64", "aarch64":
		return ArchitectureARM64, nil
	default:
		return ArchitectureInvalid, fmt.Errorf("isel: unknown architecture %q", s)
	}
}

// Registers assigns the fixed roles the selector uses. Context and
// OutPointer must be callee-saved and Scratch must not be an argument
// register. IntegerOp must differ from Scratch; it is only live inside an
// inline fast path, before any call argument is loaded, so it may be an
// argument register.
type Registers struct {
	Context     asm.Variable
	FramePtr    asm.Variable
	StackPtr    asm.Variable
	Scratch     asm.Variable
	IntegerOp   asm.Variable
	ReturnValue asm.Variable
	OutPointer  asm.Variable
}

// Target describes one architecture's calling convention and frame rules.
type Target interface {
	Arch() Architecture
	Registers() Registers
	// ArgumentRegisters lists the integer argument registers in order.
	ArgumentRegisters() []asm.Variable
	// CalleeSaved lists the registers saved by the prologue. The list must
	// keep the stack aligned.
	CalleeSaved() []asm.Variable
	StackAlignment() int32
	// LinkRegister returns the register holding the return address when
	// the architecture does not push it on call.
	LinkRegister() (asm.Variable, bool)
	// HiddenArgumentStackBytes is the stack the caller reserved for the
	// hidden return pointer, popped by the callee on return.
	HiddenArgumentStackBytes() int32
	NewAssembler() Assembler
}

// Address is a base register plus a byte displacement.
type Address struct {
	Base   asm.Variable
	Offset int32
}

func (a Address) Add(delta int32) Address {
	a.Offset += delta
	return a
}

// InlineOp is an integer operation with a native fast path.
type InlineOp uint8

const (
	InlineAnd InlineOp = iota
	InlineOr
	InlineXor
	InlineAdd
	InlineSub
	InlineMul
	InlineShl
	InlineShr
	InlineUShr
)

var inlineOpNames = [...]string{
	InlineAnd:  "and",
	InlineOr:   "or",
	InlineXor:  "xor",
	InlineAdd:  "add",
	InlineSub:  "sub",
	InlineMul:  "mul",
	InlineShl:  "shl",
	InlineShr:  "shr",
	InlineUShr: "ushr",
}

func (op InlineOp) String() string {
	if int(op) < len(inlineOpNames) {
		return inlineOpNames[op]
	}
	return fmt.Sprintf("InlineOp(%d)", uint8(op))
}

// Assembler emits the instructions the selector needs. Implementations
// report encoder failures through Fatalf.
type Assembler interface {
	Len() int

	// Push saves regs; Pop with the same list restores them.
	Push(regs ...asm.Variable)
	Pop(regs ...asm.Variable)

	Move(dst, src asm.Variable)
	MoveImm(dst asm.Variable, v uint64)
	// AddSP adjusts the stack pointer by delta bytes.
	AddSP(delta int32)

	LoadPtr(dst asm.Variable, addr Address)
	StorePtr(addr Address, src asm.Variable)
	Load32(dst asm.Variable, addr Address)
	Store32(addr Address, src asm.Variable)
	Store32Imm(addr Address, v uint32)
	Lea(dst asm.Variable, addr Address)

	// LoadDouble and StoreDouble move eight bytes through the target's
	// floating point scratch register.
	LoadDouble(addr Address)
	StoreDouble(addr Address)

	// Branch32 compares the dword at addr with imm and branches on cond.
	Branch32(cond asm.Condition, addr Address, imm uint32) asm.Jump
	BranchReg32(cond asm.Condition, reg asm.Variable, imm uint32) asm.Jump
	Jump() asm.Jump
	LinkJump(j asm.Jump, target int)

	// InlineMem and InlineImm apply op to the 32-bit value in reg with a
	// memory or immediate right operand. The returned jump is taken when
	// the result does not fit an int32; it is unset when op cannot fail.
	InlineMem(op InlineOp, reg asm.Variable, addr Address) asm.Jump
	InlineImm(op InlineOp, reg asm.Variable, imm int32) asm.Jump

	// Call emits a call whose absolute target is written by PatchCall.
	Call(name string) asm.CallSite
	PatchCall(site asm.CallSite, addr uintptr)
	Ret()

	Finalize() asm.Program
}

var (
	targetsMu sync.RWMutex
	targets   = make(map[Architecture]Target)
)

// RegisterTarget makes a target available to Compile. It panics when the
// same architecture is registered twice so mistakes are caught during init.
func RegisterTarget(target Target) {
	if target == nil {
		panic("isel: target must be non-nil")
	}
	arch := target.Arch()
	if arch == ArchitectureInvalid || arch == "" {
		panic("isel: cannot register target for invalid architecture")
	}

	targetsMu.Lock()
	defer targetsMu.Unlock()

	if _, exists := targets[arch]; exists {
		panic(fmt.Sprintf("isel: target for %s already registered", arch))
	}
	targets[arch] = target
}

// LookupTarget returns the target registered for arch.
func LookupTarget(arch Architecture) (Target, error) {
	targetsMu.RLock()
	defer targetsMu.RUnlock()

	if target, ok := targets[arch]; ok {
		return target, nil
	}
	if arch == ArchitectureInvalid || arch == "" {
		return nil, fmt.Errorf("isel: architecture must be specified")
	}
	return nil, fmt.Errorf("isel: no target registered for %q", arch)
}
