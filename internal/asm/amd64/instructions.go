package amd64

import (
	"fmt"

	"github.com/tinyrange/jit/internal/asm"
)

func encoded(encode func() ([]byte, error)) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		bytes, err := encode()
		if err != nil {
			return err
		}
		ctx.EmitBytes(bytes)
		return nil
	})
}

func MovImmediate(dst Reg, value int64) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovRegImm(dst, value) })
}

// MovImmediate64 always uses the movabs form.
func MovImmediate64(dst asm.Variable, value uint64) asm.Fragment {
	return encoded(func() ([]byte, error) {
		bytes, _, err := encodeMovRegImm64(dst, value)
		return bytes, err
	})
}

func MovReg(dst, src Reg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if dst == src {
			return nil
		}
		bytes, err := encodeMovRegReg(dst, src)
		if err != nil {
			return err
		}
		ctx.EmitBytes(bytes)
		return nil
	})
}

func MovToMemory(mem Memory, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovMemReg(mem, src) })
}

func MovFromMemory(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovRegMem(dst, mem) })
}

// MovStoreImm32 writes a 32-bit immediate to a dword in memory.
func MovStoreImm32(mem Memory, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovMemImm32(mem, size32, value) })
}

func Lea(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeLea(dst, mem) })
}

func CallReg(target Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeCallReg(target) })
}

func Push(reg asm.Variable) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodePush(Reg64(reg)) })
}

func Pop(reg asm.Variable) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodePop(Reg64(reg)) })
}

func AddRegImm(reg Reg, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegImm(aluAdd, reg, value) })
}

func SubRegImm(reg Reg, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegImm(aluSub, reg, value) })
}

func AndRegImm(reg Reg, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegImm(aluAnd, reg, value) })
}

func OrRegImm(reg Reg, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegImm(aluOr, reg, value) })
}

func XorRegImm(reg Reg, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegImm(aluXor, reg, value) })
}

func CmpRegImm(reg Reg, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegImm(aluCmp, reg, value) })
}

func AddRegReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegReg(0x01, dst, src) })
}

func SubRegReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegReg(0x29, dst, src) })
}

func AndRegReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegReg(0x21, dst, src) })
}

func OrRegReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegReg(0x09, dst, src) })
}

func XorRegReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegReg(0x31, dst, src) })
}

func CmpRegReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegReg(0x39, dst, src) })
}

func AddRegMem(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegMem(0x03, dst, mem) })
}

func SubRegMem(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegMem(0x2B, dst, mem) })
}

func AndRegMem(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegMem(0x23, dst, mem) })
}

func OrRegMem(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegMem(0x0B, dst, mem) })
}

func XorRegMem(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegMem(0x33, dst, mem) })
}

func CmpRegMem(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegMem(0x3B, dst, mem) })
}

// CmpMemImm32 compares the dword at mem with value.
func CmpMemImm32(mem Memory, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALUMemImm(aluCmp, mem, size32, value) })
}

func ImulRegImm(dst, src Reg, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeImulRegImm(dst, src, value) })
}

func ImulRegMem(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeImulRegMem(dst, mem) })
}

func ShlRegImm(reg Reg, count uint8) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeShiftRegImm(reg, count, shiftShl) })
}

func ShrRegImm(reg Reg, count uint8) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeShiftRegImm(reg, count, shiftShr) })
}

func SarRegImm(reg Reg, count uint8) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeShiftRegImm(reg, count, shiftSar) })
}

func ShlRegCL(reg Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeShiftRegCL(reg, shiftShl) })
}

func ShrRegCL(reg Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeShiftRegCL(reg, shiftShr) })
}

func SarRegCL(reg Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeShiftRegCL(reg, shiftSar) })
}

func TestReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeTestRegReg(dst, src) })
}

func TestZero(reg asm.Variable) asm.Fragment {
	return TestReg(Reg64(reg), Reg64(reg))
}

func MovsdLoad(dst XMM, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovsd(true, dst, mem) })
}

func MovsdStore(mem Memory, src XMM) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovsd(false, src, mem) })
}

func Ret() asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		ctx.EmitBytes(encodeRet())
		return nil
	})
}

// CallAbsolute emits a call through CallScratch whose target is patched
// by the owner of the context.
func CallAbsolute(name string) asm.Fragment {
	return fragmentFunc(func(_ctx asm.Context) error {
		ctx, ok := _ctx.(*Context)
		if !ok {
			return fmt.Errorf("call %q requires an amd64 context", name)
		}
		_, err := ctx.EmitCallAbsolute(name)
		return err
	})
}

type jump struct {
	label asm.Label
	cond  asm.Condition
}

func (j *jump) Emit(_ctx asm.Context) error {
	ctx, ok := _ctx.(*Context)
	if !ok {
		return fmt.Errorf("jump to %q requires an amd64 context", j.label)
	}
	handle, err := ctx.EmitJump(j.cond)
	if err != nil {
		return err
	}
	ctx.jumps = append(ctx.jumps, jumpPatch{label: j.label, jump: handle})
	return nil
}

func Jump(label asm.Label) asm.Fragment {
	return &jump{label: label, cond: asm.Always}
}

func JumpIf(cond asm.Condition, label asm.Label) asm.Fragment {
	return &jump{label: label, cond: cond}
}

func JumpIfZero(label asm.Label) asm.Fragment {
	return &jump{label: label, cond: asm.Equal}
}

func JumpIfNegative(label asm.Label) asm.Fragment {
	return &jump{label: label, cond: asm.Negative}
}

func JumpIfEqual(label asm.Label) asm.Fragment {
	return &jump{label: label, cond: asm.Equal}
}

func JumpIfNotEqual(label asm.Label) asm.Fragment {
	return &jump{label: label, cond: asm.NotEqual}
}

func JumpIfLess(label asm.Label) asm.Fragment {
	return &jump{label: label, cond: asm.Less}
}

func JumpIfGreater(label asm.Label) asm.Fragment {
	return &jump{label: label, cond: asm.Greater}
}

func JumpIfOverflow(label asm.Label) asm.Fragment {
	return &jump{label: label, cond: asm.Overflow}
}
