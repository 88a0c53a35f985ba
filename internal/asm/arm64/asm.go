package arm64

import (
	"fmt"

	"github.com/tinyrange/jit/internal/asm"
)

func requireContext(ctx asm.Context) (*Context, error) {
	if c, ok := ctx.(*Context); ok {
		return c, nil
	}
	return nil, fmt.Errorf("arm64 asm: unsupported context %T", ctx)
}

func word(encode func() (uint32, error)) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		w, err := encode()
		if err != nil {
			return err
		}
		c.emit32(w)
		return nil
	})
}

func MovImmediate(dst Reg, value int64) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if err := dst.validate(); err != nil {
			return err
		}
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		if dst.size == size32 {
			return emitMovImmediate(c, dst, uint64(uint32(value)), 32)
		}
		return emitMovImmediate(c, dst, uint64(value), 64)
	})
}

func emitMovImmediate(c *Context, dst Reg, value uint64, bits uint32) error {
	first := true
	for shift := uint32(0); shift < bits; shift += 16 {
		chunk := uint16((value >> shift) & 0xFFFF)
		if first {
			if chunk == 0 && value != 0 {
				continue
			}
			w, err := encodeMovz(dst, chunk, shift)
			if err != nil {
				return err
			}
			c.emit32(w)
			first = false
			continue
		}
		if chunk == 0 {
			continue
		}
		w, err := encodeMovk(dst, chunk, shift)
		if err != nil {
			return err
		}
		c.emit32(w)
	}
	return nil
}

func MovReg(dst, src Reg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if err := dst.validate(); err != nil {
			return err
		}
		if err := src.validate(); err != nil {
			return err
		}
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		if dst == src {
			return nil
		}
		w, err := encodeMoveReg(dst, src)
		if err != nil {
			return err
		}
		c.emit32(w)
		return nil
	})
}

// AddImm computes dst = src + value for 64-bit registers. Magnitudes up to
// 24 bits take at most two instructions.
func AddImm(dst, src Reg, value int64) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		return emitAddImm(c, dst, src, value)
	})
}

func emitAddImm(c *Context, dst, src Reg, value int64) error {
	encode := encodeAddImm64
	magnitude := value
	if value < 0 {
		encode = encodeSubImm64
		magnitude = -value
	}
	if magnitude > 0xFFFFFF {
		return fmt.Errorf("arm64 asm: add immediate %d out of range", value)
	}
	low := uint32(magnitude & 0xFFF)
	high := uint32(magnitude >> 12)
	from := src
	if high != 0 {
		w, err := encode(dst, from, high, true)
		if err != nil {
			return err
		}
		c.emit32(w)
		from = dst
	}
	if low != 0 || high == 0 {
		if low == 0 && dst == from {
			return nil
		}
		w, err := encode(dst, from, low, false)
		if err != nil {
			return err
		}
		c.emit32(w)
	}
	return nil
}

func access(rt uint32, mem Memory, width accessWidth, store bool) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		w, ok, err := encodeLoadStore(rt, mem, width, store)
		if err != nil {
			return err
		}
		if !ok {
			scratch := Reg64(AddressScratch)
			if err := emitAddImm(c, scratch, mem.base, int64(mem.disp)); err != nil {
				return err
			}
			w, _, err = encodeLoadStore(rt, Mem(scratch), width, store)
			if err != nil {
				return err
			}
		}
		c.emit32(w)
		return nil
	})
}

func widthOf(r Reg) accessWidth {
	if r.size == size32 {
		return access32
	}
	return access64
}

func MovFromMemory(dst Reg, mem Memory) asm.Fragment {
	if err := dst.validate(); err != nil {
		return fragmentFunc(func(asm.Context) error { return err })
	}
	return access(uint32(dst.id), mem, widthOf(dst), false)
}

func MovToMemory(mem Memory, src Reg) asm.Fragment {
	if err := src.validate(); err != nil {
		return fragmentFunc(func(asm.Context) error { return err })
	}
	return access(uint32(src.id), mem, widthOf(src), true)
}

func LoadD(dst DReg, mem Memory) asm.Fragment {
	return access(uint32(dst), mem, accessD, false)
}

func StoreD(mem Memory, src DReg) asm.Fragment {
	return access(uint32(src), mem, accessD, true)
}

// Lea computes the effective address of mem into dst.
func Lea(dst Reg, mem Memory) asm.Fragment {
	return AddImm(dst, mem.base, int64(mem.disp))
}

// Push and Pop move a single register through a 16-byte stack slot so SP
// stays aligned.
func Push(reg asm.Variable) asm.Fragment {
	return word(func() (uint32, error) { return encodePushReg(reg), nil })
}

func Pop(reg asm.Variable) asm.Fragment {
	return word(func() (uint32, error) { return encodePopReg(reg), nil })
}

func PushPair(first, second asm.Variable) asm.Fragment {
	return word(func() (uint32, error) { return encodePushPair(first, second), nil })
}

func PopPair(first, second asm.Variable) asm.Fragment {
	return word(func() (uint32, error) { return encodePopPair(first, second), nil })
}

func AddsW(dst, left, right Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeRegReg32(opAddsW, dst, left, right) })
}

func SubsW(dst, left, right Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeRegReg32(opSubsW, dst, left, right) })
}

func AndW(dst, left, right Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeRegReg32(opAndW, dst, left, right) })
}

func OrrW(dst, left, right Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeRegReg32(opOrrW, dst, left, right) })
}

func EorW(dst, left, right Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeRegReg32(opEorW, dst, left, right) })
}

func LslvW(dst, left, right Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeRegReg32(opLslvW, dst, left, right) })
}

func LsrvW(dst, left, right Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeRegReg32(opLsrvW, dst, left, right) })
}

func AsrvW(dst, left, right Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeRegReg32(opAsrvW, dst, left, right) })
}

func Smull(dst, left, right Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeSmull(dst, left, right) })
}

// CmpSxtw sets flags from left - sxtw(right); NE afterwards means a 64-bit
// product does not fit in 32 bits.
func CmpSxtw(left, right Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeCmpSxtw(left, right) })
}

func CmpRegImm(reg Reg, value uint32) asm.Fragment {
	return word(func() (uint32, error) { return encodeCmpImm(reg, value) })
}

func CmpRegReg(left, right Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeCmpReg(left, right) })
}

func TestZero(reg Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeTest(reg) })
}

func Jump(label asm.Label) asm.Fragment {
	return JumpIf(asm.Always, label)
}

func JumpIf(cond asm.Condition, label asm.Label) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		j, err := c.EmitJump(cond)
		if err != nil {
			return err
		}
		c.branches = append(c.branches, branchPatch{label: label, jump: j})
		return nil
	})
}

func JumpIfEqual(label asm.Label) asm.Fragment    { return JumpIf(asm.Equal, label) }
func JumpIfNotEqual(label asm.Label) asm.Fragment { return JumpIf(asm.NotEqual, label) }
func JumpIfZero(label asm.Label) asm.Fragment     { return JumpIf(asm.Equal, label) }
func JumpIfGreater(label asm.Label) asm.Fragment  { return JumpIf(asm.Greater, label) }
func JumpIfLess(label asm.Label) asm.Fragment     { return JumpIf(asm.Less, label) }
func JumpIfNegative(label asm.Label) asm.Fragment { return JumpIf(asm.Negative, label) }
func JumpIfOverflow(label asm.Label) asm.Fragment { return JumpIf(asm.Overflow, label) }

func CallReg(target Reg) asm.Fragment {
	return word(func() (uint32, error) { return encodeBlr(target) })
}

// CallAbsolute emits a call through CallScratch whose target is patched
// by the owner of the context.
func CallAbsolute(name string) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		_, err = c.EmitCallAbsolute(name)
		return err
	})
}

func Ret() asm.Fragment {
	return word(func() (uint32, error) { return encodedRet, nil })
}
