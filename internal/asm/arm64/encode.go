package arm64

import (
	"fmt"

	"github.com/tinyrange/jit/internal/asm"
)

func encodeAddImm64(dst, src Reg, imm uint32, shifted bool) (uint32, error) {
	if dst.size != size64 || src.size != size64 {
		return 0, fmt.Errorf("arm64 asm: ADD immediate requires 64-bit registers")
	}
	if imm > 0xFFF {
		return 0, fmt.Errorf("arm64 asm: immediate out of range for ADD (%d)", imm)
	}
	word := uint32(0x91000000) | imm<<10 | uint32(src.id)<<5 | uint32(dst.id)
	if shifted {
		word |= 1 << 22
	}
	return word, nil
}

func encodeSubImm64(dst, src Reg, imm uint32, shifted bool) (uint32, error) {
	if dst.size != size64 || src.size != size64 {
		return 0, fmt.Errorf("arm64 asm: SUB immediate requires 64-bit registers")
	}
	if imm > 0xFFF {
		return 0, fmt.Errorf("arm64 asm: immediate out of range for SUB (%d)", imm)
	}
	word := uint32(0xD1000000) | imm<<10 | uint32(src.id)<<5 | uint32(dst.id)
	if shifted {
		word |= 1 << 22
	}
	return word, nil
}

func encodeMoveReg(dst, src Reg) (uint32, error) {
	if dst.id == SP || src.id == SP {
		// ORR cannot address SP; ADD #0 can.
		return encodeAddImm64(Reg64(dst.id), Reg64(src.id), 0, false)
	}
	switch {
	case dst.size == size64 && src.size == size64:
		return 0xAA0003E0 | uint32(src.id)<<16 | uint32(dst.id), nil
	case dst.size == size32 && src.size == size32:
		return 0x2A0003E0 | uint32(src.id)<<16 | uint32(dst.id), nil
	default:
		return 0, fmt.Errorf("arm64 asm: unsupported MOV width dst=%d src=%d", dst.size, src.size)
	}
}

func encodeMovWide(base uint32, dst Reg, imm uint16, shift uint32) (uint32, error) {
	limit := uint32(48)
	if dst.size == size32 {
		limit = 16
		base &^= 1 << 31
	}
	if shift%16 != 0 || shift > limit {
		return 0, fmt.Errorf("arm64 asm: invalid move-wide shift %d", shift)
	}
	return base | (shift/16)<<21 | uint32(imm)<<5 | uint32(dst.id), nil
}

func encodeMovz(dst Reg, imm uint16, shift uint32) (uint32, error) {
	return encodeMovWide(0xD2800000, dst, imm, shift)
}

func encodeMovk(dst Reg, imm uint16, shift uint32) (uint32, error) {
	return encodeMovWide(0xF2800000, dst, imm, shift)
}

// Three-register data processing opcodes, 32-bit forms.
const (
	opAddsW uint32 = 0x2B000000
	opSubsW uint32 = 0x6B000000
	opAndW  uint32 = 0x0A000000
	opOrrW  uint32 = 0x2A000000
	opEorW  uint32 = 0x4A000000
	opLslvW uint32 = 0x1AC02000
	opLsrvW uint32 = 0x1AC02400
	opAsrvW uint32 = 0x1AC02800
)

func encodeRegReg32(op uint32, dst, left, right Reg) (uint32, error) {
	if dst.size != size32 || left.size != size32 || right.size != size32 {
		return 0, fmt.Errorf("arm64 asm: %#08x requires 32-bit operands", op)
	}
	return op | uint32(right.id)<<16 | uint32(left.id)<<5 | uint32(dst.id), nil
}

// encodeSmull computes the full 64-bit product of two W registers.
func encodeSmull(dst, left, right Reg) (uint32, error) {
	if dst.size != size64 || left.size != size32 || right.size != size32 {
		return 0, fmt.Errorf("arm64 asm: SMULL requires X destination and W sources")
	}
	return 0x9B200000 | uint32(right.id)<<16 | zr<<10 | uint32(left.id)<<5 | uint32(dst.id), nil
}

// encodeCmpSxtw compares an X register against a sign-extended W register.
func encodeCmpSxtw(left, right Reg) (uint32, error) {
	if left.size != size64 || right.size != size32 {
		return 0, fmt.Errorf("arm64 asm: CMP SXTW requires X and W operands")
	}
	return 0xEB200000 | uint32(right.id)<<16 | 6<<13 | uint32(left.id)<<5 | zr, nil
}

func encodeCmpImm(reg Reg, imm uint32) (uint32, error) {
	if imm > 0xFFF {
		return 0, fmt.Errorf("arm64 asm: immediate out of range for CMP (%d)", imm)
	}
	base := uint32(0xF100001F)
	if reg.size == size32 {
		base = 0x7100001F
	}
	return base | imm<<10 | uint32(reg.id)<<5, nil
}

func encodeCmpReg(left, right Reg) (uint32, error) {
	if left.size != right.size {
		return 0, fmt.Errorf("arm64 asm: CMP width mismatch")
	}
	base := uint32(0xEB00001F)
	if left.size == size32 {
		base = 0x6B00001F
	}
	return base | uint32(right.id)<<16 | uint32(left.id)<<5, nil
}

func encodeTest(reg Reg) (uint32, error) {
	base := uint32(0xEA00001F)
	if reg.size == size32 {
		base = 0x6A00001F
	}
	return base | uint32(reg.id)<<16 | uint32(reg.id)<<5, nil
}

type accessWidth uint8

const (
	access32 accessWidth = 4
	access64 accessWidth = 8
	accessD  accessWidth = 0x80 | 8
)

func (w accessWidth) bytes() int32 { return int32(w & 0x7F) }

type accessForm struct {
	unscaledLoad, unscaledStore uint32
	scaledLoad, scaledStore     uint32
}

func accessForms(width accessWidth) (accessForm, error) {
	switch width {
	case access64:
		return accessForm{0xF8400000, 0xF8000000, 0xF9400000, 0xF9000000}, nil
	case access32:
		return accessForm{0xB8400000, 0xB8000000, 0xB9400000, 0xB9000000}, nil
	case accessD:
		return accessForm{0xFC400000, 0xFC000000, 0xFD400000, 0xFD000000}, nil
	default:
		return accessForm{}, fmt.Errorf("arm64 asm: unsupported access width %d", width)
	}
}

// encodeLoadStore encodes a single load or store of rt at [base + disp]. It
// reports false when the displacement needs an address computation first.
func encodeLoadStore(rt uint32, mem Memory, width accessWidth, store bool) (uint32, bool, error) {
	if err := mem.validate(); err != nil {
		return 0, false, err
	}
	form, err := accessForms(width)
	if err != nil {
		return 0, false, err
	}
	base := uint32(mem.base.id)
	if mem.disp >= -256 && mem.disp <= 255 {
		op := form.unscaledLoad
		if store {
			op = form.unscaledStore
		}
		return op | (uint32(mem.disp)&0x1FF)<<12 | base<<5 | rt, true, nil
	}
	size := width.bytes()
	if mem.disp > 0 && mem.disp%size == 0 && mem.disp/size <= 0xFFF {
		op := form.scaledLoad
		if store {
			op = form.scaledStore
		}
		return op | uint32(mem.disp/size)<<10 | base<<5 | rt, true, nil
	}
	return 0, false, nil
}

// encodePushReg stores an X register with a 16-byte pre-decrement of SP.
func encodePushReg(reg asm.Variable) uint32 {
	const imm9 = 0x1F0 // -16
	return 0xF8000C00 | imm9<<12 | uint32(SP)<<5 | uint32(reg)
}

// encodePopReg loads an X register with a 16-byte post-increment of SP.
func encodePopReg(reg asm.Variable) uint32 {
	return 0xF8400400 | uint32(16)<<12 | uint32(SP)<<5 | uint32(reg)
}

// encodePushPair is stp first, second, [sp, #-16]!.
func encodePushPair(first, second asm.Variable) uint32 {
	const imm7 = 0x7E // -2, scaled by 8
	return 0xA9800000 | imm7<<15 | uint32(second)<<10 | uint32(SP)<<5 | uint32(first)
}

// encodePopPair is ldp first, second, [sp], #16.
func encodePopPair(first, second asm.Variable) uint32 {
	return 0xA8C00000 | uint32(2)<<15 | uint32(second)<<10 | uint32(SP)<<5 | uint32(first)
}

func encodeBlr(target Reg) (uint32, error) {
	if target.size != size64 || target.id == SP {
		return 0, fmt.Errorf("arm64 asm: BLR requires a 64-bit general register")
	}
	return 0xD63F0000 | uint32(target.id)<<5, nil
}

const encodedRet = uint32(0xD65F03C0)
