package amd64

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tinyrange/jit/internal/asm"
)

type rexState struct {
	w     bool
	r     bool
	x     bool
	b     bool
	force bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.x && !r.b && !r.force {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.x {
		p |= 0x02
	}
	if r.b {
		p |= 0x01
	}
	return p
}

func needsByteREX(id asm.Variable) bool {
	switch id {
	case RSP, RBP, RSI, RDI:
		return true
	}
	return id >= R8 && id <= R15
}

func operandPrefix(size operandSize) (byte, bool) {
	if size == size16 {
		return 0x66, true
	}
	return 0x00, false
}

func regEncoding(reg Reg) (registerCode, error) {
	return regInfo(reg.id)
}

type memEncoding struct {
	modrm byte
	sib   []byte
	disp  []byte
	rex   rexState
}

func encodeMemoryOperand(mem Memory) (memEncoding, error) {
	if err := mem.validate(); err != nil {
		return memEncoding{}, err
	}

	baseInfo, err := regEncoding(mem.base)
	if err != nil {
		return memEncoding{}, err
	}

	var indexInfo registerCode
	if mem.hasIndex {
		indexInfo, err = regEncoding(mem.index)
		if err != nil {
			return memEncoding{}, err
		}
		if indexInfo.code == 4 && !indexInfo.high {
			return memEncoding{}, fmt.Errorf("rsp cannot be used as index register")
		}
	}

	enc := memEncoding{
		rex: rexState{
			b: baseInfo.high,
			x: mem.hasIndex && indexInfo.high,
		},
	}

	rm := baseInfo.code

	disp := mem.disp
	switch {
	case disp == 0 && rm != 5:
		enc.modrm = 0x00
	case disp >= math.MinInt8 && disp <= math.MaxInt8:
		enc.modrm = 0x40
		enc.disp = []byte{byte(disp)}
	default:
		enc.modrm = 0x80
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(disp))
		enc.disp = buf[:]
	}

	if mem.hasIndex || rm == 4 {
		indexCode := byte(4)
		if mem.hasIndex {
			indexCode = indexInfo.code
		}

		var scaleBits byte
		switch mem.scale {
		case 1:
			scaleBits = 0
		case 2:
			scaleBits = 1
		case 4:
			scaleBits = 2
		case 8:
			scaleBits = 3
		default:
			return memEncoding{}, fmt.Errorf("invalid scale %d", mem.scale)
		}

		enc.sib = []byte{scaleBits<<6 | indexCode<<3 | baseInfo.code}
		rm = 4
	} else if enc.modrm == 0x00 && rm == 5 {
		// [rbp] / [r13] with zero displacement must use 8-bit displacement zero.
		enc.modrm = 0x40
		enc.disp = []byte{0}
	}

	enc.modrm |= rm
	return enc, nil
}

// encodeRM emits a register/memory instruction:
// [legacy] [0x66] [REX] opcode modrm [sib] [disp].
func encodeRM(legacy []byte, size operandSize, opcode []byte, regField byte, regHigh, forceRex bool, mem Memory) ([]byte, error) {
	memEnc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}

	rex := memEnc.rex
	rex.r = regHigh
	rex.w = size == size64
	rex.force = rex.force || forceRex

	out := make([]byte, 0, 12)
	out = append(out, legacy...)
	if prefix, ok := operandPrefix(size); ok {
		out = append(out, prefix)
	}
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, opcode...)
	out = append(out, memEnc.modrm|(regField&7)<<3)
	out = append(out, memEnc.sib...)
	out = append(out, memEnc.disp...)
	return out, nil
}

// encodeRR emits a register/register instruction with reg in the modrm reg
// field and rm in the modrm rm field.
func encodeRR(opcode []byte, reg, rm Reg) ([]byte, error) {
	if reg.size != rm.size {
		return nil, fmt.Errorf("mismatched register widths: %d vs %d", reg.size*8, rm.size*8)
	}
	regCode, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}
	rmCode, err := regEncoding(rm)
	if err != nil {
		return nil, err
	}

	rex := rexState{
		w:     reg.size == size64,
		r:     regCode.high,
		b:     rmCode.high,
		force: reg.size == size8 && (needsByteREX(reg.id) || needsByteREX(rm.id)),
	}

	out := make([]byte, 0, 5)
	if prefix, ok := operandPrefix(reg.size); ok {
		out = append(out, prefix)
	}
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, opcode...)
	out = append(out, 0xC0|regCode.code<<3|rmCode.code)
	return out, nil
}

func encodeMovRegImm(reg Reg, value int64) ([]byte, error) {
	info, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}

	rex := rexState{
		w:     reg.size == size64,
		b:     info.high,
		force: reg.size == size8 && needsByteREX(reg.id),
	}

	opcode := byte(0xB8 + info.code)
	var imm []byte

	switch reg.size {
	case size64:
		if value >= math.MinInt32 && value <= math.MaxInt32 {
			// mov r/m64, imm32 sign-extends and is shorter than movabs.
			out := make([]byte, 0, 7)
			out = append(out, rex.prefix(), 0xC7, 0xC0|info.code)
			return binary.LittleEndian.AppendUint32(out, uint32(int32(value))), nil
		}
		imm = binary.LittleEndian.AppendUint64(nil, uint64(value))
	case size32:
		imm = binary.LittleEndian.AppendUint32(nil, uint32(value))
	case size8:
		opcode = 0xB0 + info.code
		imm = []byte{byte(value)}
	default:
		return nil, fmt.Errorf("unsupported register width %d", reg.size*8)
	}

	out := make([]byte, 0, 2+len(imm))
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, opcode)
	out = append(out, imm...)
	return out, nil
}

// encodeMovRegImm64 always uses the ten byte movabs form and reports where
// the immediate starts so it can be patched later.
func encodeMovRegImm64(reg asm.Variable, value uint64) ([]byte, int, error) {
	info, err := regInfo(reg)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, 0, 10)
	out = append(out, rexState{w: true, b: info.high}.prefix(), 0xB8+info.code)
	immPos := len(out)
	out = binary.LittleEndian.AppendUint64(out, value)
	return out, immPos, nil
}

func encodeMovRegReg(dst, src Reg) ([]byte, error) {
	return encodeRR([]byte{chooseOpcode(dst.size, 0x89, 0x88)}, src, dst)
}

func encodeMovMemReg(mem Memory, src Reg) ([]byte, error) {
	info, err := regEncoding(src)
	if err != nil {
		return nil, err
	}
	return encodeRM(nil, src.size, []byte{chooseOpcode(src.size, 0x89, 0x88)}, info.code, info.high,
		src.size == size8 && needsByteREX(src.id), mem)
}

func encodeMovRegMem(dst Reg, mem Memory) ([]byte, error) {
	info, err := regEncoding(dst)
	if err != nil {
		return nil, err
	}
	return encodeRM(nil, dst.size, []byte{chooseOpcode(dst.size, 0x8B, 0x8A)}, info.code, info.high,
		dst.size == size8 && needsByteREX(dst.id), mem)
}

// encodeMovMemImm32 stores a 32-bit immediate; the 64-bit form sign-extends it.
func encodeMovMemImm32(mem Memory, size operandSize, value int32) ([]byte, error) {
	if size != size32 && size != size64 {
		return nil, fmt.Errorf("mov imm32 to memory supports 32/64-bit width, got %d", size*8)
	}
	out, err := encodeRM(nil, size, []byte{0xC7}, 0, false, false, mem)
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.AppendUint32(out, uint32(value)), nil
}

func encodeLea(dst Reg, mem Memory) ([]byte, error) {
	if dst.size != size64 {
		return nil, fmt.Errorf("lea requires a 64-bit destination")
	}
	info, err := regEncoding(dst)
	if err != nil {
		return nil, err
	}
	return encodeRM(nil, size64, []byte{0x8D}, info.code, info.high, false, mem)
}

func encodeCallReg(target Reg) ([]byte, error) {
	if target.size != size64 {
		return nil, fmt.Errorf("call target must be a 64-bit register")
	}
	info, err := regEncoding(target)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 3)
	if rexByte := (rexState{b: info.high}).prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	return append(out, 0xFF, 0xD0|info.code), nil
}

func encodePushPop(reg Reg, base byte) ([]byte, error) {
	if reg.size != size64 {
		return nil, fmt.Errorf("push/pop require a 64-bit register")
	}
	info, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}
	if info.high {
		return []byte{0x41, base + info.code}, nil
	}
	return []byte{base + info.code}, nil
}

func encodePush(reg Reg) ([]byte, error) { return encodePushPop(reg, 0x50) }
func encodePop(reg Reg) ([]byte, error)  { return encodePushPop(reg, 0x58) }

// ALU opcode extensions for the 0x81/0x83 group.
const (
	aluAdd byte = 0
	aluOr  byte = 1
	aluAnd byte = 4
	aluSub byte = 5
	aluXor byte = 6
	aluCmp byte = 7
)

func encodeALURegImm(op byte, reg Reg, value int32) ([]byte, error) {
	info, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}

	rex := rexState{
		w:     reg.size == size64,
		b:     info.high,
		force: reg.size == size8 && needsByteREX(reg.id),
	}

	out := make([]byte, 0, 8)
	if prefix, ok := operandPrefix(reg.size); ok {
		out = append(out, prefix)
	}
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}

	modrm := 0xC0 | op<<3 | info.code
	switch {
	case reg.size == size8:
		out = append(out, 0x80, modrm, byte(value))
	case value >= math.MinInt8 && value <= math.MaxInt8:
		out = append(out, 0x83, modrm, byte(value))
	default:
		out = append(out, 0x81, modrm)
		out = binary.LittleEndian.AppendUint32(out, uint32(value))
	}
	return out, nil
}

func encodeALUMemImm(op byte, mem Memory, size operandSize, value int32) ([]byte, error) {
	if size != size32 && size != size64 {
		return nil, fmt.Errorf("alu imm to memory supports 32/64-bit width, got %d", size*8)
	}
	if value >= math.MinInt8 && value <= math.MaxInt8 {
		out, err := encodeRM(nil, size, []byte{0x83}, op, false, false, mem)
		if err != nil {
			return nil, err
		}
		return append(out, byte(value)), nil
	}
	out, err := encodeRM(nil, size, []byte{0x81}, op, false, false, mem)
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.AppendUint32(out, uint32(value)), nil
}

// encodeALURegMem encodes the "op reg, r/m" direction (0x03 add, 0x2B sub,
// 0x23 and, 0x0B or, 0x33 xor, 0x3B cmp).
func encodeALURegMem(opcode byte, dst Reg, mem Memory) ([]byte, error) {
	info, err := regEncoding(dst)
	if err != nil {
		return nil, err
	}
	return encodeRM(nil, dst.size, []byte{opcode}, info.code, info.high, false, mem)
}

func encodeALURegReg(opcode byte, dst, src Reg) ([]byte, error) {
	return encodeRR([]byte{opcode}, src, dst)
}

func encodeTestRegReg(dst, src Reg) ([]byte, error) {
	return encodeRR([]byte{chooseOpcode(dst.size, 0x85, 0x84)}, src, dst)
}

func chooseOpcode(size operandSize, wide, narrow byte) byte {
	if size == size8 {
		return narrow
	}
	return wide
}

func encodeImulRegImm(dst, src Reg, value int32) ([]byte, error) {
	if dst.size != size32 && dst.size != size64 {
		return nil, fmt.Errorf("imul unsupported width %d", dst.size*8)
	}
	if value >= math.MinInt8 && value <= math.MaxInt8 {
		out, err := encodeRR([]byte{0x6B}, dst, src)
		if err != nil {
			return nil, err
		}
		return append(out, byte(value)), nil
	}
	out, err := encodeRR([]byte{0x69}, dst, src)
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.AppendUint32(out, uint32(value)), nil
}

func encodeImulRegMem(dst Reg, mem Memory) ([]byte, error) {
	if dst.size != size32 && dst.size != size64 {
		return nil, fmt.Errorf("imul unsupported width %d", dst.size*8)
	}
	info, err := regEncoding(dst)
	if err != nil {
		return nil, err
	}
	return encodeRM(nil, dst.size, []byte{0x0F, 0xAF}, info.code, info.high, false, mem)
}

// Shift opcode extensions.
const (
	shiftShl byte = 4
	shiftShr byte = 5
	shiftSar byte = 7
)

func encodeShiftRegImm(reg Reg, count uint8, subcode byte) ([]byte, error) {
	if count == 0 {
		return nil, fmt.Errorf("shift count must be non-zero")
	}
	info, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}
	rex := rexState{w: reg.size == size64, b: info.high}
	out := make([]byte, 0, 4)
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	return append(out, 0xC1, 0xC0|subcode<<3|info.code, count), nil
}

// encodeShiftRegCL shifts reg by the count held in CL.
func encodeShiftRegCL(reg Reg, subcode byte) ([]byte, error) {
	info, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}
	rex := rexState{w: reg.size == size64, b: info.high}
	out := make([]byte, 0, 3)
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	return append(out, 0xD3, 0xC0|subcode<<3|info.code), nil
}

// encodeMovsd moves 64 bits between an SSE register and memory.
func encodeMovsd(load bool, x XMM, mem Memory) ([]byte, error) {
	if x > XMM7 {
		return nil, fmt.Errorf("unsupported xmm register %d", x)
	}
	opcode := []byte{0x0F, 0x11}
	if load {
		opcode[1] = 0x10
	}
	return encodeRM([]byte{0xF2}, size32, opcode, byte(x), false, false, mem)
}

func encodeRet() []byte {
	return []byte{0xC3}
}
