package arm64

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/jit/internal/asm"
)

// CallScratch holds the absolute target of a call sequence.
const CallScratch = X16

// AddressScratch receives effective addresses that a single load or store
// cannot encode.
const AddressScratch = X17

type Context struct {
	text     []byte
	labels   map[asm.Label]int
	branches []branchPatch
	calls    []asm.CallSite
}

var _ asm.Context = (*Context)(nil)

type branchPatch struct {
	label asm.Label
	jump  asm.Jump
}

func NewContext() *Context {
	return &Context{
		labels: make(map[asm.Label]int),
	}
}

func (c *Context) EmitBytes(data []byte) {
	c.text = append(c.text, data...)
}

func (c *Context) Len() int {
	return len(c.text)
}

func (c *Context) emit32(word uint32) int {
	pos := len(c.text)
	c.text = binary.LittleEndian.AppendUint32(c.text, word)
	return pos
}

func (c *Context) SetLabel(label asm.Label) {
	c.labels[label] = len(c.text)
}

func (c *Context) GetLabel(label asm.Label) (int, bool) {
	pos, ok := c.labels[label]
	return pos, ok
}

// condition defines the condition code field used by conditional branches.
type condition uint8

const (
	condEQ condition = 0x0
	condNE condition = 0x1
	condCS condition = 0x2
	condCC condition = 0x3
	condMI condition = 0x4
	condPL condition = 0x5
	condVS condition = 0x6
	condVC condition = 0x7
	condHI condition = 0x8
	condLS condition = 0x9
	condGE condition = 0xA
	condLT condition = 0xB
	condGT condition = 0xC
	condLE condition = 0xD
	condAL condition = 0xE
)

func conditionCode(cond asm.Condition) (condition, error) {
	switch cond {
	case asm.Always:
		return condAL, nil
	case asm.Equal:
		return condEQ, nil
	case asm.NotEqual:
		return condNE, nil
	case asm.Overflow:
		return condVS, nil
	case asm.Negative:
		return condMI, nil
	case asm.Less:
		return condLT, nil
	case asm.LessOrEqual:
		return condLE, nil
	case asm.Greater:
		return condGT, nil
	case asm.GreaterOrEqual:
		return condGE, nil
	case asm.Below:
		return condCC, nil
	case asm.BelowOrEqual:
		return condLS, nil
	case asm.Above:
		return condHI, nil
	case asm.AboveOrEqual:
		return condCS, nil
	default:
		return 0, fmt.Errorf("arm64 asm: unsupported condition %s", cond)
	}
}

// EmitJump emits B or B.cond with a zero displacement. The returned jump
// points at the branch instruction itself.
func (c *Context) EmitJump(cond asm.Condition) (asm.Jump, error) {
	if cond == asm.Always {
		return asm.NewJump(c.emit32(0x14000000), cond), nil
	}
	code, err := conditionCode(cond)
	if err != nil {
		return asm.Jump{}, err
	}
	return asm.NewJump(c.emit32(0x54000000|uint32(code)), cond), nil
}

const (
	minBranchImm = -(1 << 25)
	maxBranchImm = (1 << 25) - 1
)

// LinkJump points j at target, an offset into the emitted code.
func (c *Context) LinkJump(j asm.Jump, target int) error {
	if !j.IsSet() {
		return fmt.Errorf("arm64 asm: link of unset jump")
	}
	pos := j.Pos()
	if pos < 0 || pos+4 > len(c.text) {
		return fmt.Errorf("arm64 asm: jump position %d out of range", pos)
	}
	rel := target - pos
	if rel%4 != 0 {
		return fmt.Errorf("arm64 asm: branch offset must be multiple of 4")
	}
	imm := rel / 4
	word := binary.LittleEndian.Uint32(c.text[pos : pos+4])
	if j.Condition() == asm.Always {
		if imm < minBranchImm || imm > maxBranchImm {
			return fmt.Errorf("arm64 asm: branch target out of range")
		}
		word = (word &^ ((1 << 26) - 1)) | (uint32(imm) & 0x03FFFFFF)
	} else {
		if imm < -(1<<18) || imm >= (1<<18) {
			return fmt.Errorf("arm64 asm: conditional branch out of range")
		}
		word = (word &^ (0x7FFFF << 5)) | (uint32(imm)&0x7FFFF)<<5
	}
	binary.LittleEndian.PutUint32(c.text[pos:pos+4], word)
	return nil
}

// Link points j at the current end of the code.
func (c *Context) Link(j asm.Jump) error {
	return c.LinkJump(j, len(c.text))
}

// EmitCallAbsolute emits movz/movk x16 followed by blr x16, leaving the
// immediates zero. The call site position is the first move.
func (c *Context) EmitCallAbsolute(name string) (asm.CallSite, error) {
	start := len(c.text)
	target := Reg64(CallScratch)
	for shift := uint32(0); shift < 64; shift += 16 {
		var (
			word uint32
			err  error
		)
		if shift == 0 {
			word, err = encodeMovz(target, 0, shift)
		} else {
			word, err = encodeMovk(target, 0, shift)
		}
		if err != nil {
			return asm.CallSite{}, err
		}
		c.emit32(word)
	}
	blr, err := encodeBlr(target)
	if err != nil {
		return asm.CallSite{}, err
	}
	c.emit32(blr)
	site := asm.CallSite{
		Name:  name,
		Start: start,
		Pos:   start,
		End:   len(c.text),
	}
	c.calls = append(c.calls, site)
	return site, nil
}

// PatchCallSite rewrites the four move-wide immediates of a call emitted by
// EmitCallAbsolute.
func (c *Context) PatchCallSite(site asm.CallSite, addr uintptr) error {
	if site.Pos < 0 || site.Pos+16 > len(c.text) {
		return fmt.Errorf("arm64 asm: call site %q position %d out of range", site.Name, site.Pos)
	}
	value := uint64(addr)
	for i := 0; i < 4; i++ {
		at := site.Pos + i*4
		word := binary.LittleEndian.Uint32(c.text[at : at+4])
		chunk := uint32(value>>(16*i)) & 0xFFFF
		word = (word &^ (0xFFFF << 5)) | chunk<<5
		binary.LittleEndian.PutUint32(c.text[at:at+4], word)
	}
	for i := range c.calls {
		if c.calls[i].Pos == site.Pos {
			c.calls[i].Addr = addr
		}
	}
	return nil
}

// Finalize resolves label branches and returns the finished program.
func (c *Context) Finalize() (asm.Program, error) {
	for _, br := range c.branches {
		target, ok := c.labels[br.label]
		if !ok {
			return asm.Program{}, fmt.Errorf("arm64 asm: undefined label %q", br.label)
		}
		if err := c.LinkJump(br.jump, target); err != nil {
			return asm.Program{}, fmt.Errorf("label %q: %w", br.label, err)
		}
	}
	return asm.NewProgram(c.text, c.calls), nil
}
