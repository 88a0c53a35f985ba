package amd64

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tinyrange/jit/internal/asm"
)

const (
	RAX asm.Variable = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RSP
	RBP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// CallScratch holds the absolute target of a call sequence.
const CallScratch = R11

type jumpPatch struct {
	label asm.Label
	jump  asm.Jump
}

// Context accumulates machine code for a single function. Branches are
// either resolved through labels when the program is finalized or handed
// back to the caller as asm.Jump values to be linked explicitly.
type Context struct {
	text   []byte
	labels map[asm.Label]int
	jumps  []jumpPatch
	calls  []asm.CallSite
}

var _ asm.Context = (*Context)(nil)

func NewContext() *Context {
	return &Context{
		labels: make(map[asm.Label]int),
	}
}

func (c *Context) GetLabel(label asm.Label) (int, bool) {
	pos, ok := c.labels[label]
	return pos, ok
}

func (c *Context) SetLabel(label asm.Label) {
	c.labels[label] = len(c.text)
}

func (c *Context) EmitBytes(code []byte) {
	c.text = append(c.text, code...)
}

func (c *Context) Len() int {
	return len(c.text)
}

func conditionOpcode(cond asm.Condition) (byte, error) {
	switch cond {
	case asm.Overflow:
		return 0x80, nil
	case asm.Below:
		return 0x82, nil
	case asm.AboveOrEqual:
		return 0x83, nil
	case asm.Equal:
		return 0x84, nil
	case asm.NotEqual:
		return 0x85, nil
	case asm.BelowOrEqual:
		return 0x86, nil
	case asm.Above:
		return 0x87, nil
	case asm.Negative:
		return 0x88, nil
	case asm.Less:
		return 0x8C, nil
	case asm.GreaterOrEqual:
		return 0x8D, nil
	case asm.LessOrEqual:
		return 0x8E, nil
	case asm.Greater:
		return 0x8F, nil
	default:
		return 0, fmt.Errorf("unsupported jump condition %s", cond)
	}
}

// EmitJump emits a branch with a zero rel32 and returns a handle that can
// be linked once the destination is known.
func (c *Context) EmitJump(cond asm.Condition) (asm.Jump, error) {
	if cond == asm.Always {
		c.text = append(c.text, 0xE9)
	} else {
		op, err := conditionOpcode(cond)
		if err != nil {
			return asm.Jump{}, err
		}
		c.text = append(c.text, 0x0F, op)
	}
	pos := len(c.text)
	c.text = append(c.text, 0, 0, 0, 0)
	return asm.NewJump(pos, cond), nil
}

// LinkJump points j at target, an offset into the emitted code.
func (c *Context) LinkJump(j asm.Jump, target int) error {
	if !j.IsSet() {
		return fmt.Errorf("link of unset jump")
	}
	pos := j.Pos()
	if pos < 0 || pos+4 > len(c.text) {
		return fmt.Errorf("jump position %d out of range", pos)
	}
	rel := target - (pos + 4)
	if rel < math.MinInt32 || rel > math.MaxInt32 {
		return fmt.Errorf("jump to offset %d out of range", target)
	}
	binary.LittleEndian.PutUint32(c.text[pos:pos+4], uint32(int32(rel)))
	return nil
}

// Link points j at the current end of the code.
func (c *Context) Link(j asm.Jump) error {
	return c.LinkJump(j, len(c.text))
}

// EmitCallAbsolute emits "mov r11, imm64; call r11" with a zero immediate
// and records the call site under name.
func (c *Context) EmitCallAbsolute(name string) (asm.CallSite, error) {
	start := len(c.text)
	mov, immPos, err := encodeMovRegImm64(CallScratch, 0)
	if err != nil {
		return asm.CallSite{}, err
	}
	c.text = append(c.text, mov...)
	call, err := encodeCallReg(Reg64(CallScratch))
	if err != nil {
		return asm.CallSite{}, err
	}
	c.text = append(c.text, call...)
	site := asm.CallSite{
		Name:  name,
		Start: start,
		Pos:   start + immPos,
		End:   len(c.text),
	}
	c.calls = append(c.calls, site)
	return site, nil
}

// PatchCallSite writes addr into the immediate of a call emitted by
// EmitCallAbsolute.
func (c *Context) PatchCallSite(site asm.CallSite, addr uintptr) error {
	if site.Pos < 0 || site.Pos+8 > len(c.text) {
		return fmt.Errorf("call site %q position %d out of range", site.Name, site.Pos)
	}
	binary.LittleEndian.PutUint64(c.text[site.Pos:site.Pos+8], uint64(addr))
	for i := range c.calls {
		if c.calls[i].Pos == site.Pos {
			c.calls[i].Addr = addr
		}
	}
	return nil
}

// Finalize resolves label branches and returns the finished program.
func (c *Context) Finalize() (asm.Program, error) {
	for _, j := range c.jumps {
		target, ok := c.labels[j.label]
		if !ok {
			return asm.Program{}, fmt.Errorf("undefined label %q", j.label)
		}
		if err := c.LinkJump(j.jump, target); err != nil {
			return asm.Program{}, fmt.Errorf("label %q: %w", j.label, err)
		}
	}
	return asm.NewProgram(c.text, c.calls), nil
}

func EmitProgram(fragment asm.Fragment) (asm.Program, error) {
	ctx := NewContext()
	if err := fragment.Emit(ctx); err != nil {
		return asm.Program{}, err
	}
	return ctx.Finalize()
}

func EmitBytes(fragment asm.Fragment) ([]byte, error) {
	prog, err := EmitProgram(fragment)
	if err != nil {
		return nil, err
	}
	return prog.Bytes(), nil
}

type registerCode struct {
	code byte
	high bool
}

func regInfo(v asm.Variable) (registerCode, error) {
	switch v {
	case RAX:
		return registerCode{code: 0}, nil
	case RBX:
		return registerCode{code: 3}, nil
	case RCX:
		return registerCode{code: 1}, nil
	case RDX:
		return registerCode{code: 2}, nil
	case RSI:
		return registerCode{code: 6}, nil
	case RDI:
		return registerCode{code: 7}, nil
	case RSP:
		return registerCode{code: 4}, nil
	case RBP:
		return registerCode{code: 5}, nil
	case R8:
		return registerCode{code: 0, high: true}, nil
	case R9:
		return registerCode{code: 1, high: true}, nil
	case R10:
		return registerCode{code: 2, high: true}, nil
	case R11:
		return registerCode{code: 3, high: true}, nil
	case R12:
		return registerCode{code: 4, high: true}, nil
	case R13:
		return registerCode{code: 5, high: true}, nil
	case R14:
		return registerCode{code: 6, high: true}, nil
	case R15:
		return registerCode{code: 7, high: true}, nil
	default:
		return registerCode{}, fmt.Errorf("unsupported register %d", v)
	}
}
