package asm

import (
	"fmt"
)

// Variable names a machine register in an architecture package's numbering.
type Variable int

// Context receives encoded instructions and tracks named labels.
type Context interface {
	EmitBytes(data []byte)
	Len() int

	GetLabel(label Label) (int, bool)
	SetLabel(label Label)
}

type Fragment interface {
	Emit(ctx Context) error
}

type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type Label string

type labelDef struct {
	label Label
}

func MarkLabel(label Label) Fragment {
	return &labelDef{label: label}
}

func (l *labelDef) Emit(ctx Context) error {
	if _, exists := ctx.GetLabel(l.label); exists {
		return fmt.Errorf("label %q already defined", l.label)
	}
	ctx.SetLabel(l.label)
	return nil
}

// Condition selects the flag test of a conditional branch. Each
// architecture package maps it onto its own encoding.
type Condition uint8

const (
	Always Condition = iota
	Equal
	NotEqual
	Overflow
	Negative
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
	Below
	BelowOrEqual
	Above
	AboveOrEqual
)

func (c Condition) String() string {
	switch c {
	case Always:
		return "always"
	case Equal:
		return "eq"
	case NotEqual:
		return "ne"
	case Overflow:
		return "overflow"
	case Negative:
		return "negative"
	case Less:
		return "lt"
	case LessOrEqual:
		return "le"
	case Greater:
		return "gt"
	case GreaterOrEqual:
		return "ge"
	case Below:
		return "below"
	case BelowOrEqual:
		return "below-or-equal"
	case Above:
		return "above"
	case AboveOrEqual:
		return "above-or-equal"
	default:
		return fmt.Sprintf("Condition(%d)", uint8(c))
	}
}

// Jump is a branch that was emitted before its destination was known.
// The zero value is an unset jump.
type Jump struct {
	pos  int
	cond Condition
	set  bool
}

// NewJump records a branch whose patchable field starts at pos.
func NewJump(pos int, cond Condition) Jump {
	return Jump{pos: pos, cond: cond, set: true}
}

func (j Jump) IsSet() bool          { return j.set }
func (j Jump) Pos() int             { return j.pos }
func (j Jump) Condition() Condition { return j.cond }

// CallSite is a call to an absolute address that is only written when the
// program is linked. Start and End delimit the whole call sequence; Pos is
// where the address operand lives.
type CallSite struct {
	Name  string
	Addr  uintptr
	Start int
	Pos   int
	End   int
}

// Contains reports whether the instruction at offset belongs to the call sequence.
func (c CallSite) Contains(offset int) bool {
	return offset >= c.Start && offset < c.End
}

type Program struct {
	code  []byte
	calls []CallSite
}

func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

func (p Program) Len() int {
	return len(p.code)
}

func (p Program) CallSites() []CallSite {
	return append([]CallSite(nil), p.calls...)
}

func (p Program) Clone() Program {
	return Program{
		code:  append([]byte(nil), p.code...),
		calls: append([]CallSite(nil), p.calls...),
	}
}

func NewProgram(code []byte, calls []CallSite) Program {
	return Program{
		code:  append([]byte(nil), code...),
		calls: append([]CallSite(nil), calls...),
	}
}
