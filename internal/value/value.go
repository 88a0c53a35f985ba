// Package value defines the boxed value encoding shared by generated code
// and the runtime support library.
//
// A Value is eight bytes. The low word holds the payload and the high word
// holds the tag. Any bit pattern whose tag does not carry all of the
// TagMask bits is an IEEE-754 double; NaNs are canonicalized so a double
// can never be mistaken for a tagged value.
package value

import (
	"fmt"
	"math"
	"strconv"
)

// Value is a boxed runtime value.
type Value uint64

// Layout of a Value in memory (little endian).
const (
	Size          = 8
	PayloadOffset = 0
	TagOffset     = 4
)

// Tag is the high 32 bits of a Value.
type Tag uint32

const (
	TagMask      Tag = 0x7ffc0000
	UndefinedTag Tag = 0x7ffc0000
	NullTag      Tag = 0x7ffd0000
	BooleanTag   Tag = 0x7ffe0000
	IntegerTag   Tag = 0x7fff0000
	ObjectTag    Tag = 0xfffc0000
	StringTag    Tag = 0xfffd0000
)

const canonicalNaN = 0x7ff8000000000000

func (t Tag) String() string {
	switch t {
	case UndefinedTag:
		return "undefined"
	case NullTag:
		return "null"
	case BooleanTag:
		return "boolean"
	case IntegerTag:
		return "integer"
	case ObjectTag:
		return "object"
	case StringTag:
		return "string"
	default:
		return fmt.Sprintf("Tag(%#08x)", uint32(t))
	}
}

func box(tag Tag, payload uint32) Value {
	return Value(uint64(tag)<<32 | uint64(payload))
}

func Undefined() Value { return box(UndefinedTag, 0) }
func Null() Value      { return box(NullTag, 0) }

func FromBoolean(b bool) Value {
	if b {
		return box(BooleanTag, 1)
	}
	return box(BooleanTag, 0)
}

func FromInt32(i int32) Value { return box(IntegerTag, uint32(i)) }

func FromDouble(f float64) Value {
	if math.IsNaN(f) {
		return Value(canonicalNaN)
	}
	return Value(math.Float64bits(f))
}

// FromNumber boxes f as an integer when it is an exact int32 other than
// negative zero, and as a double otherwise.
func FromNumber(f float64) Value {
	if i := int32(f); float64(i) == f && !(f == 0 && math.Signbit(f)) {
		return FromInt32(i)
	}
	return FromDouble(f)
}

// FromObject and FromString box a 32-bit handle owned by the object model.
func FromObject(handle uint32) Value { return box(ObjectTag, handle) }
func FromString(handle uint32) Value { return box(StringTag, handle) }

func (v Value) Tag() Tag        { return Tag(v >> 32) }
func (v Value) Payload() uint32 { return uint32(v) }

func (v Value) IsDouble() bool    { return v.Tag()&TagMask != TagMask }
func (v Value) IsUndefined() bool { return v.Tag() == UndefinedTag }
func (v Value) IsNull() bool      { return v.Tag() == NullTag }
func (v Value) IsBoolean() bool   { return v.Tag() == BooleanTag }
func (v Value) IsInteger() bool   { return v.Tag() == IntegerTag }
func (v Value) IsObject() bool    { return v.Tag() == ObjectTag }
func (v Value) IsString() bool    { return v.Tag() == StringTag }

func (v Value) Int32() int32 { return int32(v.Payload()) }
func (v Value) Bool() bool   { return v.Payload() != 0 }

func (v Value) Double() float64 {
	return math.Float64frombits(uint64(v))
}

// IsNumber reports whether v is an integer or a double.
func (v Value) IsNumber() bool { return v.IsInteger() || v.IsDouble() }

// Number returns the numeric value of an integer or double.
func (v Value) Number() float64 {
	if v.IsInteger() {
		return float64(v.Int32())
	}
	return v.Double()
}

// TryIntegerConversion reinterprets null, booleans and integers as
// integers with the same payload. Everything else is left alone.
func (v Value) TryIntegerConversion() (Value, bool) {
	switch v.Tag() {
	case IntegerTag:
		return v, true
	case NullTag, BooleanTag:
		return box(IntegerTag, v.Payload()), true
	}
	return v, false
}

func (v Value) String() string {
	switch {
	case v.IsDouble():
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case v.IsUndefined():
		return "undefined"
	case v.IsNull():
		return "null"
	case v.IsBoolean():
		return strconv.FormatBool(v.Bool())
	case v.IsInteger():
		return strconv.FormatInt(int64(v.Int32()), 10)
	case v.IsObject():
		return fmt.Sprintf("object#%d", v.Payload())
	case v.IsString():
		return fmt.Sprintf("string#%d", v.Payload())
	default:
		return fmt.Sprintf("Value(%#016x)", uint64(v))
	}
}

// Policy selects how generated code moves whole values around.
type Policy uint8

const (
	// FitsInRegister copies values through one general purpose register
	// and returns them in the return register.
	FitsInRegister Policy = iota
	// ViaDouble copies values through a floating point register and
	// returns them through a caller supplied pointer.
	ViaDouble
)

func (p Policy) String() string {
	switch p {
	case FitsInRegister:
		return "register"
	case ViaDouble:
		return "double"
	default:
		return fmt.Sprintf("Policy(%d)", uint8(p))
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "register":
		return FitsInRegister, nil
	case "double":
		return ViaDouble, nil
	default:
		return 0, fmt.Errorf("value: unknown policy %q", s)
	}
}
