package runtime

import (
	"unsafe"

	"github.com/tinyrange/jit/internal/value"
)

// ExecutionContext is the activation record handed to generated code as its
// context argument. Generated code only reads Arguments and Locals; every
// other field belongs to the runtime library.
type ExecutionContext struct {
	Arguments *value.Value
	Locals    *value.Value

	ArgumentCount int32
	LocalCount    int32

	This      value.Value
	Exception value.Value
	Throwing  bool

	Parent *ExecutionContext

	args   []value.Value
	locals []value.Value
}

// NewExecutionContext allocates a context with copies of args and
// localCount undefined locals.
func NewExecutionContext(parent *ExecutionContext, this value.Value, args []value.Value, localCount int) *ExecutionContext {
	ctx := &ExecutionContext{
		This:          this,
		Exception:     value.Undefined(),
		Parent:        parent,
		args:          append([]value.Value(nil), args...),
		locals:        make([]value.Value, localCount),
		ArgumentCount: int32(len(args)),
		LocalCount:    int32(localCount),
	}
	for i := range ctx.locals {
		ctx.locals[i] = value.Undefined()
	}
	if len(ctx.args) > 0 {
		ctx.Arguments = &ctx.args[0]
	}
	if len(ctx.locals) > 0 {
		ctx.Locals = &ctx.locals[0]
	}
	return ctx
}

// Argument returns formal i, or undefined when the caller passed fewer.
func (c *ExecutionContext) Argument(i int) value.Value {
	if i < 0 || i >= len(c.args) {
		return value.Undefined()
	}
	return c.args[i]
}

func (c *ExecutionContext) Local(i int) value.Value { return c.locals[i] }

func (c *ExecutionContext) SetLocal(i int, v value.Value) { c.locals[i] = v }

// Pointer returns the address passed to generated code.
func (c *ExecutionContext) Pointer() uintptr { return uintptr(unsafe.Pointer(c)) }

// ContextAt recovers a context from the address generated code passed back.
func ContextAt(ptr uintptr) *ExecutionContext {
	return (*ExecutionContext)(unsafe.Pointer(ptr))
}

// ContextLayout gives the byte offsets generated code uses to reach the
// argument and local arrays through the context register.
type ContextLayout struct {
	Arguments int32
	Locals    int32
}

func DefaultLayout() ContextLayout {
	var c ExecutionContext
	return ContextLayout{
		Arguments: int32(unsafe.Offsetof(c.Arguments)),
		Locals:    int32(unsafe.Offsetof(c.Locals)),
	}
}
