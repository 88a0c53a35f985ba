package host

import (
	"math"

	jitrt "github.com/tinyrange/jit/internal/runtime"
	"github.com/tinyrange/jit/internal/value"
)

// BinaryOp implements one of the boxed binary operators.
type BinaryOp func(r *Runtime, ctx *jitrt.ExecutionContext, left, right value.Value) value.Value

func numeric(f func(a, b float64) float64) BinaryOp {
	return func(r *Runtime, _ *jitrt.ExecutionContext, left, right value.Value) value.Value {
		return value.FromNumber(f(r.ToNumber(left), r.ToNumber(right)))
	}
}

func bitwise(f func(a, b int32) int32) BinaryOp {
	return func(r *Runtime, _ *jitrt.ExecutionContext, left, right value.Value) value.Value {
		return value.FromInt32(f(r.ToInt32(left), r.ToInt32(right)))
	}
}

func relational(f func(r *Runtime, left, right value.Value) bool) BinaryOp {
	return func(r *Runtime, _ *jitrt.ExecutionContext, left, right value.Value) value.Value {
		return value.FromBoolean(f(r, left, right))
	}
}

// binaryOps is keyed by runtime entry name.
var binaryOps = map[string]BinaryOp{
	"bit_and": bitwise(func(a, b int32) int32 { return a & b }),
	"bit_or":  bitwise(func(a, b int32) int32 { return a | b }),
	"bit_xor": bitwise(func(a, b int32) int32 { return a ^ b }),
	"add":     add,
	"sub":     numeric(func(a, b float64) float64 { return a - b }),
	"mul":     numeric(func(a, b float64) float64 { return a * b }),
	"div":     numeric(func(a, b float64) float64 { return a / b }),
	"mod":     numeric(math.Mod),
	"shl":     bitwise(func(a, b int32) int32 { return a << (uint32(b) & 31) }),
	"shr":     bitwise(func(a, b int32) int32 { return a >> (uint32(b) & 31) }),
	"ushr":    ushr,
	"gt":      relational(func(r *Runtime, a, b value.Value) bool { return r.less(b, a, false) }),
	"lt":      relational(func(r *Runtime, a, b value.Value) bool { return r.less(a, b, false) }),
	"ge":      relational(func(r *Runtime, a, b value.Value) bool { return r.less(b, a, true) }),
	"le":      relational(func(r *Runtime, a, b value.Value) bool { return r.less(a, b, true) }),
	"eq":      relational((*Runtime).LooseEquals),
	"ne":      relational(func(r *Runtime, a, b value.Value) bool { return !r.LooseEquals(a, b) }),
	"se":      relational((*Runtime).StrictEquals),
	"sne":     relational(func(r *Runtime, a, b value.Value) bool { return !r.StrictEquals(a, b) }),
	"instanceof": func(r *Runtime, ctx *jitrt.ExecutionContext, left, right value.Value) value.Value {
		if !r.isCallable(right) {
			return r.throwError(ctx, "TypeError", "right-hand side of instanceof is not callable")
		}
		return value.FromBoolean(false)
	},
	"in": func(r *Runtime, ctx *jitrt.ExecutionContext, left, right value.Value) value.Value {
		obj := r.heap.Object(right)
		if obj == nil {
			return r.throwError(ctx, "TypeError", "cannot use 'in' on %s", r.TypeOf(right))
		}
		return value.FromBoolean(obj.Has(r.propertyKey(left)))
	},
}

func add(r *Runtime, _ *jitrt.ExecutionContext, left, right value.Value) value.Value {
	if left.IsInteger() && right.IsInteger() {
		return value.FromNumber(float64(left.Int32()) + float64(right.Int32()))
	}
	if left.IsString() || right.IsString() || left.IsObject() || right.IsObject() {
		return r.Str(r.ToString(left) + r.ToString(right))
	}
	return value.FromNumber(r.ToNumber(left) + r.ToNumber(right))
}

func ushr(r *Runtime, _ *jitrt.ExecutionContext, left, right value.Value) value.Value {
	return value.FromNumber(float64(r.ToUint32(left) >> (r.ToUint32(right) & 31)))
}

// less compares a < b, or a <= b when orEqual is set. NaN compares false.
func (r *Runtime) less(a, b value.Value, orEqual bool) bool {
	if a.IsString() && b.IsString() {
		sa, _ := r.heap.String(a)
		sb, _ := r.heap.String(b)
		if orEqual {
			return sa <= sb
		}
		return sa < sb
	}
	fa, fb := r.ToNumber(a), r.ToNumber(b)
	if orEqual {
		return fa <= fb
	}
	return fa < fb
}

func (r *Runtime) StrictEquals(a, b value.Value) bool {
	switch {
	case a.IsNumber() && b.IsNumber():
		return a.Number() == b.Number()
	case a.IsString() && b.IsString():
		sa, _ := r.heap.String(a)
		sb, _ := r.heap.String(b)
		return sa == sb
	default:
		return a == b
	}
}

func (r *Runtime) LooseEquals(a, b value.Value) bool {
	switch {
	case (a.IsNull() || a.IsUndefined()) && (b.IsNull() || b.IsUndefined()):
		return true
	case a.IsNull() || a.IsUndefined() || b.IsNull() || b.IsUndefined():
		return false
	case a.IsNumber() && b.IsString(), a.IsString() && b.IsNumber(),
		a.IsBoolean() || b.IsBoolean():
		return r.ToNumber(a) == r.ToNumber(b)
	default:
		return r.StrictEquals(a, b)
	}
}

// UnaryOp implements one of the boxed unary operators.
type UnaryOp func(r *Runtime, v value.Value) value.Value

var unaryOps = map[string]UnaryOp{
	"not":    func(r *Runtime, v value.Value) value.Value { return value.FromBoolean(!r.ToBoolean(v)) },
	"uminus": func(r *Runtime, v value.Value) value.Value { return value.FromNumber(-r.ToNumber(v)) },
	"uplus":  func(r *Runtime, v value.Value) value.Value { return value.FromNumber(r.ToNumber(v)) },
	"compl":  func(r *Runtime, v value.Value) value.Value { return value.FromInt32(^r.ToInt32(v)) },
	"increment": func(r *Runtime, v value.Value) value.Value {
		return value.FromNumber(r.ToNumber(v) + 1)
	},
	"decrement": func(r *Runtime, v value.Value) value.Value {
		return value.FromNumber(r.ToNumber(v) - 1)
	},
}

// GetProperty reads name from base, running getters.
func (r *Runtime) GetProperty(ctx *jitrt.ExecutionContext, base value.Value, name string) value.Value {
	if base.IsNull() || base.IsUndefined() {
		return r.throwError(ctx, "TypeError", "cannot read property %q of %s", name, base)
	}
	if base.IsString() && name == "length" {
		s, _ := r.heap.String(base)
		return value.FromInt32(int32(len([]rune(s))))
	}
	obj := r.heap.Object(base)
	if obj == nil {
		return value.Undefined()
	}
	if v, ok := obj.Get(name); ok {
		return v
	}
	if getter, _, ok := obj.Accessor(name); ok {
		if getter.IsUndefined() {
			return value.Undefined()
		}
		return r.Call(ctx, getter, base, nil)
	}
	return value.Undefined()
}

// SetProperty writes name on base, running setters.
func (r *Runtime) SetProperty(ctx *jitrt.ExecutionContext, base value.Value, name string, v value.Value) {
	obj := r.heap.Object(base)
	if obj == nil {
		if base.IsNull() || base.IsUndefined() {
			r.throwError(ctx, "TypeError", "cannot set property %q of %s", name, base)
		}
		return
	}
	if _, setter, ok := obj.Accessor(name); ok {
		if !setter.IsUndefined() {
			r.Call(ctx, setter, base, []value.Value{v})
		}
		return
	}
	obj.Set(name, v)
}

// scopeObject finds the innermost with object or the global object that
// holds name. The global object is returned when nothing does.
func (r *Runtime) scopeObject(ctx *jitrt.ExecutionContext, name string) (*jitrt.Object, value.Value, bool) {
	r.mu.Lock()
	var chain []value.Value
	for c := ctx; c != nil; c = c.Parent {
		withs := r.withs[c]
		for i := len(withs) - 1; i >= 0; i-- {
			chain = append(chain, withs[i])
		}
	}
	r.mu.Unlock()

	for _, v := range chain {
		if obj := r.heap.Object(v); obj != nil && obj.Has(name) {
			return obj, v, true
		}
	}
	global := r.heap.Global()
	return global, value.Undefined(), global.Has(name)
}

func (r *Runtime) GetActivationProperty(ctx *jitrt.ExecutionContext, name string) value.Value {
	obj, base, ok := r.scopeObject(ctx, name)
	if !ok {
		return r.throwError(ctx, "ReferenceError", "%s is not defined", name)
	}
	if v, ok := obj.Get(name); ok {
		return v
	}
	if getter, _, ok := obj.Accessor(name); ok && !getter.IsUndefined() {
		return r.Call(ctx, getter, base, nil)
	}
	return value.Undefined()
}

func (r *Runtime) SetActivationProperty(ctx *jitrt.ExecutionContext, name string, v value.Value) {
	obj, base, ok := r.scopeObject(ctx, name)
	if ok && !base.IsUndefined() {
		r.SetProperty(ctx, base, name, v)
		return
	}
	obj.Set(name, v)
}

func (r *Runtime) pushWith(ctx *jitrt.ExecutionContext, v value.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.withs[ctx] = append(r.withs[ctx], v)
}

func (r *Runtime) popWith(ctx *jitrt.ExecutionContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	withs := r.withs[ctx]
	if len(withs) == 0 {
		return
	}
	if len(withs) == 1 {
		delete(r.withs, ctx)
		return
	}
	r.withs[ctx] = withs[:len(withs)-1]
}
