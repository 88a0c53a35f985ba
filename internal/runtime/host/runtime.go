// Package host is a reference implementation of the runtime support
// library written in Go. Its entry points are published to generated code
// as native callbacks.
package host

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/tinyrange/jit/internal/ir"
	jitrt "github.com/tinyrange/jit/internal/runtime"
	"github.com/tinyrange/jit/internal/value"
)

// Invoker runs compiled code for fn in ctx.
type Invoker interface {
	Invoke(fn *ir.Function, ctx *jitrt.ExecutionContext) (value.Value, error)
}

// NativeFunc implements a builtin function object in Go.
type NativeFunc func(r *Runtime, this value.Value, args []value.Value) value.Value

type Runtime struct {
	heap   *jitrt.Heap
	logger *slog.Logger
	out    io.Writer

	mu      sync.Mutex
	invoker Invoker
	natives map[*jitrt.Object]NativeFunc
	withs   map[*jitrt.ExecutionContext][]value.Value
}

func New(heap *jitrt.Heap, logger *slog.Logger) *Runtime {
	if heap == nil {
		heap = jitrt.NewHeap()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{
		heap:    heap,
		logger:  logger,
		out:     os.Stdout,
		natives: make(map[*jitrt.Object]NativeFunc),
		withs:   make(map[*jitrt.ExecutionContext][]value.Value),
	}
	r.DefineNative("print", func(r *Runtime, _ value.Value, args []value.Value) value.Value {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = r.ToString(a)
		}
		fmt.Fprintln(r.out, strings.Join(parts, " "))
		return value.Undefined()
	})
	return r
}

func (r *Runtime) Heap() *jitrt.Heap { return r.heap }

// SetOutput redirects the print builtin.
func (r *Runtime) SetOutput(w io.Writer) { r.out = w }

func (r *Runtime) SetInvoker(inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoker = inv
}

// DefineNative installs a global function implemented in Go.
func (r *Runtime) DefineNative(name string, fn NativeFunc) {
	v, obj := r.heap.NewObject("Function")
	r.mu.Lock()
	r.natives[obj] = fn
	r.mu.Unlock()
	r.heap.Global().Set(name, v)
}

// DefineFunction installs fn as a global function object so generated code
// can reach it by name.
func (r *Runtime) DefineFunction(fn *ir.Function) value.Value {
	v, obj := r.heap.NewObject("Function")
	obj.Function = fn
	r.heap.Global().Set(fn.Name, v)
	return v
}

// Str allocates a string value.
func (r *Runtime) Str(s string) value.Value { return r.heap.NewString(s) }

func (r *Runtime) throwError(ctx *jitrt.ExecutionContext, class, format string, args ...any) value.Value {
	v, obj := r.heap.NewObject(class)
	msg := fmt.Sprintf(format, args...)
	obj.Set("message", r.Str(msg))
	r.logger.Debug("runtime error", "class", class, "message", msg)
	r.throw(ctx, v)
	return value.Undefined()
}

func (r *Runtime) throw(ctx *jitrt.ExecutionContext, v value.Value) {
	if ctx == nil {
		return
	}
	ctx.Exception = v
	ctx.Throwing = true
}

func (r *Runtime) isCallable(v value.Value) bool {
	obj := r.heap.Object(v)
	if obj == nil {
		return false
	}
	if obj.Function != nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.natives[obj]
	return ok
}

// Call invokes a function value with this and args.
func (r *Runtime) Call(ctx *jitrt.ExecutionContext, fn, this value.Value, args []value.Value) value.Value {
	obj := r.heap.Object(fn)
	if obj == nil {
		return r.throwError(ctx, "TypeError", "%s is not a function", r.ToString(fn))
	}

	r.mu.Lock()
	native, isNative := r.natives[obj]
	inv := r.invoker
	r.mu.Unlock()

	if isNative {
		return native(r, this, args)
	}
	if obj.Function == nil {
		return r.throwError(ctx, "TypeError", "object is not a function")
	}
	if inv == nil {
		return r.throwError(ctx, "TypeError", "no code for function %s", obj.Function.Name)
	}

	parent := obj.Scope
	if parent == nil {
		parent = ctx
	}
	// Generated code reads formals without a bounds check.
	for len(args) < len(obj.Function.Formals) {
		args = append(args, value.Undefined())
	}
	callee := jitrt.NewExecutionContext(parent, this, args, len(obj.Function.Locals))
	result, err := inv.Invoke(obj.Function, callee)
	if err != nil {
		return r.throwError(ctx, "Error", "%v", err)
	}
	if callee.Throwing {
		r.throw(ctx, callee.Exception)
	}
	return result
}

// Construct allocates a fresh object and runs fn with it as this.
func (r *Runtime) Construct(ctx *jitrt.ExecutionContext, fn value.Value, args []value.Value) value.Value {
	if !r.isCallable(fn) {
		return r.throwError(ctx, "TypeError", "%s is not a constructor", r.ToString(fn))
	}
	this, _ := r.heap.NewObject("Object")
	result := r.Call(ctx, fn, this, args)
	if result.IsObject() {
		return result
	}
	return this
}

// ToBoolean converts v following the usual truthiness rules.
func (r *Runtime) ToBoolean(v value.Value) bool {
	switch {
	case v.IsDouble():
		f := v.Double()
		return f != 0 && !math.IsNaN(f)
	case v.IsInteger():
		return v.Int32() != 0
	case v.IsBoolean():
		return v.Bool()
	case v.IsString():
		s, _ := r.heap.String(v)
		return s != ""
	case v.IsObject():
		return true
	default:
		return false
	}
}

func (r *Runtime) ToNumber(v value.Value) float64 {
	switch {
	case v.IsNumber():
		return v.Number()
	case v.IsBoolean():
		if v.Bool() {
			return 1
		}
		return 0
	case v.IsNull():
		return 0
	case v.IsString():
		s, _ := r.heap.String(v)
		s = strings.TrimSpace(s)
		if s == "" {
			return 0
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			if n, err := strconv.ParseUint(s[2:], 16, 64); err == nil {
				return float64(n)
			}
			return math.NaN()
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// ToInt32 wraps a number modulo 2^32.
func (r *Runtime) ToInt32(v value.Value) int32 {
	if v.IsInteger() {
		return v.Int32()
	}
	return int32(r.ToUint32(v))
}

func (r *Runtime) ToUint32(v value.Value) uint32 {
	if v.IsInteger() {
		return uint32(v.Int32())
	}
	f := r.ToNumber(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	f = math.Mod(f, 1<<32)
	if f < 0 {
		f += 1 << 32
	}
	return uint32(f)
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

func (r *Runtime) ToString(v value.Value) string {
	switch {
	case v.IsNumber():
		return formatNumber(v.Number())
	case v.IsString():
		s, _ := r.heap.String(v)
		return s
	case v.IsObject():
		obj := r.heap.Object(v)
		switch {
		case obj == nil:
			return "[object]"
		case obj.Class == "RegExp":
			return "/" + obj.Source + "/" + obj.Flags.String()
		case r.isCallable(v):
			return "function"
		case obj.Class == "Error" || strings.HasSuffix(obj.Class, "Error"):
			msg, _ := obj.Get("message")
			return obj.Class + ": " + r.ToString(msg)
		default:
			return "[object " + obj.Class + "]"
		}
	default:
		return v.String()
	}
}

func (r *Runtime) TypeOf(v value.Value) string {
	switch {
	case v.IsUndefined():
		return "undefined"
	case v.IsNull():
		return "object"
	case v.IsBoolean():
		return "boolean"
	case v.IsNumber():
		return "number"
	case v.IsString():
		return "string"
	case r.isCallable(v):
		return "function"
	default:
		return "object"
	}
}

// propertyKey converts an element index or name to a property name.
func (r *Runtime) propertyKey(v value.Value) string {
	return r.ToString(v)
}
