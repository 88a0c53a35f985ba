package host

import (
	"bytes"
	"math"
	"reflect"
	"runtime"
	"testing"
	"unsafe"

	"github.com/tinyrange/jit/internal/ir"
	jitrt "github.com/tinyrange/jit/internal/runtime"
	"github.com/tinyrange/jit/internal/value"
)

type entryHarness struct {
	t       *testing.T
	r       *Runtime
	entries map[string]any
	ctx     *jitrt.ExecutionContext
}

func newHarness(t *testing.T) *entryHarness {
	t.Helper()
	r := New(nil, nil)
	return &entryHarness{
		t:       t,
		r:       r,
		entries: r.Entries(),
		ctx:     jitrt.NewExecutionContext(nil, value.Undefined(), nil, 0),
	}
}

// call invokes the entry as generated code would, one machine word per
// parameter.
func (h *entryHarness) call(name string, args ...uintptr) uintptr {
	h.t.Helper()
	fn, ok := h.entries[name]
	if !ok {
		h.t.Fatalf("no entry %s", name)
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}
	return reflect.ValueOf(fn).Call(in)[0].Interface().(uintptr)
}

func (h *entryHarness) ident(name string) uintptr { return h.r.Heap().Identifier(name) }

func (h *entryHarness) c() uintptr { return h.ctx.Pointer() }

func (h *entryHarness) str(s string) uintptr { return uintptr(h.r.Str(s)) }

func (h *entryHarness) toString(v uintptr) string { return h.r.ToString(value.Value(v)) }

func word(v value.Value) uintptr { return uintptr(v) }

func TestEntriesMatchCatalogue(t *testing.T) {
	entries := New(nil, nil).Entries()
	catalogue := jitrt.Catalogue()
	if len(entries) != len(catalogue) {
		t.Fatalf("%d entries, catalogue has %d", len(entries), len(catalogue))
	}
	word := reflect.TypeOf(uintptr(0))
	for _, e := range catalogue {
		fn, ok := entries[e.Name]
		if !ok {
			t.Errorf("no entry for %s", e.Name)
			continue
		}
		typ := reflect.TypeOf(fn)
		if typ.NumIn() != len(e.Sig.Params()) {
			t.Errorf("%s takes %d words, signature %s", e.Name, typ.NumIn(), e.Sig)
		}
		for i := 0; i < typ.NumIn(); i++ {
			if typ.In(i) != word {
				t.Errorf("%s parameter %d is %s", e.Name, i, typ.In(i))
			}
		}
		if typ.NumOut() != 1 || typ.Out(0) != word {
			t.Errorf("%s must return one word", e.Name)
		}
	}
}

func TestBinaryEntries(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name        string
		left, right value.Value
		want        string
	}{
		{"add", value.FromInt32(2), value.FromInt32(3), "5"},
		{"add", value.FromInt32(math.MaxInt32), value.FromInt32(1), "2147483648"},
		{"sub", value.FromInt32(math.MinInt32), value.FromInt32(1), "-2147483649"},
		{"mul", value.FromInt32(1 << 20), value.FromInt32(1 << 20), "1099511627776"},
		{"div", value.FromInt32(1), value.FromInt32(4), "0.25"},
		{"mod", value.FromInt32(7), value.FromInt32(3), "1"},
		{"shl", value.FromInt32(1), value.FromInt32(33), "2"},
		{"shr", value.FromInt32(-8), value.FromInt32(1), "-4"},
		{"ushr", value.FromInt32(-1), value.FromInt32(0), "4294967295"},
		{"bit_and", value.FromInt32(6), value.FromNumber(3.7), "2"},
		{"lt", value.FromInt32(1), value.FromInt32(2), "true"},
		{"eq", value.Null(), value.Undefined(), "true"},
		{"se", value.Null(), value.Undefined(), "false"},
		{"eq", value.FromInt32(1), value.FromBoolean(true), "true"},
	}
	for _, tt := range tests {
		got := h.toString(h.call(tt.name, word(tt.left), word(tt.right), h.c()))
		if got != tt.want {
			t.Errorf("%s(%v, %v) = %s, want %s", tt.name, tt.left, tt.right, got, tt.want)
		}
	}

	concat := h.call("add", h.str("a"), word(value.FromInt32(1)), h.c())
	if got := h.toString(concat); got != "a1" {
		t.Fatalf("string add = %q", got)
	}
	if got := h.call("cmp_ge", word(value.FromInt32(2)), word(value.FromInt32(2)), h.c()); got != 1 {
		t.Fatalf("cmp_ge = %d", got)
	}
	if got := h.call("cmp_lt", word(value.FromNumber(math.NaN())), word(value.FromInt32(2)), h.c()); got != 0 {
		t.Fatalf("NaN compared less")
	}
}

func TestUnaryEntries(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		v    value.Value
		want string
	}{
		{"not", value.FromInt32(0), "true"},
		{"uminus", value.FromInt32(3), "-3"},
		{"uplus", value.FromBoolean(true), "1"},
		{"compl", value.FromInt32(0), "-1"},
		{"increment", value.FromInt32(math.MaxInt32), "2147483648"},
		{"decrement", value.Null(), "-1"},
	}
	for _, tt := range tests {
		if got := h.toString(h.call(tt.name, word(tt.v), h.c())); got != tt.want {
			t.Errorf("%s(%v) = %s, want %s", tt.name, tt.v, got, tt.want)
		}
	}
	if h.call("to_boolean", h.str(""), h.c()) != 0 || h.call("to_boolean", h.str("x"), h.c()) != 1 {
		t.Fatalf("string truthiness")
	}
}

func TestActivationProperties(t *testing.T) {
	h := newHarness(t)
	h.call("set_activation_property", h.c(), h.ident("x"), word(value.FromInt32(4)))
	if got := h.call("get_activation_property", h.c(), h.ident("x")); value.Value(got) != value.FromInt32(4) {
		t.Fatalf("x = %v", value.Value(got))
	}

	h.call("inplace_add_name", word(value.FromInt32(3)), h.ident("x"), h.c())
	if got := h.toString(h.call("get_activation_property", h.c(), h.ident("x"))); got != "7" {
		t.Fatalf("x after += = %s", got)
	}

	h.call("get_activation_property", h.c(), h.ident("missing"))
	if !h.ctx.Throwing {
		t.Fatalf("reading an undeclared name did not throw")
	}
	if got := h.toString(h.call("get_exception", h.c())); got != "ReferenceError: missing is not defined" {
		t.Fatalf("exception = %q", got)
	}
	if h.ctx.Throwing {
		t.Fatalf("get_exception left the context throwing")
	}

	if got := h.toString(h.call("typeof_name", h.ident("missing"), h.c())); got != "undefined" {
		t.Fatalf("typeof missing = %q", got)
	}
	if h.ctx.Throwing {
		t.Fatalf("typeof of an undeclared name threw")
	}
}

func TestProperties(t *testing.T) {
	h := newHarness(t)
	obj, _ := h.r.Heap().NewObject("Object")

	h.call("set_property", h.c(), word(obj), h.ident("a"), word(value.FromInt32(1)))
	h.call("set_element", h.c(), word(obj), word(value.FromInt32(0)), h.str("zero"))
	if got := h.toString(h.call("get_element", h.c(), word(obj), h.str("0"))); got != "zero" {
		t.Fatalf("obj[0] = %q", got)
	}
	h.call("inplace_mul_member", word(value.FromInt32(5)), word(obj), h.ident("a"), h.c())
	if got := h.toString(h.call("get_property", h.c(), word(obj), h.ident("a"))); got != "5" {
		t.Fatalf("obj.a = %q", got)
	}
	h.call("inplace_sub_element", word(obj), h.str("a"), word(value.FromInt32(1)), h.c())
	if got := h.toString(h.call("get_property", h.c(), word(obj), h.ident("a"))); got != "4" {
		t.Fatalf("obj.a after -= = %q", got)
	}

	if got := h.toString(h.call("typeof_member", word(obj), h.ident("a"), h.c())); got != "number" {
		t.Fatalf("typeof obj.a = %q", got)
	}
	if got := value.Value(h.call("delete_member", h.c(), word(obj), h.ident("a"))); got != value.FromBoolean(true) {
		t.Fatalf("delete = %v", got)
	}
	if got := h.call("get_property", h.c(), word(obj), h.ident("a")); !value.Value(got).IsUndefined() {
		t.Fatalf("deleted property = %v", value.Value(got))
	}

	if got := h.toString(h.call("get_property", h.c(), h.str("héllo"), h.ident("length"))); got != "5" {
		t.Fatalf("string length = %q", got)
	}

	h.call("get_property", h.c(), word(value.Null()), h.ident("a"))
	if !h.ctx.Throwing {
		t.Fatalf("reading a property of null did not throw")
	}
}

func TestAccessors(t *testing.T) {
	h := newHarness(t)
	var setterArgs []value.Value
	h.r.DefineNative("getter", func(r *Runtime, this value.Value, args []value.Value) value.Value {
		return r.Str("got")
	})
	h.r.DefineNative("setter", func(r *Runtime, this value.Value, args []value.Value) value.Value {
		setterArgs = args
		return value.Undefined()
	})
	getter, _ := h.r.Heap().Global().Get("getter")
	setter, _ := h.r.Heap().Global().Get("setter")

	obj, _ := h.r.Heap().NewObject("Object")
	h.call("define_getter_setter", word(obj), h.ident("p"), word(getter), word(setter), h.c())
	if got := h.toString(h.call("get_property", h.c(), word(obj), h.ident("p"))); got != "got" {
		t.Fatalf("getter result = %q", got)
	}
	h.call("set_property", h.c(), word(obj), h.ident("p"), word(value.FromInt32(9)))
	if len(setterArgs) != 1 || setterArgs[0] != value.FromInt32(9) {
		t.Fatalf("setter args = %v", setterArgs)
	}

	h.call("define_property", word(obj), h.ident("q"), word(value.FromInt32(2)), h.c())
	if got := h.toString(h.call("get_property", h.c(), word(obj), h.ident("q"))); got != "2" {
		t.Fatalf("obj.q = %q", got)
	}
}

type recordingInvoker struct {
	fn   *ir.Function
	ctx  *jitrt.ExecutionContext
	want value.Value
}

func (i *recordingInvoker) Invoke(fn *ir.Function, ctx *jitrt.ExecutionContext) (value.Value, error) {
	i.fn, i.ctx = fn, ctx
	return i.want, nil
}

func TestCalls(t *testing.T) {
	h := newHarness(t)
	var out bytes.Buffer
	h.r.SetOutput(&out)

	args := []value.Value{h.r.Str("hi"), value.FromInt32(3)}
	argp := uintptr(unsafe.Pointer(&args[0]))
	defer runtime.KeepAlive(args)
	h.call("call_activation_property", h.c(), h.ident("print"), argp, 2)
	if out.String() != "hi 3\n" {
		t.Fatalf("print wrote %q", out.String())
	}

	fn := &ir.Function{Name: "f", Formals: []string{"a", "b", "c"}, Locals: []string{"l"}}
	handle, err := h.r.Heap().FunctionHandle(fn)
	if err != nil {
		t.Fatalf("FunctionHandle: %v", err)
	}
	closure := h.call("init_closure", handle, h.c())
	if got := h.toString(h.call("typeof", closure, h.c())); got != "function" {
		t.Fatalf("typeof closure = %q", got)
	}

	inv := &recordingInvoker{want: value.FromInt32(42)}
	h.r.SetInvoker(inv)
	got := h.call("call_value", h.c(), word(value.Undefined()), closure, argp, 2)
	if value.Value(got) != value.FromInt32(42) {
		t.Fatalf("call_value = %v", value.Value(got))
	}
	if inv.fn != fn {
		t.Fatalf("invoked %v", inv.fn)
	}
	if inv.ctx.ArgumentCount != 3 || !inv.ctx.Argument(2).IsUndefined() {
		t.Fatalf("missing formals not padded: %d", inv.ctx.ArgumentCount)
	}
	if inv.ctx.LocalCount != 1 || inv.ctx.Parent != h.ctx {
		t.Fatalf("callee context = %+v", inv.ctx)
	}

	inv.want = value.FromInt32(1)
	constructed := value.Value(h.call("construct_value", h.c(), closure, 0, 0))
	if !constructed.IsObject() || value.Value(inv.ctx.This) != constructed {
		t.Fatalf("constructor did not receive the new object")
	}

	h.call("call_value", h.c(), word(value.Undefined()), word(value.FromInt32(1)), 0, 0)
	if !h.ctx.Throwing {
		t.Fatalf("calling a number did not throw")
	}
}

func TestDefineFunction(t *testing.T) {
	h := newHarness(t)
	fn := &ir.Function{Name: "scale", Formals: []string{"x"}}
	h.r.DefineFunction(fn)

	inv := &recordingInvoker{want: value.FromInt32(7)}
	h.r.SetInvoker(inv)
	args := []value.Value{value.FromInt32(1)}
	defer runtime.KeepAlive(args)
	got := h.call("call_activation_property", h.c(), h.ident("scale"), uintptr(unsafe.Pointer(&args[0])), 1)
	if value.Value(got) != value.FromInt32(7) || inv.fn != fn {
		t.Fatalf("call_activation_property = %v, invoked %v", value.Value(got), inv.fn)
	}
	if h.ctx.Throwing {
		t.Fatalf("threw %s", h.r.ToString(h.ctx.Exception))
	}
}

func TestIterationAndWith(t *testing.T) {
	h := newHarness(t)
	obj, o := h.r.Heap().NewObject("Object")
	o.Set("a", value.FromInt32(1))
	o.Set("b", value.FromInt32(2))

	it := h.call("foreach_iterator_object", word(obj), h.c())
	var names []string
	for {
		v := value.Value(h.call("foreach_next_property_name", it))
		if v.IsNull() {
			break
		}
		names = append(names, h.r.ToString(v))
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}

	h.call("push_with", word(obj), h.c())
	if got := h.toString(h.call("get_activation_property", h.c(), h.ident("b"))); got != "2" {
		t.Fatalf("with lookup = %q", got)
	}
	h.call("set_activation_property", h.c(), h.ident("a"), word(value.FromInt32(5)))
	if v, _ := o.Get("a"); v != value.FromInt32(5) {
		t.Fatalf("with store went elsewhere")
	}
	h.call("pop_with", h.c())
	h.call("get_activation_property", h.c(), h.ident("b"))
	if !h.ctx.Throwing {
		t.Fatalf("with object still in scope after pop")
	}
}

func TestDeclareVar(t *testing.T) {
	h := newHarness(t)
	h.call("set_activation_property", h.c(), h.ident("x"), word(value.FromInt32(1)))
	h.call("declare_var", h.c(), 1, h.ident("x"))
	h.call("declare_var", h.c(), 0, h.ident("y"))
	global := h.r.Heap().Global()
	if v, _ := global.Get("x"); v != value.FromInt32(1) {
		t.Fatalf("declare_var clobbered x: %v", v)
	}
	if v, ok := global.Get("y"); !ok || !v.IsUndefined() {
		t.Fatalf("y = %v, %v", v, ok)
	}
}

func TestExceptions(t *testing.T) {
	h := newHarness(t)
	if h.call("create_exception_handler", h.c()) != 0 {
		t.Fatalf("handler entered on the exceptional path")
	}
	h.call("throw", h.str("boom"), h.c())
	if !h.ctx.Throwing || h.r.ToString(h.ctx.Exception) != "boom" {
		t.Fatalf("throw did not record the exception")
	}
	h.call("delete_exception_handler", h.c())
}

func TestConversions(t *testing.T) {
	r := New(nil, nil)
	numbers := []struct {
		v    value.Value
		want float64
	}{
		{r.Str(" 12 "), 12},
		{r.Str("0x10"), 16},
		{r.Str(""), 0},
		{value.Null(), 0},
		{value.FromBoolean(true), 1},
	}
	for _, tt := range numbers {
		if got := r.ToNumber(tt.v); got != tt.want {
			t.Errorf("ToNumber(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
	if !math.IsNaN(r.ToNumber(value.Undefined())) || !math.IsNaN(r.ToNumber(r.Str("x"))) {
		t.Errorf("expected NaN")
	}
	if got := r.ToInt32(value.FromNumber(4294967297)); got != 1 {
		t.Errorf("ToInt32(2^32+1) = %d", got)
	}
	if got := r.ToUint32(value.FromNumber(-1)); got != math.MaxUint32 {
		t.Errorf("ToUint32(-1) = %d", got)
	}

	strs := []struct {
		v    value.Value
		want string
	}{
		{value.FromNumber(1.5), "1.5"},
		{value.FromNumber(math.Inf(-1)), "-Infinity"},
		{value.FromNumber(1e21), "1e+21"},
		{value.Null(), "null"},
		{value.FromBoolean(false), "false"},
	}
	for _, tt := range strs {
		if got := r.ToString(tt.v); got != tt.want {
			t.Errorf("ToString(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
	if got := r.TypeOf(value.Null()); got != "object" {
		t.Errorf("typeof null = %q", got)
	}
}
