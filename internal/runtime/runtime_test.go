package runtime

import (
	"errors"
	"strings"
	"testing"

	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/value"
)

func TestCatalogueSignatures(t *testing.T) {
	tests := []struct {
		name   string
		params string
		result Result
	}{
		{"add", "vvc", ResultValue},
		{"cmp_lt", "vvc", ResultBool},
		{"to_boolean", "vc", ResultBool},
		{"not", "vc", ResultValue},
		{"call_value", "cvvai", ResultValue},
		{"declare_var", "cis", ResultVoid},
		{"inplace_ushr_member", "vvsc", ResultVoid},
		{"foreach_next_property_name", "v", ResultValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := LookupEntry(tt.name)
			if !ok {
				t.Fatalf("entry %s missing", tt.name)
			}
			var params strings.Builder
			for _, k := range e.Sig.Params() {
				params.WriteByte(byte(k))
			}
			if params.String() != tt.params {
				t.Fatalf("params = %q, want %q", params.String(), tt.params)
			}
			if e.Sig.Result() != tt.result {
				t.Fatalf("result = %q, want %q", e.Sig.Result(), tt.result)
			}
		})
	}
}

func TestCatalogueSorted(t *testing.T) {
	entries := Catalogue()
	if len(entries) == 0 {
		t.Fatal("empty catalogue")
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Name >= entries[i].Name {
			t.Fatalf("catalogue not sorted at %s, %s", entries[i-1].Name, entries[i].Name)
		}
	}
	for _, stem := range InplaceOps {
		for _, suffix := range []string{"_name", "_element", "_member"} {
			if _, ok := LookupEntry("inplace_" + stem + suffix); !ok {
				t.Fatalf("missing inplace_%s%s", stem, suffix)
			}
		}
	}
}

func TestNewSignature(t *testing.T) {
	got := NewSignature(ResultBool, KindValue, KindValue, KindContext)
	if got != "vvc>b" {
		t.Fatalf("NewSignature = %q", got)
	}
	if err := Signature("vx>v").validate(); err == nil {
		t.Fatal("unknown kind accepted")
	}
	if err := Signature("vv").validate(); err == nil {
		t.Fatal("signature without result accepted")
	}
}

func TestTableBind(t *testing.T) {
	table := NewTable()
	if err := table.Bind("no_such_entry", 0x1000); err == nil {
		t.Fatal("unknown entry bound")
	}
	if err := table.Bind("add", 0); err == nil {
		t.Fatal("nil address bound")
	}
	if _, _, err := table.Lookup("add"); !errors.Is(err, ErrUnbound) {
		t.Fatalf("Lookup before Bind: %v", err)
	}
	if err := table.Bind("add", 0x1000); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	e, addr, err := table.Lookup("add")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Name != "add" || addr != 0x1000 {
		t.Fatalf("Lookup = %+v, %#x", e, addr)
	}
	if name := table.Symbols()[0x1000]; name != "add" {
		t.Fatalf("Symbols()[0x1000] = %q", name)
	}

	err = table.Complete()
	if !errors.Is(err, ErrUnbound) {
		t.Fatalf("Complete: %v", err)
	}
	if strings.Contains(err.Error(), " add,") {
		t.Fatalf("bound entry reported missing: %v", err)
	}
}

func TestPlaceholderTableComplete(t *testing.T) {
	table := PlaceholderTable(0x1000)
	if err := table.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	seen := make(map[uintptr]bool)
	for addr := range table.Symbols() {
		if seen[addr] {
			t.Fatalf("address %#x bound twice", addr)
		}
		seen[addr] = true
	}
	if len(seen) != len(Catalogue()) {
		t.Fatalf("bound %d addresses, want %d", len(seen), len(Catalogue()))
	}
}

func TestExecutionContext(t *testing.T) {
	args := []value.Value{value.FromInt32(1), value.FromInt32(2)}
	ctx := NewExecutionContext(nil, value.Null(), args, 3)
	args[0] = value.Undefined()

	if ctx.Argument(0) != value.FromInt32(1) {
		t.Fatalf("arguments not copied")
	}
	if ctx.Argument(5) != value.Undefined() {
		t.Fatalf("missing argument = %v", ctx.Argument(5))
	}
	if ctx.ArgumentCount != 2 || ctx.LocalCount != 3 {
		t.Fatalf("counts = %d, %d", ctx.ArgumentCount, ctx.LocalCount)
	}
	for i := 0; i < 3; i++ {
		if !ctx.Local(i).IsUndefined() {
			t.Fatalf("local %d = %v", i, ctx.Local(i))
		}
	}
	ctx.SetLocal(1, value.FromBoolean(true))
	if ctx.Local(1) != value.FromBoolean(true) {
		t.Fatalf("SetLocal lost")
	}
	if ContextAt(ctx.Pointer()) != ctx {
		t.Fatalf("ContextAt does not round trip")
	}

	empty := NewExecutionContext(ctx, value.Undefined(), nil, 0)
	if empty.Arguments != nil || empty.Locals != nil {
		t.Fatalf("empty context has array pointers")
	}
}

func TestDefaultLayout(t *testing.T) {
	layout := DefaultLayout()
	if layout.Arguments != 0 || layout.Locals != 8 {
		t.Fatalf("layout = %+v", layout)
	}
}

func TestHeapIdentifiers(t *testing.T) {
	h := NewHeap()
	a := h.Identifier("x")
	if b := h.Identifier("x"); a != b {
		t.Fatalf("identifier not interned: %#x != %#x", a, b)
	}
	if h.Identifier("y") == a {
		t.Fatalf("distinct names share an identifier")
	}
	if got := IdentifierAt(a).Name; got != "x" {
		t.Fatalf("IdentifierAt = %q", got)
	}
}

func TestHeapValues(t *testing.T) {
	h := NewHeap()
	s := h.NewString("hello")
	if got, ok := h.String(s); !ok || got != "hello" {
		t.Fatalf("String = %q, %v", got, ok)
	}
	if _, ok := h.String(value.FromInt32(1)); ok {
		t.Fatalf("integer read as string")
	}

	v, obj := h.NewObject("Object")
	if h.Object(v) != obj {
		t.Fatalf("Object lookup failed")
	}
	if h.Object(value.FromObject(99)) != nil {
		t.Fatalf("dangling handle resolved")
	}

	obj.Set("b", value.FromInt32(1))
	obj.Set("a", value.FromInt32(2))
	obj.DefineAccessor("c", value.Undefined(), value.Undefined())
	obj.Set("b", value.FromInt32(3))
	if got := strings.Join(obj.Keys(), ","); got != "b,a,c" {
		t.Fatalf("Keys = %s", got)
	}
	if !obj.Has("c") {
		t.Fatalf("accessor not visible")
	}
	obj.Delete("a")
	if got := strings.Join(obj.Keys(), ","); got != "b,c" {
		t.Fatalf("Keys after delete = %s", got)
	}

	it := h.Object(h.NewIterator(obj))
	var names []string
	for {
		name, ok := it.Next()
		if !ok {
			break
		}
		names = append(names, name)
	}
	if strings.Join(names, ",") != "b,c" {
		t.Fatalf("iterator yielded %v", names)
	}
}

func TestHeapRegExp(t *testing.T) {
	h := NewHeap()
	v, err := h.NewRegExp("ab+", ir.RegExpGlobal|ir.RegExpIgnoreCase)
	if err != nil {
		t.Fatalf("NewRegExp: %v", err)
	}
	obj := h.Object(v)
	if obj == nil || obj.Class != "RegExp" {
		t.Fatalf("regexp object = %+v", obj)
	}
	if !obj.Pattern.MatchString("xABB") {
		t.Fatalf("ignore case flag not applied")
	}
	if g, _ := obj.Get("global"); g != value.FromBoolean(true) {
		t.Fatalf("global = %v", g)
	}

	if _, err := h.NewRegExp("(", 0); err == nil {
		t.Fatal("invalid pattern accepted")
	}
}

func TestHeapFunctionHandles(t *testing.T) {
	h := NewHeap()
	fn := &ir.Function{Name: "f"}
	a, err := h.FunctionHandle(fn)
	if err != nil {
		t.Fatalf("FunctionHandle: %v", err)
	}
	if b, _ := h.FunctionHandle(fn); a != b {
		t.Fatalf("handle not stable: %d != %d", a, b)
	}
	if h.FunctionAt(a) != fn {
		t.Fatalf("FunctionAt mismatch")
	}
	if h.FunctionAt(0) != nil || h.FunctionAt(a+1) != nil {
		t.Fatalf("unknown handle resolved")
	}
	if _, err := h.FunctionHandle(nil); err == nil {
		t.Fatal("nil function accepted")
	}
}
