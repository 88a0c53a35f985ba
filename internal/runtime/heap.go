package runtime

import (
	"fmt"
	"regexp"
	"sync"
	"unsafe"

	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/value"
)

// Engine is what the instruction selector needs from the object model
// while compiling: interned identifiers, string and regular expression
// values and handles for nested functions.
type Engine interface {
	// Identifier returns the stable address of the interned name.
	Identifier(name string) uintptr
	NewString(s string) value.Value
	NewRegExp(pattern string, flags ir.RegExpFlags) (value.Value, error)
	// FunctionHandle returns the pointer init_closure receives for fn.
	FunctionHandle(fn *ir.Function) (uintptr, error)
}

type Identifier struct {
	Name string
}

// IdentifierAt recovers an identifier from the address embedded in code.
func IdentifierAt(ptr uintptr) *Identifier {
	return (*Identifier)(unsafe.Pointer(ptr))
}

// Object is a heap object. Plain objects only use the property map; the
// other fields are set for functions, regular expressions and iterators.
type Object struct {
	Class string

	props map[string]value.Value
	keys  []string

	accessors map[string][2]value.Value

	// Function objects.
	Function *ir.Function
	Scope    *ExecutionContext

	// RegExp objects.
	Source  string
	Flags   ir.RegExpFlags
	Pattern *regexp.Regexp

	// Property name iterators.
	pending []string
}

func newObject(class string) *Object {
	return &Object{Class: class, props: make(map[string]value.Value)}
}

func (o *Object) Get(name string) (value.Value, bool) {
	v, ok := o.props[name]
	return v, ok
}

func (o *Object) Has(name string) bool {
	if _, ok := o.props[name]; ok {
		return true
	}
	_, ok := o.accessors[name]
	return ok
}

func (o *Object) Set(name string, v value.Value) {
	if _, ok := o.props[name]; !ok {
		o.keys = append(o.keys, name)
	}
	o.props[name] = v
}

// Accessor returns the getter and setter defined for name.
func (o *Object) Accessor(name string) (getter, setter value.Value, ok bool) {
	pair, ok := o.accessors[name]
	return pair[0], pair[1], ok
}

func (o *Object) DefineAccessor(name string, getter, setter value.Value) {
	if o.accessors == nil {
		o.accessors = make(map[string][2]value.Value)
	}
	if _, ok := o.props[name]; !ok {
		if _, ok := o.accessors[name]; !ok {
			o.keys = append(o.keys, name)
		}
	}
	delete(o.props, name)
	o.accessors[name] = [2]value.Value{getter, setter}
}

func (o *Object) Delete(name string) bool {
	_, plain := o.props[name]
	_, accessor := o.accessors[name]
	if !plain && !accessor {
		return true
	}
	delete(o.props, name)
	delete(o.accessors, name)
	for i, k := range o.keys {
		if k == name {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the property names in insertion order.
func (o *Object) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Next pops the next name of an iterator object.
func (o *Object) Next() (string, bool) {
	if len(o.pending) == 0 {
		return "", false
	}
	name := o.pending[0]
	o.pending = o.pending[1:]
	return name, true
}

// Heap owns every string, object and identifier that values refer to. It
// implements Engine.
type Heap struct {
	mu          sync.Mutex
	identifiers map[string]*Identifier
	strings     []string
	objects     []*Object
	functions   []*ir.Function
	handles     map[*ir.Function]uintptr
	global      *Object
}

var _ Engine = (*Heap)(nil)

func NewHeap() *Heap {
	return &Heap{
		identifiers: make(map[string]*Identifier),
		handles:     make(map[*ir.Function]uintptr),
		global:      newObject("Global"),
	}
}

// Global returns the object backing activation properties.
func (h *Heap) Global() *Object { return h.global }

func (h *Heap) Identifier(name string) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, ok := h.identifiers[name]
	if !ok {
		id = &Identifier{Name: name}
		h.identifiers[name] = id
	}
	return uintptr(unsafe.Pointer(id))
}

func (h *Heap) NewString(s string) value.Value {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.strings = append(h.strings, s)
	return value.FromString(uint32(len(h.strings) - 1))
}

// NewRegExp compiles pattern with Go's regexp syntax, which covers the
// common subset of literal patterns.
func (h *Heap) NewRegExp(pattern string, flags ir.RegExpFlags) (value.Value, error) {
	prefix := ""
	if flags&ir.RegExpIgnoreCase != 0 {
		prefix += "i"
	}
	if flags&ir.RegExpMultiline != 0 {
		prefix += "m"
	}
	expr := pattern
	if prefix != "" {
		expr = "(?" + prefix + ")" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return value.Undefined(), fmt.Errorf("regexp /%s/%s: %w", pattern, flags, err)
	}
	obj := newObject("RegExp")
	obj.Source = pattern
	obj.Flags = flags
	obj.Pattern = re
	obj.Set("source", h.NewString(pattern))
	obj.Set("global", value.FromBoolean(flags&ir.RegExpGlobal != 0))
	obj.Set("lastIndex", value.FromInt32(0))
	return h.Alloc(obj), nil
}

func (h *Heap) FunctionHandle(fn *ir.Function) (uintptr, error) {
	if fn == nil {
		return 0, fmt.Errorf("function handle for nil function")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if handle, ok := h.handles[fn]; ok {
		return handle, nil
	}
	h.functions = append(h.functions, fn)
	handle := uintptr(len(h.functions))
	h.handles[fn] = handle
	return handle, nil
}

// FunctionAt returns the function behind a handle from FunctionHandle.
func (h *Heap) FunctionAt(handle uintptr) *ir.Function {
	h.mu.Lock()
	defer h.mu.Unlock()

	if handle == 0 || handle > uintptr(len(h.functions)) {
		return nil
	}
	return h.functions[handle-1]
}

// Alloc stores obj and returns a value referring to it.
func (h *Heap) Alloc(obj *Object) value.Value {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.objects = append(h.objects, obj)
	return value.FromObject(uint32(len(h.objects) - 1))
}

func (h *Heap) NewObject(class string) (value.Value, *Object) {
	obj := newObject(class)
	return h.Alloc(obj), obj
}

// NewIterator snapshots the enumerable names of obj.
func (h *Heap) NewIterator(obj *Object) value.Value {
	it := newObject("Iterator")
	if obj != nil {
		it.pending = obj.Keys()
	}
	return h.Alloc(it)
}

// Object returns the object v refers to, or nil.
func (h *Heap) Object(v value.Value) *Object {
	if !v.IsObject() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if int(v.Payload()) >= len(h.objects) {
		return nil
	}
	return h.objects[v.Payload()]
}

// String returns the contents of a string value.
func (h *Heap) String(v value.Value) (string, bool) {
	if !v.IsString() {
		return "", false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if int(v.Payload()) >= len(h.strings) {
		return "", false
	}
	return h.strings[v.Payload()], true
}
