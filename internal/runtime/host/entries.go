package host

import (
	"unsafe"

	jitrt "github.com/tinyrange/jit/internal/runtime"
	"github.com/tinyrange/jit/internal/value"
)

func boolResult(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}

func ident(ptr uintptr) string { return jitrt.IdentifierAt(ptr).Name }

func ctxAt(ptr uintptr) *jitrt.ExecutionContext {
	if ptr == 0 {
		return nil
	}
	return jitrt.ContextAt(ptr)
}

// argsAt copies argc values out of a call argument area.
func argsAt(ptr, argc uintptr) []value.Value {
	n := int(int32(argc))
	if n <= 0 || ptr == 0 {
		return nil
	}
	return append([]value.Value(nil), unsafe.Slice((*value.Value)(unsafe.Pointer(ptr)), n)...)
}

var compareNames = []string{"gt", "lt", "ge", "le", "eq", "ne", "se", "sne", "instanceof", "in"}

// Entries returns one Go function per catalogue entry, taking and
// returning machine words in the order of the entry's signature. Entries
// without a result return zero.
func (r *Runtime) Entries() map[string]any {
	m := make(map[string]any)

	for name, op := range binaryOps {
		m[name] = func(left, right, ctx uintptr) uintptr {
			return uintptr(op(r, ctxAt(ctx), value.Value(left), value.Value(right)))
		}
	}
	for _, name := range compareNames {
		op := binaryOps[name]
		m["cmp_"+name] = func(left, right, ctx uintptr) uintptr {
			return boolResult(r.ToBoolean(op(r, ctxAt(ctx), value.Value(left), value.Value(right))))
		}
	}
	for name, op := range unaryOps {
		m[name] = func(v, ctx uintptr) uintptr {
			return uintptr(op(r, value.Value(v)))
		}
	}
	m["to_boolean"] = func(v, ctx uintptr) uintptr {
		return boolResult(r.ToBoolean(value.Value(v)))
	}

	for _, stem := range jitrt.InplaceOps {
		op := binaryOps[stem]
		m["inplace_"+stem+"_name"] = func(v, name, ctx uintptr) uintptr {
			c, id := ctxAt(ctx), ident(name)
			cur := r.GetActivationProperty(c, id)
			r.SetActivationProperty(c, id, op(r, c, cur, value.Value(v)))
			return 0
		}
		m["inplace_"+stem+"_element"] = func(base, index, v, ctx uintptr) uintptr {
			c := ctxAt(ctx)
			key := r.propertyKey(value.Value(index))
			cur := r.GetProperty(c, value.Value(base), key)
			r.SetProperty(c, value.Value(base), key, op(r, c, cur, value.Value(v)))
			return 0
		}
		m["inplace_"+stem+"_member"] = func(v, base, name, ctx uintptr) uintptr {
			c, id := ctxAt(ctx), ident(name)
			cur := r.GetProperty(c, value.Value(base), id)
			r.SetProperty(c, value.Value(base), id, op(r, c, cur, value.Value(v)))
			return 0
		}
	}

	m["get_this_object"] = func(ctx uintptr) uintptr {
		return uintptr(ctxAt(ctx).This)
	}
	m["get_property"] = func(ctx, base, name uintptr) uintptr {
		return uintptr(r.GetProperty(ctxAt(ctx), value.Value(base), ident(name)))
	}
	m["set_property"] = func(ctx, base, name, v uintptr) uintptr {
		r.SetProperty(ctxAt(ctx), value.Value(base), ident(name), value.Value(v))
		return 0
	}
	m["get_element"] = func(ctx, base, index uintptr) uintptr {
		return uintptr(r.GetProperty(ctxAt(ctx), value.Value(base), r.propertyKey(value.Value(index))))
	}
	m["set_element"] = func(ctx, base, index, v uintptr) uintptr {
		r.SetProperty(ctxAt(ctx), value.Value(base), r.propertyKey(value.Value(index)), value.Value(v))
		return 0
	}
	m["get_activation_property"] = func(ctx, name uintptr) uintptr {
		return uintptr(r.GetActivationProperty(ctxAt(ctx), ident(name)))
	}
	m["set_activation_property"] = func(ctx, name, v uintptr) uintptr {
		r.SetActivationProperty(ctxAt(ctx), ident(name), value.Value(v))
		return 0
	}

	m["init_closure"] = func(fn, ctx uintptr) uintptr {
		v, obj := r.heap.NewObject("Function")
		obj.Function = r.heap.FunctionAt(fn)
		obj.Scope = ctxAt(ctx)
		return uintptr(v)
	}
	m["call_value"] = func(ctx, this, fn, args, argc uintptr) uintptr {
		return uintptr(r.Call(ctxAt(ctx), value.Value(fn), value.Value(this), argsAt(args, argc)))
	}
	m["call_property"] = func(ctx, base, name, args, argc uintptr) uintptr {
		c := ctxAt(ctx)
		fn := r.GetProperty(c, value.Value(base), ident(name))
		return uintptr(r.Call(c, fn, value.Value(base), argsAt(args, argc)))
	}
	m["construct_property"] = func(ctx, base, name, args, argc uintptr) uintptr {
		c := ctxAt(ctx)
		fn := r.GetProperty(c, value.Value(base), ident(name))
		return uintptr(r.Construct(c, fn, argsAt(args, argc)))
	}
	m["call_activation_property"] = func(ctx, name, args, argc uintptr) uintptr {
		c := ctxAt(ctx)
		fn := r.GetActivationProperty(c, ident(name))
		return uintptr(r.Call(c, fn, value.Undefined(), argsAt(args, argc)))
	}
	m["construct_activation_property"] = func(ctx, name, args, argc uintptr) uintptr {
		c := ctxAt(ctx)
		fn := r.GetActivationProperty(c, ident(name))
		return uintptr(r.Construct(c, fn, argsAt(args, argc)))
	}
	m["construct_value"] = func(ctx, fn, args, argc uintptr) uintptr {
		return uintptr(r.Construct(ctxAt(ctx), value.Value(fn), argsAt(args, argc)))
	}

	m["typeof_member"] = func(base, name, ctx uintptr) uintptr {
		return uintptr(r.Str(r.TypeOf(r.GetProperty(ctxAt(ctx), value.Value(base), ident(name)))))
	}
	m["typeof_element"] = func(base, index, ctx uintptr) uintptr {
		key := r.propertyKey(value.Value(index))
		return uintptr(r.Str(r.TypeOf(r.GetProperty(ctxAt(ctx), value.Value(base), key))))
	}
	m["typeof_name"] = func(name, ctx uintptr) uintptr {
		c, id := ctxAt(ctx), ident(name)
		if _, _, ok := r.scopeObject(c, id); !ok {
			return uintptr(r.Str("undefined"))
		}
		return uintptr(r.Str(r.TypeOf(r.GetActivationProperty(c, id))))
	}
	m["typeof"] = func(v, ctx uintptr) uintptr {
		return uintptr(r.Str(r.TypeOf(value.Value(v))))
	}

	m["delete_member"] = func(ctx, base, name uintptr) uintptr {
		obj := r.heap.Object(value.Value(base))
		if obj == nil {
			return uintptr(value.FromBoolean(true))
		}
		return uintptr(value.FromBoolean(obj.Delete(ident(name))))
	}
	m["delete_subscript"] = func(ctx, base, index uintptr) uintptr {
		obj := r.heap.Object(value.Value(base))
		if obj == nil {
			return uintptr(value.FromBoolean(true))
		}
		return uintptr(value.FromBoolean(obj.Delete(r.propertyKey(value.Value(index)))))
	}
	m["delete_name"] = func(ctx, name uintptr) uintptr {
		obj, _, ok := r.scopeObject(ctxAt(ctx), ident(name))
		if !ok {
			return uintptr(value.FromBoolean(true))
		}
		return uintptr(value.FromBoolean(obj.Delete(ident(name))))
	}

	m["throw"] = func(v, ctx uintptr) uintptr {
		r.throw(ctxAt(ctx), value.Value(v))
		return 0
	}
	// Unwinding into a handler is not supported: the handler is always
	// entered on its normal path.
	m["create_exception_handler"] = func(ctx uintptr) uintptr {
		return 0
	}
	m["delete_exception_handler"] = func(ctx uintptr) uintptr {
		return 0
	}
	m["get_exception"] = func(ctx uintptr) uintptr {
		c := ctxAt(ctx)
		c.Throwing = false
		return uintptr(c.Exception)
	}

	m["foreach_iterator_object"] = func(v, ctx uintptr) uintptr {
		return uintptr(r.heap.NewIterator(r.heap.Object(value.Value(v))))
	}
	m["foreach_next_property_name"] = func(it uintptr) uintptr {
		obj := r.heap.Object(value.Value(it))
		if obj == nil {
			return uintptr(value.Null())
		}
		name, ok := obj.Next()
		if !ok {
			return uintptr(value.Null())
		}
		return uintptr(r.Str(name))
	}

	m["push_with"] = func(v, ctx uintptr) uintptr {
		r.pushWith(ctxAt(ctx), value.Value(v))
		return 0
	}
	m["pop_with"] = func(ctx uintptr) uintptr {
		r.popWith(ctxAt(ctx))
		return 0
	}

	m["declare_var"] = func(ctx, deletable, name uintptr) uintptr {
		global := r.heap.Global()
		if id := ident(name); !global.Has(id) {
			global.Set(id, value.Undefined())
		}
		return 0
	}
	m["define_getter_setter"] = func(object, name, getter, setter, ctx uintptr) uintptr {
		if obj := r.heap.Object(value.Value(object)); obj != nil {
			obj.DefineAccessor(ident(name), value.Value(getter), value.Value(setter))
		}
		return 0
	}
	m["define_property"] = func(object, name, v, ctx uintptr) uintptr {
		if obj := r.heap.Object(value.Value(object)); obj != nil {
			obj.Set(ident(name), value.Value(v))
		}
		return 0
	}

	return m
}
