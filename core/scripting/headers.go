package scripting

import (
	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/dop251/goja"
)

// hostHeaders keys the *fetch.Headers behind a script Headers object.
var hostHeaders = goja.NewSymbol("ajaxbridge.headers")

// headersConstructor implements `new Headers(init)`. init values must be strings.
func (r *Runtime) headersConstructor(call goja.ConstructorCall) *goja.Object {
	h := fetch.NewHeaders()
	if init := call.Argument(0); !goja.IsUndefined(init) && !goja.IsNull(init) {
		if existing, ok := r.hostHeaders(init); ok {
			h = existing.Clone()
		} else {
			fields, ok := init.Export().(map[string]any)
			if !ok {
				panic(r.vm.NewTypeError("Headers init must be an object"))
			}
			var err error
			if h, err = fetch.FromPlainMapping(fields); err != nil {
				panic(r.vm.NewTypeError(err.Error()))
			}
		}
	}
	return r.newHeadersObject(h)
}

func (r *Runtime) hostHeaders(v goja.Value) (*fetch.Headers, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	sym := obj.GetSymbol(hostHeaders)
	if sym == nil {
		return nil, false
	}
	h, ok := sym.Export().(*fetch.Headers)
	return h, ok
}

func (r *Runtime) newHeadersObject(h *fetch.Headers) *goja.Object {
	vm := r.vm
	obj := vm.NewObject()
	must := func(err error) {
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
	}
	pairs := func() *goja.Object {
		entries := h.Entries()
		items := make([]any, 0, len(entries))
		for _, e := range entries {
			items = append(items, vm.NewArray(e.Name, e.Value))
		}
		return vm.NewArray(items...)
	}
	array := func(list []string) *goja.Object {
		items := make([]any, 0, len(list))
		for _, s := range list {
			items = append(items, s)
		}
		return vm.NewArray(items...)
	}

	_ = obj.Set("append", func(name, value string) { must(h.Append(name, value)) })
	_ = obj.Set("set", func(name, value string) { must(h.Set(name, value)) })
	_ = obj.Set("delete", func(name string) { h.Delete(name) })
	_ = obj.Set("has", func(name string) bool { return h.Has(name) })
	_ = obj.Set("get", func(name string) goja.Value {
		v, ok := h.Get(name)
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	_ = obj.Set("entries", pairs)
	_ = obj.Set("keys", func() *goja.Object { return array(h.Keys()) })
	_ = obj.Set("values", func() *goja.Object { return array(h.Values()) })
	_ = obj.Set("forEach", func(fn goja.Callable) {
		for name, value := range h.All() {
			if _, err := fn(goja.Undefined(), vm.ToValue(value), vm.ToValue(name), obj); err != nil {
				panic(err)
			}
		}
	})
	_ = obj.SetSymbol(goja.SymIterator, func(goja.FunctionCall) goja.Value {
		arr := pairs()
		iter, ok := goja.AssertFunction(arr.GetSymbol(goja.SymIterator))
		if !ok {
			panic(vm.NewTypeError("array is not iterable"))
		}
		it, err := iter(arr)
		if err != nil {
			panic(err)
		}
		return it
	})
	_ = obj.SetSymbol(hostHeaders, h)
	return obj
}
