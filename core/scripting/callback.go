package scripting

import (
	"github.com/ajaxbridge/ajaxbridge/core/ajax"
	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/dop251/goja"
)

// scriptCallback moves an invocation onto the script goroutine. Results are
// queued and run on the next loop turn. Aborts are only issued from the script
// goroutine, so abort notifications call the function right away.
type scriptCallback struct {
	rt      *Runtime
	fn      goja.Callable
	channel ajax.Channel
}

func (c *scriptCallback) Invoke(args ajax.Args) error {
	fn := c.fn
	if fn == nil {
		return nil
	}
	if args.Kind == ajax.KindAborted {
		c.call(fn, args)
		return nil
	}
	c.rt.loop.enqueue(func() { c.call(fn, args) })
	return nil
}

func (c *scriptCallback) call(fn goja.Callable, args ajax.Args) {
	_, err := fn(goja.Undefined(),
		c.rt.payload(args.Payload),
		c.rt.info(args.Info),
		c.rt.details(args.Details),
		c.rt.vm.ToValue(args.Code),
	)
	if err != nil {
		log.Error(c.rt.ctx, "Script callback failed", "callback", c.channel, "kind", args.Kind, err)
	}
}

func (c *scriptCallback) Release() {
	c.fn = nil
}

func (r *Runtime) payload(p any) goja.Value {
	if p == nil {
		return goja.Null()
	}
	return r.vm.ToValue(p)
}

func (r *Runtime) info(s string) goja.Value {
	if s == "" {
		return goja.Null()
	}
	return r.vm.ToValue(s)
}

func (r *Runtime) details(d *ajax.ResponseDetails) goja.Value {
	if d == nil {
		return goja.Null()
	}
	obj := r.vm.NewObject()
	_ = obj.Set("statusCode", d.StatusCode())
	_ = obj.Set("getResponseHeader", func(name string) goja.Value {
		v, ok := d.GetResponseHeader(name)
		if !ok {
			return goja.Null()
		}
		return r.vm.ToValue(v)
	})
	_ = obj.Set("headers", r.newHeadersObject(d.Headers()))
	return obj
}

// plainHeaders converts a plain object. Unlike new Headers(), non-string
// values are accepted and converted to strings.
func (r *Runtime) plainHeaders(o *goja.Object) (*fetch.Headers, error) {
	h := fetch.NewHeaders()
	for _, key := range o.Keys() {
		if err := h.Set(key, o.Get(key).String()); err != nil {
			return nil, err
		}
	}
	return h, nil
}
