// Package scripting exposes the ajax facade to JavaScript programs run with goja.
//
// Scripts get a global ajax(options) function returning a request object with
// done, fail, always and abort methods, a Fetch-style Headers constructor and a
// minimal console. All script code, callbacks included, runs on the goroutine
// that called Run.
package scripting

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ajaxbridge/ajaxbridge/core/ajax"
	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/dop251/goja"
)

type Runtime struct {
	vm       *goja.Runtime
	client   *ajax.Client
	loop     *eventLoop
	ctx      context.Context
	pending  int
	inflight map[*ajax.Request]struct{}
}

func New(client *ajax.Client) *Runtime {
	r := &Runtime{
		vm:       goja.New(),
		client:   client,
		loop:     newEventLoop(),
		ctx:      context.Background(),
		inflight: map[*ajax.Request]struct{}{},
	}
	_ = r.vm.Set("ajax", r.ajax)
	_ = r.vm.Set("Headers", r.headersConstructor)

	console := r.vm.NewObject()
	_ = console.Set("log", r.console(log.Info))
	_ = console.Set("info", r.console(log.Info))
	_ = console.Set("warn", r.console(log.Warn))
	_ = console.Set("error", r.console(log.Error))
	_ = console.Set("debug", r.console(log.Debug))
	_ = r.vm.Set("console", console)
	return r
}

// RunFile reads and runs a script file. See Run.
func (r *Runtime) RunFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	return r.Run(ctx, path, string(src))
}

// Run executes src, then keeps serving request callbacks until every request
// the script started has settled. If ctx ends first, in-flight requests are
// aborted and ctx's error is returned.
func (r *Runtime) Run(ctx context.Context, name, src string) error {
	r.ctx = log.NewContext(ctx, "script", name)

	var runErr error
	r.loop.enqueue(func() {
		interrupted := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			r.vm.Interrupt(ctx.Err())
			close(interrupted)
		})
		_, err := r.vm.RunScript(name, src)
		if !stop() {
			// Only the top-level script is interruptible; callbacks still run
			<-interrupted
			r.vm.ClearInterrupt()
		}
		if err != nil {
			runErr = fmt.Errorf("running %s: %w", name, err)
		}
	})
	r.loop.run(ctx, func() bool { return r.pending == 0 }, r.abortAll)

	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}

func (r *Runtime) abortAll() {
	log.Debug(r.ctx, "Script cancelled, aborting requests", "inflight", len(r.inflight))
	for req := range r.inflight {
		req.Abort()
	}
}

func (r *Runtime) console(logFn func(...any)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, a.String())
		}
		logFn(r.ctx, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// ajax implements ajax(options) and ajax(url, options).
func (r *Runtime) ajax(call goja.FunctionCall) goja.Value {
	opts, err := r.requestOptions(call)
	if err != nil {
		panic(r.vm.NewTypeError(err.Error()))
	}
	req, err := r.client.NewRequest(r.ctx, opts)
	if err != nil {
		panic(r.vm.NewTypeError(err.Error()))
	}

	r.pending++
	r.inflight[req] = struct{}{}
	// Submit once the current script turn is over, so chained registrations
	// made right after ajax() returns are in place.
	r.loop.enqueue(func() {
		if err := req.Submit(); err != nil {
			log.Error(r.ctx, "Could not submit request", "url", req.URL(), err)
		}
	})
	go func() {
		<-req.Settled()
		r.loop.enqueue(func() {
			r.pending--
			delete(r.inflight, req)
		})
	}()
	return r.requestObject(req)
}

func (r *Runtime) requestObject(req *ajax.Request) *goja.Object {
	obj := r.vm.NewObject()
	register := func(add func(ajax.Callback) *ajax.Request, ch ajax.Channel) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			for _, arg := range call.Arguments {
				if fn, ok := goja.AssertFunction(arg); ok {
					add(&scriptCallback{rt: r, fn: fn, channel: ch})
				}
			}
			return obj
		}
	}
	_ = obj.Set("done", register(req.Done, ajax.ChannelDone))
	_ = obj.Set("fail", register(req.Fail, ajax.ChannelFail))
	_ = obj.Set("always", register(req.Always, ajax.ChannelAlways))
	_ = obj.Set("abort", func() bool { return req.Abort() })
	_ = obj.Set("id", req.ID())
	return obj
}

func (r *Runtime) requestOptions(call goja.FunctionCall) (ajax.Options, error) {
	var opts ajax.Options
	first := call.Argument(0)
	settings := call.Argument(1)
	if s, ok := first.Export().(string); ok {
		opts.URL = s
	} else {
		settings = first
	}
	if goja.IsUndefined(settings) || goja.IsNull(settings) {
		return opts, nil
	}
	o := settings.ToObject(r.vm)

	if v := o.Get("url"); isSet(v) {
		opts.URL = v.String()
	}
	if v := o.Get("method"); isSet(v) {
		opts.Method = v.String()
	} else if v := o.Get("type"); isSet(v) {
		opts.Method = v.String()
	}
	if v := o.Get("timeout"); isSet(v) {
		opts.Timeout = time.Duration(v.ToInteger()) * time.Millisecond
	}

	if v := o.Get("headers"); isSet(v) {
		if h, ok := r.hostHeaders(v); ok {
			opts.Headers = h.Clone()
		} else {
			h, err := r.plainHeaders(v.ToObject(r.vm))
			if err != nil {
				return opts, err
			}
			opts.Headers = h
		}
	}

	if v := o.Get("data"); isSet(v) {
		if _, isObject := v.(*goja.Object); isObject {
			body, err := r.stringify(v)
			if err != nil {
				return opts, err
			}
			opts.Body = []byte(body)
			if opts.Headers == nil {
				opts.Headers = fetch.NewHeaders()
			}
			if !opts.Headers.Has("content-type") {
				_ = opts.Headers.Set("Content-Type", "application/json")
			}
		} else {
			opts.Body = []byte(v.String())
		}
	}
	if v := o.Get("contentType"); isSet(v) {
		if opts.Headers == nil {
			opts.Headers = fetch.NewHeaders()
		}
		if err := opts.Headers.Set("Content-Type", v.String()); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func isSet(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

func (r *Runtime) stringify(v goja.Value) (string, error) {
	fn, ok := goja.AssertFunction(r.vm.Get("JSON").ToObject(r.vm).Get("stringify"))
	if !ok {
		return "", fmt.Errorf("JSON.stringify is not available")
	}
	res, err := fn(goja.Undefined(), v)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}
