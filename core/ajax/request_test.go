package ajax_test

import (
	"context"
	"errors"

	"github.com/ajaxbridge/ajaxbridge/conf/configtest"
	"github.com/ajaxbridge/ajaxbridge/core/ajax"
	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/ajaxbridge/ajaxbridge/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Request", func() {
	var (
		ctx        context.Context
		dispatcher *mockDispatcher
		observer   *mockObserver
		client     *ajax.Client
		req        *ajax.Request
		ev         *events
	)

	BeforeEach(func() {
		DeferCleanup(configtest.SetupConfig())
		ctx = context.Background()
		dispatcher = &mockDispatcher{}
		observer = &mockObserver{}
		ev = &events{}
		var err error
		client, err = ajax.NewClient(dispatcher, ajax.WithObserver(observer))
		Expect(err).ToNot(HaveOccurred())
		req, err = client.NewRequest(ctx, ajax.Options{URL: "http://example.com/api"})
		Expect(err).ToNot(HaveOccurred())
	})

	completeWith := func(out ajax.Outcome) {
		calls := dispatcher.Calls()
		ExpectWithOffset(1, calls).To(HaveLen(1))
		calls[0].complete(out)
	}

	It("starts in the building state", func() {
		Expect(req.State()).To(Equal(ajax.StateBuilding))
		Expect(req.ID()).ToNot(BeEmpty())
		Expect(req.Method()).To(Equal("GET"))
		Expect(req.URL()).To(Equal("http://example.com/api"))
	})

	It("returns itself from registrations, ignoring nil callbacks", func() {
		Expect(req.Done(nil)).To(BeIdenticalTo(req))
		Expect(req.Fail(newCallback("f", ev)).Always(nil)).To(BeIdenticalTo(req))
	})

	Describe("Submit", func() {
		It("dispatches once and moves to submitted", func() {
			Expect(req.Submit()).To(Succeed())
			Expect(req.State()).To(Equal(ajax.StateSubmitted))
			calls := dispatcher.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].call.ID).To(Equal(req.ID()))
			Expect(calls[0].call.Timeout).To(Equal(client.Timeout()))
		})

		It("fails when called twice", func() {
			Expect(req.Submit()).To(Succeed())
			Expect(req.Submit()).To(MatchError(model.ErrAlreadySubmitted))
			Expect(dispatcher.Calls()).To(HaveLen(1))
		})

		It("merges default headers with the request headers, request values winning", func() {
			h := fetch.NewHeaders()
			Expect(h.Set("cache-control", "max-age=60")).To(Succeed())
			Expect(h.Set("X-Custom", "yes")).To(Succeed())
			req, _ = client.NewRequest(ctx, ajax.Options{URL: "http://example.com", Headers: h})
			Expect(req.Submit()).To(Succeed())

			sent := dispatcher.Calls()[0].call.Headers
			Expect(header(sent, "Cache-Control")).To(Equal("max-age=60"))
			Expect(header(sent, "Accept-Charset")).To(Equal("utf-8"))
			Expect(header(sent, "Accept-Language")).To(Equal("en-US"))
			Expect(header(sent, "Connection")).To(Equal("keep-alive"))
			Expect(header(sent, "x-custom")).To(Equal("yes"))
			Expect(header(client.DefaultHeaders(), "cache-control")).To(Equal("no-cache, no-store"))
		})

		It("does not dispatch an already aborted request", func() {
			Expect(req.Abort()).To(BeTrue())
			Expect(req.Submit()).To(Succeed())
			Expect(dispatcher.Calls()).To(BeEmpty())
			Expect(req.State()).To(Equal(ajax.StateAborted))
		})

		It("delivers a dispatcher rejection through the fail channel", func() {
			dispatcher.DispatchFn = func(context.Context, ajax.Call, func(ajax.Outcome)) error {
				return model.ErrPoolFull
			}
			done, fail, always := newCallback("done", ev), newCallback("fail", ev), newCallback("always", ev)
			req.Done(done).Fail(fail).Always(always)

			Expect(req.Submit()).To(Succeed())

			Expect(done.Invocations()).To(BeEmpty())
			Expect(fail.Invocations()).To(HaveLen(1))
			Expect(fail.Invocations()[0].Kind).To(Equal(ajax.KindNetworkError))
			Expect(fail.Invocations()[0].Info).To(Equal("error"))
			Expect(always.Invocations()).To(HaveLen(1))
			Expect(req.State()).To(Equal(ajax.StateCompleted))
			Eventually(req.Settled()).Should(BeClosed())
		})
	})

	Describe("completion", func() {
		It("invokes every done callback once, in order, for a JSON success", func() {
			d1, d2, d3 := newCallback("d1", ev), newCallback("d2", ev), newCallback("d3", ev)
			fail := newCallback("fail", ev)
			req.Done(d1).Done(d2).Fail(fail).Done(d3)
			Expect(req.Submit()).To(Succeed())

			completeWith(response(200, "application/json", `{"a":1}`))

			Expect(ev.All()).To(Equal([]string{
				"invoke d1", "release d1",
				"invoke d2", "release d2",
				"release fail",
				"invoke d3", "release d3",
			}))
			for _, d := range []*mockCallback{d1, d2, d3} {
				Expect(d.Invocations()).To(HaveLen(1))
				args := d.Invocations()[0]
				Expect(args.Payload).To(Equal(map[string]any{"a": float64(1)}))
				Expect(args.Info).To(BeEmpty())
				Expect(args.Code).To(Equal(200))
				Expect(args.Details.StatusCode()).To(Equal(200))
			}
			Expect(fail.Invocations()).To(BeEmpty())
			Expect(fail.Released()).To(Equal(1))
			Expect(req.State()).To(Equal(ajax.StateCompleted))
			Expect(observer.Kinds()).To(Equal([]ajax.Kind{ajax.KindSuccess}))
		})

		It("interleaves always callbacks with done callbacks", func() {
			req.Done(newCallback("d1", ev)).Always(newCallback("a1", ev)).Done(newCallback("d2", ev))
			Expect(req.Submit()).To(Succeed())
			completeWith(response(200, "text/plain", "ok"))
			Expect(ev.All()).To(Equal([]string{
				"invoke d1", "release d1", "invoke a1", "release a1", "invoke d2", "release d2",
			}))
		})

		It("routes a JSON parse error to fail, never to done", func() {
			done, fail := newCallback("done", ev), newCallback("fail", ev)
			req.Done(done).Fail(fail)
			Expect(req.Submit()).To(Succeed())
			completeWith(response(200, "application/json", "not json"))

			Expect(done.Invocations()).To(BeEmpty())
			Expect(done.Released()).To(Equal(1))
			Expect(fail.Invocations()).To(HaveLen(1))
			Expect(fail.Invocations()[0].Info).To(Equal("parseerror"))
			Expect(fail.Invocations()[0].Payload).To(Equal("not json"))
			Expect(fail.Invocations()[0].Code).To(Equal(200))
		})

		It("reports transport timeouts as timeout", func() {
			fail, always := newCallback("fail", ev), newCallback("always", ev)
			req.Fail(fail).Always(always)
			Expect(req.Submit()).To(Succeed())
			completeWith(ajax.Outcome{Err: timeoutError{}})

			Expect(fail.Invocations()).To(HaveLen(1))
			Expect(fail.Invocations()[0].Info).To(Equal("timeout"))
			Expect(fail.Invocations()[0].Payload).To(Equal(map[string]any{}))
			Expect(fail.Invocations()[0].Details).To(BeNil())
			Expect(always.Invocations()[0].Kind).To(Equal(ajax.KindTimeout))
		})

		It("keeps going when callbacks fail or panic", func() {
			bad := newCallback("bad", ev)
			bad.InvokeFn = func(ajax.Args) error { return errors.New("boom") }
			panicky := newCallback("panicky", ev)
			panicky.InvokeFn = func(ajax.Args) error { panic("kaboom") }
			good := newCallback("good", ev)
			req.Done(bad).Done(panicky).Done(good)
			Expect(req.Submit()).To(Succeed())

			completeWith(response(200, "text/plain", "ok"))

			Expect(good.Invocations()).To(HaveLen(1))
			Expect(bad.Released()).To(Equal(1))
			Expect(panicky.Released()).To(Equal(1))
			Expect(good.Released()).To(Equal(1))
		})

		It("ignores a second completion", func() {
			done := newCallback("done", ev)
			req.Done(done)
			Expect(req.Submit()).To(Succeed())
			completeWith(response(200, "text/plain", "ok"))
			completeWith(response(500, "text/plain", "late"))
			Expect(done.Invocations()).To(HaveLen(1))
			Expect(done.Released()).To(Equal(1))
		})

		It("releases callbacks registered after completion without invoking them", func() {
			Expect(req.Submit()).To(Succeed())
			completeWith(response(200, "text/plain", "ok"))
			late := newCallback("late", ev)
			req.Always(late)
			Expect(late.Invocations()).To(BeEmpty())
			Expect(late.Released()).To(Equal(1))
		})

		It("closes Settled after the pass", func() {
			Expect(req.Submit()).To(Succeed())
			Expect(req.Settled()).ToNot(BeClosed())
			completeWith(response(200, "text/plain", "ok"))
			Expect(req.Settled()).To(BeClosed())
		})
	})

	Describe("Abort", func() {
		var done, fail, always *mockCallback

		BeforeEach(func() {
			done, fail, always = newCallback("done", ev), newCallback("fail", ev), newCallback("always", ev)
			req.Done(done).Fail(fail).Always(always)
		})

		It("notifies non-done callbacks and releases everything", func() {
			Expect(req.Submit()).To(Succeed())
			Expect(req.Abort()).To(BeTrue())

			Expect(done.Invocations()).To(BeEmpty())
			Expect(done.Released()).To(Equal(1))
			for _, cb := range []*mockCallback{fail, always} {
				Expect(cb.Invocations()).To(HaveLen(1))
				Expect(cb.Invocations()[0].Info).To(Equal("abort"))
				Expect(cb.Invocations()[0].Payload).To(BeNil())
				Expect(cb.Invocations()[0].Kind).To(Equal(ajax.KindAborted))
				Expect(cb.Released()).To(Equal(1))
			}
			Expect(req.State()).To(Equal(ajax.StateAborted))
			Expect(req.Settled()).To(BeClosed())
			Expect(observer.Kinds()).To(Equal([]ajax.Kind{ajax.KindAborted}))
		})

		It("cancels the transport context", func() {
			Expect(req.Submit()).To(Succeed())
			dctx := dispatcher.Calls()[0].ctx
			Expect(dctx.Err()).ToNot(HaveOccurred())
			req.Abort()
			Expect(dctx.Err()).To(MatchError(context.Canceled))
		})

		It("suppresses a later completion", func() {
			Expect(req.Submit()).To(Succeed())
			req.Abort()
			completeWith(response(200, "application/json", `{"a":1}`))
			Expect(done.Invocations()).To(BeEmpty())
			Expect(fail.Invocations()).To(HaveLen(1))
			Expect(always.Invocations()).To(HaveLen(1))
			Expect(req.State()).To(Equal(ajax.StateAborted))
		})

		It("is idempotent", func() {
			Expect(req.Abort()).To(BeTrue())
			Expect(req.Abort()).To(BeTrue())
			Expect(fail.Invocations()).To(HaveLen(1))
			Expect(fail.Released()).To(Equal(1))
		})

		It("does nothing on a completed request", func() {
			Expect(req.Submit()).To(Succeed())
			completeWith(response(200, "text/plain", "ok"))
			Expect(req.Abort()).To(BeTrue())
			Expect(fail.Invocations()).To(BeEmpty())
			Expect(done.Invocations()).To(HaveLen(1))
			Expect(req.State()).To(Equal(ajax.StateCompleted))
		})

		It("delivers exactly one pass when racing with completion", func() {
			for range 50 {
				a := newCallback("always", &events{})
				d := &mockDispatcher{}
				d.DispatchFn = func(_ context.Context, _ ajax.Call, complete func(ajax.Outcome)) error {
					go complete(response(200, "text/plain", "ok"))
					return nil
				}
				c, err := ajax.NewClient(d)
				Expect(err).ToNot(HaveOccurred())
				r, err := c.NewRequest(ctx, ajax.Options{URL: "http://example.com"})
				Expect(err).ToNot(HaveOccurred())
				r.Always(a)
				Expect(r.Submit()).To(Succeed())
				go r.Abort()
				Eventually(r.Settled()).Should(BeClosed())
				Expect(a.Invocations()).To(HaveLen(1))
				Expect(a.Released()).To(Equal(1))
			}
		})
	})
})
