package scripting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ajaxbridge/ajaxbridge/conf/configtest"
	"github.com/ajaxbridge/ajaxbridge/core/ajax"
	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/dop251/goja"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockDispatcher answers every call asynchronously with the outcome registered
// for its URL. URLs without an outcome never complete.
type mockDispatcher struct {
	mu       sync.Mutex
	outcomes map[string]ajax.Outcome
	calls    []ajax.Call
}

func (m *mockDispatcher) Dispatch(_ context.Context, call ajax.Call, complete func(ajax.Outcome)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if out, ok := m.outcomes[call.URL]; ok {
		go complete(out)
	}
	return nil
}

func (m *mockDispatcher) Calls() []ajax.Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ajax.Call(nil), m.calls...)
}

func header(h *fetch.Headers, name string) string {
	v, ok := h.Get(name)
	ExpectWithOffset(1, ok).To(BeTrue(), "header %q not found", name)
	return v
}

func jsonResponse(status int, body string) ajax.Outcome {
	h := fetch.NewHeaders()
	_ = h.Set("Content-Type", "application/json")
	_ = h.Set("X-Request-Id", "abc")
	return ajax.Outcome{StatusCode: status, Headers: h, Body: []byte(body)}
}

var _ = Describe("Runtime", func() {
	var (
		dispatcher *mockDispatcher
		rt         *Runtime
		ctx        context.Context
	)

	global := func(name string) any {
		return rt.vm.Get(name).Export()
	}

	BeforeEach(func() {
		DeferCleanup(configtest.SetupConfig())
		ctx = context.Background()
		dispatcher = &mockDispatcher{outcomes: map[string]ajax.Outcome{
			"http://api/ok":     jsonResponse(200, `{"a":1}`),
			"http://api/broken": jsonResponse(200, `not json`),
			"http://api/gone":   jsonResponse(404, `{"error":"gone"}`),
		}}
		client, err := ajax.NewClient(dispatcher)
		Expect(err).ToNot(HaveOccurred())
		rt = New(client)
	})

	Describe("ajax", func() {
		It("delivers parsed JSON to done callbacks", func() {
			err := rt.Run(ctx, "test.js", `
				var got;
				ajax({url: "http://api/ok"}).done(function(payload, info, details, code) {
					got = [
						String(payload.a),
						String(info),
						String(details.statusCode),
						String(details.getResponseHeader("x-request-id")),
						String(details.getResponseHeader("x-missing")),
						String(code)
					].join("|");
				});
			`)
			Expect(err).ToNot(HaveOccurred())
			Expect(global("got")).To(Equal("1|null|200|abc|null|200"))
		})

		It("routes parse errors to fail", func() {
			err := rt.Run(ctx, "test.js", `
				var calls = [];
				ajax("http://api/broken")
					.done(function() { calls.push("done"); })
					.fail(function(payload, info, details, code) { calls.push(info + ":" + payload + ":" + code); })
					.always(function(payload, info) { calls.push("always:" + info); });
			`)
			Expect(err).ToNot(HaveOccurred())
			Expect(global("calls")).To(Equal([]any{"parseerror:not json:200", "always:parseerror"}))
		})

		It("routes error responses to fail with the parsed body", func() {
			err := rt.Run(ctx, "test.js", `
				var msg;
				ajax({url: "http://api/gone"}).fail(function(payload, info) { msg = info + ":" + payload.error; });
			`)
			Expect(err).ToNot(HaveOccurred())
			Expect(global("msg")).To(Equal("error:gone"))
		})

		It("fires callbacks in registration order", func() {
			err := rt.Run(ctx, "test.js", `
				var order = [];
				var req = ajax({url: "http://api/ok"});
				req.done(function() { order.push("d1"); })
				   .always(function() { order.push("a1"); })
				   .done(function() { order.push("d2"); });
				req.done(function() { order.push("d3"); });
			`)
			Expect(err).ToNot(HaveOccurred())
			Expect(global("order")).To(Equal([]any{"d1", "a1", "d2", "d3"}))
		})

		It("keeps delivering when a callback throws", func() {
			err := rt.Run(ctx, "test.js", `
				var reached = false;
				ajax({url: "http://api/ok"})
					.done(function() { throw new Error("boom"); })
					.done(function() { reached = true; });
			`)
			Expect(err).ToNot(HaveOccurred())
			Expect(global("reached")).To(BeTrue())
		})

		It("notifies fail and always callbacks on abort", func() {
			err := rt.Run(ctx, "test.js", `
				var calls = [];
				var req = ajax({url: "http://api/never"})
					.done(function() { calls.push("done"); })
					.fail(function(payload, info) { calls.push("fail:" + payload + ":" + info); })
					.always(function(payload, info) { calls.push("always:" + info); });
				var acknowledged = req.abort();
			`)
			Expect(err).ToNot(HaveOccurred())
			Expect(global("acknowledged")).To(BeTrue())
			Expect(global("calls")).To(Equal([]any{"fail:null:abort", "always:abort"}))
			Expect(dispatcher.Calls()).To(BeEmpty())
		})

		It("runs abort notifications before abort returns", func() {
			err := rt.Run(ctx, "test.js", `
				var calls = [];
				var req = ajax({url: "http://api/never"})
					.fail(function(payload, info) { calls.push("fail:" + info); })
					.always(function(payload, info) { calls.push("always:" + info); });
				req.abort();
				var seenAfterAbort = calls.length;
				var secondAbort = req.abort();
			`)
			Expect(err).ToNot(HaveOccurred())
			Expect(global("seenAfterAbort")).To(BeEquivalentTo(2))
			Expect(global("secondAbort")).To(BeTrue())
			Expect(global("calls")).To(Equal([]any{"fail:abort", "always:abort"}))
		})

		It("runs abort notifications of a submitted request before abort returns", func() {
			err := rt.Run(ctx, "test.js", `
				var calls = [];
				var seenAfterAbort = -1;
				var req = ajax({url: "http://api/never"})
					.always(function(payload, info) { calls.push("always:" + info); });
				ajax({url: "http://api/ok"}).done(function() {
					req.abort();
					seenAfterAbort = calls.length;
				});
			`)
			Expect(err).ToNot(HaveOccurred())
			Expect(global("seenAfterAbort")).To(BeEquivalentTo(1))
			Expect(dispatcher.Calls()).To(HaveLen(2))
		})

		It("accepts plain header objects", func() {
			err := rt.Run(ctx, "test.js", `
				var h = new Headers({"X-Token": "abc"});
				var token = h.get("x-token");
				ajax({url: "http://api/ok", headers: {"X-Plain": "yes"}});
			`)
			Expect(err).ToNot(HaveOccurred())
			Expect(global("token")).To(Equal("abc"))
			Expect(header(dispatcher.Calls()[0].Headers, "x-plain")).To(Equal("yes"))
		})

		It("sends method, headers and JSON data", func() {
			err := rt.Run(ctx, "test.js", `
				ajax({
					url: "http://api/ok",
					type: "post",
					headers: {"X-Count": 3, "Cache-Control": "max-age=0"},
					data: {name: "x"},
					timeout: 1500
				});
			`)
			Expect(err).ToNot(HaveOccurred())
			calls := dispatcher.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].Method).To(Equal("POST"))
			Expect(calls[0].Timeout).To(Equal(1500 * time.Millisecond))
			Expect(string(calls[0].Body)).To(Equal(`{"name":"x"}`))
			h := calls[0].Headers
			Expect(header(h, "x-count")).To(Equal("3"))
			Expect(header(h, "cache-control")).To(Equal("max-age=0"))
			Expect(header(h, "content-type")).To(Equal("application/json"))
			Expect(header(h, "accept-charset")).To(Equal("utf-8"))
		})

		It("accepts a Headers instance", func() {
			err := rt.Run(ctx, "test.js", `
				var h = new Headers();
				h.append("Accept", "text/plain");
				h.append("Accept", "text/html");
				ajax({url: "http://api/ok", headers: h});
			`)
			Expect(err).ToNot(HaveOccurred())
			Expect(header(dispatcher.Calls()[0].Headers, "accept")).To(Equal("text/plain,text/html"))
		})

		It("throws on a missing url", func() {
			err := rt.Run(ctx, "test.js", `ajax({type: "GET"});`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("TypeError"))
		})

		It("aborts in-flight requests when the context ends", func() {
			cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			err := rt.Run(cctx, "test.js", `
				var info;
				ajax({url: "http://api/never"}).fail(function(payload, i) { info = i; });
			`)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(global("info")).To(Equal("abort"))
		})
	})

	Describe("Headers", func() {
		run := func(src string) {
			ExpectWithOffset(1, rt.Run(ctx, "headers.js", src)).To(Succeed())
		}

		It("joins values like the Fetch API", func() {
			run(`
				var h = new Headers();
				h.append("X", "a");
				h.append("x", "b");
				var got = h.get("X");
				var entries = h.entries();
				var keys = h.keys();
				var values = h.values();
			`)
			Expect(global("got")).To(Equal("a,b"))
			Expect(global("entries")).To(Equal([]any{[]any{"x", "a, b"}}))
			Expect(global("keys")).To(Equal([]any{"x"}))
			Expect(global("values")).To(Equal([]any{"a,b"}))
		})

		It("supports set, delete and has", func() {
			run(`
				var h = new Headers({"Content-Type": "text/plain"});
				h.set("content-type", "application/json");
				var ct = h.get("Content-Type");
				h.delete("CONTENT-TYPE");
				var has = h.has("content-type");
				var missing = h.get("content-type");
			`)
			Expect(global("ct")).To(Equal("application/json"))
			Expect(global("has")).To(BeFalse())
			Expect(global("missing")).To(BeNil())
		})

		It("iterates entries with for...of", func() {
			run(`
				var h = new Headers();
				h.append("A", "1");
				h.append("B", "2");
				h.append("A", "3");
				var seen = [];
				for (var pair of h) { seen.push(pair[0] + "=" + pair[1]); }
			`)
			Expect(global("seen")).To(Equal([]any{"a=1, 3", "b=2"}))
		})

		It("rejects illegal values", func() {
			run(`
				var h = new Headers();
				h.set("X", "ok");
				var error;
				try { h.append("X", "bad\nvalue"); } catch (e) { error = e.name; }
				var after = h.get("X");
			`)
			Expect(global("error")).To(Equal("TypeError"))
			Expect(global("after")).To(Equal("ok"))
		})

		It("rejects non-string init values", func() {
			run(`
				var error;
				try { new Headers({"X-Count": 1}); } catch (e) { error = e.name; }
			`)
			Expect(global("error")).To(Equal("TypeError"))
		})

		It("copies another Headers instance", func() {
			run(`
				var a = new Headers({"X": "1"});
				var b = new Headers(a);
				b.set("X", "2");
				var got = a.get("X") + b.get("X");
			`)
			Expect(global("got")).To(Equal("12"))
		})
	})

	It("reports script errors", func() {
		err := rt.Run(ctx, "bad.js", `throw new Error("nope")`)
		Expect(err).To(MatchError(ContainSubstring("nope")))
		var ex *goja.Exception
		Expect(errors.As(err, &ex)).To(BeTrue())
	})
})
