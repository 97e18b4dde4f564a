package ajax

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/ajaxbridge/ajaxbridge/model"
)

type State int32

const (
	StateBuilding State = iota
	StateSubmitted
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateSubmitted:
		return "submitted"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Request is one deferred HTTP call and its observers. Callbacks are
// registered with Done, Fail and Always, the call is started with Submit and
// its result is delivered asynchronously, exactly once.
type Request struct {
	ctx     context.Context
	id      string
	client  *Client
	url     string
	method  string
	headers *fetch.Headers
	body    []byte
	timeout time.Duration

	mu        sync.Mutex
	state     State
	submitted bool
	closed    bool
	subs      []subscription
	cancel    context.CancelFunc

	aborted    atomic.Bool
	delivered  atomic.Bool
	settled    chan struct{}
	settleOnce sync.Once
}

func (r *Request) ID() string     { return r.id }
func (r *Request) URL() string    { return r.url }
func (r *Request) Method() string { return r.method }

// Headers returns a copy of the request specific headers, without defaults.
func (r *Request) Headers() *fetch.Headers {
	return r.headers.Clone()
}

func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Request) Done(cb Callback) *Request {
	return r.register(ChannelDone, cb)
}

func (r *Request) Fail(cb Callback) *Request {
	return r.register(ChannelFail, cb)
}

func (r *Request) Always(cb Callback) *Request {
	return r.register(ChannelAlways, cb)
}

func (r *Request) register(ch Channel, cb Callback) *Request {
	if cb == nil {
		return r
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Debug(r.ctx, "Callback registered on a finished request, releasing it", "callback", ch)
		_ = release(cb)
		return r
	}
	r.subs = append(r.subs, subscription{channel: ch, callback: cb})
	r.mu.Unlock()
	return r
}

// Settled is closed once the request reached a terminal state and its
// callbacks have all been invoked and released.
func (r *Request) Settled() <-chan struct{} {
	return r.settled
}

// Submit hands the request to the dispatcher and returns without waiting for
// the response. Transport errors, including a dispatcher that refuses the call,
// are reported through the fail and always callbacks.
func (r *Request) Submit() error {
	r.mu.Lock()
	if r.submitted {
		r.mu.Unlock()
		return model.ErrAlreadySubmitted
	}
	r.submitted = true
	if r.aborted.Load() {
		r.mu.Unlock()
		log.Debug(r.ctx, "Request aborted before submit, nothing to dispatch")
		return nil
	}
	r.state = StateSubmitted
	ctx, cancel := context.WithCancel(r.ctx)
	r.cancel = cancel
	r.mu.Unlock()

	call := Call{
		ID:      r.id,
		URL:     r.url,
		Method:  r.method,
		Headers: r.client.effectiveHeaders(r.headers),
		Body:    r.body,
		Timeout: r.timeout,
	}
	log.Trace(r.ctx, "Submitting request", "method", r.method, "url", r.url, "timeout", r.timeout)
	if err := r.client.dispatcher.Dispatch(ctx, call, r.complete); err != nil {
		log.Warn(r.ctx, "Dispatcher rejected request", "url", r.url, err)
		r.complete(Outcome{Err: fmt.Errorf("%w: %w", model.ErrNetwork, err)})
	}
	return nil
}

// Abort cancels the request. If no result was delivered yet, every fail and
// always callback is notified with the abort info and all callbacks are
// released. It always returns true.
func (r *Request) Abort() bool {
	r.aborted.Store(true)
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	subs, ok := r.take()
	if !ok {
		return true
	}
	log.Debug(r.ctx, "Request aborted", "url", r.url, "callbacks", len(subs))
	r.finish(subs, Classify(Input{Aborted: true}), StateAborted)
	return true
}

func (r *Request) complete(out Outcome) {
	if r.aborted.Load() {
		log.Trace(r.ctx, "Ignoring outcome of aborted request", "url", r.url)
		return
	}
	subs, ok := r.take()
	if !ok {
		return
	}
	c := Classify(Input{Outcome: out})
	if out.Err != nil {
		log.Debug(r.ctx, "Request failed", "url", r.url, "kind", c.Kind, out.Err)
	} else {
		log.Debug(r.ctx, "Request finished", "url", r.url, "status", out.StatusCode, "kind", c.Kind)
	}
	r.finish(subs, c, StateCompleted)
}

// take wins the delivery guard and detaches the callback list. Only the first
// caller gets ok == true.
func (r *Request) take() ([]subscription, bool) {
	if !r.delivered.CompareAndSwap(false, true) {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.subs
	r.subs = nil
	r.closed = true
	return subs, true
}

func (r *Request) finish(subs []subscription, c Classification, final State) {
	deliver(r.ctx, subs, Args(c))

	r.mu.Lock()
	r.state = final
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if r.client.observer != nil {
		r.client.observer.Classified(c.Kind)
	}
	r.settleOnce.Do(func() { close(r.settled) })
}
