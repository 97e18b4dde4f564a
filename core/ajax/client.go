package ajax

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ajaxbridge/ajaxbridge/conf"
	"github.com/ajaxbridge/ajaxbridge/consts"
	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/ajaxbridge/ajaxbridge/model"
	"github.com/google/uuid"
)

// Call is what a Dispatcher receives: a fully resolved request.
type Call struct {
	ID      string
	URL     string
	Method  string
	Headers *fetch.Headers
	Body    []byte
	Timeout time.Duration
}

// Dispatcher executes calls asynchronously. Dispatch must not block on the
// transport; complete is called exactly once for every accepted call. A
// returned error means the call was not accepted and complete will not be
// called.
type Dispatcher interface {
	Dispatch(ctx context.Context, call Call, complete func(Outcome)) error
}

// Observer is notified of every classified result.
type Observer interface {
	Classified(kind Kind)
}

type Options struct {
	URL     string
	Method  string
	Headers *fetch.Headers
	Body    []byte
	// Timeout overrides the client's connection timeout when positive.
	Timeout time.Duration
}

// Client creates requests sharing one dispatcher, one set of default headers
// and one connection timeout.
type Client struct {
	dispatcher Dispatcher
	defaults   *fetch.Headers
	timeout    time.Duration
	observer   Observer
}

type ClientOption func(*Client)

func WithObserver(o Observer) ClientOption {
	return func(c *Client) { c.observer = o }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient builds a client using the configured default headers and
// connection timeout.
func NewClient(d Dispatcher, opts ...ClientOption) (*Client, error) {
	defaults, err := defaultHeaders(conf.Server.Ajax.DefaultHeaders)
	if err != nil {
		return nil, fmt.Errorf("loading default headers: %w", err)
	}
	c := &Client{
		dispatcher: d,
		defaults:   defaults,
		timeout:    conf.Server.Ajax.ConnectionTimeout,
	}
	if c.timeout <= 0 {
		c.timeout = consts.DefaultConnectionTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func defaultHeaders(extra map[string]string) (*fetch.Headers, error) {
	h := fetch.NewHeaders()
	for _, src := range []map[string]string{consts.DefaultHeaders, extra} {
		for _, name := range slices.Sorted(maps.Keys(src)) {
			if err := h.Set(name, src[name]); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

// DefaultHeaders returns a copy of the headers added to every request.
func (c *Client) DefaultHeaders() *fetch.Headers {
	return c.defaults.Clone()
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) effectiveHeaders(h *fetch.Headers) *fetch.Headers {
	res := c.defaults.Clone()
	if h != nil {
		res.Overlay(h)
	}
	return res
}

// NewRequest creates a request in the building state. ctx is the parent of the
// transport context and carries the logger.
func (c *Client) NewRequest(ctx context.Context, opts Options) (*Request, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("%w: empty url", model.ErrInvalidValue)
	}
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = "GET"
	}
	headers := fetch.NewHeaders()
	if opts.Headers != nil {
		headers = opts.Headers.Clone()
	}
	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	id := uuid.NewString()
	return &Request{
		ctx:     log.NewContext(ctx, "requestId", id),
		id:      id,
		client:  c,
		url:     opts.URL,
		method:  method,
		headers: headers,
		body:    opts.Body,
		timeout: timeout,
		settled: make(chan struct{}),
	}, nil
}

// Do submits a request and waits for its result. If ctx ends first the request
// is aborted and the context error is returned.
func (c *Client) Do(ctx context.Context, opts Options) (Result, error) {
	req, err := c.NewRequest(ctx, opts)
	if err != nil {
		return Result{}, err
	}
	res := Result{ID: req.ID()}
	req.Always(CallbackFunc(func(a Args) error {
		res.Kind, res.Payload, res.Info, res.Details, res.Code = a.Kind, a.Payload, a.Info, a.Details, a.Code
		return nil
	}))
	if err := req.Submit(); err != nil {
		return res, err
	}

	select {
	case <-req.Settled():
		return res, nil
	case <-ctx.Done():
		req.Abort()
		<-req.Settled()
		if res.Kind == KindAborted {
			return res, fmt.Errorf("%w: %w", model.ErrAborted, ctx.Err())
		}
		return res, nil
	}
}
