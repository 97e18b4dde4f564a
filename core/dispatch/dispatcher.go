package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ajaxbridge/ajaxbridge/conf"
	"github.com/ajaxbridge/ajaxbridge/consts"
	"github.com/ajaxbridge/ajaxbridge/core/ajax"
	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/ajaxbridge/ajaxbridge/core/metrics"
	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/ajaxbridge/ajaxbridge/model"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"
)

type Options struct {
	Workers           int
	QueueSize         int
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Cache             Cache
	Metrics           metrics.Metrics
}

// Dispatcher executes ajax calls on a worker pool, going through the response
// cache and the rate limiter before reaching the HTTP client.
type Dispatcher struct {
	pool    *Pool
	client  *http.Client
	cache   Cache
	limiter *rate.Limiter
	metrics metrics.Metrics
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		pool:    NewPool(opts.Workers, opts.QueueSize),
		client:  opts.HTTPClient,
		cache:   opts.Cache,
		metrics: opts.Metrics,
	}
	if d.client == nil {
		d.client = http.DefaultClient
	}
	if d.cache == nil {
		d.cache = noCache{}
	}
	if d.metrics == nil {
		d.metrics = metrics.NewNoopInstance()
	}
	if opts.RequestsPerSecond > 0 {
		burst := max(opts.Burst, 1)
		d.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return d
}

// NewFromConfig creates a Dispatcher using the Dispatch and Cache configuration.
func NewFromConfig(client *http.Client, m metrics.Metrics) (*Dispatcher, error) {
	cache, err := NewCache(conf.Server.Cache.Backend, conf.Server.Cache.TTL, conf.Server.Cache.Capacity, conf.Server.Cache.Folder)
	if err != nil {
		return nil, err
	}
	log.Debug("Creating dispatcher", "workers", conf.Server.Dispatch.Workers, "queueSize", conf.Server.Dispatch.QueueSize,
		"cache", conf.Server.Cache.Backend, "requestsPerSecond", conf.Server.Dispatch.RequestsPerSecond)
	return New(Options{
		Workers:           conf.Server.Dispatch.Workers,
		QueueSize:         conf.Server.Dispatch.QueueSize,
		RequestsPerSecond: conf.Server.Dispatch.RequestsPerSecond,
		Burst:             conf.Server.Dispatch.Burst,
		HTTPClient:        client,
		Cache:             cache,
		Metrics:           m,
	}), nil
}

// Dispatch queues the call and returns. complete is called from a worker.
func (d *Dispatcher) Dispatch(ctx context.Context, call ajax.Call, complete func(ajax.Outcome)) error {
	err := d.pool.Submit(func() {
		d.metrics.QueueDepth(d.pool.Len())
		complete(d.execute(ctx, call))
	})
	if err != nil {
		d.metrics.SubmissionRejected()
		return err
	}
	d.metrics.QueueDepth(d.pool.Len())
	return nil
}

// Close stops accepting calls, waits for queued ones to finish and closes the cache.
func (d *Dispatcher) Close() error {
	var errs *multierror.Error
	if err := d.pool.Stop(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("stopping pool: %w", err))
	}
	if err := d.cache.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("closing cache: %w", err))
	}
	return errs.ErrorOrNil()
}

func (d *Dispatcher) execute(ctx context.Context, call ajax.Call) ajax.Outcome {
	if out, ok := d.lookup(ctx, call); ok {
		log.Trace(ctx, "Serving response from cache", "url", call.URL)
		d.metrics.RequestCompleted(metrics.ResultCacheHit, 0)
		return out
	}

	timeout := call.Timeout
	if timeout <= 0 {
		timeout = consts.DefaultConnectionTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(callCtx); err != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("%w: rate limiter: %w", model.ErrTimeout, err)
			}
			d.metrics.RequestCompleted(resultOf(err), 0)
			return ajax.Outcome{Err: err}
		}
	}

	start := time.Now()
	out := d.roundTrip(callCtx, call)
	elapsed := time.Since(start)
	d.metrics.RequestCompleted(resultOf(out.Err), elapsed)
	if out.Err != nil {
		log.Debug(ctx, "Transport error", "method", call.Method, "url", call.URL, "elapsed", elapsed, out.Err)
		return out
	}
	log.Trace(ctx, "Transport finished", "method", call.Method, "url", call.URL, "status", out.StatusCode, "elapsed", elapsed)
	d.store(ctx, call, out)
	return out
}

func (d *Dispatcher) roundTrip(ctx context.Context, call ajax.Call) ajax.Outcome {
	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return ajax.Outcome{Err: fmt.Errorf("%w: building request: %w", model.ErrNetwork, err)}
	}
	if call.Headers != nil {
		call.Headers.ApplyTo(req.Header)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return ajax.Outcome{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ajax.Outcome{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
	}
	return ajax.Outcome{
		StatusCode: resp.StatusCode,
		Headers:    fetch.FromWire(resp.Header),
		Body:       data,
	}
}

func (d *Dispatcher) lookup(ctx context.Context, call ajax.Call) (ajax.Outcome, bool) {
	if call.Method != http.MethodGet || hasDirective(call.Headers, "no-cache", "no-store") {
		return ajax.Outcome{}, false
	}
	e, ok := d.cache.Get(ctx, cacheKey(call))
	if !ok {
		return ajax.Outcome{}, false
	}
	return ajax.Outcome{StatusCode: e.StatusCode, Headers: fetch.FromWire(e.Header), Body: e.Body}, true
}

func (d *Dispatcher) store(ctx context.Context, call ajax.Call, out ajax.Outcome) {
	if call.Method != http.MethodGet || !out.Succeeded() {
		return
	}
	if hasDirective(call.Headers, "no-store") || hasDirective(out.Headers, "no-store") {
		return
	}
	d.cache.Set(ctx, cacheKey(call), &Entry{
		StatusCode: out.StatusCode,
		Header:     out.Headers.Wire(),
		Body:       out.Body,
	})
}

func cacheKey(call ajax.Call) string {
	return call.Method + " " + call.URL
}

// hasDirective reports whether the Cache-Control header lists any of directives.
func hasDirective(h *fetch.Headers, directives ...string) bool {
	if h == nil {
		return false
	}
	v, ok := h.Get(consts.HeaderCacheControl)
	if !ok {
		return false
	}
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		for _, d := range directives {
			if part == d {
				return true
			}
		}
	}
	return false
}

func resultOf(err error) string {
	if err == nil {
		return metrics.ResultOK
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, model.ErrTimeout) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return metrics.ResultTimeout
	}
	return metrics.ResultError
}
