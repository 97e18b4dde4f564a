package ajax

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ajaxbridge/ajaxbridge/consts"
	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/ajaxbridge/ajaxbridge/model"
	"github.com/tidwall/gjson"
)

// Kind is the result class of a finished request.
type Kind int

const (
	KindSuccess Kind = iota
	KindNetworkError
	KindTimeout
	KindParseError
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindNetworkError:
		return "network_error"
	case KindTimeout:
		return "timeout"
	case KindParseError:
		return "parse_error"
	case KindAborted:
		return "aborted"
	}
	return "unknown"
}

// Channel returns the callback channel a result of this kind is delivered on.
// Aborts notify the fail channel.
func (k Kind) Channel() Channel {
	if k == KindSuccess {
		return ChannelDone
	}
	return ChannelFail
}

// Err maps the kind to its sentinel error, nil for KindSuccess.
func (k Kind) Err() error {
	switch k {
	case KindNetworkError:
		return model.ErrNetwork
	case KindTimeout:
		return model.ErrTimeout
	case KindParseError:
		return model.ErrParse
	case KindAborted:
		return model.ErrAborted
	}
	return nil
}

// Outcome is what the transport produced for one call: either a response or an error.
type Outcome struct {
	StatusCode int
	Headers    *fetch.Headers
	Body       []byte
	Err        error
}

// Succeeded reports whether the transport returned a 2xx response.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.StatusCode >= 200 && o.StatusCode <= 299
}

type Input struct {
	Aborted bool
	Outcome Outcome
}

type Classification struct {
	Kind    Kind
	Payload any
	Info    string
	Details *ResponseDetails
	Code    int
}

// Classify turns a transport outcome into the arguments handed to callbacks.
func Classify(in Input) Classification {
	if in.Aborted {
		return Classification{Kind: KindAborted, Info: consts.InfoAbort}
	}
	out := in.Outcome
	if out.Err != nil {
		if isTimeout(out.Err) {
			return Classification{Kind: KindTimeout, Payload: map[string]any{}, Info: consts.InfoTimeout}
		}
		return Classification{Kind: KindNetworkError, Payload: map[string]any{}, Info: consts.InfoError}
	}

	details := newResponseDetails(out.StatusCode, out.Headers)
	c := Classification{Details: details, Code: out.StatusCode}
	body := string(out.Body)

	if isJSON(out.Headers) {
		if !gjson.ValidBytes(out.Body) {
			c.Kind, c.Payload, c.Info = KindParseError, body, consts.InfoParseError
			return c
		}
		c.Payload = gjson.ParseBytes(out.Body).Value()
		if out.Succeeded() {
			c.Kind = KindSuccess
		} else {
			c.Kind, c.Info = KindNetworkError, consts.InfoError
		}
		return c
	}

	if out.Succeeded() {
		c.Kind, c.Payload = KindSuccess, body
		return c
	}
	c.Kind, c.Info = KindNetworkError, consts.InfoError
	if body == "" {
		c.Payload = map[string]any{}
	} else {
		c.Payload = body
	}
	return c
}

func isJSON(h *fetch.Headers) bool {
	if h == nil {
		return false
	}
	ct, ok := h.Get(consts.HeaderContentType)
	if !ok {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), consts.JSONContentType)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, model.ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
