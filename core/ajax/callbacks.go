package ajax

import (
	"context"
	"fmt"

	"github.com/ajaxbridge/ajaxbridge/log"
)

// Channel selects which results a callback is registered for.
type Channel int

const (
	ChannelDone Channel = iota
	ChannelFail
	ChannelAlways
)

func (c Channel) String() string {
	switch c {
	case ChannelDone:
		return "done"
	case ChannelFail:
		return "fail"
	case ChannelAlways:
		return "always"
	}
	return "unknown"
}

// Args are the values a callback is invoked with.
type Args struct {
	Kind    Kind
	Payload any
	Info    string
	Details *ResponseDetails
	Code    int
}

// Callback is invoked at most once, and released exactly once, by the request
// it was registered on.
type Callback interface {
	Invoke(args Args) error
	Release()
}

// CallbackFunc adapts a plain function to a Callback with nothing to release.
type CallbackFunc func(args Args) error

func (f CallbackFunc) Invoke(args Args) error {
	return f(args)
}

func (f CallbackFunc) Release() {}

type subscription struct {
	channel  Channel
	callback Callback
}

func (s subscription) matches(c Channel) bool {
	return s.channel == ChannelAlways || s.channel == c
}

// deliver runs one full pass over subs: matching callbacks are invoked in
// registration order, and every callback is released.
func deliver(ctx context.Context, subs []subscription, args Args) {
	target := args.Kind.Channel()
	for _, s := range subs {
		if s.matches(target) {
			if err := invoke(s.callback, args); err != nil {
				log.Error(ctx, "Callback failed", "callback", s.channel, "kind", args.Kind, err)
			}
		}
		if err := release(s.callback); err != nil {
			log.Error(ctx, "Callback release failed", "callback", s.channel, err)
		}
	}
}

func invoke(cb Callback, args Args) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb.Invoke(args)
}

func release(cb Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("release panic: %v", r)
		}
	}()
	cb.Release()
	return nil
}
