package scripting

import (
	"context"
	"sync"
)

// eventLoop serialises work onto the goroutine that owns the JS runtime.
// enqueue may be called from any goroutine.
type eventLoop struct {
	mu     sync.Mutex
	queue  []func()
	wakeup chan struct{}
}

func newEventLoop() *eventLoop {
	return &eventLoop{wakeup: make(chan struct{}, 1)}
}

func (l *eventLoop) enqueue(job func()) {
	l.mu.Lock()
	l.queue = append(l.queue, job)
	l.mu.Unlock()
	select {
	case l.wakeup <- struct{}{}:
	default:
	}
}

func (l *eventLoop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	jobs := l.queue
	l.queue = nil
	return jobs
}

// run executes queued jobs until the queue is empty and idle reports true.
// When ctx ends, onCancel is called once and the loop keeps draining.
func (l *eventLoop) run(ctx context.Context, idle func() bool, onCancel func()) {
	done := ctx.Done()
	for {
		jobs := l.take()
		for _, job := range jobs {
			job()
		}
		if len(jobs) > 0 {
			continue
		}
		if idle() {
			return
		}
		select {
		case <-l.wakeup:
		case <-done:
			done = nil
			onCancel()
		}
	}
}
