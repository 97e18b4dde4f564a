package dispatch

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/ajaxbridge/ajaxbridge/model"
	"golang.org/x/sync/errgroup"
)

// Pool runs submitted jobs on a fixed number of workers, buffering at most
// queueSize jobs. It never blocks the submitter.
type Pool struct {
	queue  chan func()
	mu     sync.RWMutex
	closed bool
	group  errgroup.Group
}

func NewPool(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{queue: make(chan func(), queueSize)}
	for range workers {
		p.group.Go(p.work)
	}
	return p
}

// Submit enqueues job. It returns model.ErrPoolFull when the queue has no room
// and model.ErrPoolClosed after Stop.
func (p *Pool) Submit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return model.ErrPoolClosed
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return model.ErrPoolFull
	}
}

// Len returns the number of jobs waiting for a worker.
func (p *Pool) Len() int {
	return len(p.queue)
}

// Stop refuses new jobs, lets the workers drain the queue and waits for them.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	return p.group.Wait()
}

func (p *Pool) work() error {
	for job := range p.queue {
		p.run(job)
	}
	return nil
}

func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(context.Background(), "Recovered from panic in dispatch job", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	job()
}
