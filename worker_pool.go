package ecs

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
)

// workerPool runs system jobs on a fixed set of goroutines. Each job reports
// on the done channel supplied at submission, so the scheduler can release
// dependents as soon as one job finishes.
type workerPool struct {
	size   int
	jobs   chan jobRequest
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

type jobRequest struct {
	ctx  context.Context
	id   int
	fn   func(context.Context) error
	done chan<- jobResult
}

type jobResult struct {
	id  int
	err error
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		return nil
	}
	p := &workerPool{
		size:   size,
		jobs:   make(chan jobRequest),
		closed: make(chan struct{}),
	}
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job.done <- jobResult{id: job.id, err: runJob(job.ctx, job.fn)}
		case <-p.closed:
			return
		}
	}
}

// runJob converts a panicking job into an error so one bad system cannot take
// down a worker.
func runJob(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.New(fmt.Sprintf("panic: %v", r))
		}
	}()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// Submit queues fn. A nil pool runs fn on the calling goroutine. done must be
// buffered or drained concurrently.
func (p *workerPool) Submit(ctx context.Context, id int, fn func(context.Context) error, done chan<- jobResult) {
	if p == nil {
		done <- jobResult{id: id, err: runJob(ctx, fn)}
		return
	}
	select {
	case <-p.closed:
		done <- jobResult{id: id, err: ErrWorkerPoolClosed}
		return
	default:
	}
	if !safeSendJob(p.jobs, jobRequest{ctx: ctx, id: id, fn: fn, done: done}) {
		done <- jobResult{id: id, err: ErrWorkerPoolClosed}
	}
}

func (p *workerPool) Size() int {
	if p == nil {
		return 1
	}
	return p.size
}

func (p *workerPool) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		close(p.closed)
		close(p.jobs)
	})
	p.wg.Wait()
}

func safeSendJob(ch chan jobRequest, job jobRequest) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	ch <- job
	return true
}
