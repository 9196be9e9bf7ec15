package pipeline

import (
	"context"
	"sync"
)

// job is the unit of work dispatched to a worker.
type job[T any] struct {
	payload T
}

// workerPool is a fixed-size goroutine pool with a bounded input queue, used
// to run the 24 hour units of a local day dispatch concurrently.
type workerPool[T any] struct {
	queue   chan job[T]
	process func(ctx context.Context, t T)
	wg      sync.WaitGroup
}

// newWorkerPool creates and starts a pool with n goroutines and queue capacity cap.
func newWorkerPool[T any](ctx context.Context, n, cap int, fn func(context.Context, T)) *workerPool[T] {
	p := &workerPool[T]{
		queue:   make(chan job[T], cap),
		process: fn,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *workerPool[T]) run(ctx context.Context) {
	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, j.payload)
		case <-ctx.Done():
			return
		}
	}
}

// Submit enqueues a job without blocking (returns false if full).
func (p *workerPool[T]) Submit(t T) bool {
	select {
	case p.queue <- job[T]{payload: t}:
		return true
	default:
		return false
	}
}

// Drain closes the queue and waits for all workers to finish.
func (p *workerPool[T]) Drain() {
	close(p.queue)
	p.wg.Wait()
}
