package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WorkerPool runs work off the request goroutines, at most size tasks at a
// time. The engine keeps one pool for renders and one for extractions.
type WorkerPool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewWorkerPool creates a pool with size slots
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{sem: semaphore.NewWeighted(int64(size))}
}

// Go queues fn and returns a channel closed once fn has returned. When ctx
// ends before a slot frees up, fn never runs and onSkip is called instead.
func (w *WorkerPool) Go(ctx context.Context, fn func(), onSkip func(error)) <-chan struct{} {
	done := make(chan struct{})
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(done)
		if err := w.sem.Acquire(ctx, 1); err != nil {
			if onSkip != nil {
				onSkip(err)
			}
			return
		}
		defer w.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				Logger.Error("Panic recovered in worker", "panic", r)
			}
		}()
		fn()
	}()
	return done
}

// Wait blocks until every queued task has finished
func (w *WorkerPool) Wait() {
	w.wg.Wait()
}
