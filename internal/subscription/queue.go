package subscription

import (
	"context"
	"sync"
)

// task is one queued operation and the channel its result is delivered on.
type task struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// OperationQueue runs submitted operations strictly one at a time, in the
// order they were submitted.
//
// A single drainer goroutine exists only while work is pending. An operation
// whose context is already cancelled when it reaches the head of the queue is
// skipped and reports the context error.
type OperationQueue struct {
	mu       sync.Mutex
	pending  []task
	draining bool
}

// NewOperationQueue creates an empty queue.
func NewOperationQueue() *OperationQueue {
	return &OperationQueue{}
}

// Do enqueues fn and blocks until it has run (or been skipped).
//
// If ctx is cancelled while waiting, Do returns ctx.Err() immediately; the
// operation will be skipped when its turn comes.
func (q *OperationQueue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	t := task{ctx: ctx, fn: fn, result: make(chan error, 1)}

	q.mu.Lock()
	q.pending = append(q.pending, t)
	if !q.draining {
		q.draining = true
		go q.drain()
	}
	q.mu.Unlock()

	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of operations waiting, including the running one.
func (q *OperationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *OperationQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		t := q.pending[0]
		q.mu.Unlock()

		var err error
		if err = t.ctx.Err(); err == nil {
			err = t.fn(t.ctx)
		}
		t.result <- err

		q.mu.Lock()
		q.pending[0] = task{}
		q.pending = q.pending[1:]
		q.mu.Unlock()
	}
}
