package engine

import (
	"context"
	"sync"
)

// Func is a unit of scheduled work.
type Func func(ctx context.Context) error

// Job is a queued unit of work. Jobs with a non-empty Key coalesce: while a
// job is pending under a key, scheduling another one under the same key is
// a no-op.
type Job struct {
	Key string
	Fn  Func
}

// jobQueue is a thread-safe FIFO queue for jobs.
//
// The queue is unbounded so recomputations that schedule further
// recomputations never block.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type jobQueue struct {
	mu      sync.Mutex
	jobs    []Job
	pending map[string]struct{}
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:    make([]Job, 0, 64),
		pending: make(map[string]struct{}),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds j to the back of the queue. The first result is false if the
// queue is closed; the second is false if j coalesced into a pending job.
func (q *jobQueue) Enqueue(j Job) (ok, added bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, false
	}
	if j.Key != "" {
		if _, dup := q.pending[j.Key]; dup {
			return true, false
		}
		q.pending[j.Key] = struct{}{}
	}

	q.jobs = append(q.jobs, j)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true, true
}

// TryDequeue removes the front job without blocking. A job's key is
// released on dequeue, so work scheduled while it runs queues again.
func (q *jobQueue) TryDequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}

	j := q.jobs[0]

	// Nil out the slot so the closure can be collected.
	q.jobs[0] = Job{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	if j.Key != "" {
		delete(q.pending, j.Key)
	}

	return j, true
}

// Wait returns a channel that signals when jobs may be available. It is
// closed by Close.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Closed reports whether Close has been called.
func (q *jobQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more jobs will be enqueued and wakes waiters.
// Queued jobs remain available to TryDequeue.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
