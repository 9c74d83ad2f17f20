package testutil

import "sync"

// ManualExecutor queues work until Flush runs it on the caller's
// goroutine. Passing its Run method as a model executor lets a test
// observe a model while its boot or refresh is still pending.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualExecutor struct {
	mu  sync.Mutex
	fns []func()
}

// Run queues fn.
func (e *ManualExecutor) Run(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fns = append(e.fns, fn)
}

// Len returns the number of queued functions.
func (e *ManualExecutor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.fns)
}

// Flush runs queued functions in order, including ones queued while
// flushing, and returns how many ran.
func (e *ManualExecutor) Flush() int {
	n := 0
	for {
		e.mu.Lock()
		if len(e.fns) == 0 {
			e.mu.Unlock()
			return n
		}
		fn := e.fns[0]
		e.fns = e.fns[1:]
		e.mu.Unlock()

		fn()
		n++
	}
}
