package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithInline makes Schedule drain the queue on the calling goroutine.
func WithInline() Option {
	return func(e *Engine) { e.inline = true }
}

// Engine is the single-writer job scheduler.
//
// Thread-safety model:
//   - Schedule(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Drain(): safe from any goroutine; jobs never run concurrently
type Engine struct {
	queue  *jobQueue
	logger *slog.Logger
	inline bool

	// exec serializes job execution between Run, Drain and inline mode.
	exec     sync.Mutex
	draining atomic.Bool

	processed atomic.Int64
	failed    atomic.Int64
}

// New creates an idle engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		queue:  newJobQueue(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schedule submits fn under key. Pending jobs with the same non-empty key
// coalesce. Returns false if the engine has been stopped.
func (e *Engine) Schedule(key string, fn Func) bool {
	ok, _ := e.queue.Enqueue(Job{Key: key, Fn: fn})
	if !ok {
		return false
	}
	if e.inline {
		e.drainInline(context.Background())
	}
	return true
}

// drainInline runs queued jobs unless another inline drain is active. The
// re-check after releasing the flag picks up jobs queued by a goroutine
// that lost the race.
func (e *Engine) drainInline(ctx context.Context) {
	for {
		if !e.draining.CompareAndSwap(false, true) {
			return
		}
		e.runQueued(ctx)
		e.draining.Store(false)
		if e.queue.Len() == 0 {
			return
		}
	}
}

// Run starts the job loop. Blocks until ctx is cancelled or Stop is
// called; jobs already queued at Stop still run.
//
// Must be called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		if job, ok := e.queue.TryDequeue(); ok {
			e.runJob(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue, so this fires
			// immediately once stopped.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain runs every queued job on the caller's goroutine, including jobs
// queued while draining, and returns how many ran. Returns ErrStopped if
// the engine is stopped and nothing is left to run.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	if e.queue.Closed() && e.queue.Len() == 0 {
		return 0, ErrStopped
	}
	return e.runQueued(ctx), ctx.Err()
}

func (e *Engine) runQueued(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		job, ok := e.queue.TryDequeue()
		if !ok {
			break
		}
		e.runJob(ctx, job)
		n++
	}
	return n
}

func (e *Engine) runJob(ctx context.Context, job Job) {
	e.exec.Lock()
	defer e.exec.Unlock()

	e.processed.Add(1)
	if err := job.Fn(ctx); err != nil {
		// Log and continue: the next upstream change reschedules the node.
		e.failed.Add(1)
		e.logger.Error("job failed", "key", job.Key, "error", err)
	}
}

// Stop closes the queue. Run returns once the remaining jobs have run.
func (e *Engine) Stop() {
	e.queue.Close()
}

// QueueLen returns the number of pending jobs.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Processed returns how many jobs have run.
func (e *Engine) Processed() int64 {
	return e.processed.Load()
}

// Failed returns how many jobs returned an error.
func (e *Engine) Failed() int64 {
	return e.failed.Load()
}
