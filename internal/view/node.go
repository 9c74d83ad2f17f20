package view

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/marksync/internal/engine"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/model"
)

// Source is anything a node can depend on. Watch must not call fn
// synchronously.
type Source interface {
	Watch(fn func()) (cancel func())
}

type watchEntry struct {
	fn     func()
	active atomic.Bool
}

// watchList is a registration-ordered set of change callbacks.
type watchList struct {
	mu      sync.Mutex
	entries []*watchEntry
}

func (l *watchList) add(fn func()) (cancel func()) {
	e := &watchEntry{fn: fn}
	e.active.Store(true)

	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	return func() {
		e.active.Store(false)
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, other := range l.entries {
			if other == e {
				l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

func (l *watchList) notify() {
	l.mu.Lock()
	entries := append([]*watchEntry(nil), l.entries...)
	l.mu.Unlock()

	for _, e := range entries {
		if e.active.Load() {
			e.fn()
		}
	}
}

func (l *watchList) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		e.active.Store(false)
	}
	l.entries = nil
}

// Value is a settable input.
type Value[T any] struct {
	mu      sync.Mutex
	v       T
	version int64
	watch   watchList
}

// NewValue returns a Value holding v.
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{v: v}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

// Version counts Set and Update calls.
func (v *Value[T]) Version() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.version
}

// Set replaces the value and notifies watchers.
func (v *Value[T]) Set(x T) {
	v.Update(func(T) T { return x })
}

// Update replaces the value with fn(current) and notifies watchers. fn
// runs with the value locked and must not call back into v.
func (v *Value[T]) Update(fn func(T) T) {
	v.mu.Lock()
	v.v = fn(v.v)
	v.version++
	v.mu.Unlock()
	v.watch.notify()
}

// Watch calls fn after every change.
func (v *Value[T]) Watch(fn func()) (cancel func()) {
	return v.watch.add(fn)
}

// Read returns the current value and records v as a dependency.
func (v *Value[T]) Read(t *Tracker) T {
	t.Use(v)
	return v.Get()
}

// Tracker records the sources read during one compute run.
type Tracker struct {
	used  map[Source]struct{}
	track func(Source)
}

// Use records src as a dependency of the running node. The watch is
// registered before the caller reads src, so a change that lands between
// the two schedules another run.
func (t *Tracker) Use(src Source) {
	if _, ok := t.used[src]; ok {
		return
	}
	t.used[src] = struct{}{}
	t.track(src)
}

// Track records m as a dependency and returns its snapshot.
func Track[T entity.Record[T]](t *Tracker, m *model.Model[T]) model.Snapshot[T] {
	t.Use(m)
	return m.Snapshot()
}

// ComputeFunc derives a node's value from the sources it reads through t.
type ComputeFunc[T any] func(t *Tracker) (T, error)

var nodeSeq atomic.Uint64

// Node is a derived value recomputed on an engine whenever a source read
// by its last run changes.
//
// Thread-safety: all methods are safe from any goroutine. Runs are
// serialized by the engine.
type Node[T any] struct {
	eng     *engine.Engine
	key     string
	compute ComputeFunc[T]

	mu      sync.Mutex
	value   T
	version int64
	err     error
	deps    map[Source]func()
	closed  bool
	watch   watchList
}

// NewNode creates a node named name and schedules its first run.
func NewNode[T any](eng *engine.Engine, name string, compute ComputeFunc[T]) *Node[T] {
	n := &Node[T]{
		eng:     eng,
		key:     fmt.Sprintf("view/%s#%d", name, nodeSeq.Add(1)),
		compute: compute,
		deps:    make(map[Source]func()),
	}
	n.Invalidate()
	return n
}

// Key returns the engine key runs are scheduled under.
func (n *Node[T]) Key() string { return n.key }

// Invalidate schedules a run. Invalidations pending on the engine
// coalesce.
func (n *Node[T]) Invalidate() {
	if n.isClosed() {
		return
	}
	n.eng.Schedule(n.key, n.run)
}

func (n *Node[T]) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *Node[T]) run(_ context.Context) error {
	if n.isClosed() {
		return nil
	}

	t := &Tracker{used: make(map[Source]struct{}), track: n.track}
	v, err := n.compute(t)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	for src, cancel := range n.deps {
		if _, ok := t.used[src]; !ok {
			cancel()
			delete(n.deps, src)
		}
	}
	if err != nil {
		// Keep the last good value.
		n.err = err
		n.mu.Unlock()
		return fmt.Errorf("%s: %w", n.key, err)
	}
	n.value = v
	n.err = nil
	n.version++
	n.mu.Unlock()

	n.watch.notify()
	return nil
}

func (n *Node[T]) track(src Source) {
	n.mu.Lock()
	_, ok := n.deps[src]
	closed := n.closed
	n.mu.Unlock()
	if ok || closed {
		return
	}

	cancel := src.Watch(n.Invalidate)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		cancel()
		return
	}
	n.deps[src] = cancel
}

// Get returns the latest value and its version. Version 0 means the node
// has not completed a run yet.
func (n *Node[T]) Get() (T, int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value, n.version
}

// Value returns the latest value.
func (n *Node[T]) Value() T {
	v, _ := n.Get()
	return v
}

// Err returns the error of the last run, nil if it succeeded.
func (n *Node[T]) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Deps returns the number of sources the node currently watches.
func (n *Node[T]) Deps() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.deps)
}

// Watch calls fn after every successful run.
func (n *Node[T]) Watch(fn func()) (cancel func()) {
	if n.isClosed() {
		return func() {}
	}
	return n.watch.add(fn)
}

// Read returns the latest value and records n as a dependency.
func (n *Node[T]) Read(t *Tracker) T {
	t.Use(n)
	return n.Value()
}

// Subscribe calls fn with the latest value, if any, and then after every
// run. A value older than one already delivered is skipped.
func (n *Node[T]) Subscribe(fn func(T)) (cancel func()) {
	var last atomic.Int64
	deliver := func() {
		for {
			v, ver := n.Get()
			seen := last.Load()
			if ver == 0 || ver <= seen {
				return
			}
			if last.CompareAndSwap(seen, ver) {
				fn(v)
				return
			}
		}
	}
	cancel = n.Watch(deliver)
	deliver()
	return cancel
}

// Close drops every dependency and watcher. Close is idempotent.
func (n *Node[T]) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	deps := n.deps
	n.deps = nil
	n.mu.Unlock()

	for _, cancel := range deps {
		cancel()
	}
	n.watch.clear()
}
