// Package registry implements the model registry: a memoizing,
// reference-counted factory that guarantees at most one live instance per
// key, so every consumer of a key shares one snapshot and one set of
// in-flight mutations.
//
// Instances whose last reference is released move to an idle LRU of
// bounded capacity and are reused if requested again; instances evicted
// from it are closed. With capacity 0 an instance is closed on its last
// release.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/metrics"
)

var (
	// ErrClosed is returned by Get after Close.
	ErrClosed = errors.New("registry: closed")

	// ErrNotHeld is returned by Release for a key with no references.
	ErrNotHeld = errors.New("registry: key not held")
)

// DefaultIdleCapacity is the idle LRU size used when none is configured.
const DefaultIdleCapacity = 32

// Closer is the constraint satisfied by registry instances.
type Closer interface {
	Close() error
}

// Starter is implemented by instances that begin work once registered.
type Starter interface {
	Start()
}

// Factory constructs the instance for key.
type Factory[M Closer] func(key string) (M, error)

// Option configures a Registry.
type Option func(*config)

type config struct {
	capacity int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	kind     entity.Kind
}

// WithIdleCapacity bounds the number of released instances kept for reuse.
func WithIdleCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics tracks open instances under kind.
func WithMetrics(m *metrics.Metrics, kind entity.Kind) Option {
	return func(c *config) {
		c.metrics = m
		c.kind = kind
	}
}

type entry[M Closer] struct {
	inst M
	refs int
}

// Registry holds one instance per key.
//
// Thread-safety: all methods are safe from any goroutine. The factory,
// Start and Close of instances run without the registry lock held.
type Registry[M Closer] struct {
	factory Factory[M]
	cfg     config

	mu       sync.Mutex
	live     map[string]*entry[M]
	idle     *lru.Cache[string, M] // nil when capacity is 0
	closed   bool
	reviving bool
	doomed   []M // evicted instances waiting to be closed
}

// New creates a registry that builds instances with factory.
func New[M Closer](factory Factory[M], opts ...Option) (*Registry[M], error) {
	cfg := config{capacity: DefaultIdleCapacity, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.capacity < 0 {
		return nil, fmt.Errorf("registry: negative idle capacity %d", cfg.capacity)
	}

	r := &Registry[M]{
		factory: factory,
		cfg:     cfg,
		live:    make(map[string]*entry[M]),
	}
	if cfg.capacity > 0 {
		idle, err := lru.NewWithEvict[string, M](cfg.capacity, r.onEvict)
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		r.idle = idle
	}
	return r, nil
}

// onEvict runs synchronously inside idle cache calls, all of which are made
// with r.mu held.
func (r *Registry[M]) onEvict(key string, inst M) {
	if r.reviving {
		return
	}
	r.cfg.logger.Debug("registry evicting idle instance", "kind", r.cfg.kind, "key", key)
	r.doomed = append(r.doomed, inst)
}

// takeDoomed returns and clears the instances to close. Caller must hold
// r.mu.
func (r *Registry[M]) takeDoomed() []M {
	out := r.doomed
	r.doomed = nil
	return out
}

func (r *Registry[M]) closeAll(insts []M) {
	for _, inst := range insts {
		if err := inst.Close(); err != nil {
			r.cfg.logger.Warn("registry close failed", "kind", r.cfg.kind, "error", err)
		}
		r.cfg.metrics.ModelClosed(r.cfg.kind)
	}
}

// Get returns the instance for key, constructing and starting it on first
// use, and takes a reference on it. Every Get must be paired with Release.
func (r *Registry[M]) Get(key string) (M, error) {
	var zero M

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return zero, ErrClosed
	}
	if inst, ok := r.acquireLocked(key); ok {
		r.mu.Unlock()
		return inst, nil
	}
	r.mu.Unlock()

	inst, err := r.factory(key)
	if err != nil {
		return zero, fmt.Errorf("registry: build %q: %w", key, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.closeAll([]M{inst})
		return zero, ErrClosed
	}
	if existing, ok := r.acquireLocked(key); ok {
		// Lost a construction race; keep the registered instance.
		r.mu.Unlock()
		r.cfg.metrics.ModelOpened(r.cfg.kind)
		r.closeAll([]M{inst})
		return existing, nil
	}
	r.live[key] = &entry[M]{inst: inst, refs: 1}
	r.mu.Unlock()

	r.cfg.metrics.ModelOpened(r.cfg.kind)
	r.cfg.logger.Info("registry opened instance", "kind", r.cfg.kind, "key", key)
	if s, ok := any(inst).(Starter); ok {
		s.Start()
	}
	return inst, nil
}

// acquireLocked takes a reference on a live or idle instance. Caller must
// hold r.mu.
func (r *Registry[M]) acquireLocked(key string) (M, bool) {
	if e, ok := r.live[key]; ok {
		e.refs++
		return e.inst, true
	}
	if r.idle != nil {
		if inst, ok := r.idle.Peek(key); ok {
			r.reviving = true
			r.idle.Remove(key)
			r.reviving = false
			r.live[key] = &entry[M]{inst: inst, refs: 1}
			return inst, true
		}
	}
	var zero M
	return zero, false
}

// Release drops one reference on key. An instance with no references left
// moves to the idle LRU, or is closed when the LRU is disabled.
func (r *Registry[M]) Release(key string) error {
	r.mu.Lock()
	e, ok := r.live[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotHeld, key)
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.live, key)
	if r.idle != nil {
		r.idle.Add(key, e.inst)
	} else {
		r.doomed = append(r.doomed, e.inst)
	}
	doomed := r.takeDoomed()
	r.mu.Unlock()

	r.closeAll(doomed)
	return nil
}

// Peek returns the live or idle instance for key without taking a
// reference or constructing one.
func (r *Registry[M]) Peek(key string) (M, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.live[key]; ok {
		return e.inst, true
	}
	if r.idle != nil {
		return r.idle.Peek(key)
	}
	var zero M
	return zero, false
}

// Each calls fn for every live and idle instance, in key order.
func (r *Registry[M]) Each(fn func(key string, inst M)) {
	r.mu.Lock()
	items := make(map[string]M, len(r.live))
	for key, e := range r.live {
		items[key] = e.inst
	}
	if r.idle != nil {
		for _, key := range r.idle.Keys() {
			if inst, ok := r.idle.Peek(key); ok {
				items[key] = inst
			}
		}
	}
	r.mu.Unlock()

	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fn(key, items[key])
	}
}

// Refs returns the reference count of key (0 for idle or absent keys).
func (r *Registry[M]) Refs(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.live[key]; ok {
		return e.refs
	}
	return 0
}

// Keys returns the keys with references, sorted.
func (r *Registry[M]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.live))
	for key := range r.live {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// IdleKeys returns the idle keys from least to most recently released.
func (r *Registry[M]) IdleKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idle == nil {
		return nil
	}
	return r.idle.Keys()
}

// Len returns the number of referenced instances.
func (r *Registry[M]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Close closes every live and idle instance. Later Get calls fail with
// ErrClosed and Release calls with ErrNotHeld.
func (r *Registry[M]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	keys := make([]string, 0, len(r.live))
	for key := range r.live {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		r.doomed = append(r.doomed, r.live[key].inst)
	}
	r.live = make(map[string]*entry[M])
	if r.idle != nil {
		r.idle.Purge()
	}
	doomed := r.takeDoomed()
	r.mu.Unlock()

	r.closeAll(doomed)
	return nil
}
