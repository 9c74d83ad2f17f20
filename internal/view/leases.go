package view

import (
	"errors"
	"sync"

	"github.com/roach88/marksync/internal/registry"
)

// ErrClosed is returned by views used after Close.
var ErrClosed = errors.New("view: closed")

// leases tracks the registry references a view holds.
type leases[M registry.Closer] struct {
	reg *registry.Registry[M]

	mu     sync.Mutex
	held   map[string]M
	closed bool
}

func newLeases[M registry.Closer](reg *registry.Registry[M]) *leases[M] {
	return &leases[M]{reg: reg, held: make(map[string]M)}
}

// acquire returns the instance for key, taking a reference on first use.
func (l *leases[M]) acquire(key string) (M, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero M
	if l.closed {
		return zero, ErrClosed
	}
	if inst, ok := l.held[key]; ok {
		return inst, nil
	}
	inst, err := l.reg.Get(key)
	if err != nil {
		return zero, err
	}
	l.held[key] = inst
	return inst, nil
}

// retain releases every held key not in keep.
func (l *leases[M]) retain(keep map[string]bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.held {
		if !keep[key] {
			_ = l.reg.Release(key)
			delete(l.held, key)
		}
	}
}

func (l *leases[M]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

func (l *leases[M]) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for key := range l.held {
		_ = l.reg.Release(key)
	}
	l.held = nil
}
