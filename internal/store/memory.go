package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is a process-local store. Values are copied on the way in and out.
type Memory struct {
	mu     sync.RWMutex
	data   map[Namespace]map[string][]byte
	closed bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[Namespace]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, ns Namespace, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[ns][key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(v), nil
}

func (m *Memory) Set(_ context.Context, ns Namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.put(ns, key, value)
	return nil
}

func (m *Memory) put(ns Namespace, key string, value []byte) {
	bucket, ok := m.data[ns]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[ns] = bucket
	}
	bucket[key] = cloneBytes(value)
}

func (m *Memory) Delete(_ context.Context, ns Namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data[ns], key)
	return nil
}

func (m *Memory) Clear(_ context.Context, ns Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, ns)
	return nil
}

func (m *Memory) Keys(_ context.Context, ns Namespace) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(m.data[ns]))
	for k := range m.data[ns] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Apply writes the batch under a single lock acquisition, so readers never
// observe a half-applied batch.
func (m *Memory) Apply(_ context.Context, ns Namespace, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if b.Resets() {
		delete(m.data, ns)
	}
	for _, op := range b.Ops() {
		if op.Delete {
			delete(m.data[ns], op.Key)
			continue
		}
		m.put(ns, op.Key, op.Value)
	}
	return nil
}

// Namespaces returns every non-empty namespace, sorted.
func (m *Memory) Namespaces() []Namespace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Namespace, 0, len(m.data))
	for ns, bucket := range m.data {
		if len(bucket) > 0 {
			out = append(out, ns)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
