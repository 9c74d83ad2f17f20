package store

import (
	"context"
	"errors"
	"net/url"

	"github.com/roach88/marksync/internal/entity"
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Namespace identifies one collection (and optional scope) inside a store.
type Namespace string

// NamespaceFor returns the namespace used for a collection scoped to key.
// An empty scope yields the bare collection namespace.
func NamespaceFor(kind entity.Kind, scope string) Namespace {
	if scope == "" {
		return Namespace(kind)
	}
	return Namespace(string(kind) + "/" + url.PathEscape(scope))
}

// Store is the durable local store contract.
//
// Implementations must be safe for concurrent use. Keys returns keys in
// ascending byte order.
type Store interface {
	Get(ctx context.Context, ns Namespace, key string) ([]byte, error)
	Set(ctx context.Context, ns Namespace, key string, value []byte) error
	Delete(ctx context.Context, ns Namespace, key string) error
	Clear(ctx context.Context, ns Namespace) error
	Keys(ctx context.Context, ns Namespace) ([]string, error)
	Apply(ctx context.Context, ns Namespace, b *Batch) error
	Close() error
}

// BatchOp is a single keyed write inside a Batch.
type BatchOp struct {
	Key    string
	Value  []byte
	Delete bool
}

// Batch collects keyed writes against one namespace.
type Batch struct {
	reset bool
	ops   []BatchOp
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Reset clears the namespace before the batch's writes are applied.
func (b *Batch) Reset() *Batch {
	b.reset = true
	return b
}

// Put upserts key.
func (b *Batch) Put(key string, value []byte) *Batch {
	b.ops = append(b.ops, BatchOp{Key: key, Value: value})
	return b
}

// Delete removes key.
func (b *Batch) Delete(key string) *Batch {
	b.ops = append(b.ops, BatchOp{Key: key, Delete: true})
	return b
}

// Resets reports whether the batch clears its namespace first.
func (b *Batch) Resets() bool { return b.reset }

// Ops returns the batch's writes in insertion order.
func (b *Batch) Ops() []BatchOp { return b.ops }

// Len returns the number of keyed writes.
func (b *Batch) Len() int { return len(b.ops) }
