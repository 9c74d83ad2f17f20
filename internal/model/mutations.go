package model

import (
	"context"
	"fmt"

	"github.com/roach88/marksync/internal/entity"
)

// Add creates r.
func (m *Model[T]) Add(ctx context.Context, r T) error {
	return m.Mutate(ctx, entity.OpCreate, r)
}

// Update replaces the record with r's identifier.
func (m *Model[T]) Update(ctx context.Context, r T) error {
	return m.Mutate(ctx, entity.OpUpdate, r)
}

// Delete soft-deletes the record with r's identifier.
func (m *Model[T]) Delete(ctx context.Context, r T) error {
	return m.Mutate(ctx, entity.OpDelete, r)
}

// DeleteByID soft-deletes the visible record with identifier id.
func (m *Model[T]) DeleteByID(ctx context.Context, id string) error {
	r, ok := FindByID(m.Snapshot().Data, id)
	if !ok {
		return &MutationError{Code: CodeInvalid, Kind: m.kind, Op: entity.OpDelete, IDs: []string{id},
			Err: fmt.Errorf("record %q not found", id)}
	}
	return m.Delete(ctx, r)
}

// Move re-parents r under scope. The record leaves this model's snapshot
// immediately; the model owning scope picks it up on its next refresh.
func (m *Model[T]) Move(ctx context.Context, r T, scope string) error {
	return m.Mutate(ctx, entity.OpUpdate, r.WithScopeKey(scope))
}

// AddMany creates every record in one remote call.
func (m *Model[T]) AddMany(ctx context.Context, rs ...T) error {
	return m.Mutate(ctx, entity.OpCreateMany, rs...)
}

// UpdateMany replaces every record in one remote call.
func (m *Model[T]) UpdateMany(ctx context.Context, rs ...T) error {
	return m.Mutate(ctx, entity.OpUpdateMany, rs...)
}

// DeleteMany soft-deletes every record in one remote call.
func (m *Model[T]) DeleteMany(ctx context.Context, rs ...T) error {
	return m.Mutate(ctx, entity.OpDeleteMany, rs...)
}
