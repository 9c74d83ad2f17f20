package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestJobQueue_FIFO(t *testing.T) {
	q := newJobQueue()
	for _, key := range []string{"a", "b", "c"} {
		ok, added := q.Enqueue(Job{Key: key, Fn: noop})
		require.True(t, ok)
		require.True(t, added)
	}

	for _, want := range []string{"a", "b", "c"} {
		j, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, j.Key)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestJobQueue_CoalescesPendingKeys(t *testing.T) {
	q := newJobQueue()
	_, added := q.Enqueue(Job{Key: "node", Fn: noop})
	assert.True(t, added)
	_, added = q.Enqueue(Job{Key: "node", Fn: noop})
	assert.False(t, added)
	assert.Equal(t, 1, q.Len())

	_, ok := q.TryDequeue()
	require.True(t, ok)

	// The key is free again once the job left the queue.
	_, added = q.Enqueue(Job{Key: "node", Fn: noop})
	assert.True(t, added)
}

func TestJobQueue_EmptyKeyNeverCoalesces(t *testing.T) {
	q := newJobQueue()
	q.Enqueue(Job{Fn: noop})
	q.Enqueue(Job{Fn: noop})
	assert.Equal(t, 2, q.Len())
}

func TestJobQueue_Close(t *testing.T) {
	q := newJobQueue()
	q.Enqueue(Job{Key: "a", Fn: noop})
	q.Close()
	q.Close()

	ok, _ := q.Enqueue(Job{Key: "b", Fn: noop})
	assert.False(t, ok, "enqueue after close should fail")
	assert.True(t, q.Closed())

	_, ok = q.TryDequeue()
	assert.True(t, ok, "jobs queued before close remain available")

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait channel should be closed")
	}
}
