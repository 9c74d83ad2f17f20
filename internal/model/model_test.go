package model

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marksync/internal/bus"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/gateway"
	"github.com/roach88/marksync/internal/notify"
	"github.com/roach88/marksync/internal/store"
)

type testEnv struct {
	store  *store.Memory
	remote *gateway.Memory
	bus    *bus.Bus
	notes  *notify.Channel
	events []bus.Event
	deps   Deps
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  store.NewMemory(),
		remote: gateway.NewMemory(),
		bus:    bus.New(bus.WithIDGenerator(entity.NewFixedGenerator().WithPrefix("ev"))),
		notes:  notify.NewChannel(16),
	}
	env.bus.Subscribe(nil, func(ev bus.Event) { env.events = append(env.events, ev) })
	env.deps = Deps{
		Store:    env.store,
		Gateway:  env.remote,
		Bus:      env.bus,
		Notifier: env.notes,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		IDs:      entity.NewFixedGenerator().WithPrefix("gen"),
		Executor: Inline,
		Origin:   "test-client",
	}
	return env
}

func (e *testEnv) links(t *testing.T, category string) *Links {
	t.Helper()
	m := NewLinks(e.deps, category)
	t.Cleanup(func() { m.Close() })
	return m
}

func mkLink(id, category string) entity.Link {
	return entity.Link{
		Meta:       entity.Meta{ID: id},
		CategoryID: category,
		URL:        "https://example.com/" + id,
		Title:      id,
	}
}

func storedKeys(t *testing.T, s store.Store, ns store.Namespace) []string {
	t.Helper()
	keys, err := s.Keys(context.Background(), ns)
	require.NoError(t, err)
	return keys
}

func TestModel_BootEmptyIsReady(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")

	assert.Equal(t, StatusBooting, m.Snapshot().Status)

	require.NoError(t, m.Boot(context.Background()))
	snap := m.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	assert.NotNil(t, snap.Data)
	assert.Empty(t, snap.Data)
}

func TestModel_BootEmptyStoreWithFailingRemoteIsReady(t *testing.T) {
	env := setupEnv(t)
	env.remote.FailFetch(entity.KindLinks, http.StatusServiceUnavailable)
	m := env.links(t, "c1")

	var statuses []Status
	m.Subscribe(func(s Snapshot[entity.Link]) { statuses = append(statuses, s.Status) })
	m.Start()

	snap := m.Snapshot()
	assert.Equal(t, StatusStale, snap.Status)
	assert.Empty(t, snap.Data)
	assert.NotContains(t, statuses, StatusError)
	assert.Equal(t, []Status{StatusBooting, StatusReady, StatusStale}, statuses)
}

func TestModel_BootReadsCachedRecords(t *testing.T) {
	env := setupEnv(t)
	ns := store.NamespaceFor(entity.KindLinks, "c1")
	for _, id := range []string{"l2", "l1"} {
		data, err := json.Marshal(mkLink(id, "c1"))
		require.NoError(t, err)
		require.NoError(t, env.store.Set(context.Background(), ns, id, data))
	}
	require.NoError(t, env.store.Set(context.Background(), ns, "broken", []byte("{")))

	m := env.links(t, "c1")
	require.NoError(t, m.Boot(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	require.Len(t, snap.Data, 2)
	assert.Equal(t, "l1", snap.Data[0].ID)
	assert.Equal(t, "l2", snap.Data[1].ID)
}

func TestModel_BootRunsOnce(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")
	require.NoError(t, m.Boot(context.Background()))

	data, err := json.Marshal(mkLink("late", "c1"))
	require.NoError(t, err)
	require.NoError(t, env.store.Set(context.Background(), m.Namespace(), "late", data))

	require.NoError(t, m.Boot(context.Background()))
	assert.Empty(t, m.Snapshot().Data)
}

func TestModel_FirstFetchPersists(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.remote.Seed(entity.KindLinks, mkLink("l1", "c1"), mkLink("x", "c2")))

	m := env.links(t, "c1")
	m.Start()
	m.Wait()

	snap := m.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	require.Len(t, snap.Data, 1)
	assert.Equal(t, "l1", snap.Data[0].ID)
	assert.False(t, snap.Data[0].IsDeleted)
	assert.Equal(t, []string{"l1"}, storedKeys(t, env.store, m.Namespace()))
}

func TestModel_RefreshReplacesCache(t *testing.T) {
	env := setupEnv(t)
	ns := store.NamespaceFor(entity.KindLinks, "c1")
	data, err := json.Marshal(mkLink("gone", "c1"))
	require.NoError(t, err)
	require.NoError(t, env.store.Set(context.Background(), ns, "gone", data))
	require.NoError(t, env.remote.Seed(entity.KindLinks, mkLink("l1", "c1")))

	m := env.links(t, "c1")
	m.Start()

	assert.Equal(t, []string{"l1"}, storedKeys(t, env.store, ns))
	require.Len(t, m.Snapshot().Data, 1)
}

func TestModel_RefreshFailureMarksStaleAndKeepsData(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.remote.Seed(entity.KindLinks, mkLink("l1", "c1")))
	m := env.links(t, "c1")
	m.Start()
	before := m.Snapshot()

	env.remote.FailFetch(entity.KindLinks, http.StatusInternalServerError)
	err := m.Refresh(context.Background())
	require.Error(t, err)

	after := m.Snapshot()
	assert.Equal(t, StatusStale, after.Status)
	assert.Equal(t, before.Data, after.Data)

	env.remote.FailFetch(entity.KindLinks, 0)
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, StatusReady, m.Snapshot().Status)
}

type scriptedGateway struct {
	*gateway.Memory
	fetch  func(ctx context.Context, kind entity.Kind, scope string) (gateway.Response, error, bool)
	mutate func(ctx context.Context, kind entity.Kind, op entity.Op, payload any) (gateway.Response, error, bool)
}

func (g *scriptedGateway) FetchAll(ctx context.Context, kind entity.Kind, scope string) (gateway.Response, error) {
	if g.fetch != nil {
		if resp, err, ok := g.fetch(ctx, kind, scope); ok {
			return resp, err
		}
	}
	return g.Memory.FetchAll(ctx, kind, scope)
}

func (g *scriptedGateway) Mutate(ctx context.Context, kind entity.Kind, op entity.Op, payload any) (gateway.Response, error) {
	if g.mutate != nil {
		if resp, err, ok := g.mutate(ctx, kind, op, payload); ok {
			return resp, err
		}
	}
	return g.Memory.Mutate(ctx, kind, op, payload)
}

func TestModel_UndecodableBodyIsError(t *testing.T) {
	env := setupEnv(t)
	gw := &scriptedGateway{Memory: env.remote}
	gw.fetch = func(context.Context, entity.Kind, string) (gateway.Response, error, bool) {
		return gateway.Response{Status: http.StatusOK, Data: []byte("<html>")}, nil, true
	}
	env.deps.Gateway = gw

	m := env.links(t, "c1")
	m.Start()
	assert.Equal(t, StatusError, m.Snapshot().Status)

	gw.fetch = nil
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, StatusReady, m.Snapshot().Status)
}

func TestModel_RefreshFencing(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.remote.Seed(entity.KindLinks, mkLink("l1", "c1")))

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	gw := &scriptedGateway{Memory: env.remote}
	gw.fetch = func(ctx context.Context, kind entity.Kind, scope string) (gateway.Response, error, bool) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n != 1 {
			return gateway.Response{}, nil, false
		}
		// The first fetch answers with an old, empty list after the second.
		close(started)
		<-release
		return gateway.Response{Status: http.StatusOK, Data: []byte(`[]`)}, nil, true
	}
	env.deps.Gateway = gw

	m := env.links(t, "c1")
	require.NoError(t, m.Boot(context.Background()))

	done := make(chan error, 1)
	go func() { done <- m.Refresh(context.Background()) }()
	<-started

	require.NoError(t, m.Refresh(context.Background()))
	require.Len(t, m.Snapshot().Data, 1)

	close(release)
	require.NoError(t, <-done)

	snap := m.Snapshot()
	require.Len(t, snap.Data, 1, "older response must not overwrite a newer one")
	assert.Equal(t, "l1", snap.Data[0].ID)
}

func TestModel_OptimisticVisibility(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")
	m.Start()

	seen := make(chan Snapshot[entity.Link], 16)
	m.Subscribe(func(s Snapshot[entity.Link]) { seen <- s })
	<-seen // initial

	release := env.remote.Block(entity.KindLinks)
	done := make(chan error, 1)
	go func() { done <- m.Add(context.Background(), mkLink("l9", "c1")) }()

	select {
	case snap := <-seen:
		_, ok := FindByID(snap.Data, "l9")
		assert.True(t, ok, "created record must be visible before the remote answers")
	case <-time.After(time.Second):
		t.Fatal("no optimistic emission")
	}
	select {
	case <-done:
		t.Fatal("mutation resolved while the remote was blocked")
	default:
	}
	assert.Equal(t, 1, m.Pending())

	release()
	require.NoError(t, <-done)
	assert.Equal(t, 0, m.Pending())
	_, ok := FindByID(m.Snapshot().Data, "l9")
	assert.True(t, ok)
}

func TestModel_RollbackRestoresSnapshot(t *testing.T) {
	cases := []struct {
		name string
		run  func(m *Links) error
	}{
		{"create", func(m *Links) error { return m.Add(context.Background(), mkLink("new", "c1")) }},
		{"update", func(m *Links) error {
			l := mkLink("l1", "c1")
			l.Title = "renamed"
			return m.Update(context.Background(), l)
		}},
		{"delete", func(m *Links) error { return m.Delete(context.Background(), mkLink("l1", "c1")) }},
		{"delete_many", func(m *Links) error {
			return m.DeleteMany(context.Background(), mkLink("l1", "c1"), mkLink("l2", "c1"))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupEnv(t)
			require.NoError(t, env.remote.Seed(entity.KindLinks, mkLink("l1", "c1"), mkLink("l2", "c1")))
			m := env.links(t, "c1")
			m.Start()
			before := m.Snapshot()
			keysBefore := storedKeys(t, env.store, m.Namespace())
			env.events = nil

			env.remote.FailMutate(entity.KindLinks, http.StatusInternalServerError)
			err := tc.run(m)
			require.Error(t, err)
			assert.True(t, IsRejected(err))

			after := m.Snapshot()
			assert.Equal(t, before.Status, after.Status)
			assert.Equal(t, before.Data, after.Data)
			assert.Greater(t, after.Version, before.Version)
			assert.Equal(t, keysBefore, storedKeys(t, env.store, m.Namespace()))
			assert.Empty(t, env.events, "failed mutation must not dispatch")
		})
	}
}

func TestModel_FailedDeleteKeepsRecordAndNotifies(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.remote.Seed(entity.KindLinks, mkLink("l1", "c1")))
	m := env.links(t, "c1")
	m.Start()
	env.events = nil

	var optimistic []bool
	m.Subscribe(func(s Snapshot[entity.Link]) {
		if l, ok := FindByID(s.Data, "l1"); ok {
			optimistic = append(optimistic, l.IsDeleted)
		}
	})

	env.remote.FailMutate(entity.KindLinks, http.StatusForbidden)
	err := m.Delete(context.Background(), entity.Link{Meta: entity.Meta{ID: "l1"}})

	var merr *MutationError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, CodeRejected, merr.Code)
	assert.Equal(t, http.StatusForbidden, merr.Status)
	assert.Equal(t, []string{"l1"}, merr.IDs)

	assert.Equal(t, []bool{false, true, false}, optimistic)
	l, ok := FindByID(m.Snapshot().Data, "l1")
	require.True(t, ok)
	assert.False(t, l.IsDeleted)
	assert.Empty(t, env.events)

	select {
	case n := <-env.notes.C():
		assert.Equal(t, notify.LevelError, n.Level)
		assert.Equal(t, entity.KindLinks, n.Kind)
		assert.Equal(t, entity.OpDelete, n.Op)
		assert.ErrorAs(t, n.Err, &merr)
	default:
		t.Fatal("expected a notification")
	}
}

func TestModel_TransportFailureRollsBack(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")
	m.Start()
	before := m.Snapshot()

	release := env.remote.Block(entity.KindLinks)
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.Add(ctx, mkLink("l1", "c1"))
	assert.Equal(t, CodeTransport, CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, before.Data, m.Snapshot().Data)
}

func TestModel_SuccessPersistsAndDispatches(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")
	m.Start()
	env.events = nil
	env.remote.ResetCalls()

	require.NoError(t, m.Add(context.Background(), mkLink("l1", "c1")))

	assert.Equal(t, []string{"l1"}, storedKeys(t, env.store, m.Namespace()))
	require.Len(t, env.events, 1)
	assert.Equal(t, entity.KindLinks, env.events[0].Kind)
	assert.Equal(t, entity.OpCreate, env.events[0].Op)
	assert.Equal(t, "test-client", env.events[0].Origin)

	// The model's own event invalidates it too.
	assert.Equal(t, 1, env.remote.Fetches(entity.KindLinks, "c1"))
	assert.Equal(t, StatusReady, m.Snapshot().Status)
}

func TestModel_CreateAssignsIdentifier(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")
	m.Start()

	require.NoError(t, m.Add(context.Background(), mkLink("", "c1")))
	data := m.Snapshot().Data
	require.Len(t, data, 1)
	assert.Equal(t, "gen-1", data[0].ID)
}

func TestModel_ConflictingMutationIsRejected(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.remote.Seed(entity.KindLinks, mkLink("l1", "c1")))
	m := env.links(t, "c1")
	m.Start()

	release := env.remote.Block(entity.KindLinks)
	done := make(chan error, 1)
	renamed := mkLink("l1", "c1")
	renamed.Title = "first"
	go func() { done <- m.Update(context.Background(), renamed) }()

	require.Eventually(t, func() bool { return m.Pending() == 1 }, time.Second, time.Millisecond)
	during := m.Snapshot()

	err := m.Delete(context.Background(), mkLink("l1", "c1"))
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, during.Data, m.Snapshot().Data, "rejected mutation must not touch the snapshot")

	release()
	require.NoError(t, <-done)
	l, ok := FindByID(m.Snapshot().Data, "l1")
	require.True(t, ok)
	assert.Equal(t, "first", l.Title)
	assert.False(t, l.IsDeleted)
}

func TestModel_RollbackKeepsOtherPendingMutations(t *testing.T) {
	env := setupEnv(t)
	releaseA := make(chan struct{})
	gw := &scriptedGateway{Memory: env.remote}
	gw.mutate = func(ctx context.Context, kind entity.Kind, op entity.Op, payload any) (gateway.Response, error, bool) {
		l := payload.(entity.Link)
		switch l.ID {
		case "a":
			<-releaseA
			return gateway.Response{}, nil, false
		case "b":
			return gateway.Response{Status: http.StatusBadRequest, StatusText: "Bad Request"}, nil, true
		}
		return gateway.Response{}, nil, false
	}
	env.deps.Gateway = gw

	m := env.links(t, "c1")
	m.Start()

	done := make(chan error, 1)
	go func() { done <- m.Add(context.Background(), mkLink("a", "c1")) }()
	require.Eventually(t, func() bool { return m.Pending() == 1 }, time.Second, time.Millisecond)

	err := m.Add(context.Background(), mkLink("b", "c1"))
	require.Error(t, err)

	data := m.Snapshot().Data
	_, hasA := FindByID(data, "a")
	_, hasB := FindByID(data, "b")
	assert.True(t, hasA, "rollback of b must keep a's pending change")
	assert.False(t, hasB)

	close(releaseA)
	require.NoError(t, <-done)
	_, hasA = FindByID(m.Snapshot().Data, "a")
	assert.True(t, hasA)
}

func TestModel_RefreshReappliesPendingMutations(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.remote.Seed(entity.KindLinks, mkLink("l1", "c1")))
	release := make(chan struct{})
	gw := &scriptedGateway{Memory: env.remote}
	gw.mutate = func(ctx context.Context, kind entity.Kind, op entity.Op, payload any) (gateway.Response, error, bool) {
		<-release
		return gateway.Response{}, nil, false
	}
	env.deps.Gateway = gw

	m := env.links(t, "c1")
	m.Start()

	done := make(chan error, 1)
	go func() { done <- m.Add(context.Background(), mkLink("l2", "c1")) }()
	require.Eventually(t, func() bool { return m.Pending() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Refresh(context.Background()))
	assert.Len(t, m.Snapshot().Data, 2, "pending create survives a refresh")
	assert.Equal(t, []string{"l1"}, storedKeys(t, env.store, m.Namespace()), "only confirmed state is persisted")

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, m.Snapshot().Data, 2)
	assert.Equal(t, []string{"l1", "l2"}, storedKeys(t, env.store, m.Namespace()))
}

func TestModel_BroadcastInvalidation(t *testing.T) {
	env := setupEnv(t)
	c1 := env.links(t, "c1")
	c2 := env.links(t, "c2")
	tabs := NewTabs(env.deps, "u1")
	t.Cleanup(func() { tabs.Close() })
	for _, start := range []func(){c1.Start, c2.Start, tabs.Start} {
		start()
	}
	env.remote.ResetCalls()

	env.bus.Dispatch(bus.Event{Kind: entity.KindLinks, Op: entity.OpCreateMany})

	assert.Equal(t, 1, env.remote.Fetches(entity.KindLinks, "c1"))
	assert.Equal(t, 1, env.remote.Fetches(entity.KindLinks, "c2"))
	assert.Equal(t, 0, env.remote.Fetches(entity.KindTabs, "u1"))
}

func TestModel_MoveLeavesSourceAndReachesTarget(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.remote.Seed(entity.KindLinks, mkLink("l1", "c1"), mkLink("l2", "c1")))
	src := env.links(t, "c1")
	dst := env.links(t, "c2")
	src.Start()
	dst.Start()
	require.Empty(t, dst.Snapshot().Data)

	l, ok := FindByID(src.Snapshot().Data, "l1")
	require.True(t, ok)
	require.NoError(t, src.Move(context.Background(), l, "c2"))

	_, ok = FindByID(src.Snapshot().Data, "l1")
	assert.False(t, ok)
	assert.Equal(t, []string{"l2"}, storedKeys(t, env.store, src.Namespace()))

	moved, ok := FindByID(dst.Snapshot().Data, "l1")
	require.True(t, ok, "target model refreshes on the bus event")
	assert.Equal(t, "c2", moved.CategoryID)
	assert.Equal(t, []string{"l1"}, storedKeys(t, env.store, dst.Namespace()))
}

func TestModel_ManyOperations(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")
	m.Start()

	require.NoError(t, m.AddMany(context.Background(), mkLink("a", "c1"), mkLink("b", "c1"), mkLink("c", "c1")))
	assert.Equal(t, 3, Count(m.Snapshot().Data))

	a := mkLink("a", "c1")
	a.Title = "A"
	b := mkLink("b", "c1")
	b.Title = "B"
	require.NoError(t, m.UpdateMany(context.Background(), a, b))
	got, _ := FindByID(m.Snapshot().Data, "b")
	assert.Equal(t, "B", got.Title)

	require.NoError(t, m.DeleteMany(context.Background(), a, b))
	data := m.Snapshot().Data
	assert.Equal(t, 1, Count(data))
	assert.Len(t, Deleted(data), 2)
}

func TestModel_InvalidMutations(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")
	m.Start()

	err := m.Mutate(context.Background(), entity.OpCreate)
	assert.Equal(t, CodeInvalid, CodeOf(err))

	err = m.Mutate(context.Background(), entity.OpCreate, mkLink("a", "c1"), mkLink("b", "c1"))
	assert.Equal(t, CodeInvalid, CodeOf(err))

	err = m.Update(context.Background(), mkLink("", "c1"))
	assert.Equal(t, CodeInvalid, CodeOf(err))

	err = m.AddMany(context.Background(), mkLink("a", "c1"), mkLink("a", "c1"))
	assert.Equal(t, CodeInvalid, CodeOf(err))

	err = m.DeleteByID(context.Background(), "missing")
	assert.Equal(t, CodeInvalid, CodeOf(err))

	assert.Empty(t, env.remote.Calls()[1:], "invalid mutations never reach the remote")
}

func TestModel_SubscribeAndCancel(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")

	var got []Status
	cancel := m.Subscribe(func(s Snapshot[entity.Link]) { got = append(got, s.Status) })
	assert.Equal(t, []Status{StatusBooting}, got)

	require.NoError(t, m.Boot(context.Background()))
	assert.Equal(t, []Status{StatusBooting, StatusReady}, got)

	cancel()
	require.NoError(t, m.Refresh(context.Background()))
	assert.Len(t, got, 2)
}

func TestModel_SubscriberMayMutate(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")
	m.Start()

	var versions []int64
	once := sync.Once{}
	m.Subscribe(func(s Snapshot[entity.Link]) {
		versions = append(versions, s.Version)
		once.Do(func() {
			require.NoError(t, m.Add(context.Background(), mkLink("l1", "c1")))
		})
	})

	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
	_, ok := FindByID(m.Snapshot().Data, "l1")
	assert.True(t, ok)
}

func TestModel_WatchCallsOnChange(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")

	calls := 0
	cancel := m.Watch(func() { calls++ })
	assert.Equal(t, 0, calls)

	require.NoError(t, m.Boot(context.Background()))
	assert.Equal(t, 1, calls)

	cancel()
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestModel_Close(t *testing.T) {
	env := setupEnv(t)
	subsBefore := env.bus.Len()
	m := NewLinks(env.deps, "c1")
	assert.Equal(t, subsBefore+1, env.bus.Len())
	m.Start()

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	assert.Equal(t, subsBefore, env.bus.Len())

	err := m.Add(context.Background(), mkLink("l1", "c1"))
	assert.Equal(t, CodeClosed, CodeOf(err))
	assert.ErrorIs(t, m.Refresh(context.Background()), ErrClosed)
}

func TestModel_RemoteIdentifierIsKept(t *testing.T) {
	env := setupEnv(t)
	gw := &scriptedGateway{Memory: env.remote}
	gw.mutate = func(ctx context.Context, kind entity.Kind, op entity.Op, payload any) (gateway.Response, error, bool) {
		l := payload.(entity.Link)
		l.Title = "normalized by server"
		data, _ := json.Marshal(l)
		return gateway.Response{Status: http.StatusOK, Data: data}, nil, true
	}
	env.deps.Gateway = gw
	env.deps.Bus = nil

	m := env.links(t, "c1")
	require.NoError(t, m.Boot(context.Background()))
	require.NoError(t, m.Add(context.Background(), mkLink("l1", "c1")))

	l, ok := FindByID(m.Snapshot().Data, "l1")
	require.True(t, ok)
	assert.Equal(t, "normalized by server", l.Title)
}

func TestModel_AckWithoutRecordsKeepsSentRecords(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"message", `{"message":"ok"}`},
		{"other record", `{"id":"zz","categoryIdentifier":"c1","title":"zz"}`},
		{"no body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)
			require.NoError(t, env.remote.Seed(entity.KindLinks, mkLink("l1", "c1")))
			gw := &scriptedGateway{Memory: env.remote}
			gw.mutate = func(ctx context.Context, kind entity.Kind, op entity.Op, payload any) (gateway.Response, error, bool) {
				resp, err := env.remote.Mutate(ctx, kind, op, payload)
				if err == nil && resp.OK() {
					resp.Data = []byte(tt.body)
				}
				return resp, err, true
			}
			env.deps.Gateway = gw
			env.deps.Bus = nil

			m := env.links(t, "c1")
			m.Start()
			ctx := context.Background()

			renamed := mkLink("l1", "c1")
			renamed.Title = "renamed"
			require.NoError(t, m.Update(ctx, renamed))
			require.NoError(t, m.Add(ctx, mkLink("l9", "c1")))

			data := m.Snapshot().Data
			l1, ok := FindByID(data, "l1")
			require.True(t, ok)
			assert.Equal(t, "renamed", l1.Title)
			_, ok = FindByID(data, "l9")
			assert.True(t, ok)
			assert.Equal(t, 0, m.Pending())

			assert.Equal(t, []string{"l1", "l9"}, storedKeys(t, env.store, m.Namespace()))
			raw, err := env.store.Get(ctx, m.Namespace(), "l1")
			require.NoError(t, err)
			var stored entity.Link
			require.NoError(t, json.Unmarshal(raw, &stored))
			assert.Equal(t, "renamed", stored.Title)
		})
	}
}

func TestModel_CreateTakesModelScope(t *testing.T) {
	env := setupEnv(t)
	m := env.links(t, "c1")
	m.Start()

	require.NoError(t, m.Add(context.Background(), entity.Link{URL: "https://x.example", Title: "x"}))

	data := m.Snapshot().Data
	require.Len(t, data, 1)
	assert.Equal(t, "c1", data[0].CategoryID)

	records := env.remote.Records(entity.KindLinks)
	require.Len(t, records, 1)
	assert.Equal(t, "c1", records[0]["categoryIdentifier"])
}

func TestModel_IdleFollowsBackgroundWork(t *testing.T) {
	env := setupEnv(t)
	var queued []func()
	env.deps.Executor = func(fn func()) { queued = append(queued, fn) }
	m := env.links(t, "c1")

	select {
	case <-m.Idle():
	default:
		t.Fatal("new model should be idle")
	}

	m.Start()
	idle := m.Idle()
	env.bus.Dispatch(bus.Event{Kind: entity.KindLinks, Op: entity.OpUpdate, Origin: "remote"})
	require.Len(t, queued, 2)

	queued[0]()
	select {
	case <-idle:
		t.Fatal("idle before all work finished")
	default:
	}

	queued[1]()
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("not idle after all work finished")
	}
	m.Wait()
}
