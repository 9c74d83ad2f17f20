package view

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marksync/internal/bus"
	"github.com/roach88/marksync/internal/engine"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/gateway"
	"github.com/roach88/marksync/internal/model"
	"github.com/roach88/marksync/internal/registry"
	"github.com/roach88/marksync/internal/store"
	"github.com/roach88/marksync/internal/testutil"
)

func ready[T any](data ...T) model.Snapshot[T] {
	if data == nil {
		data = []T{}
	}
	return model.Snapshot[T]{Status: model.StatusReady, Data: data, Version: 1}
}

func booting[T any]() model.Snapshot[T] {
	return model.Snapshot[T]{Status: model.StatusBooting, Data: []T{}}
}

func deleted[T entity.Record[T]](r T) T { return r.WithDeleted(true) }

// scenarioC is one tab with two categories holding 2 and 3 active links.
func scenarioC() OverviewInput {
	return OverviewInput{
		UserID:   "u1",
		Settings: ready(testutil.Settings(true, false)),
		Tabs:     ready(testutil.Tab("t1", 0)),
		Categories: map[string]model.Snapshot[entity.Category]{
			"t1": ready(testutil.Category("c1", "t1", 0), testutil.Category("c2", "t1", 1)),
		},
		Links: map[string]model.Snapshot[entity.Link]{
			"c1": ready(testutil.Link("l1", "c1"), testutil.Link("l2", "c1"), deleted(testutil.Link("l3", "c1"))),
			"c2": ready(testutil.Link("l4", "c2"), testutil.Link("l5", "c2"), testutil.Link("l6", "c2")),
		},
	}
}

func countOf(t *testing.T, n *int) int {
	t.Helper()
	require.NotNil(t, n, "link count hidden")
	return *n
}

func TestComposeOverview_SumsLinkCounts(t *testing.T) {
	got := ComposeOverview(scenarioC())

	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, 5, countOf(t, got[0].LinkCount))
	require.Len(t, got[0].Categories, 2)
	assert.Equal(t, 2, countOf(t, got[0].Categories[0].LinkCount))
	assert.Equal(t, 3, countOf(t, got[0].Categories[1].LinkCount))
}

func TestComposeOverview_EmptyUntilSettingsSettle(t *testing.T) {
	in := scenarioC()
	in.Settings = booting[entity.UserSetting]()

	got := ComposeOverview(in)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestComposeOverview_EmptyWhileAnyLeafBoots(t *testing.T) {
	in := scenarioC()
	in.Links["c2"] = booting[entity.Link]()
	assert.Empty(t, ComposeOverview(in))

	in = scenarioC()
	delete(in.Categories, "t1")
	assert.Empty(t, ComposeOverview(in), "a missing leaf counts as booting")

	in = scenarioC()
	in.Tabs = booting[entity.Tab]()
	assert.Empty(t, ComposeOverview(in))
}

func TestComposeOverview_StaleLeavesStillCompose(t *testing.T) {
	in := scenarioC()
	stale := in.Links["c1"]
	stale.Status = model.StatusStale
	in.Links["c1"] = stale

	got := ComposeOverview(in)
	require.Len(t, got, 1)
	assert.Equal(t, 5, countOf(t, got[0].LinkCount))
}

func TestComposeOverview_IsIdempotent(t *testing.T) {
	in := scenarioC()
	first := ComposeOverview(in)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ComposeOverview(in))
	}
}

func TestComposeOverview_OrdersAndSkipsDeleted(t *testing.T) {
	in := scenarioC()
	in.Tabs = ready(testutil.Tab("t2", 1), deleted(testutil.Tab("t3", 0)), testutil.Tab("t1", 0))
	in.Categories["t1"] = ready(testutil.Category("c2", "t1", 1), testutil.Category("c1", "t1", 0), deleted(testutil.Category("c9", "t1", 2)))
	in.Categories["t2"] = ready[entity.Category]()

	got := ComposeOverview(in)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, "t2", got[1].ID)
	assert.Equal(t, 0, countOf(t, got[1].LinkCount))
	assert.Empty(t, got[1].Categories)

	var ids []string
	for _, c := range got[0].Categories {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"c1", "c2"}, ids)
}

func TestComposeOverview_ProjectionFlags(t *testing.T) {
	in := scenarioC()
	in.Links["c1"] = ready(testutil.Link("l1", "c1", "go", "news"), testutil.Link("l2", "c1", "go"), deleted(testutil.Link("l3", "c1", "hidden")))

	in.Settings = ready(testutil.Settings(false, false))
	got := ComposeOverview(in)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].LinkCount)
	assert.Nil(t, got[0].Categories[0].LinkCount)
	assert.Nil(t, got[0].Categories[0].Tags)

	in.Settings = ready(testutil.Settings(false, true))
	got = ComposeOverview(in)
	assert.Equal(t, []string{"go", "news"}, got[0].Categories[0].Tags)
	assert.Nil(t, got[0].Categories[1].Tags)
}

func TestComposeOverview_DefaultSettingsWhenNoneStored(t *testing.T) {
	in := scenarioC()
	in.Settings = ready[entity.UserSetting]()

	got := ComposeOverview(in)
	require.Len(t, got, 1)
	assert.Equal(t, 5, countOf(t, got[0].LinkCount), "default settings show counts")
}

type overviewEnv struct {
	remote     *gateway.Memory
	deps       model.Deps
	eng        *engine.Engine
	settingsEx *testutil.ManualExecutor
	src        OverviewSources
}

func newRegistry[M registry.Closer](t *testing.T, build func(key string) M) *registry.Registry[M] {
	t.Helper()
	r, err := registry.New[M](func(key string) (M, error) { return build(key), nil },
		registry.WithIdleCapacity(0), registry.WithLogger(testutil.Quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func setupOverview(t *testing.T) *overviewEnv {
	t.Helper()
	in := scenarioC()
	remote := gateway.NewMemory()
	require.NoError(t, remote.Seed(entity.KindSettings, testutil.Settings(true, false)))
	require.NoError(t, remote.Seed(entity.KindTabs, testutil.Tab("t1", 0)))
	for _, c := range in.Categories["t1"].Data {
		require.NoError(t, remote.Seed(entity.KindCategories, c))
	}
	for _, key := range []string{"c1", "c2"} {
		for _, l := range in.Links[key].Data {
			require.NoError(t, remote.Seed(entity.KindLinks, l))
		}
	}

	env := &overviewEnv{
		remote: remote,
		deps: model.Deps{
			Store:    store.NewMemory(),
			Gateway:  remote,
			Bus:      bus.New(bus.WithLogger(testutil.Quiet())),
			Logger:   testutil.Quiet(),
			Executor: model.Inline,
		},
		eng:        inlineEngine(),
		settingsEx: &testutil.ManualExecutor{},
	}
	env.src = OverviewSources{
		Tabs: newRegistry(t, func(key string) *model.Tabs { return model.NewTabs(env.deps, key) }),
		Settings: newRegistry(t, func(key string) *model.Settings {
			return model.NewSettings(env.deps, key, model.WithExecutor(env.settingsEx.Run))
		}),
		Categories: newRegistry(t, func(key string) *model.Categories { return model.NewCategories(env.deps, key) }),
		Links:      newRegistry(t, func(key string) *model.Links { return model.NewLinks(env.deps, key) }),
	}
	return env
}

func (e *overviewEnv) open(t *testing.T) *Overview {
	t.Helper()
	o := NewOverview(e.eng, "u1", e.src)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestOverview_EmptyUntilSettingsReady(t *testing.T) {
	env := setupOverview(t)
	o := env.open(t)

	got, version := o.Get()
	require.NoError(t, o.Err())
	assert.Equal(t, int64(1), version)
	assert.Empty(t, got)

	tabs, ok := env.src.Tabs.Peek("u1")
	require.True(t, ok)
	assert.Equal(t, model.StatusReady, tabs.Snapshot().Status, "leaf data is ready")

	env.settingsEx.Flush()

	got, _ = o.Get()
	require.Len(t, got, 1)
	assert.Equal(t, 5, countOf(t, got[0].LinkCount))
}

func TestOverview_FollowsLinkMutations(t *testing.T) {
	env := setupOverview(t)
	o := env.open(t)
	env.settingsEx.Flush()

	var counts []int
	cancel := o.Subscribe(func(tabs []TabSummary) {
		if len(tabs) > 0 && tabs[0].LinkCount != nil {
			counts = append(counts, *tabs[0].LinkCount)
		}
	})
	defer cancel()

	links, err := env.src.Links.Get("c1")
	require.NoError(t, err)
	defer env.src.Links.Release("c1")
	require.NoError(t, links.Add(context.Background(), testutil.Link("l7", "c1")))

	got, _ := o.Get()
	require.Len(t, got, 1)
	assert.Equal(t, 6, countOf(t, got[0].LinkCount))
	require.NotEmpty(t, counts)
	assert.Equal(t, 5, counts[0])
	assert.Equal(t, 6, counts[len(counts)-1])
}

func TestOverview_ReleasesModelsOfRemovedCategories(t *testing.T) {
	env := setupOverview(t)
	o := env.open(t)
	env.settingsEx.Flush()

	cats, links := o.Held()
	assert.Equal(t, 1, cats)
	assert.Equal(t, 2, links)
	assert.Equal(t, 1, env.src.Links.Refs("c2"))

	categories, err := env.src.Categories.Get("t1")
	require.NoError(t, err)
	defer env.src.Categories.Release("t1")
	require.NoError(t, categories.DeleteByID(context.Background(), "c2"))

	got, _ := o.Get()
	require.Len(t, got, 1)
	require.Len(t, got[0].Categories, 1)
	assert.Equal(t, 2, countOf(t, got[0].LinkCount))

	_, links = o.Held()
	assert.Equal(t, 1, links)
	assert.Equal(t, 0, env.src.Links.Refs("c2"))
	_, live := env.src.Links.Peek("c2")
	assert.False(t, live, "released with zero idle capacity")
}

func TestOverview_RecomputationIsIdempotent(t *testing.T) {
	env := setupOverview(t)
	o := env.open(t)
	env.settingsEx.Flush()

	first, v1 := o.Get()
	for i := 0; i < 3; i++ {
		o.Node().Invalidate()
	}
	again, v2 := o.Get()
	assert.Greater(t, v2, v1)
	assert.Equal(t, first, again)
}

func TestOverview_CloseReleasesEverything(t *testing.T) {
	env := setupOverview(t)
	o := env.open(t)
	env.settingsEx.Flush()

	require.NoError(t, o.Close())
	assert.Zero(t, env.src.Tabs.Len())
	assert.Zero(t, env.src.Settings.Len())
	assert.Zero(t, env.src.Categories.Len())
	assert.Zero(t, env.src.Links.Len())
}
