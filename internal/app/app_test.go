package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marksync/internal/config"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/gateway"
	"github.com/roach88/marksync/internal/model"
	"github.com/roach88/marksync/internal/notify"
	"github.com/roach88/marksync/internal/store"
	"github.com/roach88/marksync/internal/testutil"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.UserID = "u1"
	cfg.Store.Driver = string(store.DriverMemory)
	cfg.Registry.IdleCapacity = 0
	return cfg
}

func seedRemote(t *testing.T) *gateway.Memory {
	t.Helper()
	remote := gateway.NewMemory()
	require.NoError(t, remote.Seed(entity.KindSettings, entity.DefaultUserSetting("u1")))
	require.NoError(t, remote.Seed(entity.KindTabs, entity.Tab{Meta: entity.Meta{ID: "t1"}, UserID: "u1", Title: "Home"}))
	require.NoError(t, remote.Seed(entity.KindCategories,
		entity.Category{Meta: entity.Meta{ID: "c1"}, TabID: "t1", Title: "News", Position: 0},
		entity.Category{Meta: entity.Meta{ID: "c2"}, TabID: "t1", Title: "Tools", Position: 1},
	))
	for i, id := range []string{"l1", "l2", "l3", "l4", "l5"} {
		category := "c1"
		if i >= 2 {
			category = "c2"
		}
		require.NoError(t, remote.Seed(entity.KindLinks, entity.Link{
			Meta:       entity.Meta{ID: id},
			CategoryID: category,
			URL:        "https://example.com/" + id,
			Title:      id,
		}))
	}
	return remote
}

func newClient(t *testing.T, remote *gateway.Memory, opts ...func(*Options)) *Client {
	t.Helper()
	o := Options{
		Config:   testConfig(),
		Logger:   testutil.Quiet(),
		Gateway:  remote,
		Origin:   "client-a",
		Executor: model.Inline,
		Inline:   true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	c, err := New(context.Background(), o)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_BuildsFromConfig(t *testing.T) {
	c, err := New(context.Background(), Options{Config: testConfig(), Logger: testutil.Quiet()})
	require.NoError(t, err)
	assert.NotEmpty(t, c.Origin())
	assert.IsType(t, &store.Memory{}, c.Store())
	assert.Equal(t, "u1", c.Config().UserID)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestNew_RejectsUnknownStoreDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = "redis"
	_, err := New(context.Background(), Options{Config: cfg, Logger: testutil.Quiet()})
	assert.Error(t, err)
}

func TestClient_Overview(t *testing.T) {
	c := newClient(t, seedRemote(t))

	o, err := c.Overview("")
	require.NoError(t, err)
	got, _ := o.Get()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].LinkCount)
	assert.Equal(t, 5, *got[0].LinkCount)
	assert.Equal(t, 1, c.Models.Tabs.Refs("u1"))

	require.NoError(t, o.Close())
	assert.Zero(t, c.Models.Tabs.Refs("u1"))
}

func TestClient_OverviewNeedsUser(t *testing.T) {
	cfg := testConfig()
	cfg.UserID = ""
	c := newClient(t, seedRemote(t), func(o *Options) { o.Config = cfg })

	_, err := c.Overview("")
	assert.Error(t, err)
	_, err = c.Catalog("")
	assert.Error(t, err)
}

func TestClient_MoveLink(t *testing.T) {
	c := newClient(t, seedRemote(t))
	ctx := context.Background()

	dst, release, err := c.Links(ctx, "c2")
	require.NoError(t, err)
	defer release()
	require.Len(t, dst.Snapshot().Data, 3)

	o, err := c.Overview("u1")
	require.NoError(t, err)

	require.NoError(t, c.MoveLink(ctx, "l1", "c1", "c2"))

	_, found := model.FindByID(dst.Snapshot().Data, "l1")
	assert.True(t, found, "destination refreshed by the mutation event")
	assert.Len(t, dst.Snapshot().Data, 4)

	got, _ := o.Get()
	require.Len(t, got, 1)
	assert.Equal(t, 1, *got[0].Categories[0].LinkCount)
	assert.Equal(t, 4, *got[0].Categories[1].LinkCount)
	assert.Equal(t, 5, *got[0].LinkCount)

	assert.Error(t, c.MoveLink(ctx, "missing", "c1", "c2"))
}

func TestClient_SurfacesMutationFailures(t *testing.T) {
	remote := seedRemote(t)
	var seen []notify.Notification
	c := newClient(t, remote, func(o *Options) {
		o.Notifier = notify.Func(func(n notify.Notification) { seen = append(seen, n) })
	})

	links, release, err := c.Links(context.Background(), "c1")
	require.NoError(t, err)
	defer release()

	remote.FailMutate(entity.KindLinks, http.StatusInternalServerError)
	err = links.Add(context.Background(), entity.Link{Meta: entity.Meta{ID: "l9"}, CategoryID: "c1"})
	require.Error(t, err)
	assert.True(t, model.IsRejected(err))

	select {
	case n := <-c.Notifications():
		assert.Equal(t, notify.LevelError, n.Level)
		assert.Equal(t, entity.KindLinks, n.Kind)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	assert.Len(t, seen, 1)
	assert.Len(t, links.Snapshot().Data, 2, "rolled back")
}

func TestClient_Catalog(t *testing.T) {
	remote := seedRemote(t)
	require.NoError(t, remote.Seed(entity.KindCatalog,
		entity.CatalogLink{Meta: entity.Meta{ID: "k1"}, UserID: "u1", Title: "Go Blog"},
		entity.CatalogLink{Meta: entity.Meta{ID: "k2"}, UserID: "u1", Title: "Rust Book"},
	))
	c := newClient(t, remote)

	v, err := c.Catalog("u1")
	require.NoError(t, err)
	v.Search("rust")
	got, _ := v.Get()
	require.Len(t, got, 1)
	assert.Equal(t, "k2", got[0].Link.ID)
}

func TestClient_CloseClosesViewsAndRefusesNew(t *testing.T) {
	c := newClient(t, seedRemote(t))
	_, err := c.Overview("u1")
	require.NoError(t, err)
	require.Equal(t, 1, c.Models.Tabs.Len())

	require.NoError(t, c.Close())
	assert.Zero(t, c.Models.Tabs.Len())

	_, err = c.Overview("u1")
	assert.Error(t, err)
}

func TestClient_RunStopsWithContext(t *testing.T) {
	c := newClient(t, seedRemote(t), func(o *Options) {
		o.Inline = false
		o.Executor = nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	o, err := c.Overview("u1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := o.Get()
		return len(got) == 1 && got[0].LinkCount != nil && *got[0].LinkCount == 5
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
