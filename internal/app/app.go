// Package app is the process root of a marksync client. It builds every
// shared component once, injects it into the components that need it and
// tears everything down in reverse order on Close. Nothing in marksync
// lives in a package-level variable.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/marksync/internal/bus"
	"github.com/roach88/marksync/internal/config"
	"github.com/roach88/marksync/internal/engine"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/feed"
	"github.com/roach88/marksync/internal/gateway"
	"github.com/roach88/marksync/internal/metrics"
	"github.com/roach88/marksync/internal/model"
	"github.com/roach88/marksync/internal/notify"
	"github.com/roach88/marksync/internal/registry"
	"github.com/roach88/marksync/internal/store"
	"github.com/roach88/marksync/internal/view"
)

// Options configure New. Only Config is required; the other fields
// replace the component New would otherwise build.
type Options struct {
	Config config.Config
	Logger *slog.Logger

	Store   store.Store
	Gateway gateway.Gateway

	// Origin identifies this client on the bus and on the wire. Defaults
	// to a fresh UUIDv7.
	Origin string

	// Notifier also receives every notification sent to the channel
	// returned by Notifications.
	Notifier notify.Notifier

	IDs      entity.IDGenerator
	Executor model.Executor

	// Inline runs dataflow recomputation on the goroutine that caused it
	// instead of on the Run loop.
	Inline bool
}

// Models holds one registry per synchronized collection. Tabs, catalog,
// settings and users are keyed by user id, categories by tab id and
// links by category id.
type Models struct {
	Tabs       *registry.Registry[*model.Tabs]
	Categories *registry.Registry[*model.Categories]
	Links      *registry.Registry[*model.Links]
	Catalog    *registry.Registry[*model.Catalog]
	Settings   *registry.Registry[*model.Settings]
	Users      *registry.Registry[*model.Users]
}

// Client owns the components of one marksync client process.
type Client struct {
	cfg    config.Config
	logger *slog.Logger
	origin string

	store     store.Store
	ownsStore bool
	tokens    *gateway.TokenHolder
	gateway   gateway.Gateway
	bus       *bus.Bus
	engine    *engine.Engine
	notes     *notify.Channel
	metrics   *metrics.Metrics
	deps      model.Deps

	// Models are the registries of every collection.
	Models Models

	mu     sync.Mutex
	views  []interface{ Close() error }
	closed bool
}

// New builds a client from opts.
func New(ctx context.Context, opts Options) (*Client, error) {
	c := &Client{
		cfg:    opts.Config,
		logger: opts.Logger,
		origin: opts.Origin,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.origin == "" {
		c.origin = entity.NewID()
	}
	c.logger = c.logger.With("client", c.origin)

	c.store = opts.Store
	if c.store == nil {
		st, err := store.Open(ctx, c.cfg.LocalStore())
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		c.store = st
		c.ownsStore = true
	}

	c.tokens = gateway.NewTokenHolder(c.cfg.API.Token)
	c.gateway = opts.Gateway
	if c.gateway == nil {
		timeout, err := c.cfg.APITimeout()
		if err != nil {
			c.closeStore()
			return nil, fmt.Errorf("api timeout: %w", err)
		}
		c.gateway = gateway.NewClient(c.cfg.API.BaseURL,
			gateway.WithTimeout(timeout),
			gateway.WithTokenSource(c.tokens),
			gateway.WithClientID(c.origin),
			gateway.WithLogger(c.logger),
		)
	}

	c.metrics = metrics.New()
	c.bus = bus.New(bus.WithLogger(c.logger), bus.WithMetrics(c.metrics))
	engineOpts := []engine.Option{engine.WithLogger(c.logger)}
	if opts.Inline {
		engineOpts = append(engineOpts, engine.WithInline())
	}
	c.engine = engine.New(engineOpts...)
	c.notes = notify.NewChannel(64)

	c.deps = model.Deps{
		Store:    c.store,
		Gateway:  c.gateway,
		Bus:      c.bus,
		Notifier: notify.Multi{c.notes, opts.Notifier},
		Metrics:  c.metrics,
		Logger:   c.logger,
		IDs:      opts.IDs,
		Executor: opts.Executor,
		Origin:   c.origin,
	}
	if err := c.buildRegistries(); err != nil {
		c.closeStore()
		return nil, err
	}
	c.logger.Info("client ready", "user", c.cfg.UserID, "store", c.cfg.Store.Driver)
	return c, nil
}

func newRegistry[M registry.Closer](c *Client, kind entity.Kind, build func(model.Deps, string, ...model.Option) M) (*registry.Registry[M], error) {
	r, err := registry.New[M](func(key string) (M, error) {
		return build(c.deps, key), nil
	},
		registry.WithIdleCapacity(c.cfg.Registry.IdleCapacity),
		registry.WithLogger(c.logger),
		registry.WithMetrics(c.metrics, kind),
	)
	if err != nil {
		return nil, fmt.Errorf("%s registry: %w", kind, err)
	}
	return r, nil
}

func (c *Client) buildRegistries() error {
	var err error
	if c.Models.Tabs, err = newRegistry(c, entity.KindTabs, model.NewTabs); err != nil {
		return err
	}
	if c.Models.Categories, err = newRegistry(c, entity.KindCategories, model.NewCategories); err != nil {
		return err
	}
	if c.Models.Links, err = newRegistry(c, entity.KindLinks, model.NewLinks); err != nil {
		return err
	}
	if c.Models.Catalog, err = newRegistry(c, entity.KindCatalog, model.NewCatalog); err != nil {
		return err
	}
	if c.Models.Settings, err = newRegistry(c, entity.KindSettings, model.NewSettings); err != nil {
		return err
	}
	if c.Models.Users, err = newRegistry(c, entity.KindUsers, model.NewUsers); err != nil {
		return err
	}
	return nil
}

// Run drives the dataflow engine, the invalidation feed when one is
// configured and the metrics endpoint when an address is set. It blocks
// until ctx ends or one of them fails.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.engine.Run(ctx) })

	if c.cfg.Feed.URL != "" {
		ln := feed.NewListener(c.cfg.Feed.URL, c.bus, c.origin,
			feed.WithTokenSource(c.tokens),
			feed.WithListenerLogger(c.logger),
		)
		g.Go(func() error { return ln.Run(ctx) })
	}

	if c.cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              c.cfg.Metrics.Addr,
			Handler:           c.metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Drain runs pending dataflow recomputation on the caller's goroutine.
func (c *Client) Drain(ctx context.Context) error {
	_, err := c.engine.Drain(ctx)
	return err
}

func (c *Client) user(userID string) (string, error) {
	if userID == "" {
		userID = c.cfg.UserID
	}
	if userID == "" {
		return "", errors.New("no user id configured")
	}
	return userID, nil
}

func (c *Client) track(v interface{ Close() error }) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = v.Close()
		return ErrClosed
	}
	c.views = append(c.views, v)
	return nil
}

// Overview opens the live tab overview of userID, or of the configured
// user when empty. Close the view when done; Client.Close closes views
// left open.
func (c *Client) Overview(userID string) (*view.Overview, error) {
	userID, err := c.user(userID)
	if err != nil {
		return nil, err
	}
	o := view.NewOverview(c.engine, userID, view.OverviewSources{
		Tabs:       c.Models.Tabs,
		Settings:   c.Models.Settings,
		Categories: c.Models.Categories,
		Links:      c.Models.Links,
	})
	if err := c.track(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Catalog opens the live catalog view of userID, or of the configured
// user when empty.
func (c *Client) Catalog(userID string) (*view.Catalog, error) {
	userID, err := c.user(userID)
	if err != nil {
		return nil, err
	}
	v := view.NewCatalog(c.engine, userID, c.Models.Catalog)
	if err := c.track(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Acquire returns the instance for key from r together with a function
// that releases it.
func Acquire[M registry.Closer](r *registry.Registry[M], key string) (M, func(), error) {
	inst, err := r.Get(key)
	if err != nil {
		var zero M
		return zero, nil, err
	}
	var once sync.Once
	return inst, func() { once.Do(func() { _ = r.Release(key) }) }, nil
}

// Links returns the settled links model of a category and its release
// function.
func (c *Client) Links(ctx context.Context, categoryID string) (*model.Links, func(), error) {
	links, release, err := Acquire(c.Models.Links, categoryID)
	if err != nil {
		return nil, nil, err
	}
	if err := settle(ctx, links); err != nil {
		release()
		return nil, nil, err
	}
	return links, release, nil
}

// MoveLink moves link linkID from category from to category to. The
// source model drops the link optimistically; the destination picks it up
// when the mutation event refreshes it.
func (c *Client) MoveLink(ctx context.Context, linkID, from, to string) error {
	src, release, err := c.Links(ctx, from)
	if err != nil {
		return err
	}
	defer release()

	link, ok := model.FindByID(src.Snapshot().Data, linkID)
	if !ok {
		return fmt.Errorf("link %s not found in category %s", linkID, from)
	}
	return src.Move(ctx, link, to)
}

// settle waits until the background boot and refresh of m have finished,
// or ctx ends.
func settle[T entity.Record[T]](ctx context.Context, m *model.Model[T]) error {
	select {
	case <-m.Idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notifications delivers surfaced mutation failures.
func (c *Client) Notifications() <-chan notify.Notification { return c.notes.C() }

// Origin returns the client identifier.
func (c *Client) Origin() string { return c.origin }

// Config returns the configuration the client was built from.
func (c *Client) Config() config.Config { return c.cfg }

// Tokens returns the holder of the API bearer token.
func (c *Client) Tokens() *gateway.TokenHolder { return c.tokens }

// Bus returns the client's mutation bus.
func (c *Client) Bus() *bus.Bus { return c.bus }

// Store returns the durable local store.
func (c *Client) Store() store.Store { return c.store }

// Metrics returns the client's collectors.
func (c *Client) Metrics() *metrics.Metrics { return c.metrics }

// ErrClosed is returned when opening views on a closed client.
var ErrClosed = errors.New("app: client closed")

// Close tears the client down in reverse order of construction: views,
// model registries, engine, bus, notifications and finally the local
// store. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	views := c.views
	c.views = nil
	c.mu.Unlock()

	for i := len(views) - 1; i >= 0; i-- {
		_ = views[i].Close()
	}

	var errs []error
	for _, r := range []interface{ Close() error }{
		c.Models.Users, c.Models.Settings, c.Models.Catalog,
		c.Models.Links, c.Models.Categories, c.Models.Tabs,
	} {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.engine.Stop()
	c.bus.Close()
	c.notes.Close()
	if err := c.closeStore(); err != nil {
		errs = append(errs, err)
	}
	c.logger.Info("client closed")
	return errors.Join(errs...)
}

func (c *Client) closeStore() error {
	if !c.ownsStore {
		return nil
	}
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("close local store: %w", err)
	}
	return nil
}
