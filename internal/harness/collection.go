package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/marksync/internal/app"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/model"
	"github.com/roach88/marksync/internal/registry"
)

var errNotOpen = errors.New("model is not open")

// State is the observable state of one open model.
type State struct {
	Status  string
	IDs     []string
	Pending int
}

// collection adapts one typed registry of the client to untyped scenario
// steps.
type collection interface {
	open(key string) error
	release(key string) error
	refresh(ctx context.Context, key string) error
	mutate(ctx context.Context, key string, op entity.Op, records []map[string]any) error
	state(key string) (State, bool)
}

func collectionsOf(m app.Models) map[entity.Kind]collection {
	return map[entity.Kind]collection{
		entity.KindTabs:       models[entity.Tab]{m.Tabs},
		entity.KindCategories: models[entity.Category]{m.Categories},
		entity.KindLinks:      models[entity.Link]{m.Links},
		entity.KindCatalog:    models[entity.CatalogLink]{m.Catalog},
		entity.KindSettings:   models[entity.UserSetting]{m.Settings},
		entity.KindUsers:      models[entity.User]{m.Users},
	}
}

type models[T entity.Record[T]] struct {
	reg *registry.Registry[*model.Model[T]]
}

func (c models[T]) open(key string) error {
	_, err := c.reg.Get(key)
	return err
}

func (c models[T]) release(key string) error {
	return c.reg.Release(key)
}

func (c models[T]) live(key string) (*model.Model[T], error) {
	m, ok := c.reg.Peek(key)
	if !ok || m.Closed() {
		return nil, fmt.Errorf("%s: %w", key, errNotOpen)
	}
	return m, nil
}

func (c models[T]) refresh(ctx context.Context, key string) error {
	m, err := c.live(key)
	if err != nil {
		return err
	}
	return m.Refresh(ctx)
}

func (c models[T]) mutate(ctx context.Context, key string, op entity.Op, records []map[string]any) error {
	m, err := c.live(key)
	if err != nil {
		return err
	}
	recs := make([]T, len(records))
	for i, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := json.Unmarshal(data, &recs[i]); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return m.Mutate(ctx, op, recs...)
}

func (c models[T]) state(key string) (State, bool) {
	m, err := c.live(key)
	if err != nil {
		return State{}, false
	}
	snap := m.Snapshot()
	active := model.Active(snap.Data)
	ids := make([]string, len(active))
	for i, r := range active {
		ids[i] = r.Identifier()
	}
	return State{Status: string(snap.Status), IDs: ids, Pending: m.Pending()}, true
}
