package view

import (
	"github.com/roach88/marksync/internal/engine"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/model"
	"github.com/roach88/marksync/internal/registry"
)

// CatalogEntry is a catalog link with its selection state.
type CatalogEntry struct {
	Link     entity.CatalogLink `json:"link" yaml:"link"`
	Selected bool               `json:"selected" yaml:"selected"`
}

// ComposeCatalog filters the active catalog links by query and marks the
// selected ones. It returns an empty result while the catalog is booting.
func ComposeCatalog(snap model.Snapshot[entity.CatalogLink], query string, selected map[string]bool) []CatalogEntry {
	out := []CatalogEntry{}
	if !snap.Settled() {
		return out
	}
	for _, l := range model.Search(model.Active(snap.Data), query, model.CatalogText) {
		out = append(out, CatalogEntry{Link: l, Selected: selected[l.ID]})
	}
	return out
}

// Catalog is the live, searchable catalog of one user.
type Catalog struct {
	userID    string
	catalog   *leases[*model.Catalog]
	query     *Value[string]
	selection *Value[map[string]bool]
	node      *Node[[]CatalogEntry]
}

// NewCatalog starts the catalog view of userID on eng.
func NewCatalog(eng *engine.Engine, userID string, reg *registry.Registry[*model.Catalog]) *Catalog {
	c := &Catalog{
		userID:    userID,
		catalog:   newLeases(reg),
		query:     NewValue(""),
		selection: NewValue(map[string]bool{}),
	}
	c.node = NewNode(eng, "catalog/"+userID, c.compute)
	return c
}

func (c *Catalog) compute(t *Tracker) ([]CatalogEntry, error) {
	m, err := c.catalog.acquire(c.userID)
	if err != nil {
		return nil, err
	}
	return ComposeCatalog(Track(t, m), c.query.Read(t), c.selection.Read(t)), nil
}

// Search sets the live query. An empty query matches everything.
func (c *Catalog) Search(query string) { c.query.Set(query) }

// Query returns the live query.
func (c *Catalog) Query() string { return c.query.Get() }

// Toggle flips the selection of id.
func (c *Catalog) Toggle(id string) {
	c.selection.Update(func(cur map[string]bool) map[string]bool {
		next := copySelection(cur)
		if next[id] {
			delete(next, id)
		} else {
			next[id] = true
		}
		return next
	})
}

// Select adds ids to the selection.
func (c *Catalog) Select(ids ...string) {
	c.selection.Update(func(cur map[string]bool) map[string]bool {
		next := copySelection(cur)
		for _, id := range ids {
			next[id] = true
		}
		return next
	})
}

// ClearSelection empties the selection.
func (c *Catalog) ClearSelection() {
	c.selection.Set(map[string]bool{})
}

// Selected returns the selected links visible under the current query.
func (c *Catalog) Selected() []entity.CatalogLink {
	var out []entity.CatalogLink
	for _, e := range c.node.Value() {
		if e.Selected {
			out = append(out, e.Link)
		}
	}
	return out
}

// Get returns the latest entries and their version.
func (c *Catalog) Get() ([]CatalogEntry, int64) { return c.node.Get() }

// Subscribe calls fn with the latest entries and after every change.
func (c *Catalog) Subscribe(fn func([]CatalogEntry)) (cancel func()) {
	return c.node.Subscribe(fn)
}

// Close stops recomputation and releases the catalog model.
func (c *Catalog) Close() error {
	c.node.Close()
	c.catalog.close()
	return nil
}

func copySelection(cur map[string]bool) map[string]bool {
	next := make(map[string]bool, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	return next
}
