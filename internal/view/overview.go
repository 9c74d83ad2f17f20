package view

import (
	"cmp"
	"slices"
	"sort"

	"github.com/roach88/marksync/internal/engine"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/model"
	"github.com/roach88/marksync/internal/registry"
)

// CategorySummary is one category of a tab in the overview.
type CategorySummary struct {
	ID        string   `json:"id" yaml:"id"`
	Title     string   `json:"title" yaml:"title"`
	Position  int      `json:"position" yaml:"position"`
	LinkCount *int     `json:"linkCount,omitempty" yaml:"linkCount,omitempty"`
	Tags      []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// TabSummary is one tab of the overview. LinkCount is the sum over its
// categories and, like Tags, is only set when the user's settings ask
// for it.
type TabSummary struct {
	ID         string            `json:"id" yaml:"id"`
	Title      string            `json:"title" yaml:"title"`
	Position   int               `json:"position" yaml:"position"`
	LinkCount  *int              `json:"linkCount,omitempty" yaml:"linkCount,omitempty"`
	Categories []CategorySummary `json:"categories" yaml:"categories"`
}

// OverviewInput holds the leaf snapshots of one overview computation.
type OverviewInput struct {
	UserID     string
	Settings   model.Snapshot[entity.UserSetting]
	Tabs       model.Snapshot[entity.Tab]
	Categories map[string]model.Snapshot[entity.Category] // by tab id
	Links      map[string]model.Snapshot[entity.Link]     // by category id
}

type categoryRow struct {
	cat   entity.Category
	count int
	tags  []string
}

type tabRow struct {
	tab  entity.Tab
	cats []categoryRow
}

// ComposeOverview joins tabs with their categories and per-category link
// counts. Deleted records are skipped and siblings are ordered by
// position. The result is empty until the settings and every leaf the
// join reaches have left Booting; a missing leaf counts as booting.
func ComposeOverview(in OverviewInput) []TabSummary {
	rows, ok := joinOverview(in)
	if !ok {
		return []TabSummary{}
	}
	return projectOverview(rows, model.SettingOf(in.UserID, in.Settings.Data))
}

func joinOverview(in OverviewInput) ([]tabRow, bool) {
	if !in.Settings.Settled() || !in.Tabs.Settled() {
		return nil, false
	}

	tabs := byPosition(model.Active(in.Tabs.Data), func(t entity.Tab) int { return t.Position })
	rows := make([]tabRow, 0, len(tabs))
	for _, tab := range tabs {
		cs, ok := in.Categories[tab.ID]
		if !ok || !cs.Settled() {
			return nil, false
		}
		cats := byPosition(model.Active(cs.Data), func(c entity.Category) int { return c.Position })
		row := tabRow{tab: tab, cats: make([]categoryRow, 0, len(cats))}
		for _, cat := range cats {
			ls, ok := in.Links[cat.ID]
			if !ok || !ls.Settled() {
				return nil, false
			}
			links := model.Active(ls.Data)
			row.cats = append(row.cats, categoryRow{cat: cat, count: len(links), tags: tagsOf(links)})
		}
		rows = append(rows, row)
	}
	return rows, true
}

// projectOverview applies the user's display flags.
func projectOverview(rows []tabRow, s entity.UserSetting) []TabSummary {
	out := make([]TabSummary, 0, len(rows))
	for _, row := range rows {
		tab := TabSummary{
			ID:         row.tab.ID,
			Title:      row.tab.Title,
			Position:   row.tab.Position,
			Categories: make([]CategorySummary, 0, len(row.cats)),
		}
		total := 0
		for _, c := range row.cats {
			cat := CategorySummary{ID: c.cat.ID, Title: c.cat.Title, Position: c.cat.Position}
			if s.ShowLinkCount {
				cat.LinkCount = intPtr(c.count)
			}
			if s.ShowTagsInTooltip && len(c.tags) > 0 {
				cat.Tags = c.tags
			}
			total += c.count
			tab.Categories = append(tab.Categories, cat)
		}
		if s.ShowLinkCount {
			tab.LinkCount = intPtr(total)
		}
		out = append(out, tab)
	}
	return out
}

func byPosition[T entity.Record[T]](data []T, pos func(T) int) []T {
	out := slices.Clone(data)
	slices.SortStableFunc(out, func(a, b T) int {
		if c := cmp.Compare(pos(a), pos(b)); c != 0 {
			return c
		}
		return cmp.Compare(a.Identifier(), b.Identifier())
	})
	return out
}

func tagsOf(links []entity.Link) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, l := range links {
		for _, tag := range l.Tags {
			if tag != "" && !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	sort.Strings(tags)
	return tags
}

func intPtr(n int) *int { return &n }

// OverviewSources are the registries an Overview draws its models from.
type OverviewSources struct {
	Tabs       *registry.Registry[*model.Tabs]
	Settings   *registry.Registry[*model.Settings]
	Categories *registry.Registry[*model.Categories]
	Links      *registry.Registry[*model.Links]
}

// Overview is the live tab overview of one user. It holds registry
// references for the user's tabs and settings and for the categories and
// links of every tab and category currently visible, releasing them as
// records disappear and on Close.
type Overview struct {
	userID string

	tabs       *leases[*model.Tabs]
	settings   *leases[*model.Settings]
	categories *leases[*model.Categories]
	links      *leases[*model.Links]

	node *Node[[]TabSummary]
}

// NewOverview starts the overview of userID on eng.
func NewOverview(eng *engine.Engine, userID string, src OverviewSources) *Overview {
	o := &Overview{
		userID:     userID,
		tabs:       newLeases(src.Tabs),
		settings:   newLeases(src.Settings),
		categories: newLeases(src.Categories),
		links:      newLeases(src.Links),
	}
	o.node = NewNode(eng, "overview/"+userID, o.compute)
	return o
}

func (o *Overview) compute(t *Tracker) ([]TabSummary, error) {
	settings, err := o.settings.acquire(o.userID)
	if err != nil {
		return nil, err
	}
	tabs, err := o.tabs.acquire(o.userID)
	if err != nil {
		return nil, err
	}

	in := OverviewInput{
		UserID:     o.userID,
		Settings:   Track(t, settings),
		Tabs:       Track(t, tabs),
		Categories: make(map[string]model.Snapshot[entity.Category]),
		Links:      make(map[string]model.Snapshot[entity.Link]),
	}

	keepCats := make(map[string]bool)
	keepLinks := make(map[string]bool)
	for _, tab := range model.Active(in.Tabs.Data) {
		cats, err := o.categories.acquire(tab.ID)
		if err != nil {
			return nil, err
		}
		keepCats[tab.ID] = true
		cs := Track(t, cats)
		in.Categories[tab.ID] = cs

		for _, cat := range model.Active(cs.Data) {
			links, err := o.links.acquire(cat.ID)
			if err != nil {
				return nil, err
			}
			keepLinks[cat.ID] = true
			in.Links[cat.ID] = Track(t, links)
		}
	}
	o.categories.retain(keepCats)
	o.links.retain(keepLinks)

	return ComposeOverview(in), nil
}

// UserID returns the user the overview belongs to.
func (o *Overview) UserID() string { return o.userID }

// Get returns the latest overview and its version; version 0 means no
// run has completed.
func (o *Overview) Get() ([]TabSummary, int64) { return o.node.Get() }

// Err returns the error of the last run.
func (o *Overview) Err() error { return o.node.Err() }

// Subscribe calls fn with the latest overview and after every change.
func (o *Overview) Subscribe(fn func([]TabSummary)) (cancel func()) {
	return o.node.Subscribe(fn)
}

// Node exposes the underlying dataflow node for composition.
func (o *Overview) Node() *Node[[]TabSummary] { return o.node }

// Held returns how many category and link models the overview references.
func (o *Overview) Held() (categories, links int) {
	return o.categories.len(), o.links.len()
}

// Close stops recomputation and releases every registry reference.
func (o *Overview) Close() error {
	o.node.Close()
	o.links.close()
	o.categories.close()
	o.tabs.close()
	o.settings.close()
	return nil
}
