package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/roach88/marksync/internal/entity"
)

// Seed is a set of records, grouped by collection, to load into a backend.
//
//	settings:
//	  - id: s1
//	    userIdentifier: u1
//	    showLinkCount: true
//	tabs:
//	  - {id: t1, userIdentifier: u1, title: Home}
type Seed struct {
	Users      []entity.User        `yaml:"users,omitempty"`
	Settings   []entity.UserSetting `yaml:"settings,omitempty"`
	Tabs       []entity.Tab         `yaml:"tabs,omitempty"`
	Categories []entity.Category    `yaml:"categories,omitempty"`
	Links      []entity.Link        `yaml:"links,omitempty"`
	Catalog    []entity.CatalogLink `yaml:"catalog,omitempty"`
}

// ParseSeed decodes a YAML seed. Unknown fields are rejected; an empty
// document is an empty seed.
func ParseSeed(data []byte) (Seed, error) {
	var s Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Seed{}, fmt.Errorf("invalid seed: %w", err)
	}
	return s, nil
}

// Len returns the number of records in s.
func (s Seed) Len() int {
	return len(s.Users) + len(s.Settings) + len(s.Tabs) +
		len(s.Categories) + len(s.Links) + len(s.Catalog)
}

// Each calls fn once per non-empty collection, in entity.Kinds order.
func (s Seed) Each(fn func(kind entity.Kind, records []any) error) error {
	groups := map[entity.Kind][]any{
		entity.KindTabs:       anySlice(s.Tabs),
		entity.KindCategories: anySlice(s.Categories),
		entity.KindLinks:      anySlice(s.Links),
		entity.KindCatalog:    anySlice(s.Catalog),
		entity.KindSettings:   anySlice(s.Settings),
		entity.KindUsers:      anySlice(s.Users),
	}
	for _, kind := range entity.Kinds {
		if len(groups[kind]) == 0 {
			continue
		}
		if err := fn(kind, groups[kind]); err != nil {
			return err
		}
	}
	return nil
}

// Apply stores every record of s in m.
func (s Seed) Apply(m *Memory) error {
	return s.Each(func(kind entity.Kind, records []any) error {
		if err := m.Seed(kind, records...); err != nil {
			return fmt.Errorf("seed %s: %w", kind, err)
		}
		return nil
	})
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
