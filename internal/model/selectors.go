package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/marksync/internal/entity"
)

// Selectors are pure functions over snapshot data. They never do I/O and
// never modify their input.

// Active returns the records that are not soft-deleted.
func Active[T entity.Record[T]](data []T) []T {
	out := make([]T, 0, len(data))
	for _, r := range data {
		if !r.Deleted() {
			out = append(out, r)
		}
	}
	return out
}

// Deleted returns the soft-deleted records.
func Deleted[T entity.Record[T]](data []T) []T {
	out := make([]T, 0)
	for _, r := range data {
		if r.Deleted() {
			out = append(out, r)
		}
	}
	return out
}

// Count returns the number of records that are not soft-deleted.
func Count[T entity.Record[T]](data []T) int {
	n := 0
	for _, r := range data {
		if !r.Deleted() {
			n++
		}
	}
	return n
}

// FindByID returns the record with identifier id.
func FindByID[T entity.Record[T]](data []T, id string) (T, bool) {
	for _, r := range data {
		if r.Identifier() == id {
			return r, true
		}
	}
	var zero T
	return zero, false
}

// GroupByScope buckets active records by scope key.
func GroupByScope[T entity.Record[T]](data []T) map[string][]T {
	out := make(map[string][]T)
	for _, r := range data {
		if r.Deleted() {
			continue
		}
		out[r.ScopeKey()] = append(out[r.ScopeKey()], r)
	}
	return out
}

// Fold normalizes s for case- and form-insensitive matching.
func Fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// Search returns the active records whose text contains every
// whitespace-separated term of query, ignoring case and Unicode
// normalization form. An empty query matches every active record.
func Search[T entity.Record[T]](data []T, query string, text func(T) string) []T {
	terms := strings.Fields(Fold(query))
	if len(terms) == 0 {
		return Active(data)
	}
	out := make([]T, 0)
	for _, r := range data {
		if r.Deleted() {
			continue
		}
		haystack := Fold(text(r))
		matched := true
		for _, term := range terms {
			if !strings.Contains(haystack, term) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, r)
		}
	}
	return out
}

// LinkText is the searchable text of a link.
func LinkText(l entity.Link) string {
	return strings.Join(append([]string{l.Title, l.URL, l.Description}, l.Tags...), " ")
}

// CatalogText is the searchable text of a catalog link.
func CatalogText(c entity.CatalogLink) string {
	return strings.Join(append([]string{c.Title, c.URL}, c.Tags...), " ")
}
