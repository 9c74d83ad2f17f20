package entity

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces identifiers for new records and bus events.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewID returns a fresh UUIDv7 identifier.
func NewID() string {
	return UUIDv7Generator{}.Generate()
}

// FixedGenerator returns predetermined identifiers for testing.
//
// Once the list is exhausted it continues with "<prefix>-<n>" identifiers so
// long-running scenarios do not panic mid-flow.
type FixedGenerator struct {
	mu     sync.Mutex
	ids    []string
	idx    int
	prefix string
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("l1", "l2")
//	gen.Generate() // "l1"
//	gen.Generate() // "l2"
//	gen.Generate() // "id-3"
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids, prefix: "id"}
}

// WithPrefix sets the prefix used after the fixed list is exhausted.
func (g *FixedGenerator) WithPrefix(prefix string) *FixedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prefix = prefix
	return g
}

// Generate returns the next predetermined identifier.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.idx++
	if g.idx <= len(g.ids) {
		return g.ids[g.idx-1]
	}
	return g.prefix + "-" + strconv.Itoa(g.idx)
}
