package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/metrics"
)

// Event is a mutation event. ID and Seq are stamped by Dispatch.
type Event struct {
	ID      string          `json:"id,omitempty" yaml:"id,omitempty"`
	Seq     int64           `json:"seq" yaml:"seq"`
	Kind    entity.Kind     `json:"kind" yaml:"kind"`
	Op      entity.Op       `json:"op" yaml:"op"`
	Payload json.RawMessage `json:"payload,omitempty" yaml:"-"`
	Origin  string          `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// NewEvent builds an event with payload encoded as JSON.
func NewEvent(kind entity.Kind, op entity.Op, payload any) (Event, error) {
	ev := Event{Kind: kind, Op: op}
	if payload == nil {
		return ev, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s/%s payload: %w", kind, op, err)
	}
	ev.Payload = data
	return ev, nil
}

// Predicate selects the events a subscriber receives.
type Predicate func(Event) bool

// Handler receives matching events.
type Handler func(Event)

// ForKind matches events of kind.
func ForKind(kind entity.Kind) Predicate {
	return func(ev Event) bool { return ev.Kind == kind }
}

// All matches every event.
func All(Event) bool { return true }

// Subscription is a registered handler. Unsubscribe is idempotent.
type Subscription struct {
	bus     *Bus
	id      int64
	match   Predicate
	handle  Handler
	removed bool
}

// Unsubscribe stops delivery to this subscription.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithMetrics counts dispatched events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithIDGenerator sets the generator for event IDs.
func WithIDGenerator(g entity.IDGenerator) Option {
	return func(b *Bus) { b.ids = g }
}

// WithClock sets the sequence clock.
func WithClock(c *Clock) Option {
	return func(b *Bus) { b.clock = c }
}

// Bus is the mutation bus.
//
// Thread-safety: Subscribe, Unsubscribe and Dispatch are safe from any
// goroutine. Handlers run on the dispatching goroutine; a handler may
// subscribe, unsubscribe or dispatch without deadlocking.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	nextID int64
	closed bool

	clock   *Clock
	ids     entity.IDGenerator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		clock:  NewClock(),
		ids:    entity.UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handle for events matching match (all events when
// match is nil). Returns nil after Close.
func (b *Bus) Subscribe(match Predicate, handle Handler) *Subscription {
	if match == nil {
		match = All
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.nextID++
	sub := &Subscription{bus: b, id: b.nextID, match: match, handle: handle}
	b.subs = append(b.subs, sub)
	return sub
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.removed {
		return
	}
	s.removed = true
	for i, sub := range b.subs {
		if sub == s {
			// Copy so in-progress dispatches keep their own slice.
			next := make([]*Subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			next = append(next, b.subs[i+1:]...)
			b.subs = next
			return
		}
	}
}

// Dispatch stamps ev and delivers it to every matching subscriber in
// subscription order. Subscribers added during delivery do not receive ev.
// Subscribers removed during delivery are skipped if not yet reached.
// Returns the stamped event; dispatch after Close is a no-op.
func (b *Bus) Dispatch(ev Event) Event {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ev
	}
	targets := b.subs
	b.mu.RUnlock()

	ev.Seq = b.clock.Next()
	if ev.ID == "" {
		ev.ID = b.ids.Generate()
	}
	b.metrics.BusEvent(ev.Kind, ev.Op)

	delivered := 0
	for _, sub := range targets {
		if b.isRemoved(sub) || !sub.match(ev) {
			continue
		}
		sub.handle(ev)
		delivered++
	}

	b.logger.Debug("bus dispatch",
		"kind", ev.Kind,
		"op", ev.Op,
		"seq", ev.Seq,
		"origin", ev.Origin,
		"delivered", delivered,
	)
	return ev
}

func (b *Bus) isRemoved(s *Subscription) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return s.removed
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscriber. Later Subscribe and Dispatch calls are
// no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.removed = true
	}
	b.subs = nil
	b.closed = true
}
