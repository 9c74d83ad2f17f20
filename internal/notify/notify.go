// Package notify carries user-facing notifications raised by the sync core,
// chiefly failed optimistic mutations that were rolled back.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/marksync/internal/entity"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is one user-facing message.
type Notification struct {
	Level   Level
	Kind    entity.Kind
	Op      entity.Op
	Message string
	Err     error
	At      time.Time
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Notifier = Func(func(Notification) {})

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs n at a level matching its severity.
func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", n.Kind, "op", n.Op}
	if n.Err != nil {
		attrs = append(attrs, "error", n.Err)
	}
	if n.Level == LevelError {
		logger.Error(n.Message, attrs...)
		return
	}
	logger.Info(n.Message, attrs...)
}

// Channel buffers notifications for a consumer. Notify never blocks: when
// the buffer is full the notification is dropped and counted.
type Channel struct {
	ch      chan Notification
	dropped atomic.Int64
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// NewChannel creates a channel notifier with the given buffer size.
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{ch: make(chan Notification, size)}
}

// Notify enqueues n or drops it.
func (c *Channel) Notify(n Notification) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- n:
	default:
		c.dropped.Add(1)
	}
}

// C returns the receive side.
func (c *Channel) C() <-chan Notification { return c.ch }

// Dropped returns how many notifications were dropped.
func (c *Channel) Dropped() int64 { return c.dropped.Load() }

// Close closes the receive side. Later notifications are ignored.
func (c *Channel) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}

// Multi fans a notification out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}
