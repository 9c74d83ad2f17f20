package model

import (
	"log/slog"
	"time"

	"github.com/roach88/marksync/internal/bus"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/gateway"
	"github.com/roach88/marksync/internal/metrics"
	"github.com/roach88/marksync/internal/notify"
	"github.com/roach88/marksync/internal/store"
)

// Executor runs background work such as refreshes triggered by the bus.
type Executor func(fn func())

// Go runs fn on a new goroutine.
func Go(fn func()) { go fn() }

// Inline runs fn on the caller's goroutine.
func Inline(fn func()) { fn() }

// Deps are the collaborators shared by every model of a process. They are
// owned by the process root and injected here.
type Deps struct {
	Store    store.Store
	Gateway  gateway.Gateway
	Bus      *bus.Bus
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	IDs      entity.IDGenerator
	Executor Executor

	// Origin identifies this client on dispatched events.
	Origin string
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = notify.Discard
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.IDs == nil {
		d.IDs = entity.UUIDv7Generator{}
	}
	if d.Executor == nil {
		d.Executor = Go
	}
	return d
}

// Option configures a single model.
type Option func(*options)

type options struct {
	executor Executor
	ids      entity.IDGenerator
}

// WithExecutor overrides the executor for background work.
func WithExecutor(exec Executor) Option {
	return func(o *options) { o.executor = exec }
}

// WithIDGenerator overrides the generator for client-assigned identifiers.
func WithIDGenerator(g entity.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

var timeNow = time.Now
