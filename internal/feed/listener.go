package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/marksync/internal/bus"
	"github.com/roach88/marksync/internal/gateway"
)

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the listener's logger.
func WithListenerLogger(l *slog.Logger) ListenerOption {
	return func(ln *Listener) { ln.logger = l }
}

// WithListenerSettings overrides the connection timings.
func WithListenerSettings(s Settings) ListenerOption {
	return func(ln *Listener) { ln.settings = s }
}

// WithTokenSource authenticates the dial with a bearer token.
func WithTokenSource(ts gateway.TokenSource) ListenerOption {
	return func(ln *Listener) { ln.tokens = ts }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) ListenerOption {
	return func(ln *Listener) { ln.dialer = d }
}

// Listener is the client side of the feed. It dispatches every message
// from other origins onto the local bus, reconnecting until its context
// ends.
type Listener struct {
	url      string
	bus      *bus.Bus
	origin   string
	tokens   gateway.TokenSource
	dialer   *websocket.Dialer
	settings Settings
	logger   *slog.Logger

	connected  atomic.Bool
	dispatched atomic.Int64
	skipped    atomic.Int64
}

// NewListener creates a listener for url that dispatches onto b. Messages
// whose origin equals origin are skipped: the local models already saw
// those mutations.
func NewListener(url string, b *bus.Bus, origin string, opts ...ListenerOption) *Listener {
	ln := &Listener{
		url:      url,
		bus:      b,
		origin:   origin,
		dialer:   websocket.DefaultDialer,
		settings: DefaultSettings(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ln)
	}
	return ln
}

// Run connects and dispatches until ctx ends. Connection failures are
// logged and retried after the reconnect timeout.
func (ln *Listener) Run(ctx context.Context) error {
	ln.logger.Info("feed listener starting", "url", ln.url)
	for {
		err := ln.session(ctx)
		if ctx.Err() != nil {
			ln.logger.Info("feed listener stopping")
			return ctx.Err()
		}
		ln.logger.Info("feed connection lost", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ln.settings.ReconnectTimeout):
		}
	}
}

func (ln *Listener) session(ctx context.Context) error {
	header := http.Header{}
	if ln.tokens != nil {
		token, err := ln.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("feed token: %w", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
	if ln.origin != "" {
		header.Set(gateway.OriginHeader, ln.origin)
	}

	conn, _, err := ln.dialer.DialContext(ctx, ln.url, header)
	if err != nil {
		return fmt.Errorf("feed dial: %w", err)
	}
	defer conn.Close()

	ln.connected.Store(true)
	defer ln.connected.Store(false)

	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		conn.SetReadDeadline(time.Now().Add(ln.settings.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		if err := ln.handle(data); err != nil {
			ln.logger.Warn("feed message dropped", "error", err)
		}
	}
}

func (ln *Listener) handle(data []byte) error {
	m, err := decodeMessage(data)
	if err != nil {
		return err
	}
	if ln.origin != "" && m.Origin == ln.origin {
		ln.skipped.Add(1)
		return nil
	}
	ev := ln.bus.Dispatch(m.Event())
	ln.dispatched.Add(1)
	ln.logger.Debug("feed event dispatched", "kind", ev.Kind, "op", ev.Op, "seq", ev.Seq, "origin", ev.Origin)
	return nil
}

// Connected reports whether a connection is currently open.
func (ln *Listener) Connected() bool { return ln.connected.Load() }

// Dispatched returns how many messages were dispatched onto the bus.
func (ln *Listener) Dispatched() int64 { return ln.dispatched.Load() }

// Skipped returns how many messages were skipped as self-originated.
func (ln *Listener) Skipped() int64 { return ln.skipped.Load() }
