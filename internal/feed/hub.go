package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/marksync/internal/bus"
)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub's logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// WithHubSettings overrides the connection timings.
func WithHubSettings(s Settings) HubOption {
	return func(h *Hub) { h.settings = s }
}

// WithAuthorizer rejects upgrade requests for which fn returns an error.
func WithAuthorizer(fn func(*http.Request) error) HubOption {
	return func(h *Hub) { h.authorize = fn }
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub is the server side of the feed: an http.Handler that upgrades
// requests to websockets and broadcasts messages to every connection.
type Hub struct {
	upgrader  websocket.Upgrader
	settings  Settings
	logger    *slog.Logger
	authorize func(*http.Request) error

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
	dropped int
}

// NewHub creates a hub with no connections.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		settings: DefaultSettings(),
		logger:   slog.Default(),
		clients:  make(map[*hubClient]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and keeps the connection until either
// side closes it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authorize != nil {
		if err := h.authorize(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Info("feed upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &hubClient{
		conn: conn,
		send: make(chan []byte, h.settings.SendBuffer),
		done: make(chan struct{}),
	}
	if !h.add(c) {
		c.close()
		return
	}
	h.logger.Debug("feed client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)

	h.remove(c)
	c.close()
	h.logger.Debug("feed client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) add(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// readLoop discards inbound frames; it exists to notice disconnects.
func (h *Hub) readLoop(c *hubClient) {
	for {
		c.conn.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout))
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	defer c.close()
	ping := time.NewTicker(h.settings.PingInterval)
	defer ping.Stop()

	for {
		var frame []byte
		select {
		case <-c.done:
			return
		case frame = <-c.send:
		case <-ping.C:
			// An empty frame is a keepalive.
			frame = []byte{}
		}
		c.conn.SetWriteDeadline(time.Now().Add(h.settings.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			// A websocket write deadline cannot be recovered.
			h.logger.Info("feed write failed", "error", err)
			return
		}
	}
}

// Broadcast sends m to every connection. A connection whose send buffer
// is full is closed rather than allowed to stall the others.
func (h *Hub) Broadcast(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	h.mu.Lock()
	var slow []*hubClient
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
			delete(h.clients, c)
			h.dropped++
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("feed client too slow, disconnecting")
		c.close()
	}
	return nil
}

// Forward broadcasts every event dispatched on b.
func (h *Hub) Forward(b *bus.Bus) *bus.Subscription {
	return b.Subscribe(bus.All, func(ev bus.Event) {
		if err := h.Broadcast(FromEvent(ev)); err != nil {
			h.logger.Warn("feed broadcast failed", "kind", ev.Kind, "op", ev.Op, "error", err)
		}
	})
}

// Clients returns the number of open connections.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many connections were closed for being too slow.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*hubClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}
