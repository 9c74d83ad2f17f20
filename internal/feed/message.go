// Package feed carries mutation notices between processes over a
// websocket, so a change committed by one client invalidates the models of
// every other client.
//
// The server side is a Hub that broadcasts a Message for every committed
// mutation. The client side is a Listener that turns each Message into a
// bus.Event on the local Mutation Bus, skipping messages that originate
// from its own client.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/marksync/internal/bus"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/gateway"
)

// Message is the wire form of a committed mutation.
type Message struct {
	Kind    entity.Kind     `json:"kind"`
	Op      entity.Op       `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin,omitempty"`
}

// FromCommit converts a backend commit into a Message.
func FromCommit(c gateway.Commit) Message {
	return Message{Kind: c.Kind, Op: c.Op, Payload: c.Payload, Origin: c.Origin}
}

// FromEvent converts a bus event into a Message.
func FromEvent(ev bus.Event) Message {
	return Message{Kind: ev.Kind, Op: ev.Op, Payload: ev.Payload, Origin: ev.Origin}
}

// Event converts m into an undispatched bus event.
func (m Message) Event() bus.Event {
	return bus.Event{Kind: m.Kind, Op: m.Op, Payload: m.Payload, Origin: m.Origin}
}

// Validate reports whether m names a known kind and op.
func (m Message) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("feed: unknown kind %q", m.Kind)
	}
	if !m.Op.Valid() {
		return fmt.Errorf("feed: unknown op %q", m.Op)
	}
	return nil
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("feed: decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Settings are the connection timings shared by Hub and Listener.
type Settings struct {
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	ReconnectTimeout time.Duration
	SendBuffer       int
}

// DefaultSettings returns the timings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     15 * time.Second,
		ReconnectTimeout: 2 * time.Second,
		SendBuffer:       64,
	}
}
