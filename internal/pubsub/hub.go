// Package pubsub is the publish/subscribe channel between documents and
// players, carried over websockets.
//
// A client sends JSON envelopes:
//
//	{"type":"subscribe","topic":"events/<document>"}
//	{"type":"unsubscribe","topic":"events/<document>"}
//	{"type":"publish","topic":"state/<document>","payload":{...}}
//
// and receives {"type":"message","topic":...,"payload":...} for every
// publish on a topic it subscribed to. Publishes on state/<document> are
// also queued on the Inbox as playback state reports.
package pubsub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/stagehand/internal/events"
)

// Envelope types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePublish     = "publish"
	TypeMessage     = "message"
)

// StatePrefix starts the topics players report playback state on.
const StatePrefix = "state/"

// Envelope is one websocket message.
type Envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Settings tunes connection handling.
type Settings struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingTimeout  time.Duration
	SendBuffer   int
}

// DefaultSettings returns the settings used by NewHub.
func DefaultSettings() Settings {
	return Settings{
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingTimeout:  20 * time.Second,
		SendBuffer:   64,
	}
}

// Hub fans published messages out to subscribed websocket clients.
//
// Thread-safety: all methods are safe for concurrent use.
type Hub struct {
	settings Settings
	inbox    *Inbox
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub that queues state reports on inbox (nil to ignore
// them).
func NewHub(inbox *Inbox, settings Settings) *Hub {
	return &Hub{
		settings: settings,
		inbox:    inbox,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish sends payload to every subscriber of topic. Slow subscribers whose
// buffer is full are disconnected.
func (h *Hub) Publish(topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	msg, err := json.Marshal(Envelope{Type: TypeMessage, Topic: topic, Payload: raw})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", topic, err)
	}
	h.fanOut(topic, msg, nil)
	return nil
}

func (h *Hub) fanOut(topic string, msg []byte, from *client) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c != from && c.subscribed(topic) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(msg) {
			slog.Warn("dropping slow subscriber", "topic", topic, "remote", c.remote)
			h.remove(c)
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and serves it until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newClient(ws, r.RemoteAddr, h.settings)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Debug("subscriber connected", "remote", c.remote)

	go c.writeLoop()
	c.readLoop(h.receive)
	h.remove(c)
	slog.Debug("subscriber disconnected", "remote", c.remote)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (h *Hub) receive(c *client, env Envelope) {
	switch env.Type {
	case TypeSubscribe:
		c.subscribe(env.Topic)
	case TypeUnsubscribe:
		c.unsubscribe(env.Topic)
	case TypePublish:
		if strings.HasPrefix(env.Topic, StatePrefix) && h.inbox != nil {
			var states map[string]events.ElementState
			if err := json.Unmarshal(env.Payload, &states); err != nil {
				slog.Warn("bad state report", "topic", env.Topic, "remote", c.remote, "error", err)
				return
			}
			h.inbox.Enqueue(StateUpdate{Document: strings.TrimPrefix(env.Topic, StatePrefix), States: states})
		}
		msg, err := json.Marshal(Envelope{Type: TypeMessage, Topic: env.Topic, Payload: env.Payload})
		if err != nil {
			return
		}
		h.fanOut(env.Topic, msg, c)
	default:
		slog.Debug("unknown envelope type", "type", env.Type, "remote", c.remote)
	}
}
