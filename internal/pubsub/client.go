package pubsub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type client struct {
	ws       *websocket.Conn
	remote   string
	settings Settings
	send     chan []byte
	done     chan struct{}

	mu     sync.Mutex
	topics map[string]bool
	closed bool
}

func newClient(ws *websocket.Conn, remote string, settings Settings) *client {
	return &client{
		ws:       ws,
		remote:   remote,
		settings: settings,
		send:     make(chan []byte, settings.SendBuffer),
		done:     make(chan struct{}),
		topics:   make(map[string]bool),
	}
}

func (c *client) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = true
}

func (c *client) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topic)
}

func (c *client) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

// enqueue queues msg for the write loop. It reports false when the buffer
// is full.
func (c *client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.ws.Close()
}

func (c *client) writeLoop() {
	ping := time.NewTicker(c.settings.PingTimeout)
	defer ping.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				// a websocket write deadline cannot be recovered
				slog.Debug("websocket write failed", "remote", c.remote, "error", err)
				c.close()
				return
			}
		case <-ping.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) readLoop(receive func(*client, Envelope)) {
	c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	})
	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		if messageType != websocket.TextMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			slog.Debug("bad envelope", "remote", c.remote, "error", err)
			continue
		}
		receive(c, env)
	}
}
