// Package realtime broadcasts server events to WebSocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
	sendBuffer     = 64
)

// Event is the payload broadcast to subscribers.
type Event struct {
	Channel string      `json:"channel"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	TS      time.Time   `json:"ts"`
}

// clientCommand is what subscribers send: subscribe/unsubscribe to channels.
type clientCommand struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan Event
	mu       sync.RWMutex
	channels map[string]struct{}
}

func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// Hub tracks connected clients and fans events out to them. Slow clients
// whose send buffer fills are disconnected rather than blocking the
// publisher.
type Hub struct {
	log      *logging.Logger
	stats    *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. Origin checking is delegated to the CORS layer; the
// JWT middleware guards the upgrade endpoint.
func NewHub(log *logging.Logger, stats *metrics.Metrics) *Hub {
	if log == nil {
		log = logging.NewDefault("realtime")
	}
	return &Hub{
		log:   log,
		stats: stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Name implements system.Service.
func (h *Hub) Name() string { return "realtime-hub" }

// Start implements system.Service; the hub has no background loop of its own.
func (h *Hub) Start(context.Context) error { return nil }

// Stop disconnects all clients.
func (h *Hub) Stop(context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
	return nil
}

// Publish broadcasts an event to every client subscribed to the channel.
func (h *Hub) Publish(channel, event string, payload interface{}) {
	ev := Event{Channel: channel, Event: event, Payload: payload, TS: time.Now().UTC()}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		if !h.remove(c) {
			continue
		}
		h.log.Warn("dropping slow websocket client")
		close(c.send)
	}
}

// ServeHTTP upgrades the request and runs the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan Event, sendBuffer),
		channels: make(map[string]struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if h.stats != nil {
		h.stats.WSClientConnected(1)
	}

	go c.writePump()
	go c.readPump()
}

// remove deletes the client and reports whether this caller performed the
// removal. Only the caller that removed the client may close its send
// channel.
func (h *Hub) remove(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	return true
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		if c.hub.stats != nil {
			c.hub.stats.WSClientConnected(-1)
		}
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		if cmd.Channel == "" {
			continue
		}
		c.mu.Lock()
		switch cmd.Action {
		case "subscribe":
			c.channels[cmd.Channel] = struct{}{}
		case "unsubscribe":
			delete(c.channels, cmd.Channel)
		}
		c.mu.Unlock()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
