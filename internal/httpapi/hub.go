package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nvandessel/sweepsim/internal/logging"
)

// Event types pushed to websocket clients.
const (
	EventProgress  = "progress"
	EventCompleted = "completed"
)

const (
	sendBuffer = 256
	writeWait  = 10 * time.Second
	readLimit  = 512
)

// Event is the envelope of every websocket message.
type Event struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

// Hub fans events out to connected websocket clients. Slow clients whose
// buffer fills up are dropped.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]bool
	count      atomic.Int64

	quit      chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns a hub. Run must be started before clients connect.
// An empty origins list only accepts same-origin upgrades.
func NewHub(origins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		clients:    make(map[*client]bool),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logging.OrDiscard(logger),
	}
	if len(origins) > 0 {
		allowed := slices.Clone(origins)
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
		}
	}
	return h
}

// Run processes registrations and broadcasts until Close.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.count.Store(int64(len(h.clients)))
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Debug("dropping slow websocket client", "remote", c.conn.RemoteAddr())
					h.drop(c)
				}
			}
		case <-h.quit:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.count.Store(int64(len(h.clients)))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
	<-h.done
}

// Broadcast queues ev for every client. It never blocks: when the queue is
// full or the hub is closed the event is dropped.
func (h *Hub) Broadcast(eventType string, payload any) {
	b, err := json.Marshal(Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		h.logger.Warn("failed to encode websocket event", "type", eventType, "error", err)
		return
	}
	select {
	case <-h.quit:
	case h.broadcast <- b:
	default:
		h.logger.Debug("websocket broadcast queue full, dropping event", "type", eventType)
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.quit:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// writePump drains send until the hub closes it.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.leave()
			// Keep draining so the hub never sees a full buffer on a dead client.
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards client messages and notices disconnects.
func (c *client) readPump() {
	defer c.leave()
	c.conn.SetReadLimit(readLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.quit:
	}
}
