// Package preview streams session updates to preview clients over
// websockets. The hub keeps the latest update so a client that connects
// mid-session draws the current frame straight away.
package preview

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibedstudio/studio-agent/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
	broadcastQueue = 64
)

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast messages out to every connected client. A client too
// slow to keep up is dropped rather than allowed to stall the session.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	running    atomic.Bool
	count      atomic.Int32

	mu     sync.Mutex
	latest []byte
}

// NewHub creates a hub. allowOrigin decides browser origins; nil accepts
// loopback origins only. Requests without an Origin header are accepted.
func NewHub(logger *slog.Logger, allowOrigin func(origin string) bool) *Hub {
	if allowOrigin == nil {
		allowOrigin = LoopbackOrigin
	}
	h := &Hub{
		logger:     logging.WithComponent(logging.OrDiscard(logger), "preview"),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastQueue),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowOrigin(origin)
		},
	}
	return h
}

// LoopbackOrigin accepts http(s) origins on localhost or a loopback address.
func LoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client. It returns nil on cancellation so it composes with errgroup.
func (h *Hub) Run(ctx context.Context) error {
	if h.running.Swap(true) {
		return nil
	}
	defer close(h.done)

	clients := make(map[*client]bool)
	drop := func(c *client) {
		if clients[c] {
			delete(clients, c)
			close(c.send)
			h.count.Add(-1)
		}
	}

	h.logger.Info("preview hub started")
	for {
		select {
		case <-ctx.Done():
			for c := range clients {
				drop(c)
			}
			h.logger.Info("preview hub stopped")
			return nil
		case c := <-h.register:
			clients[c] = true
			h.count.Add(1)
			h.logger.Debug("preview client connected", "remote", c.conn.RemoteAddr().String(), "clients", len(clients))
		case c := <-h.unregister:
			drop(c)
		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("preview client too slow, dropping", "remote", c.conn.RemoteAddr().String())
					drop(c)
				}
			}
		}
	}
}

// Broadcast encodes v and queues it for every client. It never blocks; when
// the queue is full the message is skipped, and the next one supersedes it.
func (h *Hub) Broadcast(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode preview update", "error", err)
		return
	}
	h.mu.Lock()
	h.latest = msg
	h.mu.Unlock()

	select {
	case h.broadcast <- msg:
	default:
	}
}

// Latest returns the most recent broadcast message.
func (h *Hub) Latest() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "preview hub stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("preview upgrade failed", "error", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	if latest := h.Latest(); latest != nil {
		c.send <- latest
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump discards incoming messages and notices disconnects.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
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
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
