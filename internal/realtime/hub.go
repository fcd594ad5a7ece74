// Package realtime fans conversation events out to connected clients over
// WebSocket.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	sendBuffer = 32
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks live connections per recipient id. A recipient may hold several
// connections (multiple devices); Publish fans out to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	logger  *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		logger:  log.With(slog.String("service", "realtime")),
	}
}

// Publish sends event to every live connection of recipientID. Slow clients
// are disconnected instead of blocking the caller.
func (h *Hub) Publish(recipientID string, event any) {
	raw, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal realtime event", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[recipientID]))
	for c := range h.clients[recipientID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.send <- raw:
		default:
			h.logger.Warn("dropping slow realtime client",
				slog.String("recipient", recipientID))
			h.detach(recipientID, c)
		}
	}
}

// Connected reports whether recipientID has at least one live connection.
func (h *Hub) Connected(recipientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[recipientID]) > 0
}

// Serve registers the connection under recipientID and blocks until it
// closes. The hub owns the connection from this point on.
func (h *Hub) Serve(conn *websocket.Conn, recipientID string) {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.clients[recipientID] == nil {
		h.clients[recipientID] = make(map[*client]struct{})
	}
	h.clients[recipientID][c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(recipientID, c)
	h.readPump(recipientID, c)
}

func (h *Hub) detach(recipientID string, c *client) {
	h.mu.Lock()
	if set, ok := h.clients[recipientID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.clients, recipientID)
			}
		}
	}
	h.mu.Unlock()
}

// readPump keeps the connection's control frames flowing. Clients do not
// send data frames; inbound agent traffic goes through the HTTP API.
func (h *Hub) readPump(recipientID string, c *client) {
	defer func() {
		h.detach(recipientID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 16)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(recipientID string, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
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
