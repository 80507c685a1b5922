package wshub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"relaystack.local/relay-gateway/internal/event"
)

const writeTimeout = 5 * time.Second

// Hub is a telemetry subscriber that fans envelopes out to attached
// websocket clients. Slow clients are dropped rather than buffered
// indefinitely.
type Hub struct {
	logger *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan event.Envelope
}

func New(logger *log.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Name() string {
	return "wshub"
}

func (h *Hub) Handle(_ context.Context, env event.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			h.logger.Printf("wshub client lagging, dropping connection")
			delete(h.clients, c)
			close(c.send)
		}
	}
	return nil
}

// Attach takes ownership of an upgraded connection and streams telemetry
// to it until the peer goes away.
func (h *Hub) Attach(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan event.Envelope, 64)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for env := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(env); err != nil {
			h.detach(c)
			return
		}
	}
}

func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.detach(c)
			return
		}
	}
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
