package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

// Client is one dashboard connection. An empty filter receives every
// instance.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	filter map[string]struct{}

	// drained by WritePump, closed by the hub
	send chan []byte
}

type frame struct {
	instanceID string
	payload    []byte
}

// Hub keeps the active clients and fans events out to them.
type Hub struct {
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan frame
	quit       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan frame, sendBuffer),
		quit:       make(chan struct{}),
	}
}

// Run must be started in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()

		case f := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(f.instanceID) {
					continue
				}
				select {
				case client.send <- f.payload:
				default:
					zap.L().Debug("ws: slow client dropped")
					h.drop(client)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// drop must be called with mu held.
func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Stop ends Run and closes every client. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements RealtimePublisher. The event is encoded once and
// never blocks the caller; a full broadcast buffer drops it.
func (h *Hub) Publish(event WsEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		zap.L().Warn("ws: failed to marshal event", zap.String("event", event.Event), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- frame{instanceID: event.instanceID(), payload: payload}:
	default:
		zap.L().Warn("ws: broadcast buffer full, event dropped", zap.String("event", event.Event))
	}
}

// RealtimePublisher is what the session layer holds instead of the Hub.
type RealtimePublisher interface {
	Publish(event WsEvent)
}

// NewClient wraps conn. Passing instance ids limits the client to
// events of those instances.
func NewClient(hub *Hub, conn *websocket.Conn, instanceIDs ...string) *Client {
	c := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if len(instanceIDs) > 0 {
		c.filter = make(map[string]struct{}, len(instanceIDs))
		for _, id := range instanceIDs {
			c.filter[id] = struct{}{}
		}
	}
	return c
}

func (c *Client) wants(instanceID string) bool {
	if c.filter == nil || instanceID == "" {
		return true
	}
	_, ok := c.filter[instanceID]
	return ok
}

// WritePump sends queued events and keepalive pings until the hub closes
// the client or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				zap.L().Debug("ws: failed to write message", zap.Error(err))
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

// ReadPump discards client input and notices when the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			zap.L().Debug("ws read closed", zap.Error(err))
			return
		}
	}
}
