// Package wshub carries the realtime protocol over WebSocket connections.
package wshub

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"tinysync/internal/broadcast"
)

// maxPacketSize bounds a single inbound packet.
const maxPacketSize = 64 << 10

// Handler receives every inbound packet and the end of every connection.
// HandlePacket is called from the connection's read loop, one packet at a
// time.
type Handler interface {
	HandlePacket(conn broadcast.Sender, data []byte)
	HandleDisconnect(conn broadcast.Sender)
}

type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened() {}
func (nopMetrics) ConnectionClosed() {}

// Client represents a single WebSocket connection in the hub.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(conn *websocket.Conn, sendBuffer int) *Client {
	return &Client{
		ID:     uuid.NewString(),
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

// Deliver queues data for the write pump. Unreliable packets are dropped
// when the queue is full; a full queue for a reliable packet closes the
// connection because ordering can no longer be kept.
func (c *Client) Deliver(data []byte, mode broadcast.Delivery) bool {
	if c.Closed() {
		return false
	}

	select {
	case c.Send <- data:
		return true
	default:
	}

	if mode == broadcast.ReliableOrdered {
		log.Printf("[WSHub] client=%s send queue full, closing\n", c.ID)
		c.Close()
	}
	return false
}

// Close marks the client closed. The write pump closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Client) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	defer c.Conn.Close(websocket.StatusGoingAway, "connection closed")
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case msg := <-c.Send:
			if err := c.Conn.Write(ctx, websocket.MessageBinary, msg); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Hub accepts realtime connections and tracks the open ones.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	key        string
	sendBuffer int
	handler    Handler
	metrics    Metrics
}

// NewHub creates a hub that only accepts clients presenting key.
func NewHub(key string, sendBuffer int, handler Handler, metrics Metrics) *Hub {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	return &Hub{
		clients:    make(map[string]*Client),
		key:        key,
		sendBuffer: sendBuffer,
		handler:    handler,
		metrics:    metrics,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister removes a client and closes it.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	if ok {
		c.Close()
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes every open client.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.Close()
	}
}

func (h *Hub) authorized(r *http.Request) bool {
	key := r.URL.Query().Get("key")
	if key == "" {
		key = r.Header.Get("X-Connection-Key")
	}
	return key == h.key
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		log.Printf("[WSHub] rejected %s: bad connection key\n", r.RemoteAddr)
		http.Error(w, "invalid connection key", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("[WSHub] accept error: %v\n", err)
		return
	}
	conn.SetReadLimit(maxPacketSize)

	c := NewClient(conn, h.sendBuffer)
	h.Register(c)
	h.metrics.ConnectionOpened()
	log.Printf("[WSHub] client=%s connected from %s\n", c.ID, r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	go c.WritePump(ctx)

	h.readLoop(ctx, c)

	cancel()
	h.Unregister(c.ID)
	h.handler.HandleDisconnect(c)
	h.metrics.ConnectionClosed()
	log.Printf("[WSHub] client=%s disconnected\n", c.ID)
}

func (h *Hub) readLoop(ctx context.Context, c *Client) {
	go func() {
		select {
		case <-c.closed:
			c.Conn.CloseNow()
		case <-ctx.Done():
		}
	}()

	for {
		typ, data, err := c.Conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			log.Printf("[WSHub] client=%s ignoring text message\n", c.ID)
			continue
		}
		h.handler.HandlePacket(c, data)
	}
}
