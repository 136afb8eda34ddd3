package realtime

import "sync"

const defaultSendQueue = 16

// Client is the in-process side of one websocket. Frames queued on Send
// are written by the gateway's writer goroutine.
//
// Send is never closed; done signals shutdown.
type Client struct {
	ID     string
	UserID string
	Send   chan Frame

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient builds a client with a bounded send queue.
func NewClient(id, userID string, sendQueue int) *Client {
	if sendQueue <= 0 {
		sendQueue = defaultSendQueue
	}
	return &Client{
		ID:     id,
		UserID: userID,
		Send:   make(chan Frame, sendQueue),
		done:   make(chan struct{}),
	}
}

// Done is closed once the client shuts down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Enqueue queues f without blocking. It fails when the client is closed
// or its queue is full.
func (c *Client) Enqueue(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case <-c.done:
		return false
	case c.Send <- f:
		return true
	default:
		return false
	}
}

// Hub maps connection ids to the clients served by this process.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
}

// Remove drops id and returns the client it held, if any.
func (h *Hub) Remove(id string) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	return c, ok
}

func (h *Hub) Get(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
