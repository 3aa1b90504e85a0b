package hub

import (
	"context"
	"log/slog"
	"sync"
)

// Hub keeps the set of connected clients and broadcasts to them. Only the
// Run goroutine touches the client map; other goroutines talk to it over
// channels.
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	count   int
	latest  map[string]Message
	running bool
}

// New creates a hub. name tags its log lines.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		latest:     make(map[string]Message),
	}
}

// Run serves register, unregister and broadcast requests until ctx is
// done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount()
			for _, msg := range h.snapshot() {
				c.send <- msg
			}
			h.logger.Debug("client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("client disconnected", "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.drop(c)
					h.logger.Warn("dropped slow client")
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// snapshot returns the retained messages in a stable order.
func (h *Hub) snapshot() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, 0, len(h.latest))
	for _, k := range retainOrder {
		if m, ok := h.latest[k]; ok {
			out = append(out, m)
		}
	}
	return out
}

// retainOrder lists the kinds replayed to new clients.
var retainOrder = []string{KindState, KindConfirmation}

// Kinds published to clients.
const (
	KindState        = "state"
	KindLevel        = "level"
	KindConfirmation = "confirmation"
	KindNavigate     = "navigate"
	KindTodos        = "todos"
)

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// Publish encodes payload under kind and broadcasts it. Kinds listed in
// retainOrder are also kept so clients that connect later receive the most
// recent value first.
func (h *Hub) Publish(kind string, payload any) error {
	msg, err := Encode(kind, payload)
	if err != nil {
		return err
	}
	for _, k := range retainOrder {
		if k == kind {
			h.mu.Lock()
			h.latest[kind] = msg
			h.mu.Unlock()
			break
		}
	}
	h.Broadcast(msg)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
