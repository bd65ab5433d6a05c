// Package stream pushes lifecycle events to websocket subscribers.
//
// Clients connect to the hub's handler and receive every event as one JSON
// text frame holding an events.Message. A resource query parameter limits a
// client to the events of that resource.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/conduit-lang/cloner/internal/events"
)

// broadcastBuffer is the number of events queued ahead of the hub loop
const broadcastBuffer = 256

// Hub tracks connected clients and broadcasts events to them
type Hub struct {
	clients   map[*client]bool
	clientsMu sync.RWMutex

	register   chan *client
	unregister chan *client
	broadcast  chan events.Message

	upgrader websocket.Upgrader
	logger   *zap.Logger

	done chan struct{}
}

// Option configures a Hub
type Option func(*Hub)

// WithLogger sets the hub logger
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithCheckOrigin replaces the upgrader's origin check; the default accepts
// same-origin requests only
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = check
	}
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan events.Message, broadcastBuffer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub loop. It returns when ctx is done, after closing every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.clientsMu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.clientsMu.Unlock()
			return

		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c] = true
			h.clientsMu.Unlock()
			h.logger.Debug("stream client connected",
				zap.String("client", c.id),
				zap.String("resource", c.resource))

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.clientsMu.Unlock()
			h.logger.Debug("stream client disconnected", zap.String("client", c.id))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg events.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode stream message", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		if c.resource != "" && c.resource != msg.Resource {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping stream message for slow client",
				zap.String("client", c.id),
				zap.String("event", msg.Event))
		}
	}
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Listener returns the hub as an event listener
func (h *Hub) Listener() events.Listener {
	return h.Forward
}

// Forward queues ev for broadcast. It blocks while the broadcast buffer is
// full and gives up when ctx is done or the hub has stopped.
func (h *Hub) Forward(ctx context.Context, ev events.Event) error {
	select {
	case h.broadcast <- events.NewMessage(ev):
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the request to a websocket subscription
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(uuid.NewString(), conn, h, r.URL.Query().Get("resource"))
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
