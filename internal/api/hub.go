package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"loadout/internal/logging"
)

// Hub fans daemon events out to connected websocket clients. Registration,
// removal, and broadcast all go through the run loop; the mutex only guards
// the map for read-side queries.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	logger     *slog.Logger
	now        func() time.Time
}

// NewHub builds an event hub. Run must be started before clients connect.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 32),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logging.NewComponentLogger(logger, "hub"),
		now:        time.Now,
	}
}

// Run processes registrations and broadcasts until ctx is done. On exit every
// client connection is closed.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", logging.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", logging.Int("total", total))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Debug("websocket write failed, dropping client", logging.Error(err))
					delete(h.clients, client)
					_ = client.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(client *websocket.Conn) {
	h.register <- client
}

// Unregister removes a connection and closes it.
func (h *Hub) Unregister(client *websocket.Conn) {
	h.unregister <- client
}

// Broadcast queues a raw message for every connected client. The message is
// dropped when the broadcast buffer is full; event consumers are advisory,
// never load-bearing.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Debug("broadcast buffer full, event dropped")
	}
}

// Publish wraps a payload in an Event envelope and broadcasts it.
func (h *Hub) Publish(eventType string, payload any) {
	raw, err := json.Marshal(Event{
		Type:      eventType,
		Timestamp: h.now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to encode event", logging.String("type", eventType), logging.Error(err))
		return
	}
	h.Broadcast(raw)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		_ = client.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}
