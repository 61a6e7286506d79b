package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
	"github.com/mtr002/tenant-jobs/internal/logger"
)

// Hub tracks the open connections of every user and routes events to the
// connections of the event's user.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	events     chan interfaces.Event
	done       chan struct{}

	mu      sync.RWMutex
	clients map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan interfaces.Event, 256),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*Client]bool),
	}
}

// Run serves the hub until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*Client]bool)
			}
			h.clients[c.userID][c] = true
			h.mu.Unlock()
			logger.Logger.Debug().Str("user_id", c.userID).Msg("WebSocket client registered")

		case c := <-h.unregister:
			h.remove(c)

		case e := <-h.events:
			h.deliver(e)
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.userID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

func (h *Hub) deliver(e interfaces.Event) {
	message, err := json.Marshal(e)
	if err != nil {
		logger.Logger.Error().Err(err).Str("type", e.Type).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.clients[e.UserID] {
		select {
		case c.send <- message:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		logger.Logger.Warn().Str("user_id", c.userID).Msg("Dropping slow WebSocket client")
		h.remove(c)
	}
}

// Send queues an event for delivery. Events for users without a connection
// are discarded.
func (h *Hub) Send(e interfaces.Event) {
	select {
	case h.events <- e:
	case <-h.done:
	}
}

// PublishEvent lets the hub serve as the event publisher when API and
// worker share a process.
func (h *Hub) PublishEvent(_ context.Context, e interfaces.Event) error {
	h.Send(e)
	return nil
}

// Connections returns how many connections userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
