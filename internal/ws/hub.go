package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"presence-service/internal/models"
	"presence-service/internal/observability"
)

// Hub maintains the room membership tables shared by every connection
// goroutine. Rooms are named broadcast groups: "user:<id>" personal rooms and
// "conversation:<id>" conversation rooms, but the hub itself attaches no
// meaning to the names.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]bool
	members map[*Client]map[string]bool
	clients map[*Client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]bool),
		members: make(map[*Client]map[string]bool),
		clients: make(map[*Client]bool),
	}
}

// Add registers a connection with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

// Remove drops a connection and leaves every room it joined. Called
// synchronously from the connection's teardown so no later broadcast can
// target a dead connection.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.members[c] {
		h.leaveLocked(c, room)
	}
	delete(h.members, c)
	delete(h.clients, c)
}

// Join subscribes a connection to a room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	if _, ok := h.members[c]; !ok {
		h.members[c] = make(map[string]bool)
	}
	h.members[c][room] = true
}

// Leave unsubscribes a connection from a room. Unknown rooms are a no-op.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
	if rooms, ok := h.members[c]; ok {
		delete(rooms, room)
	}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if conns, ok := h.rooms[room]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast sends an event to every connection in a room. An empty room is a
// no-op, not an error. The send is buffered per connection and dropped when
// the buffer is full so one stalled client cannot stall fanout to others.
func (h *Hub) Broadcast(room string, event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("ws: marshal broadcast")
		return
	}

	h.mu.RLock()
	conns := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.trySend(payload)
	}
}

// BroadcastRoomExcept is Broadcast minus one connection, used for ephemeral
// echo suppression (typing indicators).
func (h *Hub) BroadcastRoomExcept(room string, event models.Event, exclude *Client) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("ws: marshal broadcast")
		return
	}

	h.mu.RLock()
	conns := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != exclude {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.trySend(payload)
	}
}

// BroadcastAll sends an event to every connection except the excluded one.
// Used for presence transitions, which every client renders.
func (h *Hub) BroadcastAll(event models.Event, exclude *Client) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("ws: marshal broadcast")
		return
	}

	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c != exclude {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.trySend(payload)
	}
}

// RoomSize reports the number of connections in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// trySend enqueues a frame for the client's write pump without blocking.
func (c *Client) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
		observability.IncBroadcastDrop()
		log.Warn().Str("conn_id", c.connID).Str("stable_id", c.stableID).Msg("ws: send buffer full, frame dropped")
	}
}
