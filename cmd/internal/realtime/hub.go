package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns the live rooms. A room exists while at least one peer is connected;
// nothing about it outlives the last peer.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Join adds client to its room, creating the room on first join. It returns
// the room and the peer snapshot after the join.
func (h *Hub) Join(client *Client) (*Room, []string) {
	h.mu.Lock()
	r, ok := h.rooms[client.Room]
	if !ok {
		r = newRoom(h.log, client.Room)
		h.rooms[client.Room] = r
	}
	// Joining under h.mu keeps Leave from dropping a room someone is entering.
	peers := r.join(client)
	h.mu.Unlock()
	return r, peers
}

// Leave removes client from its room and signals the client to stop. Empty
// rooms are forgotten.
func (h *Hub) Leave(client *Client) (peers []string, removed bool) {
	if client == nil {
		return nil, false
	}

	h.mu.Lock()
	r, ok := h.rooms[client.Room]
	if ok {
		peers, removed = r.leave(client.PeerID)
		if len(peers) == 0 {
			delete(h.rooms, client.Room)
		}
	}
	h.mu.Unlock()

	client.Close()
	return peers, removed
}

// Room returns the live room with id, or nil.
func (h *Hub) Room(id string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[id]
}

// RoomCount returns the number of rooms with at least one peer.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Close signals every connected client to stop. Connections unwind through
// their own Leave.
func (h *Hub) Close() {
	h.mu.Lock()
	var clients []*Client
	for _, r := range h.rooms {
		r.mu.RLock()
		for _, c := range r.members {
			clients = append(clients, c)
		}
		r.mu.RUnlock()
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	if len(clients) > 0 {
		h.log.Info("ws.hub.close", "clients", len(clients))
	}
}
