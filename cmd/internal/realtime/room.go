package realtime

import (
	"log/slog"
	"sort"
	"sync"

	v1 "pixelpact/contracts/realtime/v1"
)

// Room is the in-memory membership of one board plus its broadcast fanout.
//
// Join/Leave are safe under concurrent Broadcast. Broadcast never blocks: a
// member whose queue is full misses the envelope.
type Room struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

func newRoom(log *slog.Logger, id string) *Room {
	return &Room{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// join adds client and returns the peer snapshot including it.
func (r *Room) join(client *Client) []string {
	r.mu.Lock()
	r.members[client.PeerID] = client
	peers := r.peersLocked()
	r.mu.Unlock()

	r.log.Info("room.member.join", "room", r.ID, "peer_id", client.PeerID, "session_id", client.SessionID)
	return peers
}

// leave removes peerID and returns the remaining peers.
func (r *Room) leave(peerID string) (peers []string, removed bool) {
	r.mu.Lock()
	_, removed = r.members[peerID]
	delete(r.members, peerID)
	peers = r.peersLocked()
	r.mu.Unlock()

	if removed {
		r.log.Info("room.member.leave", "room", r.ID, "peer_id", peerID)
	}
	return peers, removed
}

// Peers returns the sorted peer ids currently in the room.
func (r *Room) Peers() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peersLocked()
}

func (r *Room) peersLocked() []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of connected peers.
func (r *Room) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans env out to every member except exceptPeerID and returns how
// many members missed it.
func (r *Room) Broadcast(env v1.Envelope, exceptPeerID string) (dropped int) {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, m := range r.members {
		if m == nil || id == exceptPeerID {
			continue
		}
		if !m.offer(env) {
			dropped++
		}
	}
	return dropped
}
