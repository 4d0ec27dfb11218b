package v1

// HelloPayload is sent by the client after connecting. It carries nothing.
type HelloPayload struct{}

// HelloAckPayload identifies the connection and lists the room's peers.
type HelloAckPayload struct {
	PeerID    string   `json:"peer_id"`
	SessionID string   `json:"session_id"`
	Room      string   `json:"room"`
	Role      string   `json:"role"`
	Peers     []string `json:"peers"`
}

// PresencePayload is a snapshot of peer ids connected to a room.
type PresencePayload struct {
	Room  string   `json:"room"`
	Peers []string `json:"peers"`
}

// PeerPayload names the peer a peer_joined or peer_left event is about.
type PeerPayload struct {
	PeerID string `json:"peer_id"`
}

// ClearPayload is relayed on clear; the server fills in Room.
type ClearPayload struct {
	Room string `json:"room"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
