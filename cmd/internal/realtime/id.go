package realtime

import (
	"time"

	"pixelpact/cmd/identity/ids"
)

// NewPeerID returns a ULID identifying one websocket connection.
// A session may hold several connections, so peers are not keyed by session.
func NewPeerID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
