package realtime

import (
	"sync"

	v1 "pixelpact/contracts/realtime/v1"
)

// Client is one connected websocket peer.
//
// Send is never closed by the server so concurrent broadcasters cannot panic;
// done signals shutdown instead. Close is idempotent.
type Client struct {
	PeerID    string
	SessionID string
	Room      string
	Role      string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(peerID, sessionID, room, role string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		PeerID:    peerID,
		SessionID: sessionID,
		Room:      room,
		Role:      role,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer enqueues env without blocking. It reports false when the queue is
// full or the client is shutting down.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
