// Package v1 defines the PixelPact realtime protocol v1.
//
// It is shared by the server relay and the smoke client so the wire format has one source.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol negotiated for this version.
const Subprotocol = "pixelpact.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello asks the server for the current peer list (client -> server).
	TypeHello = "hello"
	// TypeHelloAck answers hello with the caller's identity and peers (server -> client).
	TypeHelloAck = "hello_ack"

	// TypePresence is a full snapshot of the peers in a room (server -> room).
	TypePresence = "presence"

	// TypeDraw carries an opaque stroke payload (client -> server -> other peers).
	TypeDraw = "draw"
	// TypeClear asks other peers to clear the board (client -> server -> other peers).
	TypeClear = "clear"

	TypePeerJoined = "peer_joined"
	TypePeerLeft   = "peer_left"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Room    string          `json:"room,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypePresence,
		TypeDraw,
		TypeClear,
		TypePeerJoined,
		TypePeerLeft,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ClientSendable reports whether a client may send envelopes of type typ.
func ClientSendable(typ string) bool {
	switch typ {
	case TypeHello, TypeDraw, TypeClear:
		return true
	default:
		return false
	}
}
