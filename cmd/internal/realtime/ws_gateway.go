package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"pixelpact/cmd/internal/auth/session"
	v1 "pixelpact/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
)

// SessionAuthenticator resolves the session credential presented on the
// upgrade request, normally the session cookie.
type SessionAuthenticator interface {
	SessionFromRequest(r *http.Request) (session.Claims, bool)
}

// WSGateway is the websocket entrypoint of the board relay.
//
// A connection is admitted only with a valid session and joins that session's
// room. Draw and clear envelopes are fanned out to the other peers of the room
// on a best-effort basis: no ordering, no replay, no persistence.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	sessions SessionAuthenticator
	metrics  *Metrics
	now      func() time.Time

	cfg            Config
	originPatterns []string
}

// GatewayOption configures a WSGateway.
type GatewayOption func(*WSGateway)

// WithMetrics records connection and relay counters on m.
func WithMetrics(m *Metrics) GatewayOption {
	return func(g *WSGateway) { g.metrics = m }
}

// WithClock injects the time source used for session expiry and envelope timestamps.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *WSGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewWSGateway constructs a gateway.
func NewWSGateway(log *slog.Logger, hub *Hub, sessions SessionAuthenticator, cfg Config, opts ...GatewayOption) (*WSGateway, error) {
	if sessions == nil {
		return nil, errors.New("realtime: session authenticator is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}

	cfg = cfg.normalized()
	g := &WSGateway{
		log:            log,
		hub:            hub,
		sessions:       sessions,
		now:            time.Now,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Hub returns the gateway's hub.
func (g *WSGateway) Hub() *Hub { return g.hub }

// ServeHTTP upgrades the request and runs the connection until either side closes.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.metrics.observeReject("origin")
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	claims, ok := g.sessions.SessionFromRequest(r)
	if !ok {
		g.metrics.observeReject("unauthorized")
		g.log.Info("ws.reject.unauthorized", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	peerID, err := NewPeerID(g.now().UTC())
	if err != nil {
		g.log.Error("ws.peer_id.fail", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.metrics.observeReject("subprotocol")
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusPolicyViolation, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)
	g.serve(r.Context(), conn, claims, peerID)
}

func (g *WSGateway) serve(parent context.Context, conn *websocket.Conn, claims session.Claims, peerID string) {
	client := NewClient(peerID, claims.SessionID, claims.Room, string(claims.Role), g.cfg.SendQueueSize)
	room, peers := g.hub.Join(client)

	g.metrics.connOpened()
	defer g.metrics.connClosed()

	log := g.log.With("peer_id", peerID, "session_id", claims.SessionID, "room", claims.Room)
	log.Info("ws.connect", "role", claims.Role, "peers", len(peers))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			remaining, removed := g.hub.Leave(client)
			if removed {
				now := g.now().UTC()
				room.Broadcast(g.envelope(v1.TypePeerLeft, room.ID, v1.PeerPayload{PeerID: peerID}, now), peerID)
				room.Broadcast(g.envelope(v1.TypePresence, room.ID, v1.PresencePayload{Room: room.ID, Peers: remaining}, now), peerID)
			}
			_ = conn.Close(code, reason)
			cancel()
			log.Info("ws.disconnect", "code", code, "reason", reason)
		})
	}

	now := g.now().UTC()
	room.Broadcast(g.envelope(v1.TypePeerJoined, room.ID, v1.PeerPayload{PeerID: peerID}, now), peerID)
	room.Broadcast(g.envelope(v1.TypePresence, room.ID, v1.PresencePayload{Room: room.ID, Peers: peers}, now), "")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				shutdown(websocket.StatusGoingAway, "going away")
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				if !g.now().Before(claims.ExpiresAt) {
					shutdown(websocket.StatusPolicyViolation, "session expired")
					return
				}

				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.sendError(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := g.now().UTC()
		if !now.Before(claims.ExpiresAt) {
			shutdown(websocket.StatusPolicyViolation, "session expired")
			break readLoop
		}
		if !rl.Allow(now) {
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.sendError(client, "bad_envelope", err.Error())
			continue readLoop
		}
		if !v1.ClientSendable(env.Type) {
			g.sendError(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
			continue readLoop
		}
		if env.Room != "" && env.Room != client.Room {
			g.sendError(client, "wrong_room", "envelope room does not match session room")
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			ack := g.envelope(v1.TypeHelloAck, room.ID, v1.HelloAckPayload{
				PeerID:    peerID,
				SessionID: claims.SessionID,
				Room:      room.ID,
				Role:      string(claims.Role),
				Peers:     room.Peers(),
			}, now)
			if !client.offer(ack) {
				log.Info("ws.hello_ack.dropped")
			}

		case v1.TypeDraw:
			if len(env.Payload) == 0 || string(env.Payload) == "null" {
				g.sendError(client, "bad_payload", "draw payload required")
				continue readLoop
			}
			if len(env.Payload) > maxDrawPayloadBytes {
				g.sendError(client, "payload_too_large", fmt.Sprintf("draw payload exceeds %d bytes", maxDrawPayloadBytes))
				continue readLoop
			}
			g.relay(room, client, v1.TypeDraw, env.Payload, now)

		case v1.TypeClear:
			p, _ := json.Marshal(v1.ClearPayload{Room: room.ID})
			g.relay(room, client, v1.TypeClear, p, now)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// relay fans payload out to every other peer of room.
func (g *WSGateway) relay(room *Room, from *Client, typ string, payload json.RawMessage, now time.Time) {
	out := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      newEnvelopeID(now),
		Room:    room.ID,
		TS:      now,
		Payload: payload,
	}
	dropped := room.Broadcast(out, from.PeerID)
	g.metrics.observeRelay(typ, dropped)
}

func (g *WSGateway) sendError(client *Client, code, msg string) {
	_ = client.offer(g.envelope(v1.TypeError, client.Room, v1.ErrorPayload{Code: code, Message: msg}, g.now().UTC()))
}

func (g *WSGateway) envelope(typ, room string, payload any, now time.Time) v1.Envelope {
	p, err := json.Marshal(payload)
	if err != nil {
		g.log.Error("ws.envelope.marshal.fail", "type", typ, "err", err)
		p = json.RawMessage(`{}`)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      newEnvelopeID(now),
		Room:    room,
		TS:      now,
		Payload: p,
	}
}

func newEnvelopeID(now time.Time) string {
	id, err := NewEnvelopeID(now)
	if err != nil {
		return ""
	}
	return id
}

// ---- envelope IO ----

var errBadJSON = errors.New("bad json")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %w", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}
