package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pixelpact/cmd/internal/auth/session"
	v1 "pixelpact/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const testCookie = "pixelpact_session"

// stubSessions maps session cookie values to claims.
type stubSessions map[string]session.Claims

func (s stubSessions) SessionFromRequest(r *http.Request) (session.Claims, bool) {
	c, err := r.Cookie(testCookie)
	if err != nil {
		return session.Claims{}, false
	}
	claims, ok := s[c.Value]
	return claims, ok
}

type testClock struct{ nanos atomic.Int64 }

func newTestClock(t time.Time) *testClock {
	c := &testClock{}
	c.nanos.Store(t.UnixNano())
	return c
}

func (c *testClock) Now() time.Time          { return time.Unix(0, c.nanos.Load()).UTC() }
func (c *testClock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

type wsEnv struct {
	gw    *WSGateway
	srv   *httptest.Server
	clock *testClock
	reg   *prometheus.Registry
}

func newWSEnv(t *testing.T, sessions stubSessions, mutate func(*Config)) *wsEnv {
	t.Helper()

	cfg := DefaultConfig()
	cfg.OriginRequired = false
	if mutate != nil {
		mutate(&cfg)
	}

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	clock := newTestClock(time.Now().UTC())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := NewWSGateway(log, NewHub(log), sessions, cfg, WithMetrics(m), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewWSGateway: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &wsEnv{gw: gw, srv: srv, clock: clock, reg: reg}
}

func roomSessions(expires time.Time) stubSessions {
	return stubSessions{
		"tok-host":  {SessionID: "sess-host", Room: "room-42", Role: session.RoleHost, ExpiresAt: expires},
		"tok-guest": {SessionID: "sess-guest", Room: "room-42", Role: session.RoleGuest, ExpiresAt: expires},
		"tok-other": {SessionID: "sess-other", Room: "room-7", Role: session.RoleHost, ExpiresAt: expires},
	}
}

func dialWS(t *testing.T, baseHTTPURL, origin, cookie string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	if cookie != "" {
		h.Set("Cookie", testCookie+"="+cookie)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
}

func mustDial(t *testing.T, e *wsEnv, cookie string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialWS(t, e.srv.URL, "", cookie)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial %s: %v", cookie, err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, env v1.Envelope) {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	writeRawWS(t, conn, b)
}

func writeRawWS(t *testing.T, conn *websocket.Conn, b []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

// readUntilType reads envelopes until one of type typ arrives and returns it
// together with the types seen before it.
func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) (v1.Envelope, []string) {
	t.Helper()
	var seen []string
	for i := 0; i < maxReads; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("conn.Read (waiting for %s, seen %v): %v", typ, seen, err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type == typ {
			return env, seen
		}
		seen = append(seen, env.Type)
	}
	t.Fatalf("did not receive envelope type %q (seen %v)", typ, seen)
	return v1.Envelope{}, nil
}

// readUntilClosed drains conn until the server closes it and returns the close status.
func readUntilClosed(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	for i := 0; i < 32; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _, err := conn.Read(ctx)
		cancel()
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
	t.Fatalf("connection was not closed")
	return -1
}

func decodePayload[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
	return out
}

func hello(t *testing.T, conn *websocket.Conn) v1.HelloAckPayload {
	t.Helper()
	writeEnvelopeWS(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypeHello, Payload: json.RawMessage(`{}`)})
	ack, _ := readUntilType(t, conn, v1.TypeHelloAck, 8)
	return decodePayload[v1.HelloAckPayload](t, ack)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if labelsMatch(m, labels) {
				if g := m.GetGauge(); g != nil {
					return g.GetValue()
				}
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestWSGateway_RejectsMissingSession(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, roomSessions(time.Now().Add(time.Hour)), nil)

	for _, cookie := range []string{"", "tok-unknown"} {
		conn, resp, err := dialWS(t, e.srv.URL, "", cookie)
		if err == nil {
			_ = conn.CloseNow()
			t.Fatalf("cookie %q: expected dial failure", cookie)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("cookie %q: expected 401, got resp=%v err=%v", cookie, resp, err)
		}
		_ = resp.Body.Close()
	}

	if got := metricValue(t, e.reg, "pixelpact_ws_rejected_total", map[string]string{"reason": "unauthorized"}); got != 2 {
		t.Fatalf("rejected{unauthorized}=%v want=2", got)
	}
}

func TestWSGateway_OriginPolicy(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, roomSessions(time.Now().Add(time.Hour)), func(c *Config) {
		c.OriginRequired = true
		c.AllowedOrigins = []string{"https://board.example"}
	})

	cases := []struct {
		name   string
		origin string
		want   int
	}{
		{name: "missing", origin: "", want: http.StatusForbidden},
		{name: "foreign", origin: "https://evil.example", want: http.StatusForbidden},
		{name: "allowed", origin: "https://board.example", want: http.StatusSwitchingProtocols},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, resp, err := dialWS(t, e.srv.URL, tc.origin, "tok-host")
			if resp == nil {
				t.Fatalf("no response: %v", err)
			}
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("status=%d want=%d (err=%v)", resp.StatusCode, tc.want, err)
			}
			if conn != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "bye")
			}
		})
	}
}

func TestWSGateway_RelayWithinRoom(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, roomSessions(time.Now().Add(time.Hour)), nil)

	host := mustDial(t, e, "tok-host")
	hostAck := hello(t, host)
	if hostAck.Room != "room-42" || hostAck.Role != "host" || hostAck.SessionID != "sess-host" {
		t.Fatalf("unexpected hello_ack: %+v", hostAck)
	}
	if len(hostAck.Peers) != 1 || hostAck.Peers[0] != hostAck.PeerID {
		t.Fatalf("expected only self in peers, got %v", hostAck.Peers)
	}

	guest := mustDial(t, e, "tok-guest")
	guestAck := hello(t, guest)
	if guestAck.Role != "guest" || len(guestAck.Peers) != 2 {
		t.Fatalf("unexpected guest hello_ack: %+v", guestAck)
	}

	joined, _ := readUntilType(t, host, v1.TypePeerJoined, 8)
	if p := decodePayload[v1.PeerPayload](t, joined); p.PeerID != guestAck.PeerID {
		t.Fatalf("peer_joined=%q want=%q", p.PeerID, guestAck.PeerID)
	}

	stroke := json.RawMessage(`{"x0":1,"y0":2,"x1":3,"y1":4,"color":"#000"}`)
	writeEnvelopeWS(t, host, v1.Envelope{V: v1.Version, Type: v1.TypeDraw, Payload: stroke})

	draw, _ := readUntilType(t, guest, v1.TypeDraw, 8)
	if draw.Room != "room-42" {
		t.Fatalf("draw room=%q", draw.Room)
	}
	if draw.ID == "" || draw.TS.IsZero() {
		t.Fatalf("expected server-stamped id and ts, got %+v", draw)
	}
	var gotStroke, wantStroke map[string]any
	_ = json.Unmarshal(draw.Payload, &gotStroke)
	_ = json.Unmarshal(stroke, &wantStroke)
	if gotStroke["color"] != wantStroke["color"] || gotStroke["x1"] != wantStroke["x1"] {
		t.Fatalf("payload=%s want=%s", draw.Payload, stroke)
	}

	writeEnvelopeWS(t, guest, v1.Envelope{V: v1.Version, Type: v1.TypeClear, Room: "room-42"})
	cleared, _ := readUntilType(t, host, v1.TypeClear, 8)
	if p := decodePayload[v1.ClearPayload](t, cleared); p.Room != "room-42" {
		t.Fatalf("clear room=%q", p.Room)
	}

	// The sender never gets its own draw back.
	writeEnvelopeWS(t, host, v1.Envelope{V: v1.Version, Type: v1.TypeHello})
	_, seen := readUntilType(t, host, v1.TypeHelloAck, 8)
	for _, typ := range seen {
		if typ == v1.TypeDraw {
			t.Fatalf("sender received its own draw (seen %v)", seen)
		}
	}

	eventually(t, func() bool {
		return metricValue(t, e.reg, "pixelpact_ws_relayed_total", map[string]string{"type": "draw"}) == 1
	}, "relayed{draw}=1")
	if got := metricValue(t, e.reg, "pixelpact_ws_connections", nil); got != 2 {
		t.Fatalf("connections=%v want=2", got)
	}
}

func TestWSGateway_RoomsAreIsolated(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, roomSessions(time.Now().Add(time.Hour)), nil)

	host := mustDial(t, e, "tok-host")
	hello(t, host)
	other := mustDial(t, e, "tok-other")
	otherAck := hello(t, other)
	if len(otherAck.Peers) != 1 {
		t.Fatalf("room-7 should only hold its own peer, got %v", otherAck.Peers)
	}

	writeEnvelopeWS(t, host, v1.Envelope{V: v1.Version, Type: v1.TypeDraw, Payload: json.RawMessage(`{"x":1}`)})
	// A frame the relay must answer proves the draw was processed first.
	writeEnvelopeWS(t, host, v1.Envelope{V: v1.Version, Type: v1.TypeHello})
	readUntilType(t, host, v1.TypeHelloAck, 8)

	writeEnvelopeWS(t, other, v1.Envelope{V: v1.Version, Type: v1.TypeHello})
	_, seen := readUntilType(t, other, v1.TypeHelloAck, 8)
	for _, typ := range seen {
		if typ == v1.TypeDraw || typ == v1.TypePeerJoined {
			t.Fatalf("room-7 peer saw %s from room-42 (seen %v)", typ, seen)
		}
	}
}

func TestWSGateway_PeerLeft(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, roomSessions(time.Now().Add(time.Hour)), nil)

	host := mustDial(t, e, "tok-host")
	hello(t, host)
	guest := mustDial(t, e, "tok-guest")
	guestAck := hello(t, guest)

	if err := guest.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("guest close: %v", err)
	}

	left, _ := readUntilType(t, host, v1.TypePeerLeft, 8)
	if p := decodePayload[v1.PeerPayload](t, left); p.PeerID != guestAck.PeerID {
		t.Fatalf("peer_left=%q want=%q", p.PeerID, guestAck.PeerID)
	}
	presence, _ := readUntilType(t, host, v1.TypePresence, 8)
	if p := decodePayload[v1.PresencePayload](t, presence); len(p.Peers) != 1 {
		t.Fatalf("presence after leave=%v", p.Peers)
	}

	eventually(t, func() bool {
		return metricValue(t, e.reg, "pixelpact_ws_connections", nil) == 1
	}, "connections=1 after guest left")
}

func TestWSGateway_ClientErrors(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, roomSessions(time.Now().Add(time.Hour)), nil)
	conn := mustDial(t, e, "tok-host")

	cases := []struct {
		name string
		raw  string
		code string
	}{
		{name: "bad_json", raw: `{"v":`, code: "bad_json"},
		{name: "unknown_type", raw: `{"v":"v1","type":"message_send"}`, code: "bad_envelope"},
		{name: "wrong_version", raw: `{"v":"v0","type":"draw"}`, code: "bad_envelope"},
		{name: "server_only_type", raw: `{"v":"v1","type":"presence","payload":{}}`, code: "unsupported"},
		{name: "wrong_room", raw: `{"v":"v1","type":"draw","room":"room-7","payload":{"x":1}}`, code: "wrong_room"},
		{name: "draw_without_payload", raw: `{"v":"v1","type":"draw"}`, code: "bad_payload"},
		{name: "draw_too_large", raw: `{"v":"v1","type":"draw","payload":{"d":"` + strings.Repeat("a", maxDrawPayloadBytes) + `"}}`, code: "payload_too_large"},
	}

	for _, tc := range cases {
		writeRawWS(t, conn, []byte(tc.raw))
		env, _ := readUntilType(t, conn, v1.TypeError, 8)
		if p := decodePayload[v1.ErrorPayload](t, env); p.Code != tc.code {
			t.Fatalf("%s: code=%q want=%q (message=%q)", tc.name, p.Code, tc.code, p.Message)
		}
	}

	// Errors do not end the connection.
	hello(t, conn)
}

func TestWSGateway_ClosesOnSessionExpiry(t *testing.T) {
	t.Parallel()

	start := time.Now().UTC()
	e := newWSEnv(t, roomSessions(start.Add(time.Hour)), nil)
	e.clock.nanos.Store(start.UnixNano())

	conn := mustDial(t, e, "tok-guest")
	hello(t, conn)

	e.clock.Advance(time.Hour)
	writeEnvelopeWS(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypeHello})

	if got := readUntilClosed(t, conn); got != websocket.StatusPolicyViolation {
		t.Fatalf("close status=%v want=%v", got, websocket.StatusPolicyViolation)
	}
}

func TestWSGateway_RateLimitCloses(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, roomSessions(time.Now().Add(time.Hour)), func(c *Config) {
		c.RateEvents = 2
		c.RateWindow = time.Hour
	})

	conn := mustDial(t, e, "tok-host")
	for i := 0; i < 3; i++ {
		writeEnvelopeWS(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypeHello})
	}

	if got := readUntilClosed(t, conn); got != websocket.StatusPolicyViolation {
		t.Fatalf("close status=%v want=%v", got, websocket.StatusPolicyViolation)
	}
}

func TestWSGateway_HubCloseDisconnects(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, roomSessions(time.Now().Add(time.Hour)), nil)
	conn := mustDial(t, e, "tok-host")
	hello(t, conn)

	e.gw.Hub().Close()

	if got := readUntilClosed(t, conn); got != websocket.StatusGoingAway {
		t.Fatalf("close status=%v want=%v", got, websocket.StatusGoingAway)
	}
	eventually(t, func() bool { return e.gw.Hub().RoomCount() == 0 }, "hub forgets empty rooms")
}

func TestNewWSGateway_RequiresSessions(t *testing.T) {
	t.Parallel()

	if _, err := NewWSGateway(nil, nil, nil, DefaultConfig()); err == nil {
		t.Fatalf("expected error without a session authenticator")
	}
}
