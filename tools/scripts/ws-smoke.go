// Package main is a CI smoke test for a running PixelPact server.
//
// It checks, in order:
//   - room creation issues a host session
//   - the host can mint an invite
//   - the invite redeems once and is refused the second time (410)
//   - host and guest connect to /ws with their session cookies
//   - a draw from the host reaches the guest and is not echoed back
//
// Against plain http the server must run with PIXELPACT_COOKIE_SECURE=false,
// otherwise the cookie jar never sends the session cookie back.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/pflag"

	v1 "pixelpact/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20

type httpClient struct {
	name string
	base *url.URL
	jar  *cookiejar.Jar
	http *http.Client
	csrf string
}

type wsClient struct {
	name   string
	conn   *websocket.Conn
	peerID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	flags := pflag.NewFlagSet("ws-smoke", pflag.ExitOnError)
	base := flags.String("base", "http://127.0.0.1:8080", "server base URL")
	origin := flags.String("origin", "http://localhost", "Origin header for the WebSocket handshake")
	timeout := flags.Duration("timeout", 7*time.Second, "per-step timeout")
	verbose := flags.BoolP("verbose", "v", false, "verbose output")
	_ = flags.Parse(os.Args[1:])

	baseURL, err := validateBaseURL(*base)
	if err != nil {
		fatalf("invalid --base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid --origin: %v", err)
	}

	root := context.Background()

	host := newHTTPClient("host", baseURL, *timeout)
	var room struct {
		RoomID    string `json:"room_id"`
		CSRFToken string `json:"csrf_token"`
	}
	mustPost(host, "/api/rooms", map[string]any{}, http.StatusCreated, &room)
	if room.RoomID == "" || room.CSRFToken == "" {
		fatalf("create room: missing room_id or csrf_token")
	}
	host.csrf = room.CSRFToken

	var inv struct {
		Invite string `json:"invite"`
		URL    string `json:"url"`
	}
	mustPost(host, "/api/rooms/"+url.PathEscape(room.RoomID)+"/invite", nil, http.StatusOK, &inv)
	if inv.Invite == "" {
		fatalf("create invite: empty token")
	}

	guest := newHTTPClient("guest", baseURL, *timeout)
	var joined struct {
		OK     bool   `json:"ok"`
		RoomID string `json:"room_id"`
	}
	mustPost(guest, "/api/rooms/join-invite", map[string]string{"invite": inv.Invite}, http.StatusOK, &joined)
	if !joined.OK || joined.RoomID != room.RoomID {
		fatalf("join: got ok=%v room=%q want room=%q", joined.OK, joined.RoomID, room.RoomID)
	}

	replay := newHTTPClient("replay", baseURL, *timeout)
	mustPost(replay, "/api/rooms/join-invite", map[string]string{"invite": inv.Invite}, http.StatusGone, nil)

	if *verbose {
		fmt.Printf("redeemed once: room=%s invite_url=%s\n", room.RoomID, redact(inv.URL))
	}

	a := mustConnect(root, host, *origin, *timeout)
	defer closeWS(a.conn)
	b := mustConnect(root, guest, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: host=%s guest=%s origin=%q\n", a.peerID, b.peerID, *origin)
	}

	stroke := json.RawMessage(`{"points":[[0,0],[10,10]],"color":"#222"}`)
	mustWrite(root, a.conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeDraw,
		ID:      "host-draw-1",
		Room:    room.RoomID,
		TS:      time.Now().UTC(),
		Payload: stroke,
	}, *timeout)

	got := b.mustReadUntilType(root, v1.TypeDraw, *timeout)
	if got.Room != room.RoomID {
		fatalf("draw relayed with room=%q want=%q", got.Room, room.RoomID)
	}
	if !jsonEqual(got.Payload, stroke) {
		fatalf("draw payload changed in transit: %s", got.Payload)
	}
	a.mustNotSee(root, v1.TypeDraw, 1200*time.Millisecond)

	fmt.Printf("OK: room=%s host=%s guest=%s\n", room.RoomID, a.peerID, b.peerID)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func newHTTPClient(name string, base *url.URL, timeout time.Duration) *httpClient {
	jar, err := cookiejar.New(nil)
	if err != nil {
		fatalf("cookie jar: %v", err)
	}
	return &httpClient{
		name: name,
		base: base,
		jar:  jar,
		http: &http.Client{Jar: jar, Timeout: timeout},
	}
}

func mustPost(c *httpClient, path string, body any, wantStatus int, out any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fatalf("%s: encode %s: %v", c.name, path, err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.base.String()+path, &buf)
	if err != nil {
		fatalf("%s: request %s: %v", c.name, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}

	res, err := c.http.Do(req)
	if err != nil {
		fatalf("%s: POST %s: %v", c.name, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != wantStatus {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		fatalf("%s: POST %s: status=%d want=%d body=%s", c.name, path, res.StatusCode, wantStatus, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			fatalf("%s: decode %s: %v", c.name, path, err)
		}
	}
}

// wsURL maps the base URL onto the /ws endpoint.
func wsURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

func mustConnect(parent context.Context, hc *httpClient, origin string, stepTimeout time.Duration) *wsClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	for _, ck := range hc.jar.Cookies(hc.base) {
		h.Add("Cookie", ck.String())
	}

	conn, resp, err := websocket.Dial(ctx, wsURL(hc.base), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", hc.name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", hc.name, got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &wsClient{
		name:  hc.name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      hc.name + "-hello",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)
	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", hc.name, err)
	}
	if strings.TrimSpace(p.PeerID) == "" {
		fatalf("hello_ack missing peer_id (%s)", hc.name)
	}
	c.peerID = p.PeerID
	return c
}

func (c *wsClient) startReadLoop() {
	fail := func(err error) {
		select {
		case c.errCh <- err:
		default:
		}
	}
	go func() {
		defer close(c.inbox)
		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				fail(err)
				return
			}
			if mt != websocket.MessageText {
				fail(fmt.Errorf("unexpected message type: %v", mt))
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				fail(fmt.Errorf("bad envelope: %w", err))
				return
			}
			select {
			case c.inbox <- env:
			default:
				fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

// mustReadUntilType skips presence and peer events until typ arrives.
func (c *wsClient) mustReadUntilType(parent context.Context, typ string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s)", typ, c.name)
		case err := <-c.errCh:
			fatalf("read loop failed (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed waiting for %s (%s)", typ, c.name)
			}
			if env.Type == typ {
				return env
			}
			if env.Type == v1.TypeError {
				fatalf("server error while waiting for %s (%s): %s", typ, c.name, env.Payload)
			}
		}
	}
}

func (c *wsClient) mustNotSee(parent context.Context, typ string, window time.Duration) {
	ctx, cancel := context.WithTimeout(parent, window)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("read loop failed (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				return
			}
			if env.Type == typ {
				fatalf("unexpected %s on %s (echo to sender)", typ, c.name)
			}
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal %s: %v", env.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	return b
}

func jsonEqual(a, b json.RawMessage) bool {
	var x, y any
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return false
	}
	xb, _ := json.Marshal(x)
	yb, _ := json.Marshal(y)
	return bytes.Equal(xb, yb)
}

// redact hides the invite token when printing its URL.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	q := u.Query()
	if q.Has("invite") {
		q.Set("invite", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
