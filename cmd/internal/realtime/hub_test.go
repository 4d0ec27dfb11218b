package realtime

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	v1 "pixelpact/contracts/realtime/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_JoinLeaveForgetsEmptyRooms(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	a := NewClient("peer-a", "sess-a", "room-1", "host", 8)
	b := NewClient("peer-b", "sess-b", "room-1", "guest", 8)

	_, peers := h.Join(a)
	if !reflect.DeepEqual(peers, []string{"peer-a"}) {
		t.Fatalf("peers after first join=%v", peers)
	}
	room, peers := h.Join(b)
	if !reflect.DeepEqual(peers, []string{"peer-a", "peer-b"}) {
		t.Fatalf("peers after second join=%v", peers)
	}
	if room.Len() != 2 || h.RoomCount() != 1 {
		t.Fatalf("room len=%d rooms=%d", room.Len(), h.RoomCount())
	}

	remaining, removed := h.Leave(a)
	if !removed || !reflect.DeepEqual(remaining, []string{"peer-b"}) {
		t.Fatalf("leave a: removed=%v remaining=%v", removed, remaining)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Leave must close the client")
	}

	if _, removed := h.Leave(a); removed {
		t.Fatalf("second leave reported removal")
	}

	h.Leave(b)
	if h.RoomCount() != 0 || h.Room("room-1") != nil {
		t.Fatalf("empty room was kept")
	}
}

func TestRoom_BroadcastSkipsSenderAndDropsWhenFull(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	sender := NewClient("peer-s", "sess-s", "room-1", "host", 8)
	full := NewClient("peer-f", "sess-f", "room-1", "guest", 1)
	closed := NewClient("peer-c", "sess-c", "room-1", "guest", 8)

	room, _ := h.Join(sender)
	h.Join(full)
	h.Join(closed)
	closed.Close()

	env := v1.Envelope{V: v1.Version, Type: v1.TypeDraw, Room: "room-1"}

	if dropped := room.Broadcast(env, sender.PeerID); dropped != 1 {
		t.Fatalf("first broadcast dropped=%d want=1 (closed client)", dropped)
	}
	if dropped := room.Broadcast(env, sender.PeerID); dropped != 2 {
		t.Fatalf("second broadcast dropped=%d want=2 (closed + full)", dropped)
	}
	if len(sender.Send) != 0 {
		t.Fatalf("sender received %d envelopes", len(sender.Send))
	}
	if len(full.Send) != 1 {
		t.Fatalf("full client queue=%d want=1", len(full.Send))
	}
}

func TestHub_CloseSignalsClients(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	a := NewClient("peer-a", "sess-a", "room-1", "host", 8)
	b := NewClient("peer-b", "sess-b", "room-2", "host", 8)
	h.Join(a)
	h.Join(b)

	h.Close()

	for _, c := range []*Client{a, b} {
		select {
		case <-c.Done():
		default:
			t.Fatalf("client %s not closed", c.PeerID)
		}
	}
}

func TestRateLimiter_Window(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, 3*time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d denied within burst", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("fourth event allowed")
	}
	if !rl.Allow(now.Add(time.Second)) {
		t.Fatalf("event denied after one refill interval")
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	got := originPatterns([]string{"https://Board.Example", "http://localhost:5173", "board.example", " "})
	want := []string{"board.example", "board.example:*", "localhost", "localhost:*"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("originPatterns=%v want=%v", got, want)
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		allowed  []string
		required bool
		origin   string
		ok       bool
	}{
		{name: "missing_optional", allowed: nil, origin: "", ok: true},
		{name: "missing_required", allowed: []string{"http://localhost"}, required: true, origin: "", ok: false},
		{name: "exact", allowed: []string{"https://board.example"}, origin: "https://board.example", ok: true},
		{name: "portless_entry_any_port", allowed: []string{"http://localhost"}, origin: "http://localhost:5173", ok: true},
		{name: "port_mismatch", allowed: []string{"http://localhost:3000"}, origin: "http://localhost:5173", ok: false},
		{name: "bare_host", allowed: []string{"board.example"}, origin: "https://board.example:8443", ok: true},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://anything.example", ok: true},
		{name: "foreign", allowed: []string{"https://board.example"}, origin: "https://evil.example", ok: false},
		{name: "empty_allowlist", allowed: nil, origin: "https://board.example", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &WSGateway{cfg: Config{AllowedOrigins: tc.allowed, OriginRequired: tc.required}}
			r := httptest.NewRequest("GET", "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			err := g.enforceOrigin(r)
			if (err == nil) != tc.ok {
				t.Fatalf("enforceOrigin(%q) err=%v want ok=%v", tc.origin, err, tc.ok)
			}
		})
	}
}
