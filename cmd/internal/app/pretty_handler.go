package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBold    = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// levelStyles is scanned top-down; the first floor the level reaches wins.
var levelStyles = []struct {
	floor slog.Level
	tag   string
	color string
}{
	{slog.LevelError, "[ERROR]", ansiRed},
	{slog.LevelWarn, "[WARN]", ansiYellow},
	{slog.LevelInfo, "[INFO]", ansiBlue},
	{slog.LevelDebug - 100, "[DEBUG]", ansiMagenta},
}

// outcomeColors tints the result labels emitted by the invite service,
// the ledger and the request logger.
var outcomeColors = map[string]string{
	"success":                 ansiGreen,
	"redeemed":                ansiGreen,
	"claimed":                 ansiGreen,
	"client_error":            ansiYellow,
	"already_claimed":         ansiYellow,
	"already_used":            ansiYellow,
	"expired":                 ansiYellow,
	"invalid":                 ansiYellow,
	"server_error":            ansiRed,
	"error":                   ansiRed,
	"ledger_unavailable":      ansiRed,
	"session_issuance_failed": ansiRed,
}

// displayKeys shortens a few request-log keys on the console.
var displayKeys = map[string]string{
	"status_class": "class",
	"duration_ms":  "duration",
}

// prettyHandler writes one logfmt-ish line per record for terminals:
//
//	ts=15:04:05.000 lvl=[INFO] msg=http.request method=POST status=200
type prettyHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	source bool
	color  bool
	prefix string
	preset []byte
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{out: w, mu: &sync.Mutex{}, level: slog.LevelInfo, color: color}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, "ts="...)
	buf = h.tint(buf, ansiDim, ts.Format("15:04:05.000"))
	for _, s := range levelStyles {
		if r.Level >= s.floor {
			buf = append(buf, " lvl="...)
			buf = h.tint(buf, s.color, s.tag)
			break
		}
	}
	buf = append(buf, " msg="...)
	buf = h.tint(buf, ansiBold, r.Message)

	if h.source {
		if src := r.Source(); src != nil && src.File != "" {
			buf = append(buf, " src="...)
			buf = h.tint(buf, ansiDim, filepath.Base(src.File)+":"+strconv.Itoa(src.Line))
		}
	}

	buf = append(buf, h.preset...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.attr(buf, h.prefix, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

// WithAttrs renders attrs once so every later record just copies the bytes.
func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.preset = append([]byte(nil), h.preset...)
	for _, a := range attrs {
		cp.preset = h.attr(cp.preset, h.prefix, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) attr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if key == "" && a.Value.Kind() != slog.KindGroup {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		// An unnamed group inlines its members.
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.attr(buf, prefix, ga)
		}
		return buf
	}

	full := prefix + key
	shown := full
	if alias, ok := displayKeys[full]; ok {
		shown = alias
	}
	buf = append(buf, ' ')
	buf = append(buf, shown...)
	buf = append(buf, '=')
	color, text := h.style(full, a.Value)
	return h.tint(buf, color, text)
}

// style picks the colour and text for a value; unknown keys are plain.
func (h *prettyHandler) style(key string, v slog.Value) (color, text string) {
	switch key {
	case "method":
		return ansiMagenta, strings.ToUpper(v.String())
	case "path", "room":
		return ansiCyan, quoteIfNeeded(v.String())
	case "err":
		return ansiRed, quoteIfNeeded(valueToString(v))
	case "result", "outcome":
		return outcomeColors[strings.ToLower(v.String())], v.String()
	case "status":
		if n, ok := valueToInt64(v); ok {
			switch {
			case n >= 500:
				color = ansiRed
			case n >= 400:
				color = ansiYellow
			case n >= 300:
				color = ansiCyan
			default:
				color = ansiGreen
			}
			return color, strconv.FormatInt(n, 10)
		}
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			switch {
			case n >= 1000:
				color = ansiRed
			case n >= 250:
				color = ansiYellow
			}
			return color, strconv.FormatInt(n, 10) + "ms"
		}
	}
	return "", quoteIfNeeded(valueToString(v))
}

func (h *prettyHandler) tint(buf []byte, color, s string) []byte {
	if h.color && color != "" {
		buf = append(buf, color...)
		buf = append(buf, s...)
		return append(buf, ansiReset...)
	}
	return append(buf, s...)
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// valueToString defers to slog except for times, which print as RFC 3339.
func valueToString(v slog.Value) string {
	if v.Kind() == slog.KindTime {
		return v.Time().Format(time.RFC3339)
	}
	return v.String()
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
