package api

import (
	"net/http"
	"strings"
	"time"
)

// Config controls HTTP API behavior and cookie transport.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	SessionCookieName string
	CSRFCookieName    string
	CSRFHeaderName    string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite

	// RedeemPerMinute is the per-IP budget for redemption attempts; <= 0 disables throttling.
	RedeemPerMinute int

	// LedgerRetryAfter is advertised when the ledger is unavailable.
	LedgerRetryAfter time.Duration
}

// DefaultConfig returns the defaults used by the server.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      64 << 10,
		SessionCookieName: "pixelpact_session",
		CSRFCookieName:    "pixelpact_csrf",
		CSRFHeaderName:    "X-CSRF-Token",
		CookiePath:        "/",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteLaxMode,
		RedeemPerMinute:   30,
		LedgerRetryAfter:  5 * time.Second,
	}
}

// ParseSameSite maps "lax", "strict" and "none" onto http.SameSite.
func ParseSameSite(raw string) (http.SameSite, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "lax":
		return http.SameSiteLaxMode, true
	case "strict":
		return http.SameSiteStrictMode, true
	case "none":
		return http.SameSiteNoneMode, true
	default:
		return 0, false
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		c.SessionCookieName = d.SessionCookieName
	}
	if strings.TrimSpace(c.CSRFCookieName) == "" {
		c.CSRFCookieName = d.CSRFCookieName
	}
	if strings.TrimSpace(c.CSRFHeaderName) == "" {
		c.CSRFHeaderName = d.CSRFHeaderName
	}
	if c.CookiePath == "" {
		c.CookiePath = d.CookiePath
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = d.CookieSameSite
	}
	if c.LedgerRetryAfter <= 0 {
		c.LedgerRetryAfter = d.LedgerRetryAfter
	}
	return c
}
