package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"pixelpact/cmd/internal/auth/session"
)

// csrfAltHeader is accepted in place of the configured CSRF header.
const csrfAltHeader = "X-XSRF-Token"

type ctxKey int

const sessionCtxKey ctxKey = iota

func (h *Handler) setSessionCookies(w http.ResponseWriter, cred session.Credential) {
	h.setCookie(w, h.cfg.SessionCookieName, cred.Token, cred.ExpiresAt, true)
	h.setCookie(w, h.cfg.CSRFCookieName, cred.CSRFToken, cred.ExpiresAt, false)
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	h.expireCookie(w, h.cfg.SessionCookieName, true)
	h.expireCookie(w, h.cfg.CSRFCookieName, false)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, exp time.Time, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// sessionFromRequest verifies the session cookie, if any.
func (h *Handler) sessionFromRequest(r *http.Request) (session.Claims, bool) {
	if c, ok := r.Context().Value(sessionCtxKey).(session.Claims); ok {
		return c, true
	}
	raw := cookieValue(r, h.cfg.SessionCookieName)
	if raw == "" {
		return session.Claims{}, false
	}
	claims, err := h.sessions.Verify(raw, h.now())
	if err != nil {
		return session.Claims{}, false
	}
	return claims, true
}

// SessionFromRequest exposes cookie verification to other transports (the WS gateway).
func (h *Handler) SessionFromRequest(r *http.Request) (session.Claims, bool) {
	if h == nil || r == nil {
		return session.Claims{}, false
	}
	return h.sessionFromRequest(r)
}

func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (session.Claims, bool) {
	claims, ok := h.sessionFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "session required")
		return session.Claims{}, false
	}
	return claims, true
}

// csrfProtect applies double-submit checks to unsafe methods that carry a
// session cookie. The presented token must equal the CSRF cookie and be the
// one bound into the session. Requests without a valid session pass through.
func (h *Handler) csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		raw := cookieValue(r, h.cfg.SessionCookieName)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := h.sessions.Verify(raw, h.now())
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		presented := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
		if presented == "" {
			presented = strings.TrimSpace(r.Header.Get(csrfAltHeader))
		}
		if !secureStringEqual(presented, cookieValue(r, h.cfg.CSRFCookieName)) || !session.CSRFMatches(claims, presented) {
			h.log.Warn("api.csrf.reject", "path", r.URL.Path, "session_id", claims.SessionID)
			writeError(w, http.StatusForbidden, "csrf_mismatch", "anti-forgery token mismatch")
			return
		}

		ctx := context.WithValue(r.Context(), sessionCtxKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
