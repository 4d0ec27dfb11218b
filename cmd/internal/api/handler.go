// Package api exposes rooms, invites and sessions over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pixelpact/cmd/identity/ids"
	"pixelpact/cmd/internal/auth/session"
	"pixelpact/cmd/internal/invite"
	"pixelpact/cmd/internal/rooms"
)

// InviteService is the invite surface the handlers depend on.
type InviteService interface {
	IssueInvite(ctx context.Context, room string) (invite.Invite, error)
	Redeem(ctx context.Context, token string) (invite.Redemption, error)
	Inspect(ctx context.Context, token string) (invite.Claims, error)
	Revoke(ctx context.Context, token string) error
}

// SessionManager issues and verifies session credentials.
type SessionManager interface {
	Issue(ctx context.Context, in session.IssueInput) (session.Credential, error)
	Verify(token string, now time.Time) (session.Claims, error)
}

// Handler wires HTTP endpoints to the invite, session and room services.
type Handler struct {
	log *slog.Logger
	cfg Config

	invites  InviteService
	sessions SessionManager
	rooms    rooms.Store
	limiter  *RateLimiter
	now      func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithClock overrides the time source used for session verification.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithRateLimiter replaces the redeem throttle built from Config.
func WithRateLimiter(l *RateLimiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, invites InviteService, sessions SessionManager, roomStore rooms.Store, opts ...HandlerOption) (*Handler, error) {
	if invites == nil || sessions == nil || roomStore == nil {
		return nil, errors.New("api: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()

	h := &Handler{
		log:      log,
		cfg:      cfg,
		invites:  invites,
		sessions: sessions,
		rooms:    roomStore,
		limiter:  NewRateLimiter(cfg.RedeemPerMinute),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Mount registers the /api routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.csrfProtect)

		r.Post("/rooms", h.handleCreateRoom)
		r.With(h.limiter.Middleware(h.cfg.TrustProxy)).Post("/rooms/join-invite", h.handleJoinInvite)
		r.Get("/rooms/{roomID}", h.handleGetRoom)
		r.Post("/rooms/{roomID}/invite", h.handleCreateInvite)
		r.Post("/invites/revoke", h.handleRevokeInvite)

		r.Get("/session", h.handleSession)
		r.Post("/auth/logout", h.handleLogout)
	})
}

// ---- rooms ----

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	id, err := ids.NewRoomID(now)
	if err != nil {
		h.log.Error("api.room.create.id.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	room, err := h.rooms.Create(ctx, rooms.Room{ID: id, Template: req.Template, CreatedAt: now})
	if err != nil {
		if errors.Is(err, rooms.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid template")
			return
		}
		h.log.Error("api.room.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	cred, err := h.sessions.Issue(ctx, session.IssueInput{Room: room.ID, Role: session.RoleHost, Now: now})
	if err != nil {
		h.log.Error("api.room.create.session.fail", "room", room.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "session_issuance_failed", "could not start a session")
		return
	}
	h.setSessionCookies(w, cred)

	h.log.Info("api.room.create.ok", "room", room.ID)
	writeJSON(w, http.StatusCreated, createRoomResponse{
		RoomID:           room.ID,
		Template:         room.Template,
		CSRFToken:        cred.CSRFToken,
		SessionExpiresAt: cred.ExpiresAt,
	})
}

func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "roomID"))
	room, err := h.rooms.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, rooms.ErrNotFound) || errors.Is(err, rooms.ErrInvalidInput) {
			writeError(w, http.StatusNotFound, "room_not_found", "room not found")
			return
		}
		h.log.Error("api.room.get.fail", "room", id, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{RoomID: room.ID, Template: room.Template, CreatedAt: room.CreatedAt})
}

// ---- invites ----

func (h *Handler) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	roomID := strings.TrimSpace(chi.URLParam(r, "roomID"))
	if claims.Room != roomID || claims.Role != session.RoleHost {
		writeError(w, http.StatusForbidden, "forbidden", "only the room host can invite")
		return
	}

	ctx := r.Context()
	if _, err := h.rooms.Get(ctx, roomID); err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room_not_found", "room not found")
			return
		}
		h.log.Error("api.invite.create.room.fail", "room", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	inv, err := h.invites.IssueInvite(ctx, roomID)
	if err != nil {
		h.log.Error("api.invite.create.fail", "room", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, createInviteResponse{Invite: inv.Token, URL: inv.URL, ExpiresAt: inv.ExpiresAt})
}

func (h *Handler) handleJoinInvite(w http.ResponseWriter, r *http.Request) {
	tok, ok := h.inviteFromRequest(w, r)
	if !ok {
		return
	}

	red, err := h.invites.Redeem(r.Context(), tok)
	if err != nil {
		h.writeInviteError(w, "redeem", err)
		return
	}
	h.setSessionCookies(w, red.Session)

	writeJSON(w, http.StatusOK, joinInviteResponse{
		OK:               true,
		RoomID:           red.Room,
		CSRFToken:        red.Session.CSRFToken,
		SessionExpiresAt: red.Session.ExpiresAt,
	})
}

func (h *Handler) handleRevokeInvite(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	tok, ok := h.inviteFromRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	inv, err := h.invites.Inspect(ctx, tok)
	if err != nil {
		h.writeInviteError(w, "revoke", err)
		return
	}
	if claims.Role != session.RoleHost || claims.Room != inv.Room {
		writeError(w, http.StatusForbidden, "forbidden", "only the room host can revoke")
		return
	}
	if err := h.invites.Revoke(ctx, tok); err != nil {
		h.writeInviteError(w, "revoke", err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// inviteFromRequest reads the token from a JSON body, falling back to ?invite=.
func (h *Handler) inviteFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req inviteRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return "", false
	}
	tok := strings.TrimSpace(req.Invite)
	if tok == "" {
		tok = strings.TrimSpace(r.URL.Query().Get("invite"))
	}
	if tok == "" {
		writeError(w, http.StatusBadRequest, "invalid_invite", "invite is required")
		return "", false
	}
	return tok, true
}

// writeInviteError maps invite service failures onto status codes. Messages
// never carry the cause.
func (h *Handler) writeInviteError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, invite.ErrInvalidToken), errors.Is(err, invite.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_invite", "invite is not valid")
	case errors.Is(err, invite.ErrExpired):
		writeError(w, http.StatusGone, "invite_expired", "invite has expired")
	case errors.Is(err, invite.ErrAlreadyUsed):
		writeError(w, http.StatusGone, "invite_used", "invite has already been used")
	case errors.Is(err, context.Canceled):
		// The client went away; not an outage.
		writeError(w, http.StatusServiceUnavailable, "request_cancelled", "request cancelled")
	case errors.Is(err, invite.ErrLedgerUnavailable):
		h.log.Error("api.invite."+op+".ledger.fail", "err", err)
		writeRetryAfter(w, h.cfg.LedgerRetryAfter)
		writeError(w, http.StatusServiceUnavailable, "ledger_unavailable", "try again shortly")
	case errors.Is(err, invite.ErrSessionIssuanceFailed):
		h.log.Error("api.invite."+op+".session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "session_issuance_failed", "could not start a session")
	default:
		h.log.Error("api.invite."+op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// ---- session ----

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		RoomID:    claims.Room,
		Role:      string(claims.Role),
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookies(w)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}
