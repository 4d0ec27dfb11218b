package api

import "time"

type createRoomRequest struct {
	Template *string `json:"template"`
}

type inviteRequest struct {
	Invite string `json:"invite"`
}

type roomResponse struct {
	RoomID    string    `json:"room_id"`
	Template  *string   `json:"template,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type createRoomResponse struct {
	RoomID           string    `json:"room_id"`
	Template         *string   `json:"template,omitempty"`
	CSRFToken        string    `json:"csrf_token"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

type createInviteResponse struct {
	Invite    string    `json:"invite"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type joinInviteResponse struct {
	OK               bool      `json:"ok"`
	RoomID           string    `json:"room_id"`
	CSRFToken        string    `json:"csrf_token"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type sessionResponse struct {
	RoomID    string    `json:"room_id"`
	Role      string    `json:"role"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
