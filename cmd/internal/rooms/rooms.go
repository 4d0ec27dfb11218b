// Package rooms stores whiteboard room records.
package rooms

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("room not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrExists       = errors.New("room already exists")
)

// MaxTemplateLen bounds the optional template name.
const MaxTemplateLen = 64

// Room is a whiteboard room.
type Room struct {
	ID        string
	Template  *string
	CreatedAt time.Time
}

// Store persists rooms.
type Store interface {
	Create(ctx context.Context, r Room) (Room, error)
	Get(ctx context.Context, id string) (Room, error)
}

// normalize trims and validates r for insertion.
func normalize(r Room) (Room, error) {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" || r.CreatedAt.IsZero() {
		return Room{}, ErrInvalidInput
	}
	if r.Template != nil {
		v := strings.TrimSpace(*r.Template)
		switch {
		case v == "":
			r.Template = nil
		case len(v) > MaxTemplateLen:
			return Room{}, ErrInvalidInput
		default:
			r.Template = &v
		}
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}
