package rooms

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]Room
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]Room)}
}

func (m *Memory) Create(ctx context.Context, r Room) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	r, err := normalize(r)
	if err != nil {
		return Room{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[r.ID]; ok {
		return Room{}, ErrExists
	}
	m.rooms[r.ID] = r
	return r, nil
}

func (m *Memory) Get(ctx context.Context, id string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Room{}, ErrInvalidInput
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}
	return r, nil
}
