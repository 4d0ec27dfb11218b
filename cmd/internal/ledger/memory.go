package ledger

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is a single-process ledger. Records vanish on restart, so any token
// still inside its validity window becomes redeemable again after one.
type Memory struct {
	mu     sync.Mutex
	claims map[string]Claim
	closed bool
}

// NewMemory constructs an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{claims: make(map[string]Claim)}
}

// TryClaim inserts c under the key-space mutex.
func (m *Memory) TryClaim(ctx context.Context, c Claim) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c, err := c.Validate()
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, unavailable("claim", ErrClosed)
	}
	if _, ok := m.claims[c.Key]; ok {
		return AlreadyClaimed, nil
	}
	m.claims[c.Key] = c
	return Claimed, nil
}

// IsClaimed reports whether key has a record.
func (m *Memory) IsClaimed(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, unavailable("is_claimed", ErrClosed)
	}
	_, ok := m.claims[key]
	return ok, nil
}

// Prune deletes records that expired before the cutoff.
func (m *Memory) Prune(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, unavailable("prune", ErrClosed)
	}
	n := 0
	for k, c := range m.claims {
		if c.ExpiresAt.Before(before) {
			delete(m.claims, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of records held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

// Ping fails once the ledger is closed.
func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close drops every record; later calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.claims = map[string]Claim{}
	m.mu.Unlock()
	return nil
}
