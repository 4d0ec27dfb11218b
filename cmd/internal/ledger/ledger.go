// Package ledger records which invite tokens have been redeemed.
//
// The ledger is the single authority for "has this token been used". Every
// backend implements TryClaim as one atomic insert-if-absent against its
// store; there is never an exists-check followed by a separate write.
//
// Keys are canonical token keys (a keyed hash of the token signature), never
// raw bearer tokens.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidInput is returned for empty keys or zero timestamps.
	ErrInvalidInput = errors.New("ledger: invalid input")

	// ErrUnavailable wraps every backend failure that is not a uniqueness conflict.
	// Callers must treat it as a hard, retryable failure and never as AlreadyClaimed.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrClosed is returned by operations on a closed ledger.
	ErrClosed = errors.New("ledger closed")
)

// Outcome is the verdict of a claim attempt.
type Outcome uint8

const (
	// Claimed means this call created the redemption record.
	Claimed Outcome = iota + 1
	// AlreadyClaimed means a record for the key existed before this call.
	AlreadyClaimed
)

func (o Outcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case AlreadyClaimed:
		return "already_claimed"
	default:
		return "unknown"
	}
}

// Claim is a redemption record.
type Claim struct {
	Key        string
	RedeemedAt time.Time
	// ExpiresAt is the token expiry; it only drives retention.
	ExpiresAt time.Time
}

// Validate normalises and checks a claim.
func (c Claim) Validate() (Claim, error) {
	c.Key = strings.TrimSpace(c.Key)
	if c.Key == "" || c.RedeemedAt.IsZero() || c.ExpiresAt.IsZero() {
		return Claim{}, ErrInvalidInput
	}
	c.RedeemedAt = c.RedeemedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	return c, nil
}

// Ledger is the persistence boundary for redemption records.
type Ledger interface {
	// TryClaim atomically inserts c if no record exists for c.Key.
	TryClaim(ctx context.Context, c Claim) (Outcome, error)
	// IsClaimed is a read-only diagnostic. It must not drive claim decisions.
	IsClaimed(ctx context.Context, key string) (bool, error)
	// Prune deletes records whose ExpiresAt is before the cutoff and returns how many went.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Pinger is implemented by backends that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// KeyPrefix returns a short, log-safe prefix of a ledger key.
func KeyPrefix(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}
