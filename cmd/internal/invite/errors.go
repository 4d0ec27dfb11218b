package invite

import "errors"

// Codec-level failures. The service collapses both into ErrInvalidToken.
var (
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// Service-level failure kinds. Match with errors.Is; only
// ErrLedgerUnavailable is worth retrying.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidToken          = errors.New("invalid invite token")
	ErrExpired               = errors.New("invite expired")
	ErrAlreadyUsed           = errors.New("invite already used")
	ErrLedgerUnavailable     = errors.New("redemption ledger unavailable")
	ErrSessionIssuanceFailed = errors.New("session issuance failed")
)
