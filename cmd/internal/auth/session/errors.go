package session

import "errors"

var (
	// ErrInvalidToken is returned when a credential fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidInput is returned for an empty room or unknown role.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
