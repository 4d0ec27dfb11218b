package session

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"pixelpact/cmd/security/token"
)

// Config defines runtime configuration for session credentials.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	// TTL is the credential lifetime. It is independent of the invite TTL.
	TTL time.Duration

	// ClockSkew is added to "now" during verification.
	ClockSkew time.Duration

	// CSRFTokenBytes is the entropy of the anti-forgery token.
	CSRFTokenBytes int

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// v4.public tokens. When empty the app derives one from the master secret.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns the defaults used when no env override is present.
func DefaultConfig() Config {
	return Config{
		Issuer:         "pixelpact",
		TTL:            time.Hour,
		ClockSkew:      30 * time.Second,
		CSRFTokenBytes: 32,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - PIXELPACT_SESSION_ISSUER
//   - PIXELPACT_SESSION_TTL
//   - PIXELPACT_SESSION_CLOCK_SKEW
//   - PIXELPACT_CSRF_TOKEN_BYTES (32..64)
//   - PIXELPACT_PASETO_V4_SECRET_KEY_HEX
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PIXELPACT_SESSION_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("PIXELPACT_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := os.Getenv("PIXELPACT_SESSION_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("PIXELPACT_CSRF_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.CSRFTokenBytes = n
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("PIXELPACT_PASETO_V4_SECRET_KEY_HEX")

	return cfg, nil
}

// DeriveSecretKeyHex derives a stable Ed25519 signing key from the master secret.
// Every process sharing the secret verifies every other process's credentials.
func DeriveSecretKeyHex(secret []byte) (string, error) {
	seed, err := token.DeriveKey(secret, token.PurposeSessionSeed, ed25519.SeedSize)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return hex.EncodeToString(ed25519.NewKeyFromSeed(seed)), nil
}
