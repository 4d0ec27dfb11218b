package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// SecretEnvKey is the env var name for the master secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "PIXELPACT_SECRET"

	// MinSecretBytes is the smallest accepted master secret.
	MinSecretBytes = 32
)

// Sub-key purposes. Changing a label invalidates everything signed under it.
const (
	PurposeInviteSigning = "pixelpact/invite-signing/v1"
	PurposeLedgerKey     = "pixelpact/ledger-key/v1"
	PurposeSessionSeed   = "pixelpact/session-ed25519-seed/v1"
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// SecretFromEnv returns the master secret bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrSecretMissing.
// If too short -> ErrSecretTooShort.
func SecretFromEnv(minBytes int) ([]byte, error) {
	return ParseSecret(os.Getenv(SecretEnvKey), minBytes)
}

// ParseSecret applies the SecretFromEnv rules to a raw value from any source.
func ParseSecret(raw string, minBytes int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrSecretMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrSecretTooShort
	}
	return b, nil
}

// DeriveKey expands secret into an n-byte sub-key bound to purpose (HKDF-SHA256, no salt).
func DeriveKey(secret []byte, purpose string, n int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrSecretMissing
	}
	if strings.TrimSpace(purpose) == "" {
		return nil, ErrPurpose
	}
	if n <= 0 {
		n = sha256.Size
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), out); err != nil {
		return nil, err
	}
	return out, nil
}
