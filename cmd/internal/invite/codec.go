package invite

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pixelpact/cmd/identity/ids"
	"pixelpact/cmd/security/token"
)

const (
	// DefaultTTL is how long an invite stays redeemable. It is fixed server side.
	DefaultTTL = 7 * 24 * time.Hour

	// DefaultIssuer is written to the "iss" claim.
	DefaultIssuer = "pixelpact"
)

// Claims is the verified payload of an invite token.
type Claims struct {
	Room      string
	TokenID   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type wireClaims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// Codec mints and verifies invite tokens (compact HS256 JWS).
//
// Both the signing key and the ledger key are derived from one master secret
// under distinct purposes, so a ledger key never verifies a token.
type Codec struct {
	signKey   []byte
	ledgerKey []byte
	ttl       time.Duration
	issuer    string
	parser    *jwt.Parser
}

// CodecOption configures a Codec.
type CodecOption func(*Codec) error

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) CodecOption {
	return func(c *Codec) error {
		if d < time.Second {
			return ErrInvalidInput
		}
		c.ttl = d
		return nil
	}
}

// WithIssuer overrides DefaultIssuer.
func WithIssuer(iss string) CodecOption {
	return func(c *Codec) error {
		iss = strings.TrimSpace(iss)
		if iss == "" {
			return ErrInvalidInput
		}
		c.issuer = iss
		return nil
	}
}

// NewCodec derives the codec keys from secret, which must hold at least
// token.MinSecretBytes bytes.
func NewCodec(secret []byte, opts ...CodecOption) (*Codec, error) {
	if len(secret) < token.MinSecretBytes {
		return nil, token.ErrSecretTooShort
	}
	signKey, err := token.DeriveKey(secret, token.PurposeInviteSigning, 32)
	if err != nil {
		return nil, err
	}
	ledgerKey, err := token.DeriveKey(secret, token.PurposeLedgerKey, 32)
	if err != nil {
		return nil, err
	}

	c := &Codec{
		signKey:   signKey,
		ledgerKey: ledgerKey,
		ttl:       DefaultTTL,
		issuer:    DefaultIssuer,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	// Expiry is judged by the service against its own clock, not by the parser.
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithoutClaimsValidation(),
	)
	return c, nil
}

// TTL reports the invite lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Mint signs a fresh invite for room. Timestamps are truncated to seconds.
func (c *Codec) Mint(room string, now time.Time) (string, Claims, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return "", Claims{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(time.Second)

	jti, err := ids.NewULID(now)
	if err != nil {
		return "", Claims{}, err
	}
	exp := now.Add(c.ttl)

	wc := wireClaims{
		Room: room,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wc).SignedString(c.signKey)
	if err != nil {
		return "", Claims{}, err
	}

	return signed, Claims{
		Room:      room,
		TokenID:   jti,
		Issuer:    c.issuer,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Verify checks structure and signature. It does not check expiry.
func (c *Codec) Verify(tokenStr string) (Claims, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return Claims{}, ErrMalformed
	}

	var wc wireClaims
	_, err := c.parser.ParseWithClaims(tokenStr, &wc, func(*jwt.Token) (any, error) {
		return c.signKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Claims{}, ErrInvalidSignature
		}
		return Claims{}, ErrMalformed
	}

	if strings.TrimSpace(wc.Room) == "" || wc.ID == "" || wc.IssuedAt == nil || wc.ExpiresAt == nil {
		return Claims{}, ErrMalformed
	}
	if wc.Issuer != c.issuer {
		return Claims{}, ErrMalformed
	}

	return Claims{
		Room:      wc.Room,
		TokenID:   wc.ID,
		Issuer:    wc.Issuer,
		IssuedAt:  wc.IssuedAt.UTC(),
		ExpiresAt: wc.ExpiresAt.UTC(),
	}, nil
}

// IsExpired reports whether claims are past their expiry at now. The boundary
// instant itself counts as expired.
func IsExpired(c Claims, now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Key derives the canonical ledger key of a token: a keyed hash of its
// signature segment. Only call it on tokens that passed Verify.
func (c *Codec) Key(tokenStr string) (string, error) {
	i := strings.LastIndexByte(tokenStr, '.')
	if i < 0 || i == len(tokenStr)-1 {
		return "", ErrMalformed
	}
	return token.HashHMACSHA256Hex(tokenStr[i+1:], c.ledgerKey), nil
}
