package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"pixelpact/cmd/identity/ids"
	"pixelpact/cmd/security/token"
)

// Role is the holder's standing in a room.
type Role string

const (
	RoleGuest Role = "guest"
	RoleHost  Role = "host"
)

// ParseRole accepts only the known roles.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleGuest, RoleHost:
		return Role(s), true
	default:
		return "", false
	}
}

// IssueInput describes a credential to mint.
type IssueInput struct {
	Room string
	Role Role
	Now  time.Time
}

// Credential is a freshly minted session plus its anti-forgery token.
// CSRFToken is returned exactly once; only its hash lives in Token.
type Credential struct {
	Token     string
	SessionID string
	Room      string
	Role      Role
	ExpiresAt time.Time
	CSRFToken string
}

// Claims is the verified content of a credential.
type Claims struct {
	SessionID string
	Room      string
	Role      Role
	CSRFHash  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Issuer mints and verifies PASETO v4.public session credentials.
type Issuer struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	csrfBytes int

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewIssuer builds an Issuer from cfg. The key must already be resolved.
func NewIssuer(cfg Config) (*Issuer, error) {
	if strings.TrimSpace(cfg.PasetoV4SecretKeyHex) == "" || cfg.TTL <= 0 || cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	csrfBytes := cfg.CSRFTokenBytes
	if csrfBytes <= 0 {
		csrfBytes = DefaultConfig().CSRFTokenBytes
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultConfig().Issuer
	}

	return &Issuer{
		issuer:    issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		csrfBytes: csrfBytes,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// PublicKeyHex exposes the verification key.
func (m *Issuer) PublicKeyHex() string {
	return m.public.ExportHex()
}

// TTL reports the configured credential lifetime.
func (m *Issuer) TTL() time.Duration { return m.ttl }

// Issue mints a credential for in.Room.
func (m *Issuer) Issue(ctx context.Context, in IssueInput) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	room := strings.TrimSpace(in.Room)
	if room == "" {
		return Credential{}, ErrInvalidInput
	}
	if _, ok := ParseRole(string(in.Role)); !ok {
		return Credential{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	sid, err := ids.NewULID(now)
	if err != nil {
		return Credential{}, err
	}
	csrf, err := newCSRFToken(m.csrfBytes)
	if err != nil {
		return Credential{}, err
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString("sid", sid)
	tok.SetString("room", room)
	tok.SetString("role", string(in.Role))
	tok.SetString("csrf", token.HashSHA256Hex(csrf))

	return Credential{
		Token:     tok.V4Sign(m.secret, nil),
		SessionID: sid,
		Room:      room,
		Role:      in.Role,
		ExpiresAt: exp,
		CSRFToken: csrf,
	}, nil
}

// Verify checks signature, issuer and validity window at now.
func (m *Issuer) Verify(tokenStr string, now time.Time) (Claims, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Fresh parser per call so rules do not accumulate.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(now.Add(m.clockSkew)))

	parsed, err := p.ParseV4Public(m.public, tokenStr, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	iat, _ := parsed.GetIssuedAt()

	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return Claims{}, ErrInvalidToken
	}
	room, err := parsed.GetString("room")
	if err != nil || room == "" {
		return Claims{}, ErrInvalidToken
	}
	rawRole, err := parsed.GetString("role")
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	role, ok := ParseRole(rawRole)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	csrfHash, err := parsed.GetString("csrf")
	if err != nil || csrfHash == "" {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		SessionID: sid,
		Room:      room,
		Role:      role,
		CSRFHash:  csrfHash,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}

// CSRFMatches reports whether csrfToken is the one bound into c.
func CSRFMatches(c Claims, csrfToken string) bool {
	if csrfToken == "" || c.CSRFHash == "" {
		return false
	}
	got := token.HashSHA256Hex(csrfToken)
	return subtle.ConstantTimeCompare([]byte(got), []byte(c.CSRFHash)) == 1
}

func newCSRFToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
