package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()

	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	iss, err := NewIssuer(cfg)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss
}

func TestIssuer_IssueAndVerify(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cred, err := iss.Issue(context.Background(), IssueInput{Room: "42", Role: RoleGuest, Now: now})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(cred.Token, "v4.public.") {
		t.Fatalf("unexpected token format: %q", cred.Token)
	}
	if !cred.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expires_at=%v want=%v", cred.ExpiresAt, now.Add(time.Hour))
	}
	if cred.CSRFToken == "" || cred.SessionID == "" {
		t.Fatalf("missing csrf token or session id")
	}
	if strings.Contains(cred.Token, cred.CSRFToken) {
		t.Fatalf("credential must not carry the raw csrf token")
	}

	claims, err := iss.Verify(cred.Token, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Room != "42" || claims.Role != RoleGuest || claims.SessionID != cred.SessionID {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if !CSRFMatches(claims, cred.CSRFToken) {
		t.Fatalf("expected csrf token to match its session")
	}
}

func TestIssuer_VerifyRejects(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cred, err := iss.Issue(context.Background(), IssueInput{Room: "42", Role: RoleHost, Now: now})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := []struct {
		name  string
		token string
		at    time.Time
	}{
		{"expired", cred.Token, now.Add(2 * time.Hour)},
		{"before_issue", cred.Token, now.Add(-time.Hour)},
		{"garbage", "v4.public.not-a-token", now},
		{"empty", "", now},
		{"other_key", newTestIssuerToken(t, now), now.Add(time.Second)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := iss.Verify(tc.token, tc.at); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func newTestIssuerToken(t *testing.T, now time.Time) string {
	t.Helper()
	cred, err := newTestIssuer(t).Issue(context.Background(), IssueInput{Room: "42", Role: RoleHost, Now: now})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return cred.Token
}

func TestIssuer_IssueValidation(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(t)
	cases := []IssueInput{
		{Room: " ", Role: RoleGuest},
		{Room: "42", Role: "admin"},
		{Room: "42"},
	}
	for i, in := range cases {
		if _, err := iss.Issue(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestIssuer_DistinctCSRFPerSession(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(t)
	now := time.Now().UTC()
	a, err := iss.Issue(context.Background(), IssueInput{Room: "42", Role: RoleGuest, Now: now})
	if err != nil {
		t.Fatalf("Issue a: %v", err)
	}
	b, err := iss.Issue(context.Background(), IssueInput{Room: "42", Role: RoleGuest, Now: now})
	if err != nil {
		t.Fatalf("Issue b: %v", err)
	}
	if a.CSRFToken == b.CSRFToken || a.SessionID == b.SessionID {
		t.Fatalf("expected distinct sessions")
	}

	claimsA, err := iss.Verify(a.Token, now)
	if err != nil {
		t.Fatalf("Verify a: %v", err)
	}
	if CSRFMatches(claimsA, b.CSRFToken) {
		t.Fatalf("csrf token of one session must not match another")
	}
	if CSRFMatches(claimsA, "") {
		t.Fatalf("empty csrf token must not match")
	}
}

func TestNewIssuer_Config(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if _, err := NewIssuer(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for missing key, got %v", err)
	}

	cfg.PasetoV4SecretKeyHex = "zz"
	if _, err := NewIssuer(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for bad key, got %v", err)
	}

	derived, err := DeriveSecretKeyHex([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	cfg.PasetoV4SecretKeyHex = derived
	cfg.TTL = 0
	if _, err := NewIssuer(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for zero ttl, got %v", err)
	}

	cfg.TTL = time.Minute
	a, err := NewIssuer(cfg)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	b, err := NewIssuer(cfg)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	if a.PublicKeyHex() != b.PublicKeyHex() {
		t.Fatalf("derived keys must agree across instances")
	}
}
