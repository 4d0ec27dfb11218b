package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"pixelpact/cmd/internal/auth/session"
	"pixelpact/cmd/internal/ledger"
)

// SessionIssuer mints the credential handed to a guest after a successful claim.
type SessionIssuer interface {
	Issue(ctx context.Context, in session.IssueInput) (session.Credential, error)
}

// Invite is a freshly minted invite.
type Invite struct {
	Token     string
	URL       string
	Room      string
	ExpiresAt time.Time
}

// Redemption is the result of a successful Redeem.
type Redemption struct {
	Room       string
	RedeemedAt time.Time
	Session    session.Credential
}

// Service issues, redeems and revokes single-use invites.
//
// Single use is decided by exactly one ledger.TryClaim per redemption; the
// service holds no lock of its own across that call.
type Service struct {
	codec    *Codec
	ledger   ledger.Ledger
	sessions SessionIssuer

	now     func() time.Time
	baseURL string
	metrics *Metrics
	log     *slog.Logger
}

// Option configures the Service.
type Option func(*Service) error

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// WithBaseURL sets the public origin used to build invite URLs.
func WithBaseURL(raw string) Option {
	return func(s *Service) error {
		raw = strings.TrimRight(strings.TrimSpace(raw), "/")
		if raw == "" {
			s.baseURL = ""
			return nil
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidInput
		}
		s.baseURL = raw
		return nil
	}
}

// WithMetrics records issuance and redemption outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log == nil {
			return ErrInvalidInput
		}
		s.log = log
		return nil
	}
}

// NewService constructs a Service.
func NewService(codec *Codec, l ledger.Ledger, sessions SessionIssuer, opts ...Option) (*Service, error) {
	if codec == nil || l == nil || sessions == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		codec:    codec,
		ledger:   l,
		sessions: sessions,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// IssueInvite mints an invite for room. It never touches the ledger.
func (s *Service) IssueInvite(ctx context.Context, room string) (Invite, error) {
	if s == nil || s.codec == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	room = strings.TrimSpace(room)
	if room == "" {
		return Invite{}, ErrInvalidInput
	}

	tok, claims, err := s.codec.Mint(room, s.now())
	if err != nil {
		return Invite{}, err
	}
	s.metrics.observeIssued()

	return Invite{
		Token:     tok,
		URL:       s.inviteURL(room, tok),
		Room:      room,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (s *Service) inviteURL(room, tok string) string {
	return s.baseURL + "/board/" + url.PathEscape(room) + "?invite=" + url.QueryEscape(tok)
}

// Inspect verifies tok and checks its expiry without consuming it.
func (s *Service) Inspect(ctx context.Context, tok string) (Claims, error) {
	if s == nil || s.codec == nil {
		return Claims{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Claims{}, err
	}
	return s.check(tok, s.now().UTC())
}

// Redeem consumes tok and returns a guest session for its room.
//
// Once the ledger reports Claimed the token stays consumed, even when session
// issuance fails afterwards or ctx is cancelled. A ctx that is already done
// yields ErrLedgerUnavailable wrapping ctx.Err(); the ledger is not contacted.
func (s *Service) Redeem(ctx context.Context, tok string) (Redemption, error) {
	if s == nil || s.codec == nil || s.ledger == nil || s.sessions == nil {
		return Redemption{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		s.metrics.observeRedemption(resultLedgerUnavailable)
		return Redemption{}, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	now := s.now().UTC()

	claims, key, err := s.claim(ctx, tok, now, "redeem")
	if err != nil {
		s.metrics.observeRedemption(resultFor(err))
		return Redemption{}, err
	}

	cred, err := s.sessions.Issue(context.WithoutCancel(ctx), session.IssueInput{
		Room: claims.Room,
		Role: session.RoleGuest,
		Now:  now,
	})
	if err != nil {
		s.metrics.observeRedemption(resultSessionUnavailable)
		s.log.Error("invite.redeem.session.fail", "room", claims.Room, "key", ledger.KeyPrefix(key), "err", err)
		return Redemption{}, fmt.Errorf("%w: %w", ErrSessionIssuanceFailed, err)
	}

	s.metrics.observeRedemption(resultRedeemed)
	s.log.Info("invite.redeem.ok", "room", claims.Room, "key", ledger.KeyPrefix(key), "session_id", cred.SessionID)

	return Redemption{Room: claims.Room, RedeemedAt: now, Session: cred}, nil
}

// Revoke burns tok so that no later Redeem can succeed.
func (s *Service) Revoke(ctx context.Context, tok string) error {
	if s == nil || s.codec == nil || s.ledger == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	claims, key, err := s.claim(ctx, tok, s.now().UTC(), "revoke")
	if err != nil {
		s.metrics.observeRevocation(resultFor(err))
		return err
	}
	s.metrics.observeRevocation("revoked")
	s.log.Info("invite.revoke.ok", "room", claims.Room, "key", ledger.KeyPrefix(key))
	return nil
}

// check runs verification then expiry, in that order.
func (s *Service) check(tok string, now time.Time) (Claims, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, ErrMalformed)
	}
	claims, err := s.codec.Verify(tok)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if IsExpired(claims, now) {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

// claim checks tok and records it in the ledger.
func (s *Service) claim(ctx context.Context, tok string, now time.Time, op string) (Claims, string, error) {
	claims, err := s.check(tok, now)
	if err != nil {
		return Claims{}, "", err
	}
	tok = strings.TrimSpace(tok)
	key, err := s.codec.Key(tok)
	if err != nil {
		return Claims{}, "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	start := time.Now()
	outcome, err := s.ledger.TryClaim(ctx, ledger.Claim{
		Key:        key,
		RedeemedAt: now,
		ExpiresAt:  claims.ExpiresAt,
	})
	if err != nil {
		s.metrics.observeClaim("error", time.Since(start))
		s.log.Error("invite."+op+".ledger.fail", "room", claims.Room, "key", ledger.KeyPrefix(key), "err", err)
		return Claims{}, key, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	s.metrics.observeClaim(outcome.String(), time.Since(start))

	switch outcome {
	case ledger.Claimed:
		return claims, key, nil
	case ledger.AlreadyClaimed:
		return Claims{}, key, ErrAlreadyUsed
	default:
		return Claims{}, key, fmt.Errorf("%w: unexpected outcome %d", ErrLedgerUnavailable, outcome)
	}
}

func resultFor(err error) string {
	switch {
	case err == nil:
		return resultRedeemed
	case errors.Is(err, ErrExpired):
		return resultExpired
	case errors.Is(err, ErrAlreadyUsed):
		return resultAlreadyUsed
	case errors.Is(err, ErrLedgerUnavailable):
		return resultLedgerUnavailable
	case errors.Is(err, ErrSessionIssuanceFailed):
		return resultSessionUnavailable
	default:
		return resultInvalid
	}
}
