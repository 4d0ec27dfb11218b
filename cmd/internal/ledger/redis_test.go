package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:        s.Addr(),
		DialTimeout: time.Second,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedis(client, opts...)
	if err != nil {
		t.Fatalf("new redis ledger: %v", err)
	}
	return l, s
}

func TestRedisLedger_Contract(t *testing.T) {
	t.Parallel()

	runLedgerContract(t, func(t *testing.T) Ledger {
		l, _ := newTestRedis(t)
		return l
	}, contractOptions{nativeExpiry: true})
}

func TestRedisLedger_TTLCoversExpiryPlusRetention(t *testing.T) {
	t.Parallel()

	l, s := newTestRedis(t, WithRetention(24*time.Hour), WithKeyPrefix("test:redeemed:"))
	ctx := context.Background()
	now := time.Now().UTC()
	c := Claim{Key: testKey("ttl"), RedeemedAt: now, ExpiresAt: now.Add(2 * time.Hour)}

	if got, err := l.TryClaim(ctx, c); err != nil || got != Claimed {
		t.Fatalf("claim: outcome=%v err=%v", got, err)
	}

	want := 26 * time.Hour
	if got := s.TTL("test:redeemed:" + c.Key); got != want {
		t.Fatalf("ttl=%v want=%v", got, want)
	}

	s.FastForward(want + time.Second)
	ok, err := l.IsClaimed(ctx, c.Key)
	if err != nil {
		t.Fatalf("is claimed: %v", err)
	}
	if ok {
		t.Fatalf("expected record to expire after expiry plus retention")
	}
}

func TestRedisLedger_TTLFloor(t *testing.T) {
	t.Parallel()

	l, _ := newTestRedis(t)
	now := time.Now().UTC()
	got := l.TTLFor(Claim{Key: "k", RedeemedAt: now, ExpiresAt: now.Add(-time.Hour)})
	if got != minRedisTTL {
		t.Fatalf("TTLFor(past expiry)=%v want=%v", got, minRedisTTL)
	}
}

func TestRedisLedger_OutageIsUnavailable(t *testing.T) {
	t.Parallel()

	l, s := newTestRedis(t)
	s.Close()

	now := time.Now().UTC()
	got, err := l.TryClaim(context.Background(), Claim{Key: testKey("outage"), RedeemedAt: now, ExpiresAt: now.Add(time.Hour)})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got outcome=%v err=%v", got, err)
	}
	if got == AlreadyClaimed || got == Claimed {
		t.Fatalf("outage must not produce a verdict, got %v", got)
	}
}

func TestNewRedis_NilClient(t *testing.T) {
	t.Parallel()

	if _, err := NewRedis(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
