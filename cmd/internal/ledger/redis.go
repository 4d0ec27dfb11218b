package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "pixelpact:redeemed:"
	minRedisTTL        = time.Second
)

// Redis is a shared ledger using SET NX with a TTL that outlives the token.
// Records expire natively, so Prune has nothing to do.
type Redis struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	ownClient bool
}

// RedisOption configures Redis.
type RedisOption func(*Redis)

// WithKeyPrefix overrides the key namespace (default "pixelpact:redeemed:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if strings.TrimSpace(prefix) != "" {
			r.prefix = prefix
		}
	}
}

// WithRetention keeps records this long past token expiry.
func WithRetention(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d >= 0 {
			r.retention = d
		}
	}
}

// WithOwnedClient makes Close also close the client.
func WithOwnedClient() RedisOption {
	return func(r *Redis) { r.ownClient = true }
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, ErrInvalidInput
	}
	r := &Redis{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// TTLFor returns the expiry applied to c's key.
func (r *Redis) TTLFor(c Claim) time.Duration {
	ttl := c.ExpiresAt.Sub(c.RedeemedAt) + r.retention
	if ttl < minRedisTTL {
		return minRedisTTL
	}
	return ttl
}

// TryClaim issues a single SET NX; a nil reply means the key already existed.
func (r *Redis) TryClaim(ctx context.Context, c Claim) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c, err := c.Validate()
	if err != nil {
		return 0, err
	}

	value := strconv.FormatInt(c.RedeemedAt.UnixMilli(), 10)
	ok, err := r.client.SetNX(ctx, r.prefix+c.Key, value, r.TTLFor(c)).Result()
	if err != nil {
		return 0, unavailable("claim", err)
	}
	if !ok {
		return AlreadyClaimed, nil
	}
	return Claimed, nil
}

func (r *Redis) IsClaimed(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, ErrInvalidInput
	}
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, unavailable("is_claimed", err)
	}
	return n > 0, nil
}

func (r *Redis) Prune(ctx context.Context, _ time.Time) (int, error) {
	return 0, ctx.Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if r.ownClient {
		return r.client.Close()
	}
	return nil
}
