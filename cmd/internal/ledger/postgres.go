package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// Postgres is a ledger shared by every process that points at the same database.
// The pool is owned by the caller; Close is a no-op.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures Postgres.
type PostgresOption func(*Postgres) error

// WithSchema sets the DB schema used by the ledger (default: "pixelpact").
func WithSchema(schema string) PostgresOption {
	return func(p *Postgres) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		p.schema = schema
		return nil
	}
}

// NewPostgres constructs a Postgres ledger.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{pool: pool, schema: "pixelpact"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.pool == nil {
		return nil, ErrInvalidInput
	}
	return p, nil
}

// Migrate creates the schema and table when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	redemptions := pgIdent(p.schema, "redemptions")
	stmt := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  token_key   TEXT PRIMARY KEY,
  redeemed_at TIMESTAMPTZ NOT NULL,
  expires_at  TIMESTAMPTZ NOT NULL,
  CONSTRAINT chk_redemptions_token_key_len CHECK (char_length(token_key) = 64)
);

CREATE INDEX IF NOT EXISTS idx_redemptions_expires_at ON %s (expires_at);
`, pgx.Identifier{p.schema}.Sanitize(), redemptions, redemptions)

	if _, err := p.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("migrate postgres ledger: %w", err)
	}
	return nil
}

// TryClaim inserts the record; a unique violation means someone else claimed first.
func (p *Postgres) TryClaim(ctx context.Context, c Claim) (Outcome, error) {
	if p == nil || p.pool == nil {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c, err := c.Validate()
	if err != nil {
		return 0, err
	}

	redemptions := pgIdent(p.schema, "redemptions")
	_, err = p.pool.Exec(ctx,
		`INSERT INTO `+redemptions+` (token_key, redeemed_at, expires_at) VALUES ($1, $2, $3)`,
		c.Key, c.RedeemedAt, c.ExpiresAt,
	)
	if err == nil {
		return Claimed, nil
	}
	if isUniqueViolation(err) {
		return AlreadyClaimed, nil
	}
	return 0, unavailable("claim", err)
}

func (p *Postgres) IsClaimed(ctx context.Context, key string) (bool, error) {
	if p == nil || p.pool == nil {
		return false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, ErrInvalidInput
	}

	redemptions := pgIdent(p.schema, "redemptions")
	var one int
	err := p.pool.QueryRow(ctx, `SELECT 1 FROM `+redemptions+` WHERE token_key = $1`, key).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, unavailable("is_claimed", err)
	}
	return true, nil
}

func (p *Postgres) Prune(ctx context.Context, before time.Time) (int, error) {
	if p == nil || p.pool == nil {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	redemptions := pgIdent(p.schema, "redemptions")
	tag, err := p.pool.Exec(ctx, `DELETE FROM `+redemptions+` WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, unavailable("prune", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping checks if we can acquire a connection.
func (p *Postgres) Ping(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

func (p *Postgres) Close() error { return nil }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
