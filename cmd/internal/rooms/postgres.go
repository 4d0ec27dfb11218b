package rooms

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL. It does not own the pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema (default: "pixelpact").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRE.MatchString(schema) {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, schema: "pixelpact"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, ErrInvalidInput
	}
	return s, nil
}

// Migrate creates the schema and rooms table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	rooms := pgIdent(s.schema, "rooms")
	stmt := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id         TEXT PRIMARY KEY,
  template   TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT chk_rooms_template_len CHECK (template IS NULL OR char_length(template) <= %d)
);
`, pgx.Identifier{s.schema}.Sanitize(), rooms, MaxTemplateLen)

	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("migrate rooms: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, r Room) (Room, error) {
	if s == nil || s.pool == nil {
		return Room{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	r, err := normalize(r)
	if err != nil {
		return Room{}, err
	}

	rooms := pgIdent(s.schema, "rooms")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+rooms+` (id, template, created_at) VALUES ($1, $2, $3)`,
		r.ID, r.Template, r.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Room{}, ErrExists
		}
		return Room{}, err
	}
	return r, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Room, error) {
	if s == nil || s.pool == nil {
		return Room{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Room{}, ErrInvalidInput
	}

	rooms := pgIdent(s.schema, "rooms")
	var r Room
	err := s.pool.QueryRow(ctx,
		`SELECT id, template, created_at FROM `+rooms+` WHERE id = $1`, id,
	).Scan(&r.ID, &r.Template, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrNotFound
		}
		return Room{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
