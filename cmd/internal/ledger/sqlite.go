package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS redemptions (
  token_key   TEXT    NOT NULL PRIMARY KEY,
  redeemed_at INTEGER NOT NULL,
  expires_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_redemptions_expires_at ON redemptions (expires_at);
`

// SQLite is a durable single-node ledger backed by a local database file.
type SQLite struct {
	db        *sql.DB
	closeOnce sync.Once
	closeErr  error
}

// OpenSQLite opens (or creates) the ledger database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite ledger: %w: path is required", ErrInvalidInput)
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// One writer: concurrent claims queue on the connection instead of racing for the file lock.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite ledger: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite ledger schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// TryClaim inserts the record; the primary key makes a second insert fail.
func (s *SQLite) TryClaim(ctx context.Context, c Claim) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c, err := c.Validate()
	if err != nil {
		return 0, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO redemptions (token_key, redeemed_at, expires_at) VALUES (?, ?, ?)`,
		c.Key, toMillis(c.RedeemedAt), toMillis(c.ExpiresAt),
	)
	if err == nil {
		return Claimed, nil
	}
	if isConstraintError(err) {
		return AlreadyClaimed, nil
	}
	return 0, unavailable("claim", err)
}

func (s *SQLite) IsClaimed(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, ErrInvalidInput
	}

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM redemptions WHERE token_key = ?`, key).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, unavailable("is_claimed", err)
	}
	return true, nil
}

func (s *SQLite) Prune(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM redemptions WHERE expires_at < ?`, toMillis(before))
	if err != nil {
		return 0, unavailable("prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("prune", err)
	}
	return int(n), nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
