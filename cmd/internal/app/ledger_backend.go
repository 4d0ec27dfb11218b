package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"pixelpact/cmd/internal/ledger"
)

// openLedger builds the configured redemption ledger. pool is required for
// the postgres backend and ignored otherwise.
func openLedger(ctx context.Context, cfg Config, pool *pgxpool.Pool, log *slog.Logger) (ledger.Ledger, error) {
	switch cfg.LedgerBackend {
	case LedgerMemory:
		log.Warn("ledger.memory.replay_risk",
			"detail", "redemptions are lost on restart; unexpired invites become reusable",
		)
		return ledger.NewMemory(), nil

	case LedgerSQLite:
		l, err := ledger.OpenSQLite(ctx, cfg.LedgerSQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("ledger.sqlite.open", "path", cfg.LedgerSQLitePath)
		return l, nil

	case LedgerPostgres:
		if pool == nil {
			return nil, fmt.Errorf("%w: postgres ledger needs database_url", ErrConfig)
		}
		l, err := ledger.NewPostgres(pool, ledger.WithSchema(cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		if err := l.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres ledger: %w", err)
		}
		log.Info("ledger.postgres.open", "schema", cfg.DBSchema)
		return l, nil

	case LedgerRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		l, err := ledger.NewRedis(client,
			ledger.WithKeyPrefix(cfg.RedisKeyPrefix),
			ledger.WithRetention(cfg.LedgerRetention),
			ledger.WithOwnedClient(),
		)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
		defer cancel()
		if err := l.Ping(pingCtx); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("ping redis ledger: %w", err)
		}
		log.Info("ledger.redis.open", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return l, nil

	default:
		return nil, fmt.Errorf("%w: unknown ledger backend %q", ErrConfig, cfg.LedgerBackend)
	}
}
