package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osletta/eventbus/internal/reliability"
)

// Connect opens a pgx connection pool and verifies it with a ping,
// retrying per the given policy. A nil policy retries five times with a
// fixed two second delay.
func Connect(ctx context.Context, databaseURL string, policy reliability.Policy, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = reliability.NewFixedDelay(2*time.Second, 5)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("session: parse database url: %w", err)
	}

	var pool *pgxpool.Pool
	attempt := 0
	err = reliability.Retry(ctx, policy, func() error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.Warn("database connection failed", "attempt", attempt, "error", err)
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: connect after %d attempts: %w", attempt, err)
	}

	logger.Info("connected to database")
	return pool, nil
}
