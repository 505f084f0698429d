package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"turnpipe/internal/config"
	"turnpipe/internal/infra/metrics"
)

// Connect opens a pool sized by cfg and pings it once.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database url is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.ConnectConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// ReportPoolStats publishes pool gauges every interval until ctx is done.
func ReportPoolStats(ctx context.Context, pool *pgxpool.Pool, interval time.Duration, logger *zerolog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	logger.Debug().Dur("interval", interval).Msg("db pool stats reporter started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s := pool.Stat()
		metrics.SetStorePool(metrics.PoolSnapshot{
			Idle:          s.IdleConns(),
			Acquired:      s.AcquiredConns(),
			Max:           s.MaxConns(),
			EmptyAcquires: s.EmptyAcquireCount(),
		})
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
