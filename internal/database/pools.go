package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/rickgao/basket-router/internal/config"
)

// Ping retry settings for Open.
const (
	pingAttempts  = 3
	pingBaseDelay = 500 * time.Millisecond
)

// Open creates a connection pool and waits until the database answers a ping.
func Open(ctx context.Context, cfg config.DBConfig, appName string, logger *logrus.Entry) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithFields(logrus.Fields{
		"component": "database",
		"host":      cfg.Host,
		"database":  cfg.Name,
	})

	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg, appName))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	delay := pingBaseDelay
	for attempt := 1; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			break
		}
		if attempt == pingAttempts {
			pool.Close()
			return nil, fmt.Errorf("ping database after %d attempts: %w", attempt, err)
		}

		logger.WithFields(logrus.Fields{"attempt": attempt, "error": err}).Warn("database not ready, retrying")
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	logger.WithField("max_conns", cfg.MaxConns).Info("database pool ready")
	return pool, nil
}
