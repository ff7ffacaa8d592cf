package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// NewPostgres creates a Postgres-backed repository from a connection string,
// for the hosted database deployment.
func NewPostgres(ctx context.Context, connString string) (*SQLStore, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = 25
	poolCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	s, err := newSQLStore(db, postgresDialect)
	if err != nil {
		_ = db.Close()
		pool.Close()
		return nil, err
	}
	// Closing the sql.DB does not release the pool.
	s.onClose = pool.Close
	return s, nil
}

// Open selects a backend by driver name.
func Open(ctx context.Context, driver, dbPath, databaseURL string) (*SQLStore, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(dbPath)
	case "postgres":
		return NewPostgres(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
