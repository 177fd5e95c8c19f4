// Package store implements the Key-Value Store Adapter (C1): a typed
// facade over PostgreSQL presenting the conditional-put/get/query/
// batch-get contract spec.md §4.1 asks of a wide-column store, with
// per-row strong consistency obtained from row-level locking inside a
// single transaction per operation.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps the PostgreSQL connection pool backing every table the
// transactional core touches (users, orders, inventory).
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database connection configuration.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewDB opens and verifies a PostgreSQL connection pool.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	} else {
		poolConfig.MaxConns = 25
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	} else {
		poolConfig.MinConns = 5
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	} else {
		poolConfig.MaxConnLifetime = time.Hour
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	} else {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{Pool: pool}, nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Info().Msg("database connection closed")
	}
}

// HealthCheck pings the pool.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// itemTableNames are the base item-store tables the adapter serves.
// RunMigrations does not read it; its statements name each table
// directly.
var itemTableNames = []string{"users", "orders"}

// RunMigrations creates the item-store schema (three logical tables:
// users, orders, inventory, plus the UserOrdersIndex projection).
func (db *DB) RunMigrations(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			pk TEXT NOT NULL,
			sk TEXT NOT NULL,
			attrs JSONB NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (pk, sk)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_email_idx ON users ((attrs->>'email')) WHERE sk = 'USER'`,
		`CREATE INDEX IF NOT EXISTS users_sk_prefix_idx ON users (pk, sk text_pattern_ops)`,

		`CREATE TABLE IF NOT EXISTS orders (
			pk TEXT NOT NULL,
			sk TEXT NOT NULL,
			attrs JSONB NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (pk, sk)
		)`,

		`CREATE TABLE IF NOT EXISTS user_orders_index (
			username TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (username, order_id)
		)`,
		`CREATE INDEX IF NOT EXISTS user_orders_index_by_asset ON user_orders_index (username, asset_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS inventory (
			asset_id TEXT PRIMARY KEY,
			attrs JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for i, stmt := range statements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info().Int("statements", len(statements)).Msg("store migrations applied")
	return nil
}
