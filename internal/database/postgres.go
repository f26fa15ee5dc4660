package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig tunes the Postgres connection pool
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolConfig returns the pool settings used when nothing is configured
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   30 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
	}
}

// IsPostgresURL reports whether dsn selects the Postgres backend
func IsPostgresURL(dsn string) bool {
	u, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil {
		return false
	}
	return u.Scheme == "postgres" || u.Scheme == "postgresql"
}

// NewPostgresPool opens a pgx pool and verifies connectivity
func NewPostgresPool(ctx context.Context, databaseURL string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return pool, nil
}

// MigratePostgres creates the trade tables when missing
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`create table if not exists trades (
			id text primary key,
			created_seq bigserial not null,
			requester_id text not null,
			state text not null,
			details bytea not null,
			version bigint not null default 1,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		);`,
		`create index if not exists trades_requester_idx on trades(requester_id);`,
		`create table if not exists trade_history (
			trade_id text not null references trades(id) on delete cascade,
			seq int not null,
			recorded_at timestamptz not null,
			user_id text not null,
			action text not null,
			previous_state text not null,
			new_state text not null,
			details_snapshot bytea not null,
			primary key (trade_id, seq)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migration failed: %w", err)
		}
	}
	return nil
}

// PostgresChecker adapts a pool to the health checks used for the SQLite store
type PostgresChecker struct {
	Pool *pgxpool.Pool
}

// QuickCheck pings the pool
func (c *PostgresChecker) QuickCheck(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// Name identifies the backend in status output
func (c *PostgresChecker) Name() string {
	return "postgres"
}
