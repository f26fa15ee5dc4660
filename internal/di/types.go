/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the server for access to services.
 */
package di

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aristath/tradeapproval/internal/config"
	"github.com/aristath/tradeapproval/internal/database"
	"github.com/aristath/tradeapproval/internal/events"
	"github.com/aristath/tradeapproval/internal/modules/identity"
	"github.com/aristath/tradeapproval/internal/modules/trades"
	"github.com/aristath/tradeapproval/internal/reliability"
	"github.com/aristath/tradeapproval/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * Exactly one of DB and PgPool is set, depending on DATABASE_URL.
 * BackupService is set only for SQLite storage.
 */
type Container struct {
	Config *config.Config

	// Storage
	DB     *database.DB
	PgPool *pgxpool.Pool
	Repo   trades.Repository

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Services
	TradeService *trades.Service
	Policy       *trades.Policy
	Directory    *identity.Directory

	// Background work
	Scheduler     *scheduler.Scheduler
	BackupService *reliability.BackupService
}

// HealthChecker answers a cheap liveness check against the trade store
type HealthChecker interface {
	QuickCheck(ctx context.Context) error
	Name() string
}

// HealthChecker returns the checker for the configured store, or nil when
// the container has no store (in-memory tests)
func (c *Container) HealthChecker() HealthChecker {
	switch {
	case c.DB != nil:
		return c.DB
	case c.PgPool != nil:
		return &database.PostgresChecker{Pool: c.PgPool}
	default:
		return nil
	}
}

// StorageBackend names the configured trade store
func (c *Container) StorageBackend() string {
	switch {
	case c.DB != nil:
		return "sqlite"
	case c.PgPool != nil:
		return "postgres"
	default:
		return "memory"
	}
}

// Close stops background work and releases storage
func (c *Container) Close() error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.PgPool != nil {
		c.PgPool.Close()
	}
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
