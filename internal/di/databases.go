// Package di provides dependency injection for database connections.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradeapproval/internal/config"
	"github.com/aristath/tradeapproval/internal/database"
)

// InitializeDatabases opens the trade store selected by the configuration
// and applies its schema
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{Config: cfg}

	if cfg.UsePostgres() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.Pool)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate postgres: %w", err)
		}
		container.PgPool = pool

		log.Info().Msg("Trades stored in PostgreSQL")
		return container, nil
	}

	// trades.db - approval audit trail, maximum durability
	tradesDB, err := database.New(database.Config{
		Path:    cfg.SQLitePath(),
		Profile: database.ProfileLedger,
		Name:    "trades",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize trades database: %w", err)
	}
	if err := tradesDB.Migrate(); err != nil {
		tradesDB.Close()
		return nil, fmt.Errorf("failed to migrate trades database: %w", err)
	}
	container.DB = tradesDB

	log.Info().Str("path", tradesDB.Path()).Msg("Trades stored in SQLite")
	return container, nil
}
