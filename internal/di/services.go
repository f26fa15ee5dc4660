package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/tradeapproval/internal/config"
	"github.com/aristath/tradeapproval/internal/events"
	"github.com/aristath/tradeapproval/internal/modules/identity"
	"github.com/aristath/tradeapproval/internal/modules/trades"
	"github.com/aristath/tradeapproval/internal/reliability"
)

// InitializeServices builds the repository, event plumbing, lifecycle
// service, identity directory and backup service on top of the open store
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	switch {
	case container.PgPool != nil:
		container.Repo = trades.NewPostgresRepository(container.PgPool, log)
	case container.DB != nil:
		container.Repo = trades.NewSQLiteRepository(container.DB.Conn(), log)
	default:
		return fmt.Errorf("no trade store initialized")
	}

	container.EventBus = events.NewBus()
	container.EventManager = events.NewManager(container.EventBus, log)

	container.TradeService = trades.NewService(
		container.Repo,
		container.EventManager,
		trades.ServiceConfig{GuardTerminalUpdates: cfg.GuardTerminalUpdates},
		log,
	)
	container.Policy = trades.NewPolicy()

	directory, err := identity.LoadDirectory(cfg.PrincipalsFile, cfg.DevMode, log)
	if err != nil {
		return fmt.Errorf("failed to load principals: %w", err)
	}
	container.Directory = directory

	if container.DB != nil {
		store, err := newBackupStore(cfg, log)
		if err != nil {
			return err
		}
		container.BackupService = reliability.NewBackupService(
			container.DB,
			store,
			filepath.Join(cfg.DataDir, "backup-staging"),
			cfg.Backup.RetentionDays,
			container.EventManager,
			log,
		)
	}

	return nil
}

// newBackupStore ships archives to the configured bucket, or keeps them
// under the data directory when no bucket is set
func newBackupStore(cfg *config.Config, log zerolog.Logger) (reliability.ObjectStore, error) {
	if !cfg.Backup.Enabled() {
		store, err := reliability.NewLocalStore(cfg.BackupDir())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local backup store: %w", err)
		}
		return store, nil
	}

	client, err := reliability.NewR2Client(context.Background(), reliability.R2Config{
		Endpoint:        cfg.Backup.Endpoint,
		Region:          cfg.Backup.Region,
		Bucket:          cfg.Backup.Bucket,
		AccessKeyID:     cfg.Backup.AccessKeyID,
		SecretAccessKey: cfg.Backup.SecretAccessKey,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backup bucket client: %w", err)
	}
	return client, nil
}
