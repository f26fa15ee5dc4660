package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/tradeapproval/internal/config"
	"github.com/aristath/tradeapproval/internal/reliability"
	"github.com/aristath/tradeapproval/internal/scheduler"
)

// RegisterJobs creates the scheduler and registers the maintenance jobs.
// The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	sched := scheduler.New(log)

	if container.DB != nil {
		walJob := scheduler.NewWALCheckpointJob(container.DB, "TRUNCATE", log)
		if err := sched.AddJob(cfg.WALCheckpointSchedule, walJob); err != nil {
			return fmt.Errorf("failed to register %s job: %w", walJob.Name(), err)
		}
	}

	if container.BackupService != nil {
		backupJob := scheduler.NewBackupJob(container.BackupService, 0)
		if err := sched.AddJob(cfg.Backup.Schedule, backupJob); err != nil {
			return fmt.Errorf("failed to register %s job: %w", backupJob.Name(), err)
		}
	}

	var maintained reliability.MaintainedDB
	if container.DB != nil {
		maintained = container.DB
	}
	maintenanceJob := reliability.NewDailyMaintenanceJob(maintained, cfg.DataDir, log)
	if err := sched.AddJob(cfg.MaintenanceSchedule, maintenanceJob); err != nil {
		return fmt.Errorf("failed to register %s job: %w", maintenanceJob.Name(), err)
	}

	container.Scheduler = sched
	return nil
}
