package scheduler

import (
	"context"
	"time"
)

// Backuper produces and ships one backup archive
type Backuper interface {
	Backup(ctx context.Context) error
}

// BackupJob runs the database backup on schedule
type BackupJob struct {
	backuper Backuper
	timeout  time.Duration
}

// NewBackupJob creates a backup job bounded by timeout
func NewBackupJob(backuper Backuper, timeout time.Duration) *BackupJob {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &BackupJob{backuper: backuper, timeout: timeout}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.backuper.Backup(ctx)
}
