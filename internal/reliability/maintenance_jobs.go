package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tradeapproval/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// Disk space thresholds in GB
const (
	diskCriticalGB = 0.5
	diskErrorGB    = 5.0
	diskWarnGB     = 10.0
)

// MaintainedDB is the database surface daily maintenance needs
type MaintainedDB interface {
	HealthCheck(ctx context.Context) error
	WALCheckpoint(mode string) error
	GetStats() (*database.Stats, error)
	Name() string
}

// DailyMaintenanceJob verifies the trades database and the free space of
// the data directory
type DailyMaintenanceJob struct {
	db        MaintainedDB
	dataDir   string
	timeout   time.Duration
	diskUsage func(path string) (*disk.UsageStat, error)
	log       zerolog.Logger
}

// NewDailyMaintenanceJob creates the job. db may be nil when trades live in
// PostgreSQL; only the disk check runs then.
func NewDailyMaintenanceJob(db MaintainedDB, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		db:        db,
		dataDir:   dataDir,
		timeout:   5 * time.Minute,
		diskUsage: disk.Usage,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the daily maintenance job
func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	if j.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()

		if err := j.db.HealthCheck(ctx); err != nil {
			j.log.Error().
				Str("database", j.db.Name()).
				Err(err).
				Msg("CRITICAL: Database integrity check failed")
			return fmt.Errorf("integrity check failed: %w", err)
		}

		if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
			// Not critical, the periodic checkpoint job retries
			j.log.Warn().Str("database", j.db.Name()).Err(err).Msg("WAL checkpoint failed")
		}

		j.logGrowth()
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed successfully")

	return nil
}

// checkDiskSpace fails only below the critical threshold
func (j *DailyMaintenanceJob) checkDiskSpace() error {
	usage, err := j.diskUsage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(usage.Free) / 1e9

	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	switch {
	case availableGB < diskCriticalGB:
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("CRITICAL: Only %.2f GB free in %s", availableGB, j.dataDir)
	case availableGB < diskErrorGB:
		j.log.Error().Float64("available_gb", availableGB).Msg("Low disk space - consider cleanup")
	case availableGB < diskWarnGB:
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	}

	return nil
}

func (j *DailyMaintenanceJob) logGrowth() {
	stats, err := j.db.GetStats()
	if err != nil {
		j.log.Error().Str("database", j.db.Name()).Err(err).Msg("Failed to get database stats")
		return
	}

	j.log.Info().
		Str("database", j.db.Name()).
		Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
		Float64("wal_mb", float64(stats.WALSizeBytes)/1024/1024).
		Int64("freelist_pages", stats.FreelistCount).
		Msg("Database size")
}
