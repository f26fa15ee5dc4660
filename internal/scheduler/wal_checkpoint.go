package scheduler

import (
	"github.com/rs/zerolog"
)

// Checkpointer is a database that can fold its WAL back into the main file
type Checkpointer interface {
	WALCheckpoint(mode string) error
	Name() string
}

// WALCheckpointJob truncates the trades database WAL
type WALCheckpointJob struct {
	db   Checkpointer
	mode string
	log  zerolog.Logger
}

// NewWALCheckpointJob creates a checkpoint job. An empty mode means TRUNCATE.
func NewWALCheckpointJob(db Checkpointer, mode string, log zerolog.Logger) *WALCheckpointJob {
	if mode == "" {
		mode = "TRUNCATE"
	}
	return &WALCheckpointJob{
		db:   db,
		mode: mode,
		log:  log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run executes the checkpoint
func (j *WALCheckpointJob) Run() error {
	if j.db == nil {
		return nil
	}

	if err := j.db.WALCheckpoint(j.mode); err != nil {
		return err
	}

	j.log.Debug().
		Str("database", j.db.Name()).
		Str("mode", j.mode).
		Msg("WAL checkpoint completed")
	return nil
}
