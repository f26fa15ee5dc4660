package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/tradeapproval/internal/events"
	"github.com/rs/zerolog"
)

const (
	archivePrefix    = "tradeapproval-backup-"
	archiveSuffix    = ".tar.gz"
	archiveTimestamp = "2006-01-02-150405"
	metadataFile     = "backup-metadata.json"

	// minBackupsToKeep survive rotation regardless of age
	minBackupsToKeep = 3
)

// Snapshotter writes a consistent copy of a database to a new file
type Snapshotter interface {
	BackupTo(ctx context.Context, destPath string) error
	Name() string
}

// EventEmitter receives BACKUP_COMPLETED notifications
type EventEmitter interface {
	EmitTyped(eventType events.EventType, module string, data events.EventData)
}

// BackupMetadata describes the contents of one archive
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Database  string    `json:"database"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupInfo describes an archive held by the store
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupResult summarizes one backup run
type BackupResult struct {
	Archive   string
	SizeBytes int64
	Pruned    int
}

// BackupService snapshots the trades database into gzip archives, ships
// them to an ObjectStore and rotates old archives
type BackupService struct {
	db            Snapshotter
	store         ObjectStore
	stagingDir    string
	retentionDays int
	emitter       EventEmitter
	now           func() time.Time
	log           zerolog.Logger
}

// NewBackupService creates a backup service. emitter may be nil.
func NewBackupService(
	db Snapshotter,
	store ObjectStore,
	stagingDir string,
	retentionDays int,
	emitter EventEmitter,
	log zerolog.Logger,
) *BackupService {
	return &BackupService{
		db:            db,
		store:         store,
		stagingDir:    stagingDir,
		retentionDays: retentionDays,
		emitter:       emitter,
		now:           time.Now,
		log:           log.With().Str("service", "backup").Logger(),
	}
}

// Backup satisfies the scheduler's backup contract
func (s *BackupService) Backup(ctx context.Context) error {
	_, err := s.CreateAndUploadBackup(ctx)
	return err
}

// CreateAndUploadBackup creates an archive, uploads it and rotates old ones
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) (*BackupResult, error) {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	if err := os.MkdirAll(s.stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	stagingDir, err := os.MkdirTemp(s.stagingDir, "staging-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	taken := s.now().UTC()
	dbFile := s.db.Name() + ".db"
	dbPath := filepath.Join(stagingDir, dbFile)

	if err := s.db.BackupTo(ctx, dbPath); err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", s.db.Name(), err)
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	checksum, err := calculateChecksum(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	metadata := BackupMetadata{
		Timestamp: taken,
		Version:   "1",
		Database:  s.db.Name(),
		Filename:  dbFile,
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}
	if err := writeMetadata(filepath.Join(stagingDir, metadataFile), metadata); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := ArchiveName(taken)
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, []string{dbFile, metadataFile}); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.store.Upload(ctx, archiveName, archiveFile, archiveInfo.Size()); err != nil {
		return nil, fmt.Errorf("failed to upload backup: %w", err)
	}

	pruned, err := s.RotateOldBackups(ctx)
	if err != nil {
		// The new archive is already stored
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	result := &BackupResult{Archive: archiveName, SizeBytes: archiveInfo.Size(), Pruned: pruned}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Int64("size_bytes", result.SizeBytes).
		Int("pruned", pruned).
		Msg("Backup completed successfully")

	if s.emitter != nil {
		s.emitter.EmitTyped(events.BackupCompleted, "reliability", &events.BackupCompletedData{
			Archive:   result.Archive,
			SizeBytes: result.SizeBytes,
			Pruned:    result.Pruned,
		})
	}

	return result, nil
}

// ListBackups lists stored archives, newest first
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}

		filename := *obj.Key
		timestamp, ok := ParseArchiveName(filename)
		if !ok {
			s.log.Warn().Str("filename", filename).Msg("Failed to parse timestamp from filename")
			continue
		}

		var sizeBytes int64
		if obj.Size != nil {
			sizeBytes = *obj.Size
		}

		backups = append(backups, BackupInfo{
			Filename:  filename,
			Timestamp: timestamp,
			SizeBytes: sizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// RotateOldBackups deletes archives older than the retention period,
// always keeping the newest few. It returns how many were deleted.
func (s *BackupService) RotateOldBackups(ctx context.Context) (int, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)

	deleted := 0
	for _, backup := range backups[minBackupsToKeep:] {
		if !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", backup.Filename).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("filename", backup.Filename).Time("timestamp", backup.Timestamp).Msg("Deleted old backup")
		deleted++
	}

	return deleted, nil
}

// ArchiveName renders the object key for a backup taken at t
func ArchiveName(t time.Time) string {
	return archivePrefix + t.UTC().Format(archiveTimestamp) + archiveSuffix
}

// ParseArchiveName recovers the timestamp encoded by ArchiveName
func ParseArchiveName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveSuffix)
	t, err := time.Parse(archiveTimestamp, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// calculateChecksum calculates SHA256 checksum of a file
func calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive writes the named files from sourceDir into a tar.gz
func createArchive(archivePath, sourceDir string, names []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, name := range names {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzipWriter.Close()
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tarWriter, file)
	return err
}
