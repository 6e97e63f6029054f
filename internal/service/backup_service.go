// Package service holds catalog-adjacent business logic that sits above
// the repositories: backups, logo caching, playlist ingestion.
package service

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/renameio/v2"
	"gorm.io/gorm"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/version"
)

const backupPrefix = "exstreamtv-backup-"

// backupTables are the catalog tables counted into backup metadata.
var backupTables = []string{
	"channels",
	"libraries",
	"media_items",
	"playlists",
	"collections",
	"blocks",
	"schedules",
	"playouts",
	"filler_presets",
}

// Minimum free disk space required before a backup starts.
const minBackupDiskSpace = 100 * 1024 * 1024

// BackupService snapshots the catalog database to gzip-compressed,
// checksummed files and restores from them. Backups only cover SQLite
// deployments; external MySQL/Postgres catalogs are backed up by their
// own tooling.
type BackupService struct {
	db         *gorm.DB
	cfg        config.BackupConfig
	storageDir string
	logger     *slog.Logger
}

// NewBackupService creates a backup service writing under the configured
// backup directory.
func NewBackupService(db *gorm.DB, cfg config.BackupConfig, storageBaseDir string) *BackupService {
	return &BackupService{
		db:         db,
		cfg:        cfg,
		storageDir: cfg.BackupPath(storageBaseDir),
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *BackupService) WithLogger(logger *slog.Logger) *BackupService {
	s.logger = logger.With("component", "backup")
	return s
}

// GetScheduleInfo returns the backup schedule configuration.
func (s *BackupService) GetScheduleInfo() models.BackupScheduleInfo {
	return models.BackupScheduleInfo{
		Enabled:   s.cfg.Schedule.Enabled,
		Cron:      s.cfg.Schedule.Cron,
		Retention: s.cfg.Schedule.Retention,
	}
}

// GetBackupDirectory returns the backup storage directory.
func (s *BackupService) GetBackupDirectory() string {
	return s.storageDir
}

// CreateBackup snapshots the catalog with VACUUM INTO, compresses it and
// writes a companion metadata file.
func (s *BackupService) CreateBackup(ctx context.Context) (*models.BackupMetadata, error) {
	if err := os.MkdirAll(s.storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	if err := s.checkDiskSpace(); err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC()
	baseName := backupPrefix + timestamp.Format("2006-01-02T15-04-05.000")
	dbPath := filepath.Join(s.storageDir, baseName+".db")
	gzPath := filepath.Join(s.storageDir, baseName+".db.gz")
	metaPath := filepath.Join(s.storageDir, baseName+".meta.json")

	if _, err := os.Stat(gzPath); err == nil {
		return nil, fmt.Errorf("backup already exists: %s", filepath.Base(gzPath))
	}

	// VACUUM INTO gives a consistent point-in-time copy without locking
	// writers out.
	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?", dbPath).Error; err != nil {
		return nil, fmt.Errorf("vacuum into backup: %w", err)
	}
	defer os.Remove(dbPath)

	dbInfo, err := os.Stat(dbPath)
	if err != nil {
		return nil, fmt.Errorf("stat backup db: %w", err)
	}

	if err := compressFile(dbPath, gzPath); err != nil {
		return nil, fmt.Errorf("compressing backup: %w", err)
	}

	gzInfo, err := os.Stat(gzPath)
	if err != nil {
		return nil, fmt.Errorf("stat compressed backup: %w", err)
	}
	checksum, err := fileChecksum(gzPath)
	if err != nil {
		return nil, fmt.Errorf("calculating checksum: %w", err)
	}

	tableCounts, err := s.tableCounts(ctx, s.db)
	if err != nil {
		s.logger.Warn("counting backup tables failed", "error", err)
		tableCounts = make(map[string]int)
	}

	metaFile := &models.BackupMetadataFile{
		AppVersion:     version.Version,
		DatabaseSize:   dbInfo.Size(),
		CompressedSize: gzInfo.Size(),
		Checksum:       checksum,
		CreatedAt:      timestamp,
		TableCounts:    tableCounts,
	}
	if err := writeMetadataFile(metaPath, metaFile); err != nil {
		return nil, err
	}

	meta := &models.BackupMetadata{
		Filename:       filepath.Base(gzPath),
		FilePath:       gzPath,
		CreatedAt:      timestamp,
		FileSize:       gzInfo.Size(),
		Checksum:       checksum,
		AppVersion:     version.Version,
		DatabaseSize:   dbInfo.Size(),
		CompressedSize: gzInfo.Size(),
		TableCounts:    metaFile.ToTableCounts(),
	}

	s.logger.Info("backup created",
		"filename", meta.Filename,
		"size", meta.FileSize,
		"checksum", truncateChecksum(meta.Checksum))
	return meta, nil
}

// ListBackups returns available backups, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]*models.BackupMetadata, error) {
	entries, err := os.ReadDir(s.storageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.BackupMetadata{}, nil
		}
		return nil, err
	}

	var backups []*models.BackupMetadata
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".db.gz") {
			continue
		}
		meta, err := s.loadBackupMetadata(filepath.Join(s.storageDir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable backup",
				"filename", entry.Name(), "error", err)
			continue
		}
		backups = append(backups, meta)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// GetBackup retrieves metadata for one backup by filename.
func (s *BackupService) GetBackup(ctx context.Context, filename string) (*models.BackupMetadata, error) {
	if err := validateFilename(filename); err != nil {
		return nil, err
	}
	return s.loadBackupMetadata(filepath.Join(s.storageDir, filename))
}

// DeleteBackup removes a backup and its metadata file.
func (s *BackupService) DeleteBackup(ctx context.Context, filename string) error {
	if err := validateFilename(filename); err != nil {
		return err
	}

	backupPath := filepath.Join(s.storageDir, filename)
	metaPath := strings.TrimSuffix(backupPath, ".db.gz") + ".meta.json"

	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing backup file: %w", err)
	}
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing metadata file failed", "path", metaPath, "error", err)
	}

	s.logger.Info("backup deleted", "filename", filename)
	return nil
}

// OpenBackupFile opens a backup for download streaming.
func (s *BackupService) OpenBackupFile(ctx context.Context, filename string) (*os.File, error) {
	if err := validateFilename(filename); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.storageDir, filename))
}

// RestoreBackup replaces the live catalog file with a verified backup.
// A pre-restore backup is taken first so the operation can be rolled
// back. The caller must reopen the database afterwards.
func (s *BackupService) RestoreBackup(ctx context.Context, filename string) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	backupPath := filepath.Join(s.storageDir, filename)
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}

	meta, err := s.loadBackupMetadata(backupPath)
	if err != nil {
		return fmt.Errorf("loading backup metadata: %w", err)
	}
	if meta.Checksum != "" {
		checksum, err := fileChecksum(backupPath)
		if err != nil {
			return fmt.Errorf("calculating checksum: %w", err)
		}
		if checksum != meta.Checksum {
			return fmt.Errorf("checksum mismatch: backup may be corrupted")
		}
	}

	preRestore, err := s.CreateBackup(ctx)
	if err != nil {
		return fmt.Errorf("creating pre-restore backup: %w", err)
	}

	tempDB, err := os.CreateTemp(s.storageDir, "restore-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempDB.Name()
	tempDB.Close()

	if err := decompressFile(backupPath, tempPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("decompressing backup: %w", err)
	}
	if err := s.validateDatabase(tempPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("validating restored database: %w", err)
	}

	currentDBPath := s.catalogPath()
	if currentDBPath == "" {
		os.Remove(tempPath)
		return fmt.Errorf("could not determine current database path")
	}

	oldPath := currentDBPath + ".old"
	os.Remove(oldPath)
	if err := os.Rename(currentDBPath, oldPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("backing up current database: %w", err)
	}
	if err := os.Rename(tempPath, currentDBPath); err != nil {
		os.Rename(oldPath, currentDBPath)
		return fmt.Errorf("installing restored database: %w", err)
	}
	os.Remove(oldPath)

	s.logger.Info("catalog restored",
		"from_backup", filename,
		"pre_restore_backup", preRestore.Filename)
	return nil
}

// CleanupOldBackups deletes backups beyond the retention count, oldest
// first, and returns how many were removed.
func (s *BackupService) CleanupOldBackups(ctx context.Context) (int, error) {
	retention := s.cfg.Schedule.Retention
	if retention <= 0 {
		return 0, nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= retention {
		return 0, nil
	}

	deleted := 0
	for _, backup := range backups[retention:] {
		if err := s.DeleteBackup(ctx, backup.Filename); err != nil {
			s.logger.Warn("deleting old backup failed",
				"filename", backup.Filename, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("cleaned up old backups", "deleted", deleted)
	}
	return deleted, nil
}

// ImportBackup stores an uploaded backup file after verifying it is a
// valid gzip-compressed catalog, so a fresh install can restore from a
// previously downloaded backup.
func (s *BackupService) ImportBackup(ctx context.Context, reader io.Reader, originalFilename string) (*models.BackupMetadata, error) {
	if err := os.MkdirAll(s.storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	if err := validateFilename(originalFilename); err != nil {
		return nil, err
	}
	if !isValidBackupFilename(originalFilename) {
		return nil, fmt.Errorf("invalid filename format: expected %sYYYY-MM-DDTHH-MM-SS.db.gz", backupPrefix)
	}

	destPath := filepath.Join(s.storageDir, originalFilename)
	if _, err := os.Stat(destPath); err == nil {
		return nil, fmt.Errorf("backup %s already exists", originalFilename)
	}

	tempFile, err := os.CreateTemp(s.storageDir, "upload-*.db.gz")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	if _, err := io.Copy(tempFile, reader); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("writing uploaded file: %w", err)
	}
	tempFile.Close()

	if err := s.validateCompressedBackup(tempPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("validating backup: %w", err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("moving backup into place: %w", err)
	}

	checksum, err := fileChecksum(destPath)
	if err != nil {
		return nil, fmt.Errorf("calculating checksum: %w", err)
	}
	fileInfo, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("stat imported backup: %w", err)
	}

	createdAt := parseTimestampFromFilename(originalFilename)
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	metaFile := &models.BackupMetadataFile{
		AppVersion:     "imported",
		CompressedSize: fileInfo.Size(),
		Checksum:       checksum,
		CreatedAt:      createdAt,
		TableCounts:    make(map[string]int),
	}
	if dbSize, tableCounts, err := s.inspectCompressedBackup(ctx, destPath); err == nil {
		metaFile.DatabaseSize = dbSize
		metaFile.TableCounts = tableCounts
	}

	metaPath := strings.TrimSuffix(destPath, ".db.gz") + ".meta.json"
	if err := writeMetadataFile(metaPath, metaFile); err != nil {
		s.logger.Warn("writing metadata file failed", "error", err)
	}

	meta := &models.BackupMetadata{
		Filename:       originalFilename,
		FilePath:       destPath,
		CreatedAt:      createdAt,
		FileSize:       fileInfo.Size(),
		Checksum:       checksum,
		AppVersion:     metaFile.AppVersion,
		DatabaseSize:   metaFile.DatabaseSize,
		CompressedSize: metaFile.CompressedSize,
		TableCounts:    metaFile.ToTableCounts(),
	}

	s.logger.Info("backup imported", "filename", meta.Filename, "size", meta.FileSize)
	return meta, nil
}

func (s *BackupService) checkDiskSpace() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.storageDir, &stat); err != nil {
		// Best effort; some filesystems refuse statfs.
		s.logger.Warn("unable to check disk space", "error", err)
		return nil
	}
	available := stat.Bavail * uint64(stat.Bsize)
	if available < minBackupDiskSpace {
		return fmt.Errorf("insufficient disk space for backup: %d bytes available, %d required",
			available, minBackupDiskSpace)
	}
	return nil
}

func (s *BackupService) tableCounts(ctx context.Context, db *gorm.DB) (map[string]int, error) {
	counts := make(map[string]int, len(backupTables))
	for _, table := range backupTables {
		var count int64
		if err := db.WithContext(ctx).Table(table).Count(&count).Error; err != nil {
			continue
		}
		counts[table] = int(count)
	}
	return counts, nil
}

func (s *BackupService) loadBackupMetadata(backupPath string) (*models.BackupMetadata, error) {
	info, err := os.Stat(backupPath)
	if err != nil {
		return nil, err
	}

	metaPath := strings.TrimSuffix(backupPath, ".db.gz") + ".meta.json"
	var metaFile models.BackupMetadataFile
	if metaData, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(metaData, &metaFile); err != nil {
			s.logger.Warn("unparseable metadata file", "path", metaPath, "error", err)
		}
	}

	createdAt := metaFile.CreatedAt
	if createdAt.IsZero() {
		createdAt = parseTimestampFromFilename(filepath.Base(backupPath))
		if createdAt.IsZero() {
			createdAt = info.ModTime()
		}
	}

	return &models.BackupMetadata{
		Filename:       filepath.Base(backupPath),
		FilePath:       backupPath,
		CreatedAt:      createdAt,
		FileSize:       info.Size(),
		Checksum:       metaFile.Checksum,
		AppVersion:     metaFile.AppVersion,
		DatabaseSize:   metaFile.DatabaseSize,
		CompressedSize: metaFile.CompressedSize,
		TableCounts:    metaFile.ToTableCounts(),
	}, nil
}

// validateDatabase opens the candidate file and runs an integrity check.
func (s *BackupService) validateDatabase(dbPath string) error {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}
	defer sqlDB.Close()

	var result string
	if err := db.Raw("PRAGMA integrity_check").Scan(&result).Error; err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database integrity check failed: %s", result)
	}
	return nil
}

func (s *BackupService) validateCompressedBackup(gzPath string) error {
	tempFile, err := os.CreateTemp(s.storageDir, "validate-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()
	defer os.Remove(tempPath)

	if err := decompressFile(gzPath, tempPath); err != nil {
		return fmt.Errorf("decompressing: %w", err)
	}
	return s.validateDatabase(tempPath)
}

func (s *BackupService) inspectCompressedBackup(ctx context.Context, gzPath string) (int64, map[string]int, error) {
	tempFile, err := os.CreateTemp(s.storageDir, "inspect-*.db")
	if err != nil {
		return 0, nil, err
	}
	tempPath := tempFile.Name()
	tempFile.Close()
	defer os.Remove(tempPath)

	if err := decompressFile(gzPath, tempPath); err != nil {
		return 0, nil, err
	}
	info, err := os.Stat(tempPath)
	if err != nil {
		return 0, nil, err
	}

	db, err := gorm.Open(sqlite.Open(tempPath), &gorm.Config{})
	if err != nil {
		return info.Size(), nil, nil
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	counts, _ := s.tableCounts(ctx, db)
	return info.Size(), counts, nil
}

// catalogPath asks SQLite where the live database file lives.
func (s *BackupService) catalogPath() string {
	sqlDB, err := s.db.DB()
	if err != nil {
		return ""
	}
	var seq int
	var name, dbPath string
	row := sqlDB.QueryRow("PRAGMA database_list")
	if err := row.Scan(&seq, &name, &dbPath); err != nil {
		return ""
	}
	return dbPath
}

func validateFilename(filename string) error {
	if filename == "" || filepath.Base(filename) != filename {
		return fmt.Errorf("invalid filename")
	}
	return nil
}

func compressFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	gz := gzip.NewWriter(dstFile)
	if _, err := io.Copy(gz, srcFile); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

func decompressFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	gz, err := gzip.NewReader(srcFile)
	if err != nil {
		return err
	}
	defer gz.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, gz)
	return err
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// writeMetadataFile writes the companion .meta.json atomically so a crash
// never leaves a half-written metadata file beside a good backup.
func writeMetadataFile(path string, metaFile *models.BackupMetadataFile) error {
	metaJSON, err := json.MarshalIndent(metaFile, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := renameio.WriteFile(path, metaJSON, 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

var backupTimestampRe = regexp.MustCompile(
	regexp.QuoteMeta(backupPrefix) + `(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}(?:\.\d{3})?)\.db\.gz`)

// parseTimestampFromFilename extracts the creation time embedded in a
// backup filename, zero when it does not match.
func parseTimestampFromFilename(filename string) time.Time {
	matches := backupTimestampRe.FindStringSubmatch(filename)
	if len(matches) != 2 {
		return time.Time{}
	}
	layout := "2006-01-02T15-04-05"
	if strings.Contains(matches[1], ".") {
		layout = "2006-01-02T15-04-05.000"
	}
	t, err := time.Parse(layout, matches[1])
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func isValidBackupFilename(filename string) bool {
	if !strings.HasPrefix(filename, backupPrefix) || !strings.HasSuffix(filename, ".db.gz") {
		return false
	}
	return !parseTimestampFromFilename(filename).IsZero()
}

func truncateChecksum(checksum string) string {
	if len(checksum) > 23 {
		return checksum[:23] + "..."
	}
	return checksum
}
