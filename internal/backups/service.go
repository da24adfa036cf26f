// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package backups snapshots the database into compressed archives and
// restores them. Scheduled backups run on an interval read from settings,
// followed by retention cleanup of expired scheduled archives.
package backups

import (
	"archive/zip"
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/mholt/archives"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/internal/database"
	"github.com/autobrr/dubarr/internal/models"
)

var (
	// ErrArchiveMissing is returned when a backup record's archive file no
	// longer exists on disk.
	ErrArchiveMissing = errors.New("backup archive missing from disk")

	// ErrArchiveInvalid is returned when an archive is unreadable or does
	// not contain the canonical database member.
	ErrArchiveInvalid = errors.New("backup archive format invalid")
)

const (
	// archiveMember is the database file name inside every backup archive.
	// Restore refuses archives that do not carry it.
	archiveMember = "dubarr.db"

	archiveTimeLayout = "20060102T150405"
)

// Service creates, restores, and expires database backups.
type Service struct {
	db        *database.DB
	store     *models.BackupStore
	settings  *models.SettingStore
	backupDir string
	log       zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewService returns a backup service writing archives to
// <dataDir>/backups.
func NewService(db *database.DB, store *models.BackupStore, settings *models.SettingStore, dataDir string, logger zerolog.Logger) *Service {
	return &Service{
		db:        db,
		store:     store,
		settings:  settings,
		backupDir: filepath.Join(dataDir, "backups"),
		log:       logger.With().Str("component", "backups").Logger(),
	}
}

// Create snapshots the live database and archives it. The snapshot is
// taken with VACUUM INTO, so it is consistent even while the service
// keeps writing.
func (s *Service) Create(ctx context.Context, kind models.BackupKind) (*models.Backup, error) {
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create backup directory")
	}

	timestamp := time.Now().UTC().Format(archiveTimeLayout)
	archivePath := filepath.Join(s.backupDir, "dubarr-backup-"+timestamp+".zip")

	snapshotPath := archivePath + ".db.tmp"
	defer os.Remove(snapshotPath)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", snapshotPath); err != nil {
		return nil, errors.Wrap(err, "failed to snapshot database")
	}

	if err := writeArchive(archivePath, snapshotPath); err != nil {
		return nil, err
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		_ = os.Remove(archivePath)
		return nil, errors.Wrap(err, "failed to stat archive")
	}

	backup, err := s.store.Create(ctx, kind, archivePath, info.Size())
	if err != nil {
		_ = os.Remove(archivePath)
		return nil, err
	}

	s.log.Info().
		Str("archive", filepath.Base(archivePath)).
		Str("kind", string(kind)).
		Int64("sizeBytes", backup.SizeBytes).
		Msg("Backup created")

	return backup, nil
}

func writeArchive(archivePath, snapshotPath string) error {
	// O_EXCL keeps a same-second backup from silently truncating the
	// previous archive.
	archiveFile, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to create archive")
	}
	defer archiveFile.Close()

	cleanupArchive := true
	defer func() {
		if cleanupArchive {
			_ = os.Remove(archivePath)
		}
	}()

	snapshot, err := os.Open(snapshotPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database snapshot")
	}
	defer snapshot.Close()

	zipWriter := zip.NewWriter(archiveFile)

	header := &zip.FileHeader{
		Name:     archiveMember,
		Method:   zip.Deflate,
		Modified: time.Now(),
	}

	entry, err := zipWriter.CreateHeader(header)
	if err != nil {
		return errors.Wrap(err, "failed to create archive entry")
	}

	if _, err := io.Copy(entry, snapshot); err != nil {
		return errors.Wrap(err, "failed to write archive entry")
	}

	if err := zipWriter.Close(); err != nil {
		return errors.Wrap(err, "failed to finalize archive")
	}

	if err := archiveFile.Close(); err != nil {
		return errors.Wrap(err, "failed to close archive")
	}

	cleanupArchive = false
	return nil
}

// Restore replaces the live database file with the snapshot from the
// given backup. The open connection still points at the old file, so the
// caller must restart the process before the restored data is served.
func (s *Service) Restore(ctx context.Context, id int) error {
	backup, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	archiveFile, err := os.Open(backup.ArchivePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errors.Wrap(ErrArchiveMissing, filepath.Base(backup.ArchivePath))
		}
		return errors.Wrap(err, "failed to open archive")
	}
	defer archiveFile.Close()

	format, input, err := archives.Identify(ctx, backup.ArchivePath, archiveFile)
	if err != nil {
		return errors.Wrapf(ErrArchiveInvalid, "unrecognized archive %s", filepath.Base(backup.ArchivePath))
	}

	extractor, ok := format.(archives.Extractor)
	if !ok {
		return errors.Wrapf(ErrArchiveInvalid, "%s is not an archive", filepath.Base(backup.ArchivePath))
	}

	dbPath := s.db.Path()
	stagingPath := dbPath + ".restore.tmp"

	found := false
	err = extractor.Extract(ctx, input, func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() || path.Clean(f.NameInArchive) != archiveMember {
			return nil
		}

		member, err := f.Open()
		if err != nil {
			return errors.Wrap(err, "failed to open archive member")
		}
		defer member.Close()

		staging, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return errors.Wrap(err, "failed to create staging file")
		}

		if _, err := io.Copy(staging, member); err != nil {
			_ = staging.Close()
			return errors.Wrap(err, "failed to extract database")
		}

		if err := staging.Close(); err != nil {
			return errors.Wrap(err, "failed to close staging file")
		}

		found = true
		return nil
	})
	if err != nil {
		_ = os.Remove(stagingPath)
		return errors.Wrap(err, "failed to read archive")
	}
	if !found {
		_ = os.Remove(stagingPath)
		return errors.Wrapf(ErrArchiveInvalid, "archive has no %s member", archiveMember)
	}

	// Keep the current database reachable in case the restored snapshot
	// turns out to be the wrong one. A repeated restore overwrites it.
	sidecarPath := dbPath + ".pre-restore.bak"
	if err := copyFile(dbPath, sidecarPath); err != nil {
		_ = os.Remove(stagingPath)
		return errors.Wrap(err, "failed to save pre-restore copy")
	}

	if err := os.Rename(stagingPath, dbPath); err != nil {
		return errors.Wrap(err, "failed to replace database")
	}

	// The snapshot carries no WAL. Stale journal files from the old
	// database must not be replayed into it on the next open.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn().Err(err).Str("file", dbPath+suffix).Msg("Failed to remove stale journal file")
		}
	}

	s.log.Warn().
		Str("archive", filepath.Base(backup.ArchivePath)).
		Msg("Database restored, restart required")

	return nil
}

// Get returns a single backup record.
func (s *Service) Get(ctx context.Context, id int) (*models.Backup, error) {
	return s.store.Get(ctx, id)
}

// List returns all backup records, newest first.
func (s *Service) List(ctx context.Context) ([]*models.Backup, error) {
	return s.store.List(ctx)
}

// Delete removes a backup record and its archive file.
func (s *Service) Delete(ctx context.Context, id int) error {
	backup, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := os.Remove(backup.ArchivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "failed to remove archive")
	}

	return s.store.Delete(ctx, backup.ID)
}

// Start launches the scheduled backup loop.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	s.log.Debug().Msg("Backup scheduler started")
}

// Stop halts the scheduled backup loop and waits for a backup in
// progress to finish.
func (s *Service) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.log.Debug().Msg("Backup scheduler stopped")
	})
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	// Sleep first. A fresh boot should not immediately write an archive.
	timer := time.NewTimer(s.interval(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runScheduled(ctx)
			// The interval is re-read every cycle, so settings changes
			// apply on the next wake-up.
			timer.Reset(s.interval(ctx))
		}
	}
}

func (s *Service) interval(ctx context.Context) time.Duration {
	seconds, err := s.settings.GetInt(ctx, models.SettingBackupIntervalSeconds, models.DefaultBackupIntervalSeconds)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read backup interval, using default")
		seconds = models.DefaultBackupIntervalSeconds
	}
	if seconds <= 0 {
		// A zero interval would spin.
		seconds = models.DefaultBackupIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}

func (s *Service) runScheduled(ctx context.Context) {
	if _, err := s.Create(ctx, models.BackupKindScheduled); err != nil {
		s.log.Error().Err(err).Msg("Scheduled backup failed")
	}
	s.enforceRetention(ctx)
}

// enforceRetention deletes scheduled backups older than the retention
// window. Manual backups are kept until the user removes them.
func (s *Service) enforceRetention(ctx context.Context) {
	days, err := s.settings.GetInt(ctx, models.SettingBackupRetentionDays, models.DefaultBackupRetentionDays)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read backup retention, using default")
		days = models.DefaultBackupRetentionDays
	}
	if days <= 0 {
		days = models.DefaultBackupRetentionDays
	}

	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	expired, err := s.store.ListScheduledOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list expired backups")
		return
	}

	for _, backup := range expired {
		if err := os.Remove(backup.ArchivePath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.log.Debug().Str("archive", backup.ArchivePath).Msg("Expired archive already gone")
			} else {
				s.log.Warn().Err(err).Str("archive", backup.ArchivePath).Msg("Failed to remove expired archive")
				// Keep the record so the next cycle retries the removal.
				continue
			}
		}

		if err := s.store.Delete(ctx, backup.ID); err != nil {
			s.log.Error().Err(err).Int("backupID", backup.ID).Msg("Failed to delete expired backup record")
			continue
		}

		s.log.Info().Str("archive", filepath.Base(backup.ArchivePath)).Msg("Expired backup removed")
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "failed to copy to %s", dst)
	}

	if err := out.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync %s", dst)
	}

	return out.Close()
}
