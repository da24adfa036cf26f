// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/dubarr/internal/dbinterface"
)

var ErrBackupNotFound = errors.New("backup not found")

// BackupKind distinguishes user requested backups from scheduler runs.
// Retention only ever deletes scheduled backups.
type BackupKind string

const (
	BackupKindManual    BackupKind = "manual"
	BackupKindScheduled BackupKind = "scheduled"
)

// Backup is one archived database snapshot on disk.
type Backup struct {
	ID          int        `json:"id"`
	Kind        BackupKind `json:"kind"`
	ArchivePath string     `json:"archivePath"`
	SizeBytes   int64      `json:"sizeBytes"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type BackupStore struct {
	db dbinterface.Querier
}

func NewBackupStore(db dbinterface.Querier) *BackupStore {
	return &BackupStore{db: db}
}

const backupColumns = `id, kind, archive_path, size_bytes, created_at`

func (s *BackupStore) Create(ctx context.Context, kind BackupKind, archivePath string, sizeBytes int64) (*Backup, error) {
	query := `
		INSERT INTO backups (kind, archive_path, size_bytes)
		VALUES (?, ?, ?)
		RETURNING ` + backupColumns

	row := s.db.QueryRowContext(ctx, query, string(kind), archivePath, sizeBytes)
	return scanBackup(row)
}

func (s *BackupStore) Get(ctx context.Context, id int) (*Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM backups WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	return scanBackup(row)
}

// List returns backups newest first.
func (s *BackupStore) List(ctx context.Context) ([]*Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM backups ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	backups := make([]*Backup, 0)
	for rows.Next() {
		backup, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, backup)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backups: %w", err)
	}

	return backups, nil
}

// ListScheduledOlderThan returns scheduled backups created before cutoff,
// the candidates for retention cleanup.
func (s *BackupStore) ListScheduledOlderThan(ctx context.Context, cutoff time.Time) ([]*Backup, error) {
	query := `
		SELECT ` + backupColumns + `
		FROM backups
		WHERE kind = 'scheduled' AND created_at < ?
		ORDER BY id ASC
	`

	// created_at rows come from CURRENT_TIMESTAMP, so the cutoff is bound in
	// the same text layout to keep the comparison chronological.
	rows, err := s.db.QueryContext(ctx, query, cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired backups: %w", err)
	}
	defer rows.Close()

	backups := make([]*Backup, 0)
	for rows.Next() {
		backup, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, backup)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired backups: %w", err)
	}

	return backups, nil
}

func (s *BackupStore) Delete(ctx context.Context, id int) error {
	query := `DELETE FROM backups WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrBackupNotFound
	}

	return nil
}

func scanBackup(scanner interface{ Scan(dest ...any) error }) (*Backup, error) {
	var backup Backup
	var kind string

	if err := scanner.Scan(
		&backup.ID,
		&kind,
		&backup.ArchivePath,
		&backup.SizeBytes,
		&backup.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBackupNotFound
		}
		return nil, fmt.Errorf("failed to scan backup: %w", err)
	}

	backup.Kind = BackupKind(kind)

	return &backup, nil
}
