// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/autobrr/dubarr/internal/dbinterface"
)

var ErrSettingNotFound = errors.New("setting not found")

// Setting keys stored in the settings table.
const (
	SettingScanIntervalSeconds   = "scan_interval_seconds"
	SettingBackupIntervalSeconds = "backup_interval_seconds"
	SettingBackupRetentionDays   = "backup_retention_days"
)

// Defaults used when a setting has never been written.
const (
	DefaultScanIntervalSeconds   = 86400
	DefaultBackupIntervalSeconds = 86400
	DefaultBackupRetentionDays   = 28
)

// Settings is the editable runtime configuration kept in the database, as
// opposed to the process configuration in config.toml.
type Settings struct {
	ScanIntervalSeconds   int `json:"scanIntervalSeconds"`
	BackupIntervalSeconds int `json:"backupIntervalSeconds"`
	BackupRetentionDays   int `json:"backupRetentionDays"`
}

type SettingStore struct {
	db dbinterface.Querier
}

func NewSettingStore(db dbinterface.Querier) *SettingStore {
	return &SettingStore{db: db}
}

func (s *SettingStore) Get(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM settings WHERE key = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}

	return value, nil
}

// GetInt returns the integer value for key, or fallback when the setting
// has never been written.
func (s *SettingStore) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return fallback, nil
		}
		return 0, err
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("setting %s is not an integer: %w", key, err)
	}

	return parsed, nil
}

func (s *SettingStore) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}

	return nil
}

func (s *SettingStore) SetInt(ctx context.Context, key string, value int) error {
	return s.Set(ctx, key, strconv.Itoa(value))
}

// GetSettings loads the full settings view with defaults applied.
func (s *SettingStore) GetSettings(ctx context.Context) (*Settings, error) {
	scanInterval, err := s.GetInt(ctx, SettingScanIntervalSeconds, DefaultScanIntervalSeconds)
	if err != nil {
		return nil, err
	}

	backupInterval, err := s.GetInt(ctx, SettingBackupIntervalSeconds, DefaultBackupIntervalSeconds)
	if err != nil {
		return nil, err
	}

	retentionDays, err := s.GetInt(ctx, SettingBackupRetentionDays, DefaultBackupRetentionDays)
	if err != nil {
		return nil, err
	}

	return &Settings{
		ScanIntervalSeconds:   scanInterval,
		BackupIntervalSeconds: backupInterval,
		BackupRetentionDays:   retentionDays,
	}, nil
}

// UpdateSettings validates and persists the full settings view.
func (s *SettingStore) UpdateSettings(ctx context.Context, settings *Settings) error {
	if settings == nil {
		return errors.New("settings cannot be nil")
	}
	if settings.ScanIntervalSeconds <= 0 {
		return errors.New("scan interval must be positive")
	}
	if settings.BackupIntervalSeconds <= 0 {
		return errors.New("backup interval must be positive")
	}
	if settings.BackupRetentionDays <= 0 {
		return errors.New("backup retention must be positive")
	}

	if err := s.SetInt(ctx, SettingScanIntervalSeconds, settings.ScanIntervalSeconds); err != nil {
		return err
	}
	if err := s.SetInt(ctx, SettingBackupIntervalSeconds, settings.BackupIntervalSeconds); err != nil {
		return err
	}
	return s.SetInt(ctx, SettingBackupRetentionDays, settings.BackupRetentionDays)
}
