// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/dubarr/internal/backups"
	"github.com/autobrr/dubarr/internal/config"
	"github.com/autobrr/dubarr/internal/database"
	"github.com/autobrr/dubarr/internal/models"
)

// RunBackupCommand groups the offline backup operations. They open the
// database directly and work without a running server.
func RunBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Database backup operations",
	}

	cmd.AddCommand(runBackupCreateCommand())
	cmd.AddCommand(runBackupListCommand())
	return cmd
}

func runBackupCreateCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a database backup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, cfg, err := openDatabaseFromConfig(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			backup, err := newBackupService(db, cfg).Create(cmd.Context(), models.BackupKindManual)
			if err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}

			cmd.Printf("Backup created: %s (%d bytes)\n", backup.ArchivePath, backup.SizeBytes)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory holding config.toml (default: OS config dir)")

	return cmd
}

func runBackupListCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored backups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, cfg, err := openDatabaseFromConfig(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			stored, err := newBackupService(db, cfg).List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}

			if len(stored) == 0 {
				cmd.Println("No backups found")
				return nil
			}

			for _, backup := range stored {
				cmd.Printf("%4d  %-9s  %12d  %s  %s\n",
					backup.ID, backup.Kind, backup.SizeBytes,
					backup.CreatedAt.Format(time.RFC3339), backup.ArchivePath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory holding config.toml (default: OS config dir)")

	return cmd
}

func newBackupService(db *database.DB, cfg *config.AppConfig) *backups.Service {
	return backups.NewService(db, models.NewBackupStore(db), models.NewSettingStore(db), cfg.Config.DataDir, log.Logger)
}
