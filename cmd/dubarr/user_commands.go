// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/dubarr/internal/auth"
	"github.com/autobrr/dubarr/internal/config"
	"github.com/autobrr/dubarr/internal/database"
	"github.com/autobrr/dubarr/internal/models"
)

// RunCreateUserCommand creates the single user account directly in the
// database, for bootstrapping without the web setup flow.
func RunCreateUserCommand() *cobra.Command {
	var (
		configDir string
		username  string
		password  string
	)

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create the dubarr user account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, _, err := openDatabaseFromConfig(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			userStore := models.NewUserStore(db.Conn())

			exists, err := userStore.Exists(ctx)
			if err != nil {
				return fmt.Errorf("failed to check for existing user: %w", err)
			}
			if exists {
				cmd.Println("User account already exists")
				return nil
			}

			if username == "" {
				if username, err = promptText(cmd, "Username"); err != nil {
					return err
				}
			}
			if username == "" {
				return errors.New("username is required")
			}

			if password == "" {
				if password, err = promptPassword(cmd, "Password"); err != nil {
					return err
				}
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}

			if _, err := userStore.Create(ctx, username, hash); err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			cmd.Printf("User '%s' created successfully\n", username)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory holding config.toml (default: OS config dir)")
	cmd.Flags().StringVar(&username, "username", "", "Username for the new account")
	cmd.Flags().StringVar(&password, "password", "", "Password for the new account (prompted when omitted)")

	return cmd
}

// RunChangePasswordCommand resets the stored password hash. Useful when
// the password is lost and the web login is unreachable.
func RunChangePasswordCommand() *cobra.Command {
	var (
		configDir   string
		username    string
		newPassword string
	)

	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change the password of the dubarr user account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, _, err := openDatabaseFromConfig(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			userStore := models.NewUserStore(db.Conn())

			if username == "" {
				if username, err = promptText(cmd, "Username"); err != nil {
					return err
				}
			}

			if _, err := userStore.GetByUsername(ctx, username); err != nil {
				if errors.Is(err, models.ErrUserNotFound) {
					return fmt.Errorf("user '%s' does not exist", username)
				}
				return fmt.Errorf("failed to look up user: %w", err)
			}

			if newPassword == "" {
				if newPassword, err = promptPassword(cmd, "New password"); err != nil {
					return err
				}
			}

			hash, err := auth.HashPassword(newPassword)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}

			if err := userStore.UpdatePassword(ctx, hash); err != nil {
				return fmt.Errorf("failed to update password: %w", err)
			}

			cmd.Println("Password changed successfully")
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory holding config.toml (default: OS config dir)")
	cmd.Flags().StringVar(&username, "username", "", "Username of the account")
	cmd.Flags().StringVar(&newPassword, "new-password", "", "New password (prompted when omitted)")

	return cmd
}

// openDatabaseFromConfig loads the config to resolve the data directory
// and opens the database the way the server does.
func openDatabaseFromConfig(configDir string) (*database.DB, *config.AppConfig, error) {
	cfg, err := config.New(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, cfg, nil
}

func promptText(cmd *cobra.Command, label string) (string, error) {
	cmd.Printf("%s: ", label)

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}

	return strings.TrimSpace(line), nil
}

// promptPassword reads without echo when stdin is a terminal, and falls
// back to a plain line read when input is piped.
func promptPassword(cmd *cobra.Command, label string) (string, error) {
	file, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return promptText(cmd, label)
	}

	cmd.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(file.Fd()))
	cmd.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}

	return string(raw), nil
}
