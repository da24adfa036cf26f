// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package auth implements password authentication and API key management
// for the single-user account.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dubarr/internal/dbinterface"
	"github.com/autobrr/dubarr/internal/models"
)

var (
	// ErrNotSetup is returned when authentication is attempted before the
	// initial user has been created.
	ErrNotSetup = errors.New("initial setup not complete")

	// ErrInvalidCredentials is returned for a wrong username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const minPasswordLength = 8

// Service handles user authentication and API key management.
type Service struct {
	userStore   *models.UserStore
	apiKeyStore *models.APIKeyStore
}

func NewService(db dbinterface.Querier) *Service {
	return &Service{
		userStore:   models.NewUserStore(db),
		apiKeyStore: models.NewAPIKeyStore(db),
	}
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return nil
}

// SetupUser creates the single account. Only one user can ever exist.
func (s *Service) SetupUser(ctx context.Context, username, password string) (*models.User, error) {
	exists, err := s.userStore.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing user: %w", err)
	}
	if exists {
		return nil, models.ErrUserAlreadyExists
	}

	if err := validatePassword(password); err != nil {
		return nil, err
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.userStore.Create(ctx, username, passwordHash)
	if err != nil {
		return nil, err
	}

	log.Info().Str("username", username).Msg("Created initial user")

	return user, nil
}

// Login verifies the username and password against the stored account.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.userStore.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			exists, existsErr := s.userStore.Exists(ctx)
			if existsErr != nil {
				return nil, fmt.Errorf("failed to check for existing user: %w", existsErr)
			}
			if !exists {
				return nil, ErrNotSetup
			}
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// ChangePassword verifies the current password before storing a new hash.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	user, err := s.userStore.Get(ctx)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return ErrNotSetup
		}
		return err
	}

	ok, err := VerifyPassword(oldPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := validatePassword(newPassword); err != nil {
		return err
	}

	passwordHash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.userStore.UpdatePassword(ctx, passwordHash); err != nil {
		return err
	}

	log.Info().Msg("Password changed")

	return nil
}

// IsSetupComplete reports whether the initial user has been created.
func (s *Service) IsSetupComplete(ctx context.Context) (bool, error) {
	return s.userStore.Exists(ctx)
}

// CreateAPIKey generates a new API key. The raw key is only available here;
// the store keeps a hash.
func (s *Service) CreateAPIKey(ctx context.Context, name string) (string, *models.APIKey, error) {
	rawKey, apiKey, err := s.apiKeyStore.Create(ctx, name)
	if err != nil {
		return "", nil, err
	}

	log.Info().Str("name", name).Msg("Created API key")

	return rawKey, apiKey, nil
}

func (s *Service) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	return s.apiKeyStore.List(ctx)
}

// ValidateAPIKey checks a raw API key and records its use.
func (s *Service) ValidateAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	return s.apiKeyStore.ValidateAPIKey(ctx, rawKey)
}

func (s *Service) DeleteAPIKey(ctx context.Context, id int) error {
	if err := s.apiKeyStore.Delete(ctx, id); err != nil {
		return err
	}

	log.Info().Int("id", id).Msg("Deleted API key")

	return nil
}
