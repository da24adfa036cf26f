// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/autobrr/dubarr/internal/dbinterface"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
)

// User is the single account allowed to log in. The schema enforces one row.
type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

type UserStore struct {
	db dbinterface.Querier
}

func NewUserStore(db dbinterface.Querier) *UserStore {
	return &UserStore{db: db}
}

// Create inserts the user row. Fails with a constraint error if a user
// already exists.
func (s *UserStore) Create(ctx context.Context, username, passwordHash string) (*User, error) {
	query := `INSERT INTO user (id, username, password_hash) VALUES (1, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, username, passwordHash); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &User{
		ID:           1,
		Username:     username,
		PasswordHash: passwordHash,
	}, nil
}

func (s *UserStore) Get(ctx context.Context) (*User, error) {
	query := `SELECT id, username, password_hash FROM user WHERE id = 1`

	var user User
	err := s.db.QueryRowContext(ctx, query).Scan(&user.ID, &user.Username, &user.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT id, username, password_hash FROM user WHERE username = ?`

	var user User
	err := s.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}

	return &user, nil
}

func (s *UserStore) UpdatePassword(ctx context.Context, passwordHash string) error {
	query := `UPDATE user SET password_hash = ? WHERE id = 1`

	result, err := s.db.ExecContext(ctx, query, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Exists reports whether the user has been created yet. Used by the setup
// flow to decide between registration and login.
func (s *UserStore) Exists(ctx context.Context) (bool, error) {
	query := `SELECT COUNT(*) FROM user WHERE id = 1`

	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	return count > 0, nil
}
