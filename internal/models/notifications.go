// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/autobrr/dubarr/internal/crypto"
	"github.com/autobrr/dubarr/internal/dbinterface"
	"github.com/autobrr/dubarr/internal/domain"
	"github.com/autobrr/dubarr/pkg/stringutils"
)

var ErrNotificationChannelNotFound = errors.New("notification channel not found")

// NotificationEvent identifies something worth telling the user about.
type NotificationEvent string

const (
	EventWrongDubDetected NotificationEvent = "wrong-dub-detected"
	EventOriginalMissing  NotificationEvent = "original-missing"
	EventHealthWarning    NotificationEvent = "health-warning"
)

// NotificationChannel is a configured shoutrrr destination. The service URL
// is encrypted at rest since it usually embeds credentials.
type NotificationChannel struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	// URL always reads as the redaction placeholder; submitting the
	// placeholder back on update keeps the stored URL.
	URL                   string     `json:"url,omitempty"`
	URLEncrypted          string     `json:"-"`
	EventTypes            []string   `json:"eventTypes"`
	IncludeHealthWarnings bool       `json:"includeHealthWarnings"`
	Enabled               bool       `json:"enabled"`
	LastSentAt            *time.Time `json:"lastSentAt,omitempty"`
	LastError             string     `json:"lastError,omitempty"`
	ConsecutiveFailures   int        `json:"consecutiveFailures"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Subscribed reports whether the channel wants the given event. Health
// warnings are governed by the dedicated flag, all other events by the
// subscription list.
func (c *NotificationChannel) Subscribed(event NotificationEvent) bool {
	if !c.Enabled {
		return false
	}
	if event == EventHealthWarning {
		return c.IncludeHealthWarnings
	}
	return slices.Contains(c.EventTypes, string(event))
}

// NotificationChannelParams carries the writable channel fields. An empty
// or redacted URL on update keeps the stored one.
type NotificationChannelParams struct {
	Name                  string   `json:"name"`
	URL                   string   `json:"url"`
	EventTypes            []string `json:"eventTypes"`
	IncludeHealthWarnings bool     `json:"includeHealthWarnings"`
	Enabled               bool     `json:"enabled"`
}

// NotificationChannelStore manages persistence for notification channels.
type NotificationChannelStore struct {
	db        dbinterface.Querier
	encryptor *crypto.AESEncryptor
}

func NewNotificationChannelStore(db dbinterface.Querier, encryptionKey []byte) (*NotificationChannelStore, error) {
	encryptor, err := crypto.NewAESEncryptor(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	return &NotificationChannelStore{
		db:        db,
		encryptor: encryptor,
	}, nil
}

const notificationChannelColumns = `id, name, url_encrypted, events, include_health_warnings, enabled, last_sent_at, last_error, consecutive_failures, created_at, updated_at`

func (s *NotificationChannelStore) List(ctx context.Context) ([]*NotificationChannel, error) {
	query := `SELECT ` + notificationChannelColumns + ` FROM notification_channels ORDER BY name ASC`

	return s.queryChannels(ctx, query)
}

func (s *NotificationChannelStore) ListEnabled(ctx context.Context) ([]*NotificationChannel, error) {
	query := `SELECT ` + notificationChannelColumns + ` FROM notification_channels WHERE enabled = 1 ORDER BY name ASC`

	return s.queryChannels(ctx, query)
}

func (s *NotificationChannelStore) queryChannels(ctx context.Context, query string, args ...any) ([]*NotificationChannel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification channels: %w", err)
	}
	defer rows.Close()

	channels := make([]*NotificationChannel, 0)
	for rows.Next() {
		channel, err := scanNotificationChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification channels: %w", err)
	}

	return channels, nil
}

func (s *NotificationChannelStore) Get(ctx context.Context, id int) (*NotificationChannel, error) {
	query := `SELECT ` + notificationChannelColumns + ` FROM notification_channels WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	return scanNotificationChannel(row)
}

func (s *NotificationChannelStore) Create(ctx context.Context, params *NotificationChannelParams) (*NotificationChannel, error) {
	if params == nil {
		return nil, errors.New("params cannot be nil")
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, errors.New("name cannot be empty")
	}

	serviceURL := strings.TrimSpace(params.URL)
	if serviceURL == "" || domain.IsRedactedString(serviceURL) {
		return nil, errors.New("service URL cannot be empty")
	}

	encryptedURL, err := s.encryptor.Encrypt(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt service URL: %w", err)
	}

	eventsJSON, err := json.Marshal(normalizeEventTypes(params.EventTypes))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event types: %w", err)
	}

	query := `
		INSERT INTO notification_channels (name, url_encrypted, events, include_health_warnings, enabled)
		VALUES (?, ?, ?, ?, ?)
		RETURNING ` + notificationChannelColumns

	row := s.db.QueryRowContext(ctx, query, name, encryptedURL, string(eventsJSON), params.IncludeHealthWarnings, params.Enabled)
	channel, err := scanNotificationChannel(row)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("notification channel name %q already in use", name)
		}
		return nil, err
	}

	return channel, nil
}

func (s *NotificationChannelStore) Update(ctx context.Context, id int, params *NotificationChannelParams) (*NotificationChannel, error) {
	if params == nil {
		return nil, errors.New("params cannot be nil")
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, errors.New("name cannot be empty")
	}

	encryptedURL := existing.URLEncrypted
	if serviceURL := strings.TrimSpace(params.URL); serviceURL != "" && !domain.IsRedactedString(serviceURL) {
		encryptedURL, err = s.encryptor.Encrypt(serviceURL)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt service URL: %w", err)
		}
	}

	eventsJSON, err := json.Marshal(normalizeEventTypes(params.EventTypes))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event types: %w", err)
	}

	query := `
		UPDATE notification_channels
		SET name = ?, url_encrypted = ?, events = ?, include_health_warnings = ?, enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, name, encryptedURL, string(eventsJSON), params.IncludeHealthWarnings, params.Enabled, id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("notification channel name %q already in use", name)
		}
		return nil, fmt.Errorf("failed to update notification channel: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotificationChannelNotFound
	}

	return s.Get(ctx, id)
}

func (s *NotificationChannelStore) Delete(ctx context.Context, id int) error {
	query := `DELETE FROM notification_channels WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification channel: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotificationChannelNotFound
	}

	return nil
}

// GetDecryptedURL returns the decrypted shoutrrr service URL for a channel.
func (s *NotificationChannelStore) GetDecryptedURL(channel *NotificationChannel) (string, error) {
	return s.encryptor.Decrypt(channel.URLEncrypted)
}

// MarkSendSuccess records a successful delivery and clears the failure run.
func (s *NotificationChannelStore) MarkSendSuccess(ctx context.Context, id int) error {
	query := `
		UPDATE notification_channels
		SET last_sent_at = CURRENT_TIMESTAMP, last_error = '', consecutive_failures = 0
		WHERE id = ?
	`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to record notification success: %w", err)
	}

	return nil
}

// MarkSendFailure records a failed delivery and bumps the failure run.
// The attempt timestamp is stamped on both outcomes; it tracks the last
// delivery attempt, not the last success.
func (s *NotificationChannelStore) MarkSendFailure(ctx context.Context, id int, sendErr string) error {
	query := `
		UPDATE notification_channels
		SET last_sent_at = CURRENT_TIMESTAMP, last_error = ?, consecutive_failures = consecutive_failures + 1
		WHERE id = ?
	`

	if _, err := s.db.ExecContext(ctx, query, sendErr, id); err != nil {
		return fmt.Errorf("failed to record notification failure: %w", err)
	}

	return nil
}

func scanNotificationChannel(scanner interface{ Scan(dest ...any) error }) (*NotificationChannel, error) {
	var channel NotificationChannel
	var eventsJSON string

	if err := scanner.Scan(
		&channel.ID,
		&channel.Name,
		&channel.URLEncrypted,
		&eventsJSON,
		&channel.IncludeHealthWarnings,
		&channel.Enabled,
		&channel.LastSentAt,
		&channel.LastError,
		&channel.ConsecutiveFailures,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotificationChannelNotFound
		}
		return nil, fmt.Errorf("failed to scan notification channel: %w", err)
	}

	if err := unmarshalStringList(eventsJSON, &channel.EventTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event types: %w", err)
	}

	channel.URL = domain.RedactString(channel.URLEncrypted)

	return &channel, nil
}

func normalizeEventTypes(events []string) []string {
	normalized := make([]string, 0, len(events))
	for _, event := range events {
		event = stringutils.Fold(event)
		if event == "" || slices.Contains(normalized, event) {
			continue
		}
		normalized = append(normalized, event)
	}
	return normalized
}
