// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/dubarr/internal/dbinterface"
)

var (
	ErrCommandNotFound      = errors.New("command not found")
	ErrCommandNotCancelable = errors.New("command is not queued and cannot be canceled")
)

// CommandStatus tracks a command through its lifecycle. Queued commands move
// to started exactly once, then to a terminal completed or failed state.
type CommandStatus string

const (
	CommandStatusQueued    CommandStatus = "queued"
	CommandStatusStarted   CommandStatus = "started"
	CommandStatusCompleted CommandStatus = "completed"
	CommandStatusFailed    CommandStatus = "failed"
)

// CommandTrigger records what enqueued a command.
type CommandTrigger string

const (
	CommandTriggerManual    CommandTrigger = "manual"
	CommandTriggerScheduled CommandTrigger = "scheduled"
)

// Command is one unit of queued background work.
type Command struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Status      CommandStatus   `json:"status"`
	TriggeredBy CommandTrigger  `json:"triggeredBy"`
	Message     string          `json:"message,omitempty"`
	QueuedAt    time.Time       `json:"queuedAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	EndedAt     *time.Time      `json:"endedAt,omitempty"`
}

type CommandStore struct {
	db dbinterface.Querier
}

func NewCommandStore(db dbinterface.Querier) *CommandStore {
	return &CommandStore{db: db}
}

const commandColumns = `id, name, payload, status, triggered_by, message, queued_at, started_at, ended_at`

// Enqueue adds a new queued command.
func (s *CommandStore) Enqueue(ctx context.Context, name string, payload json.RawMessage, trigger CommandTrigger) (*Command, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("command name cannot be empty")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	query := `
		INSERT INTO commands (name, payload, triggered_by)
		VALUES (?, ?, ?)
		RETURNING ` + commandColumns

	row := s.db.QueryRowContext(ctx, query, name, string(payload), string(trigger))
	return scanCommand(row)
}

func (s *CommandStore) Get(ctx context.Context, id int) (*Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	return scanCommand(row)
}

// List returns commands newest first, at most limit entries (0 means all)
// starting offset rows in.
func (s *CommandStore) List(ctx context.Context, limit, offset int) ([]*Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if offset > 0 {
		// OFFSET needs a LIMIT clause; -1 keeps it unbounded
		if limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	defer rows.Close()

	commands := make([]*Command, 0)
	for rows.Next() {
		command, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, command)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commands: %w", err)
	}

	return commands, nil
}

// NextQueued returns the oldest queued command, or ErrCommandNotFound when
// the queue is empty.
func (s *CommandStore) NextQueued(ctx context.Context) (*Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE status = 'queued'
		ORDER BY id ASC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query)
	return scanCommand(row)
}

// Claim transitions a queued command to started. Returns false when the
// command was already picked up, canceled, or finished, so concurrent
// pollers never run the same command twice.
func (s *CommandStore) Claim(ctx context.Context, id int) (bool, error) {
	query := `
		UPDATE commands
		SET status = 'started', started_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'queued'
	`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim command: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func (s *CommandStore) MarkCompleted(ctx context.Context, id int, message string) error {
	return s.finish(ctx, id, CommandStatusCompleted, message)
}

func (s *CommandStore) MarkFailed(ctx context.Context, id int, message string) error {
	return s.finish(ctx, id, CommandStatusFailed, message)
}

func (s *CommandStore) finish(ctx context.Context, id int, status CommandStatus, message string) error {
	query := `
		UPDATE commands
		SET status = ?, message = ?, ended_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'started'
	`

	result, err := s.db.ExecContext(ctx, query, string(status), message, id)
	if err != nil {
		return fmt.Errorf("failed to mark command %s: %w", status, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrCommandNotFound
	}

	return nil
}

// FailStarted marks every started command as failed. The queue has a
// single consumer, so a started command found at boot can only be a
// crash leftover.
func (s *CommandStore) FailStarted(ctx context.Context, message string) (int, error) {
	query := `
		UPDATE commands
		SET status = 'failed', message = ?, ended_at = CURRENT_TIMESTAMP
		WHERE status = 'started'
	`

	result, err := s.db.ExecContext(ctx, query, message)
	if err != nil {
		return 0, fmt.Errorf("failed to fail started commands: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// Delete cancels a queued command. Commands in any other state are
// immutable history and cannot be removed.
func (s *CommandStore) Delete(ctx context.Context, id int) error {
	query := `DELETE FROM commands WHERE id = ? AND status = 'queued'`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete command: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 1 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	return ErrCommandNotCancelable
}

// HasQueued reports whether a queued command with the same name and payload
// already exists. Used by the scheduler to avoid stacking identical scans.
func (s *CommandStore) HasQueued(ctx context.Context, name string, payload json.RawMessage) (bool, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	query := `SELECT COUNT(*) FROM commands WHERE status = 'queued' AND name = ? AND payload = ?`

	var count int
	if err := s.db.QueryRowContext(ctx, query, name, string(payload)).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check queued commands: %w", err)
	}

	return count > 0, nil
}

// CountByStatus returns the number of commands per status.
func (s *CommandStore) CountByStatus(ctx context.Context) (map[CommandStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM commands GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count commands: %w", err)
	}
	defer rows.Close()

	counts := make(map[CommandStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan command count: %w", err)
		}
		counts[CommandStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating command counts: %w", err)
	}

	return counts, nil
}

func scanCommand(scanner interface{ Scan(dest ...any) error }) (*Command, error) {
	var command Command
	var payload string
	var status string
	var trigger string

	if err := scanner.Scan(
		&command.ID,
		&command.Name,
		&payload,
		&status,
		&trigger,
		&command.Message,
		&command.QueuedAt,
		&command.StartedAt,
		&command.EndedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("failed to scan command: %w", err)
	}

	command.Payload = json.RawMessage(payload)
	command.Status = CommandStatus(status)
	command.TriggeredBy = CommandTrigger(trigger)

	return &command, nil
}
