// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database provides the SQLite storage layer.
//
// A single modernc.org/sqlite database holds users, sessions, API keys,
// instance definitions, the command queue, notification channels, backup
// records, and application settings. Connection pragmas are applied through
// a driver hook so every connection is configured identically.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"

	"github.com/autobrr/dubarr/internal/dbinterface"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	busyTimeout  = 5 * time.Second
	setupTimeout = 5 * time.Second
)

var connectionPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	fmt.Sprintf("PRAGMA busy_timeout = %d", int(busyTimeout/time.Millisecond)),
	"PRAGMA analysis_limit = 400",
}

var hookOnce sync.Once

// registerConnectionHook configures every driver connection with the pragmas
// above. database/sql opens connections lazily, so a one-time setup against
// the pool would miss connections opened later.
func registerConnectionHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
			ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
			defer cancel()

			for _, pragma := range connectionPragmas {
				if _, err := conn.ExecContext(ctx, pragma, nil); err != nil {
					return fmt.Errorf("connection pragma %q: %w", pragma, err)
				}
			}
			return nil
		})
	})
}

type DB struct {
	conn *sql.DB
	path string

	closeOnce sync.Once
	closeErr  error
}

var (
	_ dbinterface.Querier    = (*DB)(nil)
	_ dbinterface.TxBeginner = (*DB)(nil)
)

// New opens (creating if necessary) the database at databasePath and brings
// its schema up to date.
func New(databasePath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(databasePath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	registerConnectionHook()

	conn, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", databasePath, err)
	}

	// Single connection: WAL plus busy_timeout handles contention between the
	// command processor and API writes, and schema changes never race a stale
	// pooled connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	// sql.Open does not touch the file. Force the connection open so the
	// pragma hook runs and open errors surface here rather than on the
	// first query.
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open database %s: %w", databasePath, err)
	}

	// Fold any WAL left behind by a previous process back into the main
	// file before touching the schema.
	if _, err := conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("checkpoint wal: %w", err)
	}

	db := &DB{conn: conn, path: databasePath}

	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info().Msgf("Database ready at %s", databasePath)
	return db, nil
}

// Conn exposes the underlying pool for callers that need raw *sql.DB access,
// such as the session store.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path New was called with.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return db.conn.BeginTx(ctx, opts)
}

func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
		defer cancel()

		// Best effort: refresh planner statistics and fold the WAL into the
		// main file so backups and file copies see a single, current file.
		for _, stmt := range []string{"PRAGMA optimize", "PRAGMA wal_checkpoint(TRUNCATE)"} {
			if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
				log.Warn().Err(err).Msgf("%s failed during close", stmt)
			}
		}

		db.closeErr = db.conn.Close()
	})

	return db.closeErr
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	var pending []string
	for _, name := range migrationFilenames() {
		if !applied[name] {
			pending = append(pending, name)
		}
	}

	if len(pending) == 0 {
		log.Debug().Msg("No pending migrations")
		return nil
	}

	return db.applyMigrations(ctx, pending)
}

func (db *DB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT filename FROM migrations")
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		applied[name] = true
	}

	return applied, rows.Err()
}

func migrationFilenames() []string {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		// the embedded directory always exists; the pattern in go:embed
		// guarantees it is non-empty
		panic(fmt.Sprintf("read embedded migrations: %v", err))
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".sql" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	return names
}

// applyMigrations runs the pending migrations oldest-first inside a single
// transaction, so a failed migration leaves the schema at the version it
// started from.
func (db *DB) applyMigrations(ctx context.Context, pending []string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	// no-op once Commit succeeds
	defer tx.Rollback()

	for _, name := range pending {
		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		log.Info().Msgf("Applying migration %s", name)

		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}

	return nil
}
