// Package sqlite3store backs scs sessions with the application's SQLite
// database. The upstream scs stores assume a cgo sqlite driver; this one
// speaks plain database/sql so it works with modernc.org/sqlite.
package sqlite3store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// DB is the slice of *sql.DB the store needs.
type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const defaultCleanupInterval = 5 * time.Minute

// Store implements scs.Store and scs.CtxStore over the sessions table.
// Expiry is compared in Unix seconds so rows survive driver differences
// in time formatting.
type Store struct {
	db              DB
	cleanupInterval time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithCleanupInterval overrides how often expired rows are purged.
// Zero disables the purge goroutine; expired sessions then stay on disk
// but are never returned by Find.
func WithCleanupInterval(interval time.Duration) Option {
	return func(s *Store) {
		s.cleanupInterval = interval
	}
}

// New returns a Store and, unless disabled, starts its purge goroutine.
// The goroutine runs for the life of the process, like the config
// watcher.
func New(db DB, opts ...Option) *Store {
	s := &Store{
		db:              db,
		cleanupInterval: defaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cleanupInterval > 0 {
		go s.purgeLoop()
	}

	return s
}

// FindCtx returns the data for token. found is false for unknown and
// expired tokens alike.
func (s *Store) FindCtx(ctx context.Context, token string) (b []byte, found bool, err error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT data FROM sessions WHERE token = ? AND expiry > ?", token, time.Now().Unix())
	if err := row.Scan(&b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// CommitCtx upserts the data and expiry for token.
func (s *Store) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (token, data, expiry) VALUES (?, ?, ?)", token, b, expiry.Unix())
	return err
}

// DeleteCtx removes token.
func (s *Store) DeleteCtx(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}

// Find implements scs.Store.
func (s *Store) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

// Commit implements scs.Store.
func (s *Store) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

// Delete implements scs.Store.
func (s *Store) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

func (s *Store) purgeLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := s.purgeExpired(); err != nil {
			log.Error().Err(err).Msg("sqlite3store: failed to purge expired sessions")
		}
	}
}

func (s *Store) purgeExpired() error {
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM sessions WHERE expiry <= ?", time.Now().Unix())
	return err
}
