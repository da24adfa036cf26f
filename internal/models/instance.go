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

	"github.com/autobrr/dubarr/internal/crypto"
	"github.com/autobrr/dubarr/internal/dbinterface"
	"github.com/autobrr/dubarr/pkg/stringutils"
)

var (
	ErrInstanceNotFound     = errors.New("instance not found")
	ErrInstanceNameConflict = errors.New("instance name already in use")
)

// InstanceKind selects the catalog flavor an instance talks to.
type InstanceKind string

const (
	InstanceKindTV    InstanceKind = "tv"
	InstanceKindMovie InstanceKind = "movie"
)

// ParseInstanceKind validates and normalizes an instance kind string.
func ParseInstanceKind(value string) (InstanceKind, error) {
	switch InstanceKind(strings.ToLower(strings.TrimSpace(value))) {
	case InstanceKindTV:
		return InstanceKindTV, nil
	case InstanceKindMovie:
		return InstanceKindMovie, nil
	default:
		return "", fmt.Errorf("invalid instance kind: %s (must be 'tv' or 'movie')", value)
	}
}

// Default tag names applied to catalog entries by dub status.
const (
	DefaultDubTag      = "dub"
	DefaultSemiDubTag  = "semi-dub"
	DefaultWrongDubTag = "wrong-dub"
)

// Instance is one configured catalog connection together with the scan
// policy for its library. Read-only to the scanner; mutated only through
// the management API.
type Instance struct {
	ID              int          `json:"id"`
	Name            string       `json:"name"`
	Kind            InstanceKind `json:"kind"`
	BaseURL         string       `json:"baseUrl"`
	APIKeyEncrypted string       `json:"-"`
	LibraryRoot     string       `json:"libraryRoot"`
	TargetLanguages []string     `json:"targetLanguages"`
	DubTag          string       `json:"dubTag"`
	SemiDubTag      string       `json:"semiDubTag"`
	WrongDubTag     string       `json:"wrongDubTag"`
	GenreFilter     []string     `json:"genreFilter,omitempty"`
	NFOMirror       bool         `json:"nfoMirror"`
	DryRun          bool         `json:"dryRun"`
	QuickScan       bool         `json:"quickScan"`
	Enabled         bool         `json:"enabled"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// InstanceCreateParams carries the fields accepted when creating an instance.
type InstanceCreateParams struct {
	Name            string       `json:"name"`
	Kind            InstanceKind `json:"kind"`
	BaseURL         string       `json:"baseUrl"`
	APIKey          string       `json:"apiKey"`
	LibraryRoot     string       `json:"libraryRoot"`
	TargetLanguages []string     `json:"targetLanguages"`
	DubTag          string       `json:"dubTag"`
	SemiDubTag      string       `json:"semiDubTag"`
	WrongDubTag     string       `json:"wrongDubTag"`
	GenreFilter     []string     `json:"genreFilter"`
	NFOMirror       bool         `json:"nfoMirror"`
	DryRun          bool         `json:"dryRun"`
	QuickScan       bool         `json:"quickScan"`
	Enabled         bool         `json:"enabled"`
}

// InstanceUpdateParams captures optional fields for updating an instance.
// Nil fields are left unchanged.
type InstanceUpdateParams struct {
	Name            *string   `json:"name"`
	BaseURL         *string   `json:"baseUrl"`
	APIKey          *string   `json:"apiKey"`
	LibraryRoot     *string   `json:"libraryRoot"`
	TargetLanguages *[]string `json:"targetLanguages"`
	DubTag          *string   `json:"dubTag"`
	SemiDubTag      *string   `json:"semiDubTag"`
	WrongDubTag     *string   `json:"wrongDubTag"`
	GenreFilter     *[]string `json:"genreFilter"`
	NFOMirror       *bool     `json:"nfoMirror"`
	DryRun          *bool     `json:"dryRun"`
	QuickScan       *bool     `json:"quickScan"`
	Enabled         *bool     `json:"enabled"`
}

// InstanceStore manages instances in the database. API keys are encrypted
// with AES-GCM before they hit disk.
type InstanceStore struct {
	db        dbinterface.Querier
	encryptor *crypto.AESEncryptor
}

func NewInstanceStore(db dbinterface.Querier, encryptionKey []byte) (*InstanceStore, error) {
	encryptor, err := crypto.NewAESEncryptor(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	return &InstanceStore{
		db:        db,
		encryptor: encryptor,
	}, nil
}

const instanceColumns = `id, name, kind, base_url, api_key_encrypted, library_root, target_languages, dub_tag, semi_dub_tag, wrong_dub_tag, genre_filter, nfo_mirror, dry_run, quick_scan, enabled, created_at, updated_at`

func (s *InstanceStore) Create(ctx context.Context, params InstanceCreateParams) (*Instance, error) {
	kind, err := ParseInstanceKind(string(params.Kind))
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, errors.New("name cannot be empty")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(params.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}

	apiKey := strings.TrimSpace(params.APIKey)
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}

	libraryRoot := strings.TrimSpace(params.LibraryRoot)
	if libraryRoot == "" {
		return nil, errors.New("library root cannot be empty")
	}

	targetLanguages := normalizeLanguageTokens(params.TargetLanguages)
	if len(targetLanguages) == 0 {
		return nil, errors.New("at least one target language is required")
	}

	encryptedAPIKey, err := s.encryptor.Encrypt(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt API key: %w", err)
	}

	targetLanguagesJSON, err := json.Marshal(targetLanguages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal target languages: %w", err)
	}

	genreFilterJSON, err := json.Marshal(normalizeGenreTokens(params.GenreFilter))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal genre filter: %w", err)
	}

	query := `
		INSERT INTO instances (name, kind, base_url, api_key_encrypted, library_root, target_languages, dub_tag, semi_dub_tag, wrong_dub_tag, genre_filter, nfo_mirror, dry_run, quick_scan, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	var id int
	err = s.db.QueryRowContext(ctx, query,
		name,
		kind,
		baseURL,
		encryptedAPIKey,
		libraryRoot,
		string(targetLanguagesJSON),
		tagOrDefault(params.DubTag, DefaultDubTag),
		tagOrDefault(params.SemiDubTag, DefaultSemiDubTag),
		tagOrDefault(params.WrongDubTag, DefaultWrongDubTag),
		string(genreFilterJSON),
		params.NFOMirror,
		params.DryRun,
		params.QuickScan,
		params.Enabled,
	).Scan(&id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrInstanceNameConflict
		}
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	return s.Get(ctx, id)
}

func (s *InstanceStore) Get(ctx context.Context, id int) (*Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	return scanInstance(row)
}

func (s *InstanceStore) List(ctx context.Context) ([]*Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances ORDER BY kind ASC, name ASC`

	return s.queryInstances(ctx, query)
}

// ListEnabled returns the instances eligible for scheduled scans.
func (s *InstanceStore) ListEnabled(ctx context.Context) ([]*Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE enabled = 1 ORDER BY kind ASC, name ASC`

	return s.queryInstances(ctx, query)
}

func (s *InstanceStore) queryInstances(ctx context.Context, query string, args ...any) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	instances := make([]*Instance, 0)
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func (s *InstanceStore) Update(ctx context.Context, id int, params *InstanceUpdateParams) (*Instance, error) {
	if params == nil {
		return nil, errors.New("params cannot be nil")
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" {
			return nil, errors.New("name cannot be empty")
		}
		existing.Name = name
	}
	if params.BaseURL != nil {
		baseURL := strings.TrimRight(strings.TrimSpace(*params.BaseURL), "/")
		if baseURL == "" {
			return nil, errors.New("base URL cannot be empty")
		}
		existing.BaseURL = baseURL
	}
	if params.APIKey != nil {
		apiKey := strings.TrimSpace(*params.APIKey)
		if apiKey == "" {
			return nil, errors.New("API key cannot be empty")
		}
		encrypted, err := s.encryptor.Encrypt(apiKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt API key: %w", err)
		}
		existing.APIKeyEncrypted = encrypted
	}
	if params.LibraryRoot != nil {
		libraryRoot := strings.TrimSpace(*params.LibraryRoot)
		if libraryRoot == "" {
			return nil, errors.New("library root cannot be empty")
		}
		existing.LibraryRoot = libraryRoot
	}
	if params.TargetLanguages != nil {
		targetLanguages := normalizeLanguageTokens(*params.TargetLanguages)
		if len(targetLanguages) == 0 {
			return nil, errors.New("at least one target language is required")
		}
		existing.TargetLanguages = targetLanguages
	}
	if params.DubTag != nil {
		existing.DubTag = tagOrDefault(*params.DubTag, DefaultDubTag)
	}
	if params.SemiDubTag != nil {
		existing.SemiDubTag = tagOrDefault(*params.SemiDubTag, DefaultSemiDubTag)
	}
	if params.WrongDubTag != nil {
		existing.WrongDubTag = tagOrDefault(*params.WrongDubTag, DefaultWrongDubTag)
	}
	if params.GenreFilter != nil {
		existing.GenreFilter = normalizeGenreTokens(*params.GenreFilter)
	}
	if params.NFOMirror != nil {
		existing.NFOMirror = *params.NFOMirror
	}
	if params.DryRun != nil {
		existing.DryRun = *params.DryRun
	}
	if params.QuickScan != nil {
		existing.QuickScan = *params.QuickScan
	}
	if params.Enabled != nil {
		existing.Enabled = *params.Enabled
	}

	targetLanguagesJSON, err := json.Marshal(existing.TargetLanguages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal target languages: %w", err)
	}

	genreFilterJSON, err := json.Marshal(existing.GenreFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal genre filter: %w", err)
	}

	query := `
		UPDATE instances
		SET name = ?, base_url = ?, api_key_encrypted = ?, library_root = ?, target_languages = ?, dub_tag = ?, semi_dub_tag = ?, wrong_dub_tag = ?, genre_filter = ?, nfo_mirror = ?, dry_run = ?, quick_scan = ?, enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err = s.db.ExecContext(ctx, query,
		existing.Name,
		existing.BaseURL,
		existing.APIKeyEncrypted,
		existing.LibraryRoot,
		string(targetLanguagesJSON),
		existing.DubTag,
		existing.SemiDubTag,
		existing.WrongDubTag,
		string(genreFilterJSON),
		existing.NFOMirror,
		existing.DryRun,
		existing.QuickScan,
		existing.Enabled,
		id,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrInstanceNameConflict
		}
		return nil, fmt.Errorf("failed to update instance: %w", err)
	}

	return s.Get(ctx, id)
}

func (s *InstanceStore) Delete(ctx context.Context, id int) error {
	query := `DELETE FROM instances WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrInstanceNotFound
	}

	return nil
}

// GetDecryptedAPIKey returns the decrypted API key for an instance.
func (s *InstanceStore) GetDecryptedAPIKey(instance *Instance) (string, error) {
	return s.encryptor.Decrypt(instance.APIKeyEncrypted)
}

func scanInstance(scanner interface{ Scan(dest ...any) error }) (*Instance, error) {
	var instance Instance
	var kindStr string
	var targetLanguagesJSON string
	var genreFilterJSON string

	if err := scanner.Scan(
		&instance.ID,
		&instance.Name,
		&kindStr,
		&instance.BaseURL,
		&instance.APIKeyEncrypted,
		&instance.LibraryRoot,
		&targetLanguagesJSON,
		&instance.DubTag,
		&instance.SemiDubTag,
		&instance.WrongDubTag,
		&genreFilterJSON,
		&instance.NFOMirror,
		&instance.DryRun,
		&instance.QuickScan,
		&instance.Enabled,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	kind, err := ParseInstanceKind(kindStr)
	if err != nil {
		return nil, err
	}
	instance.Kind = kind

	if err := unmarshalStringList(targetLanguagesJSON, &instance.TargetLanguages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target languages: %w", err)
	}
	if err := unmarshalStringList(genreFilterJSON, &instance.GenreFilter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal genre filter: %w", err)
	}

	return &instance, nil
}

func tagOrDefault(tag, fallback string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return fallback
	}
	return tag
}

// normalizeLanguageTokens lowercases, trims, and dedupes language tokens
// while preserving order.
func normalizeLanguageTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	normalized := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = stringutils.Fold(token)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		normalized = append(normalized, token)
	}
	return normalized
}

func normalizeGenreTokens(tokens []string) []string {
	normalized := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		normalized = append(normalized, token)
	}
	return normalized
}

func unmarshalStringList(raw string, dest *[]string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "[]" {
		*dest = nil
		return nil
	}

	return json.Unmarshal([]byte(trimmed), dest)
}
