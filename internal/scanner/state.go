// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scanner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/internal/models"
)

// StateFileName is the per-root scan state file, living inside the
// library root it describes.
const StateFileName = ".dubarr-state.json"

const stateVersion = 1

// SeasonStats aggregates the classification of one season folder.
type SeasonStats struct {
	EpisodeCount int          `json:"episodeCount"`
	Original     []string     `json:"original"`
	Dubbed       []string     `json:"dubbed"`
	Missing      []string     `json:"missing"`
	Unexpected   []string     `json:"unexpected"`
	Status       SeasonStatus `json:"status"`
}

// ScanRecord is the persisted result of scanning one title, keyed in
// the store by the absolute title path.
type ScanRecord struct {
	Title            string                  `json:"title"`
	Decision         TagDecision             `json:"decision"`
	OriginalLanguage string                  `json:"originalLanguage,omitempty"`
	LastScanned      time.Time               `json:"lastScanned"`
	LastModified     time.Time               `json:"lastModified"`
	Fingerprint      string                  `json:"fingerprint,omitempty"`
	Seasons          map[string]*SeasonStats `json:"seasons,omitempty"`
}

type stateData struct {
	Version int                    `json:"version"`
	Series  map[string]*ScanRecord `json:"series"`
	Movies  map[string]*ScanRecord `json:"movies"`
}

// Store persists scan records for one library root. Only the scan that
// owns the root writes it.
type Store struct {
	path string
	log  zerolog.Logger

	mu   sync.Mutex
	data stateData
}

// NewStore loads the state file inside root. A corrupt file is moved
// aside to a .bak sidecar and the store starts empty; a damaged state
// file must never block scanning.
func NewStore(root string, logger zerolog.Logger) *Store {
	s := &Store{
		path: filepath.Join(root, StateFileName),
		log:  logger.With().Str("component", "scanstate").Logger(),
		data: stateData{
			Version: stateVersion,
			Series:  map[string]*ScanRecord{},
			Movies:  map[string]*ScanRecord{},
		},
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("Failed to read state file, starting empty")
		}
		return s
	}

	var parsed stateData
	if err := json.Unmarshal(raw, &parsed); err != nil {
		backupPath := s.path + ".bak"
		if renameErr := os.Rename(s.path, backupPath); renameErr != nil {
			s.log.Error().Err(renameErr).Str("path", s.path).Msg("Failed to move corrupt state file aside")
		} else {
			s.log.Warn().Err(err).Str("path", s.path).Str("backup", backupPath).Msg("State file is corrupt, starting empty")
		}
		return s
	}

	if parsed.Series == nil {
		parsed.Series = map[string]*ScanRecord{}
	}
	if parsed.Movies == nil {
		parsed.Movies = map[string]*ScanRecord{}
	}
	parsed.Version = stateVersion
	s.data = parsed
	return s
}

func (s *Store) records(kind models.InstanceKind) map[string]*ScanRecord {
	if kind == models.InstanceKindMovie {
		return s.data.Movies
	}
	return s.data.Series
}

// Record returns the stored entry for a title path.
func (s *Store) Record(kind models.InstanceKind, path string) (*ScanRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records(kind)[path]
	return record, ok
}

// SetRecord stores the entry for a title path.
func (s *Store) SetRecord(kind models.InstanceKind, path string, record *ScanRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records(kind)[path] = record
}

// DeleteRecord forgets a title.
func (s *Store) DeleteRecord(kind models.InstanceKind, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records(kind), path)
}

// Paths returns every stored title path for a kind, sorted.
func (s *Store) Paths(kind models.InstanceKind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.records(kind)
	paths := make([]string, 0, len(records))
	for path := range records {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Save writes the state file to a temp file and renames it into place,
// so a crash mid-write leaves the previous good state intact. Episode
// and language lists stay on one line each to keep the file reviewable
// for large libraries.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scan state: %w", err)
	}
	data = append(collapseLists(data), '\n')

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// listPattern matches bracketed arrays without nested structures, i.e.
// the scalar lists of the state file.
var listPattern = regexp.MustCompile(`\[[^\[\]{}]*\]`)

func collapseLists(data []byte) []byte {
	return listPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		if !bytes.ContainsRune(match, '\n') {
			return match
		}
		lines := strings.Split(string(match), "\n")
		for i := range lines {
			lines[i] = strings.TrimSpace(lines[i])
		}
		// JSON strings cannot contain raw newlines, so every line break
		// in the match is structural.
		joined := strings.Join(lines, "")
		return []byte(strings.ReplaceAll(joined, `","`, `", "`))
	})
}
