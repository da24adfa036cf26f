// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package update periodically checks GitHub for a newer dubarr release.
package update

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/pkg/version"
)

const checkInterval = 24 * time.Hour

// Service polls the GitHub releases API and remembers the newest release
// that supersedes the running build. A failed check only ever costs a log
// line; it never bubbles up.
type Service struct {
	log            zerolog.Logger
	currentVersion string
	releaseChecker *version.Checker

	mu            sync.RWMutex
	isEnabled     bool
	latestRelease *version.Release
}

func NewService(log zerolog.Logger, enabled bool, currentVersion, userAgent string) *Service {
	return &Service{
		log:            log.With().Str("component", "update").Logger(),
		currentVersion: currentVersion,
		releaseChecker: version.NewChecker("autobrr", "dubarr", userAgent),
		isEnabled:      enabled,
	}
}

// SetEnabled toggles the periodic check at runtime. The last known release
// is kept so a toggle does not blank the version endpoint until tomorrow.
func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isEnabled == enabled {
		return
	}

	s.isEnabled = enabled
	s.log.Debug().Bool("enabled", enabled).Msg("Update check toggled")
}

// GetLatestRelease returns the newest release seen so far, or nil when no
// check has completed or nothing newer than the running build exists.
func (s *Service) GetLatestRelease(ctx context.Context) *version.Release {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latestRelease
}

// CheckUpdates queries GitHub once and records the result. Does nothing
// while the check is disabled.
func (s *Service) CheckUpdates(ctx context.Context) {
	s.mu.RLock()
	enabled := s.isEnabled
	s.mu.RUnlock()

	if !enabled {
		return
	}

	newer, release, err := s.releaseChecker.CheckNewVersion(ctx, s.currentVersion)
	if err != nil {
		s.log.Debug().Err(err).Msg("Failed to check for updates")
		return
	}

	if !newer {
		return
	}

	s.mu.Lock()
	seen := s.latestRelease != nil && s.latestRelease.TagName == release.TagName
	s.latestRelease = release
	s.mu.Unlock()

	if !seen {
		s.log.Info().
			Str("current", s.currentVersion).
			Str("latest", release.TagName).
			Msg("New release available")
	}
}

// Start launches the daily check loop. It returns immediately; the loop
// stops when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.log.Debug().Dur("interval", checkInterval).Msg("Update checker started")

	go func() {
		s.CheckUpdates(ctx)

		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CheckUpdates(ctx)
			}
		}
	}()
}
