// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scanner walks library roots, classifies each title's audio
// languages against the instance's target policy, and reconciles the
// result into the catalog and optional NFO mirrors.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/internal/arr"
	"github.com/autobrr/dubarr/internal/languages"
	"github.com/autobrr/dubarr/internal/metrics/collector"
	"github.com/autobrr/dubarr/internal/models"
	"github.com/autobrr/dubarr/internal/nfo"
)

// WriteMode selects how a scan pass writes its results.
type WriteMode string

const (
	// WriteModeNormal tags changed titles and skips unchanged ones.
	WriteModeNormal WriteMode = "normal"
	// WriteModeRewrite retags every title and triggers a catalog
	// metadata refresh after tagging.
	WriteModeRewrite WriteMode = "rewrite"
	// WriteModeRemove strips all managed tags and forgets the titles.
	WriteModeRemove WriteMode = "remove"
)

// ParseWriteMode validates and normalizes a write mode string. Empty
// input means normal.
func ParseWriteMode(value string) (WriteMode, error) {
	switch WriteMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", WriteModeNormal:
		return WriteModeNormal, nil
	case WriteModeRewrite:
		return WriteModeRewrite, nil
	case WriteModeRemove:
		return WriteModeRemove, nil
	default:
		return "", fmt.Errorf("invalid write mode: %s (must be 'normal', 'rewrite' or 'remove')", value)
	}
}

// OutcomeStatus is what happened to one title during a pass.
type OutcomeStatus string

const (
	OutcomeScanned OutcomeStatus = "scanned"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeRemoved OutcomeStatus = "removed"
)

// Skip reasons. Skips are expected states of a library, not errors.
const (
	ReasonUnchanged       = "unchanged"
	ReasonNFOMissing      = "nfo-missing"
	ReasonGenreMismatch   = "genre-mismatch"
	ReasonMetadataMissing = "metadata-missing"
	ReasonNoVideoFiles    = "no-video-files"
)

// Outcome records the result for one title.
type Outcome struct {
	Path     string        `json:"path"`
	Title    string        `json:"title"`
	Status   OutcomeStatus `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Decision TagDecision   `json:"decision,omitempty"`
}

// Summary aggregates a scan pass.
type Summary struct {
	Scanned  int       `json:"scanned"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Removed  int       `json:"removed"`
	Outcomes []Outcome `json:"outcomes"`
}

func (s *Summary) add(outcome Outcome) {
	switch outcome.Status {
	case OutcomeScanned:
		s.Scanned++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	case OutcomeRemoved:
		s.Removed++
	}
	s.Outcomes = append(s.Outcomes, outcome)
}

// AudioInspector probes a media file for its audio-track language
// tokens.
type AudioInspector interface {
	AnalyzeAudio(ctx context.Context, path string) ([]string, error)
}

// CatalogClient is the slice of the arr client the scanner drives.
type CatalogClient interface {
	InvalidateCache()
	FindByPath(ctx context.Context, path string) (*arr.MediaItem, error)
	ApplyTagChanges(ctx context.Context, mediaID int, add, remove []string, dryRun bool) error
	Refresh(ctx context.Context, mediaID int) error
}

// Notifier fans scan events out to subscribed channels.
type Notifier interface {
	Dispatch(event models.NotificationEvent, title, message string)
}

// Service reconciles dub status for configured instances.
type Service struct {
	inspector AudioInspector
	notifier  Notifier
	metrics   *collector.ScanCollector
	log       zerolog.Logger
}

// NewService creates a scanner. The notifier may be nil; events are
// then dropped.
func NewService(inspector AudioInspector, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		inspector: inspector,
		notifier:  notifier,
		log:       logger.With().Str("component", "scanner").Logger(),
	}
}

// SetMetrics attaches scan counters. May be left unset; passes then
// run unmetered.
func (s *Service) SetMetrics(m *collector.ScanCollector) {
	s.metrics = m
}

func (s *Service) dispatch(event models.NotificationEvent, title, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(event, title, message)
}

func (s *Service) countPass(instance *models.Instance, mode WriteMode, summary *Summary) {
	if s.metrics == nil {
		return
	}
	s.metrics.GetPassTotal(instance.ID, instance.Name, string(mode)).Inc()

	titles := s.metrics.GetTitleTotal(instance.ID, instance.Name)
	titles.WithLabelValues(string(OutcomeScanned)).Add(float64(summary.Scanned))
	titles.WithLabelValues(string(OutcomeSkipped)).Add(float64(summary.Skipped))
	titles.WithLabelValues(string(OutcomeFailed)).Add(float64(summary.Failed))
	titles.WithLabelValues(string(OutcomeRemoved)).Add(float64(summary.Removed))
}

// scanPass is the per-pass state shared by every title of one run.
type scanPass struct {
	instance *models.Instance
	client   CatalogClient
	store    *Store
	policy   targetPolicy
	mode     WriteMode
	log      zerolog.Logger
}

// Scan walks the instance's library root once and reconciles every
// title directly under it. The summary covers all titles; the error
// reports conditions that aborted the pass itself.
func (s *Service) Scan(ctx context.Context, instance *models.Instance, client CatalogClient, mode WriteMode) (*Summary, error) {
	entries, err := os.ReadDir(instance.LibraryRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read library root %s: %w", instance.LibraryRoot, err)
	}

	// Tag and media lists must be fetched fresh each pass.
	client.InvalidateCache()

	pass := &scanPass{
		instance: instance,
		client:   client,
		store:    NewStore(instance.LibraryRoot, s.log),
		policy:   newTargetPolicy(instance.TargetLanguages),
		mode:     mode,
		log:      s.log.With().Str("instance", instance.Name).Logger(),
	}

	summary := &Summary{}
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}

		titlePath := filepath.Join(instance.LibraryRoot, entry.Name())
		if instance.Kind == models.InstanceKindMovie {
			summary.add(s.scanMovieTitle(ctx, pass, titlePath, entry.Name()))
		} else {
			summary.add(s.scanSeriesTitle(ctx, pass, titlePath, entry.Name()))
		}
	}

	s.countPass(instance, mode, summary)

	// Dry runs must leave the store untouched so the next real pass
	// still sees every pending change.
	if !instance.DryRun {
		s.cleanupOrphans(pass)
		if err := pass.store.Save(); err != nil {
			return summary, err
		}
	}

	pass.log.Info().
		Str("mode", string(mode)).
		Int("scanned", summary.Scanned).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("removed", summary.Removed).
		Msg("Scan pass finished")

	return summary, ctx.Err()
}

func (s *Service) scanSeriesTitle(ctx context.Context, pass *scanPass, titlePath, title string) Outcome {
	log := pass.log.With().Str("title", title).Logger()

	stored, known := pass.store.Record(models.InstanceKindTV, titlePath)

	seasons, err := seasonDirs(titlePath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list season folders")
		return Outcome{Path: titlePath, Title: title, Status: OutcomeFailed}
	}

	watermark := seriesWatermark(titlePath, seasons)
	fingerprint := titleFingerprint(titlePath)
	if skipUnchanged(pass.mode, stored, known, watermark, fingerprint) {
		log.Debug().Msg("Title unchanged since last scan")
		return Outcome{Path: titlePath, Title: title, Status: OutcomeSkipped, Reason: ReasonUnchanged}
	}

	nfoPath := filepath.Join(titlePath, "tvshow.nfo")
	item, blocked := s.gateTitle(ctx, pass, titlePath, title, nfoPath, log)
	if item == nil {
		return blocked
	}

	if pass.mode == WriteModeRemove {
		return s.removeTitle(ctx, pass, models.InstanceKindTV, titlePath, title, nfoPath, item)
	}

	originalSet := languages.Aliases(item.OriginalLanguage.Name)

	seasonStats := make(map[string]*SeasonStats, len(seasons))
	episodes := 0
	sawOriginal := false
	unexpected := make(map[string]struct{})
	for _, season := range seasons {
		stats := s.scanSeason(ctx, pass, filepath.Join(titlePath, season), originalSet, log)
		seasonStats[season] = stats
		episodes += stats.EpisodeCount
		if len(stats.Original) > 0 {
			sawOriginal = true
		}
		for _, token := range stats.Unexpected {
			unexpected[token] = struct{}{}
		}
	}

	decision := rollupDecision(seasonStats)
	add, remove := tagDelta(pass.instance, decision)

	if err := pass.client.ApplyTagChanges(ctx, item.ID, add, remove, pass.instance.DryRun); err != nil {
		log.Error().Err(err).Str("decision", string(decision)).Msg("Failed to apply catalog tags")
		return Outcome{Path: titlePath, Title: title, Status: OutcomeFailed, Decision: decision}
	}

	if pass.instance.NFOMirror && !pass.instance.DryRun {
		s.mirrorNFO(nfoPath, pass.instance, decision, log)
	}

	if pass.mode == WriteModeRewrite && !pass.instance.DryRun {
		if err := pass.client.Refresh(ctx, item.ID); err != nil {
			log.Warn().Err(err).Msg("Failed to trigger catalog refresh")
		}
	}

	s.raiseEvents(title, decision, episodes, sawOriginal, unexpected)

	if !pass.instance.DryRun {
		pass.store.SetRecord(models.InstanceKindTV, titlePath, &ScanRecord{
			Title:            title,
			Decision:         decision,
			OriginalLanguage: item.OriginalLanguage.Name,
			LastScanned:      time.Now().UTC(),
			LastModified:     watermark,
			Fingerprint:      fingerprint,
			Seasons:          seasonStats,
		})
	}

	log.Info().
		Str("decision", string(decision)).
		Int("episodes", episodes).
		Int("seasons", len(seasons)).
		Msg("Title scanned")
	return Outcome{Path: titlePath, Title: title, Status: OutcomeScanned, Decision: decision}
}

// scanSeason classifies every episode file in one season folder.
// Inspection failures exclude the file from the episode count and are
// logged; the rest of the season still classifies.
func (s *Service) scanSeason(ctx context.Context, pass *scanPass, seasonPath string, originalSet map[string]struct{}, log zerolog.Logger) *SeasonStats {
	stats := &SeasonStats{
		Original:   []string{},
		Dubbed:     []string{},
		Missing:    []string{},
		Unexpected: []string{},
	}

	files, err := videoFilesIn(seasonPath)
	if err != nil {
		log.Warn().Err(err).Str("season", filepath.Base(seasonPath)).Msg("Failed to list season files")
		stats.Status = seasonStatus(stats)
		return stats
	}
	if pass.instance.QuickScan && len(files) > 1 {
		files = files[:1]
	}

	unexpected := make(map[string]struct{})
	for _, file := range files {
		tokens, err := s.inspector.AnalyzeAudio(ctx, filepath.Join(seasonPath, file))
		if err != nil {
			log.Warn().Err(err).Str("file", file).Msg("Audio inspection failed")
			continue
		}
		stats.EpisodeCount++

		episode := episodeID(file)
		tc := classifyTracks(tokens, originalSet, pass.policy)

		if tc.Original {
			stats.Original = append(stats.Original, episode)
		}
		if len(tc.Matched) > 0 {
			stats.Dubbed = append(stats.Dubbed, fmt.Sprintf("%s (%s)", episode, strings.Join(tc.Matched, ", ")))
		}
		for _, target := range tc.Missing {
			stats.Missing = append(stats.Missing, fmt.Sprintf("%s (%s)", episode, languages.PrimaryCode(target)))
		}
		for _, token := range tc.Unexpected {
			unexpected[token] = struct{}{}
		}
	}

	for token := range unexpected {
		stats.Unexpected = append(stats.Unexpected, token)
	}
	sort.Strings(stats.Unexpected)

	stats.Status = seasonStatus(stats)
	return stats
}

func (s *Service) scanMovieTitle(ctx context.Context, pass *scanPass, titlePath, title string) Outcome {
	log := pass.log.With().Str("title", title).Logger()

	stored, known := pass.store.Record(models.InstanceKindMovie, titlePath)

	watermark := movieWatermark(titlePath)
	fingerprint := titleFingerprint(titlePath)
	if skipUnchanged(pass.mode, stored, known, watermark, fingerprint) {
		log.Debug().Msg("Title unchanged since last scan")
		return Outcome{Path: titlePath, Title: title, Status: OutcomeSkipped, Reason: ReasonUnchanged}
	}

	nfoPath := filepath.Join(titlePath, "movie.nfo")
	item, blocked := s.gateTitle(ctx, pass, titlePath, title, nfoPath, log)
	if item == nil {
		return blocked
	}

	if pass.mode == WriteModeRemove {
		return s.removeTitle(ctx, pass, models.InstanceKindMovie, titlePath, title, nfoPath, item)
	}

	videoPath := largestVideo(titlePath)
	if videoPath == "" {
		log.Debug().Msg("No video files under title")
		return Outcome{Path: titlePath, Title: title, Status: OutcomeSkipped, Reason: ReasonNoVideoFiles}
	}

	tokens, err := s.inspector.AnalyzeAudio(ctx, videoPath)
	if err != nil {
		log.Warn().Err(err).Str("file", filepath.Base(videoPath)).Msg("Audio inspection failed")
		return Outcome{Path: titlePath, Title: title, Status: OutcomeFailed}
	}

	originalSet := languages.Aliases(item.OriginalLanguage.Name)
	tc := classifyTracks(tokens, originalSet, pass.policy)
	decision := movieDecision(tc)
	add, remove := tagDelta(pass.instance, decision)

	if err := pass.client.ApplyTagChanges(ctx, item.ID, add, remove, pass.instance.DryRun); err != nil {
		log.Error().Err(err).Str("decision", string(decision)).Msg("Failed to apply catalog tags")
		return Outcome{Path: titlePath, Title: title, Status: OutcomeFailed, Decision: decision}
	}

	if pass.instance.NFOMirror && !pass.instance.DryRun {
		s.mirrorNFO(nfoPath, pass.instance, decision, log)
		// The mirror write lands inside the movie watermark's scope.
		// Fold it in so the write itself does not read as a library
		// change next pass.
		if info, err := os.Stat(nfoPath); err == nil {
			watermark = maxTime(watermark, info.ModTime())
		}
	}

	if pass.mode == WriteModeRewrite && !pass.instance.DryRun {
		if err := pass.client.Refresh(ctx, item.ID); err != nil {
			log.Warn().Err(err).Msg("Failed to trigger catalog refresh")
		}
	}

	unexpected := make(map[string]struct{}, len(tc.Unexpected))
	for _, token := range tc.Unexpected {
		unexpected[token] = struct{}{}
	}
	s.raiseEvents(title, decision, 1, tc.Original, unexpected)

	if !pass.instance.DryRun {
		pass.store.SetRecord(models.InstanceKindMovie, titlePath, &ScanRecord{
			Title:            title,
			Decision:         decision,
			OriginalLanguage: item.OriginalLanguage.Name,
			LastScanned:      time.Now().UTC(),
			LastModified:     watermark,
			Fingerprint:      fingerprint,
		})
	}

	log.Info().Str("decision", string(decision)).Msg("Title scanned")
	return Outcome{Path: titlePath, Title: title, Status: OutcomeScanned, Decision: decision}
}

// gateTitle runs the shared NFO, genre, and catalog-identity gates.
// A nil item means the title is done; blocked carries its outcome.
func (s *Service) gateTitle(ctx context.Context, pass *scanPass, titlePath, title, nfoPath string, log zerolog.Logger) (item *arr.MediaItem, blocked Outcome) {
	genres, err := nfo.ReadGenres(nfoPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("nfo", filepath.Base(nfoPath)).Msg("No NFO file, skipping")
			return nil, Outcome{Path: titlePath, Title: title, Status: OutcomeSkipped, Reason: ReasonNFOMissing}
		}
		log.Warn().Err(err).Msg("Failed to read NFO file")
		return nil, Outcome{Path: titlePath, Title: title, Status: OutcomeFailed}
	}

	if !genreAllowed(pass.instance.GenreFilter, genres) {
		log.Debug().Strs("genres", genres).Msg("Genre filter does not match")
		return nil, Outcome{Path: titlePath, Title: title, Status: OutcomeSkipped, Reason: ReasonGenreMismatch}
	}

	item, err = pass.client.FindByPath(ctx, titlePath)
	if err != nil {
		log.Warn().Err(err).Msg("Catalog lookup failed")
		return nil, Outcome{Path: titlePath, Title: title, Status: OutcomeFailed}
	}
	if item == nil {
		log.Debug().Msg("Title not found in catalog")
		return nil, Outcome{Path: titlePath, Title: title, Status: OutcomeSkipped, Reason: ReasonMetadataMissing}
	}

	return item, Outcome{}
}

// skipUnchanged reports whether a known title can be skipped without
// any network calls. Rewrite and remove modes always revisit.
func skipUnchanged(mode WriteMode, stored *ScanRecord, known bool, watermark time.Time, fingerprint string) bool {
	return mode == WriteModeNormal && known &&
		!watermark.After(stored.LastModified) &&
		fingerprint == stored.Fingerprint
}

// removeTitle strips all managed tags from the catalog entry and the
// NFO mirror, then forgets the title.
func (s *Service) removeTitle(ctx context.Context, pass *scanPass, kind models.InstanceKind, titlePath, title, nfoPath string, item *arr.MediaItem) Outcome {
	managed := managedTagNames(pass.instance)

	if err := pass.client.ApplyTagChanges(ctx, item.ID, nil, managed, pass.instance.DryRun); err != nil {
		pass.log.Error().Err(err).Str("title", title).Msg("Failed to remove catalog tags")
		return Outcome{Path: titlePath, Title: title, Status: OutcomeFailed}
	}

	if pass.instance.NFOMirror && !pass.instance.DryRun {
		if err := nfo.UpdateTag(nfoPath, "", managed); err != nil {
			pass.log.Warn().Err(err).Str("title", title).Msg("Failed to clear NFO tag mirror")
		}
		if err := nfo.UpdateGenre(nfoPath, "", managed); err != nil {
			pass.log.Warn().Err(err).Str("title", title).Msg("Failed to clear NFO genre mirror")
		}
	}

	if !pass.instance.DryRun {
		pass.store.DeleteRecord(kind, titlePath)
	}

	pass.log.Info().Str("title", title).Msg("Managed tags removed")
	return Outcome{Path: titlePath, Title: title, Status: OutcomeRemoved}
}

// mirrorNFO writes the active tag name into the NFO's tag and genre
// elements, replacing any other managed name. Mirror failures are
// logged, not fatal; the catalog already holds the authoritative tags.
func (s *Service) mirrorNFO(nfoPath string, instance *models.Instance, decision TagDecision, log zerolog.Logger) {
	want := activeTagName(instance, decision)
	managed := managedTagNames(instance)

	if err := nfo.UpdateTag(nfoPath, want, managed); err != nil {
		log.Warn().Err(err).Msg("Failed to mirror tag into NFO")
	}
	if err := nfo.UpdateGenre(nfoPath, want, managed); err != nil {
		log.Warn().Err(err).Msg("Failed to mirror genre into NFO")
	}
}

func (s *Service) raiseEvents(title string, decision TagDecision, episodes int, sawOriginal bool, unexpected map[string]struct{}) {
	if decision == DecisionWrong {
		tokens := make([]string, 0, len(unexpected))
		for token := range unexpected {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		s.dispatch(models.EventWrongDubDetected, title,
			fmt.Sprintf("Unexpected audio languages: %s", strings.Join(tokens, ", ")))
	}

	if episodes > 0 && !sawOriginal {
		s.dispatch(models.EventOriginalMissing, title, "No original-language audio track found")
	}
}

// cleanupOrphans drops store entries whose title folders are gone.
func (s *Service) cleanupOrphans(pass *scanPass) {
	for _, kind := range []models.InstanceKind{models.InstanceKindTV, models.InstanceKindMovie} {
		for _, path := range pass.store.Paths(kind) {
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				pass.store.DeleteRecord(kind, path)
				pass.log.Info().Str("path", path).Msg("Removed state for deleted title")
			}
		}
	}
}
