// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arr implements the REST client for Sonarr/Radarr-style
// catalogs. One client serves one configured instance and owns the
// per-instance tag and media caches, the retry policy, and the
// diff-apply tag write used to mirror dub status.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	retry "github.com/avast/retry-go"
	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/internal/metrics/collector"
	"github.com/autobrr/dubarr/pkg/pathcmp"
	"github.com/autobrr/dubarr/pkg/redact"
)

const (
	defaultTimeout = 30 * time.Second

	retryAttempts  = 3
	retryBaseDelay = time.Second
	retryMaxDelay  = 10 * time.Second

	cacheTTL      = 15 * time.Minute
	tagCacheKey   = "tags"
	mediaCacheKey = "media"
)

// Catalogs older than these lack the original-language metadata the
// scanner depends on.
var (
	minSeriesVersion = version.Must(version.NewVersion("4.0.0"))
	minMovieVersion  = version.Must(version.NewVersion("4.0.0"))
)

// Config holds the options for constructing a Client.
type Config struct {
	Host       string
	APIKey     string
	Timeout    int
	HTTPClient *http.Client
	UserAgent  string
	Version    string
	Metrics    *collector.CatalogCollector
}

// Tag is a catalog label.
type Tag struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// Language is the original-language descriptor carried by catalog
// entries.
type Language struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// MediaItem is the identity and tag view of one catalog entry, shared
// by both catalog kinds.
type MediaItem struct {
	ID               int      `json:"id"`
	Title            string   `json:"title"`
	Path             string   `json:"path"`
	Tags             []int    `json:"tags"`
	OriginalLanguage Language `json:"originalLanguage"`
}

// Client talks to one catalog instance. The two flavors share all
// behavior and differ only in the media endpoint and the refresh
// command shape.
type Client struct {
	host       string
	apiKey     string
	mediaPath  string
	minVersion *version.Version
	httpClient *http.Client
	userAgent  string
	retryDelay time.Duration
	metrics    *collector.CatalogCollector

	tagCache   *ttlcache.Cache[string, []Tag]
	mediaCache *ttlcache.Cache[string, []MediaItem]

	log zerolog.Logger
}

// NewSeriesClient constructs a client for a TV catalog (Sonarr-style,
// /api/v3/series).
func NewSeriesClient(cfg Config, logger zerolog.Logger) *Client {
	return newClient(cfg, "series", minSeriesVersion, logger)
}

// NewMovieClient constructs a client for a movie catalog
// (Radarr-style, /api/v3/movie).
func NewMovieClient(cfg Config, logger zerolog.Logger) *Client {
	return newClient(cfg, "movie", minMovieVersion, logger)
}

func newClient(cfg Config, mediaPath string, minVersion *version.Version, logger zerolog.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "dubarr"
	}
	if v := strings.TrimSpace(cfg.Version); v != "" && !strings.Contains(ua, v) {
		ua = fmt.Sprintf("%s/%s", ua, v)
	}

	return &Client{
		host:       strings.TrimRight(cfg.Host, "/"),
		apiKey:     cfg.APIKey,
		mediaPath:  mediaPath,
		minVersion: minVersion,
		httpClient: httpClient,
		userAgent:  ua,
		retryDelay: retryBaseDelay,
		metrics:    cfg.Metrics,
		tagCache: ttlcache.New(ttlcache.Options[string, []Tag]{}.
			SetDefaultTTL(cacheTTL)),
		mediaCache: ttlcache.New(ttlcache.Options[string, []MediaItem]{}.
			SetDefaultTTL(cacheTTL)),
		log: logger.With().Str("component", "arr").Str("catalog", mediaPath).Logger(),
	}
}

// InvalidateCache drops the cached tag and media lists. Called at the
// start of each scan pass so the pass sees fresh catalog state.
func (c *Client) InvalidateCache() {
	c.tagCache.Delete(tagCacheKey)
	c.mediaCache.Delete(mediaCacheKey)
}

// Close releases the cache resources.
func (c *Client) Close() {
	c.tagCache.Close()
	c.mediaCache.Close()
}

// request performs one catalog call with the retry policy applied.
// Connection failures, timeouts, and 5xx responses are transient and
// retried with exponential backoff; any other non-2xx response is
// permanent and propagates immediately. The response body is decoded
// into out when out is non-nil.
func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	endpoint, err := url.JoinPath(c.host, "api", "v3", path)
	if err != nil {
		return fmt.Errorf("failed to build catalog endpoint: %w", err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode catalog request: %w", err)
		}
	}

	var respBody []byte
	attempt := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("failed to build catalog request: %w", err)
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		// Hosts pasted with ?apikey= propagate the query into every
		// request URL, and transport errors echo that URL.
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &TransientError{Err: redact.URLError(err)}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransientError{Err: err}
		}

		switch {
		case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
			respBody = data
			return nil
		case resp.StatusCode >= http.StatusInternalServerError:
			return &TransientError{Status: resp.StatusCode}
		default:
			return &PermanentError{Status: resp.StatusCode, Body: truncateBody(data)}
		}
	}

	err = retry.Do(attempt,
		retry.Attempts(retryAttempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.countRetry()
			c.log.Debug().Err(err).Uint("attempt", n+1).Str("method", method).Str("path", path).Msg("Retrying catalog request")
		}),
	)
	c.countRequest(err)
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode catalog response for %s %s: %w", method, path, err)
		}
	}
	return nil
}

func truncateBody(data []byte) string {
	body := strings.TrimSpace(string(data))
	if len(body) > 200 {
		body = body[:200]
	}
	return body
}

// countRequest records the final outcome of one catalog call, after
// the retry policy has run its course.
func (c *Client) countRequest(err error) {
	if c.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case IsTransient(err):
		outcome = "transient"
	default:
		outcome = "permanent"
	}
	c.metrics.RequestTotal.WithLabelValues(c.mediaPath, outcome).Inc()
}

func (c *Client) countRetry() {
	if c.metrics == nil {
		return
	}
	c.metrics.RetryTotal.WithLabelValues(c.mediaPath).Inc()
}

func (c *Client) countTagWrite() {
	if c.metrics == nil {
		return
	}
	c.metrics.TagWriteTotal.WithLabelValues(c.mediaPath).Inc()
}

func (c *Client) getTags(ctx context.Context) ([]Tag, error) {
	if tags, ok := c.tagCache.Get(tagCacheKey); ok {
		return tags, nil
	}

	var tags []Tag
	if err := c.request(ctx, http.MethodGet, "tag", nil, &tags); err != nil {
		return nil, err
	}
	c.tagCache.Set(tagCacheKey, tags, ttlcache.DefaultTTL)
	return tags, nil
}

// findTag resolves a label against the cached tag list without
// creating anything.
func (c *Client) findTag(ctx context.Context, name string) (int, bool, error) {
	tags, err := c.getTags(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, tag := range tags {
		if strings.EqualFold(tag.Label, name) {
			return tag.ID, true, nil
		}
	}
	return 0, false, nil
}

// GetOrCreateTag resolves a tag label to its catalog id, creating the
// tag when the catalog does not have it yet. Lookup is case
// insensitive.
func (c *Client) GetOrCreateTag(ctx context.Context, name string) (int, error) {
	id, found, err := c.findTag(ctx, name)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	payload := struct {
		Label string `json:"label"`
	}{Label: name}

	var created Tag
	if err := c.request(ctx, http.MethodPost, "tag", payload, &created); err != nil {
		return 0, fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	c.tagCache.Delete(tagCacheKey)

	c.log.Debug().Str("label", name).Int("id", created.ID).Msg("Created catalog tag")
	return created.ID, nil
}

// ApplyTagChanges reconciles the tags on one catalog entry in a single
// read-then-write pair: all add and remove labels are resolved to ids
// first (creating missing add tags), the entry is fetched exactly
// once, and the write goes out only when the tag set actually changes.
// The write round-trips the full catalog document with only tags
// mutated so unknown catalog fields survive. Dry-run logs the intended
// change and performs no network I/O at all.
func (c *Client) ApplyTagChanges(ctx context.Context, mediaID int, add, remove []string, dryRun bool) error {
	add = dedupeLabels(add)
	remove = dedupeLabels(remove)
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	if dryRun {
		c.log.Info().Int("mediaId", mediaID).Strs("add", add).Strs("remove", remove).Msg("Dry run, leaving catalog tags untouched")
		return nil
	}

	addIDs := make(map[int]struct{}, len(add))
	for _, name := range add {
		id, err := c.GetOrCreateTag(ctx, name)
		if err != nil {
			return err
		}
		addIDs[id] = struct{}{}
	}

	// A remove label the catalog has never seen cannot be on the entry.
	removeIDs := make(map[int]struct{}, len(remove))
	for _, name := range remove {
		id, found, err := c.findTag(ctx, name)
		if err != nil {
			return err
		}
		if found {
			removeIDs[id] = struct{}{}
		}
	}

	itemPath := fmt.Sprintf("%s/%d", c.mediaPath, mediaID)

	var doc map[string]json.RawMessage
	if err := c.request(ctx, http.MethodGet, itemPath, nil, &doc); err != nil {
		return err
	}

	var current []int
	if raw, ok := doc["tags"]; ok {
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("failed to decode tags for %s: %w", itemPath, err)
		}
	}

	currentSet := make(map[int]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}

	next := make(map[int]struct{}, len(currentSet)+len(addIDs))
	for id := range currentSet {
		next[id] = struct{}{}
	}
	for id := range addIDs {
		next[id] = struct{}{}
	}
	for id := range removeIDs {
		delete(next, id)
	}

	if tagSetsEqual(currentSet, next) {
		c.log.Debug().Int("mediaId", mediaID).Msg("Catalog tags already match")
		return nil
	}

	newTags := make([]int, 0, len(next))
	for id := range next {
		newTags = append(newTags, id)
	}
	sort.Ints(newTags)

	raw, err := json.Marshal(newTags)
	if err != nil {
		return fmt.Errorf("failed to encode tags for %s: %w", itemPath, err)
	}
	doc["tags"] = raw

	if err := c.request(ctx, http.MethodPut, itemPath, doc, nil); err != nil {
		return err
	}
	c.countTagWrite()

	c.log.Info().Int("mediaId", mediaID).Ints("tags", newTags).Strs("add", add).Strs("remove", remove).Msg("Updated catalog tags")
	return nil
}

// AddTag ensures a single tag is present on the catalog entry.
func (c *Client) AddTag(ctx context.Context, mediaID int, name string, dryRun bool) error {
	return c.ApplyTagChanges(ctx, mediaID, []string{name}, nil, dryRun)
}

// RemoveTag ensures a single tag is absent from the catalog entry.
func (c *Client) RemoveTag(ctx context.Context, mediaID int, name string, dryRun bool) error {
	return c.ApplyTagChanges(ctx, mediaID, nil, []string{name}, dryRun)
}

func (c *Client) getMediaList(ctx context.Context) ([]MediaItem, error) {
	if items, ok := c.mediaCache.Get(mediaCacheKey); ok {
		return items, nil
	}

	var items []MediaItem
	if err := c.request(ctx, http.MethodGet, c.mediaPath, nil, &items); err != nil {
		return nil, err
	}
	c.mediaCache.Set(mediaCacheKey, items, ttlcache.DefaultTTL)
	return items, nil
}

// FindByPath returns the catalog entry for a title directory, or nil
// when the catalog has none. Matching is by folder basename first so a
// differing mount prefix between this process and the catalog does not
// matter; ambiguous basenames fall back to comparing the full path.
func (c *Client) FindByPath(ctx context.Context, path string) (*MediaItem, error) {
	items, err := c.getMediaList(ctx)
	if err != nil {
		return nil, err
	}

	want := pathcmp.NormalizePathFold(path)
	wantBase := pathBase(want)
	if wantBase == "" {
		return nil, nil
	}

	var matches []*MediaItem
	for i := range items {
		if pathBase(pathcmp.NormalizePathFold(items[i].Path)) == wantBase {
			matches = append(matches, &items[i])
		}
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	}

	for _, item := range matches {
		if pathcmp.NormalizePathFold(item.Path) == want {
			return item, nil
		}
	}

	c.log.Debug().Str("path", path).Int("candidates", len(matches)).Msg("Ambiguous catalog path match")
	return nil, nil
}

type refreshSeriesCommand struct {
	Name     string `json:"name"`
	SeriesID int    `json:"seriesId"`
}

type refreshMovieCommand struct {
	Name     string `json:"name"`
	MovieIDs []int  `json:"movieIds"`
}

// Refresh asks the catalog to rescan metadata for one entry.
func (c *Client) Refresh(ctx context.Context, mediaID int) error {
	var payload any
	if c.mediaPath == "series" {
		payload = refreshSeriesCommand{Name: "RefreshSeries", SeriesID: mediaID}
	} else {
		payload = refreshMovieCommand{Name: "RefreshMovie", MovieIDs: []int{mediaID}}
	}

	if err := c.request(ctx, http.MethodPost, "command", payload, nil); err != nil {
		return fmt.Errorf("failed to trigger catalog refresh: %w", err)
	}

	c.log.Debug().Int("mediaId", mediaID).Msg("Triggered catalog refresh")
	return nil
}

type systemStatus struct {
	AppName string `json:"appName"`
	Version string `json:"version"`
}

// Test verifies connectivity and that the catalog is recent enough to
// carry original-language metadata.
func (c *Client) Test(ctx context.Context) error {
	var status systemStatus
	if err := c.request(ctx, http.MethodGet, "system/status", nil, &status); err != nil {
		return err
	}

	v, err := version.NewVersion(status.Version)
	if err != nil {
		return fmt.Errorf("failed to parse catalog version %q: %w", status.Version, err)
	}
	if v.LessThan(c.minVersion) {
		return fmt.Errorf("catalog version %s is not supported, need %s or newer", status.Version, c.minVersion)
	}

	c.log.Debug().Str("app", status.AppName).Str("version", status.Version).Msg("Catalog connection verified")
	return nil
}

func dedupeLabels(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

func tagSetsEqual(a, b map[int]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

func pathBase(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
