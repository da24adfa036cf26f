// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package version implements a GitHub release checker used to detect newer
// published versions of the application.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// Release is a GitHub release payload, reduced to the fields we consume.
type Release struct {
	ID          int64     `json:"id,omitempty"`
	TagName     string    `json:"tag_name,omitempty"`
	Name        *string   `json:"name,omitempty"`
	Body        *string   `json:"body,omitempty"`
	HTMLURL     string    `json:"html_url,omitempty"`
	Draft       bool      `json:"draft,omitempty"`
	Prerelease  bool      `json:"prerelease,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Assets      []Asset   `json:"assets,omitempty"`
}

// Asset is a downloadable artifact attached to a Release.
type Asset struct {
	ID                 int64  `json:"id,omitempty"`
	Name               string `json:"name,omitempty"`
	ContentType        string `json:"content_type,omitempty"`
	State              string `json:"state,omitempty"`
	Size               int64  `json:"size,omitempty"`
	DownloadCount      int64  `json:"download_count,omitempty"`
	BrowserDownloadURL string `json:"browser_download_url,omitempty"`
}

// Checker queries the GitHub releases API for a repository.
type Checker struct {
	Owner      string
	Repo       string
	UserAgent  string
	apiBase    string
	httpClient *http.Client
}

func NewChecker(owner, repo, userAgent string) *Checker {
	return &Checker{
		Owner:     owner,
		Repo:      repo,
		UserAgent: userAgent,
		apiBase:   "https://api.github.com",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetLatestRelease fetches the latest published release for the repository.
func (c *Checker) GetLatestRelease(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.apiBase, c.Owner, c.Repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build release request")
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch latest release")
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d fetching latest release", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, errors.Wrap(err, "could not decode release payload")
	}

	return &release, nil
}

// CheckNewVersion reports whether the repository has a release newer than
// version. Development builds never report a newer version.
func (c *Checker) CheckNewVersion(ctx context.Context, version string) (bool, *Release, error) {
	if isDevelop(version) {
		return false, nil, nil
	}

	release, err := c.GetLatestRelease(ctx)
	if err != nil {
		return false, nil, err
	}

	if release.Draft {
		return false, nil, nil
	}

	return c.compareVersions(version, release)
}

// compareVersions compares the current version against a release tag. A
// prerelease tag is never considered newer than a stable current version.
func (c *Checker) compareVersions(currentVersion string, release *Release) (bool, *Release, error) {
	current, err := semver.NewVersion(currentVersion)
	if err != nil {
		return false, nil, errors.Wrapf(err, "could not parse current version %q", currentVersion)
	}

	latest, err := semver.NewVersion(release.TagName)
	if err != nil {
		return false, nil, errors.Wrapf(err, "could not parse release tag %q", release.TagName)
	}

	if latest.Prerelease() != "" && current.Prerelease() == "" {
		return false, nil, nil
	}

	if latest.GreaterThan(current) {
		return true, release, nil
	}

	return false, nil, nil
}

// drainAndClose consumes the rest of the body so the connection can be
// reused for the next poll.
func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

var developVersions = []string{"dev", "develop", "main", "latest"}

// isDevelop reports whether version identifies a local or CI development
// build rather than a tagged release.
func isDevelop(version string) bool {
	if version == "" {
		return true
	}

	if slices.Contains(developVersions, version) {
		return true
	}

	if strings.HasPrefix(version, "pr-") {
		return true
	}

	for _, suffix := range []string{"-dev", "-develop"} {
		if strings.HasSuffix(version, suffix) {
			return true
		}
	}

	return false
}
