// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dubarr/pkg/version"
)

type stubReleaseSource struct {
	release *version.Release
	checked bool
}

func (s *stubReleaseSource) GetLatestRelease(context.Context) *version.Release {
	return s.release
}

func (s *stubReleaseSource) CheckUpdates(context.Context) {
	s.checked = true
}

func TestGetLatestVersion(t *testing.T) {
	t.Parallel()

	t.Run("no release known", func(t *testing.T) {
		t.Parallel()

		h := NewVersionHandler(&stubReleaseSource{})

		rec := httptest.NewRecorder()
		h.GetLatestVersion(rec, httptest.NewRequest(http.MethodGet, "/version/latest", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
	})

	t.Run("flattens the cached release", func(t *testing.T) {
		t.Parallel()

		name := "dubarr v1.4.0"
		body := "Adds per-episode dub badges"
		h := NewVersionHandler(&stubReleaseSource{release: &version.Release{
			TagName:     "v1.4.0",
			Name:        &name,
			Body:        &body,
			HTMLURL:     "https://github.com/autobrr/dubarr/releases/tag/v1.4.0",
			PublishedAt: time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC),
		}})

		rec := httptest.NewRecorder()
		h.GetLatestVersion(rec, httptest.NewRequest(http.MethodGet, "/version/latest", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp LatestVersionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "v1.4.0", resp.TagName)
		assert.Equal(t, name, resp.Name)
		assert.Equal(t, body, resp.Body)
		assert.Equal(t, "2025-06-02T09:30:00Z", resp.PublishedAt)
	})

	t.Run("nil name and body are omitted", func(t *testing.T) {
		t.Parallel()

		h := NewVersionHandler(&stubReleaseSource{release: &version.Release{
			TagName:     "v1.4.1",
			HTMLURL:     "https://github.com/autobrr/dubarr/releases/tag/v1.4.1",
			PublishedAt: time.Date(2025, time.June, 3, 0, 0, 0, 0, time.UTC),
		}})

		rec := httptest.NewRecorder()
		h.GetLatestVersion(rec, httptest.NewRequest(http.MethodGet, "/version/latest", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), `"name"`)
		assert.NotContains(t, rec.Body.String(), `"body"`)
	})
}

func TestForceCheckRefreshesBeforeResponding(t *testing.T) {
	t.Parallel()

	src := &stubReleaseSource{}
	h := NewUpdateHandler(src)

	rec := httptest.NewRecorder()
	h.forceCheck(rec, httptest.NewRequest(http.MethodGet, "/updates/check", nil))

	assert.True(t, src.checked)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
