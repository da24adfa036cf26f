// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"time"

	"github.com/autobrr/dubarr/pkg/version"
)

// VersionHandler serves the flattened release view consumed by
// non-browser clients (the CLI update notice, dashboards). The richer
// raw release stays on /updates/latest.
type VersionHandler struct {
	releases releaseSource
}

func NewVersionHandler(releases releaseSource) *VersionHandler {
	return &VersionHandler{releases: releases}
}

type LatestVersionResponse struct {
	TagName     string `json:"tag_name"`
	Name        string `json:"name,omitempty"`
	Body        string `json:"body,omitempty"`
	HTMLURL     string `json:"html_url"`
	PublishedAt string `json:"published_at"`
}

func (h *VersionHandler) GetLatestVersion(w http.ResponseWriter, r *http.Request) {
	release := h.releases.GetLatestRelease(r.Context())
	if release == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	RespondJSON(w, http.StatusOK, flattenRelease(release))
}

func flattenRelease(release *version.Release) LatestVersionResponse {
	resp := LatestVersionResponse{
		TagName:     release.TagName,
		HTMLURL:     release.HTMLURL,
		PublishedAt: release.PublishedAt.UTC().Format(time.RFC3339),
	}
	if release.Name != nil {
		resp.Name = *release.Name
	}
	if release.Body != nil {
		resp.Body = *release.Body
	}
	return resp
}
