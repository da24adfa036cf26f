// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/dubarr/pkg/version"
)

// releaseSource is the slice of the update service these endpoints
// need: the cached latest release and a way to refresh it on demand.
type releaseSource interface {
	GetLatestRelease(ctx context.Context) *version.Release
	CheckUpdates(ctx context.Context)
}

// UpdateHandler lets the UI ask whether a newer dubarr exists.
type UpdateHandler struct {
	releases releaseSource
}

func NewUpdateHandler(releases releaseSource) *UpdateHandler {
	return &UpdateHandler{releases: releases}
}

func (h *UpdateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/updates", func(r chi.Router) {
		r.Get("/latest", h.latest)
		r.Get("/check", h.forceCheck)
	})
}

// latest serves the cached release without touching GitHub. 204 means
// no release is known, either because polling is disabled or because
// the running build is current.
func (h *UpdateHandler) latest(w http.ResponseWriter, r *http.Request) {
	h.respondRelease(w, r)
}

// forceCheck refreshes the cache synchronously and then reports what
// it found, so the UI's "check now" button gets an immediate answer.
func (h *UpdateHandler) forceCheck(w http.ResponseWriter, r *http.Request) {
	h.releases.CheckUpdates(r.Context())
	h.respondRelease(w, r)
}

func (h *UpdateHandler) respondRelease(w http.ResponseWriter, r *http.Request) {
	release := h.releases.GetLatestRelease(r.Context())
	if release == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	RespondJSON(w, http.StatusOK, release)
}
