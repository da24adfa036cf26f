// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dubarr/internal/domain"
	"github.com/autobrr/dubarr/internal/models"
	"github.com/autobrr/dubarr/internal/services/notifications"
)

type NotificationsHandler struct {
	store   *models.NotificationChannelStore
	service *notifications.Service
}

func NewNotificationsHandler(store *models.NotificationChannelStore, service *notifications.Service) *NotificationsHandler {
	return &NotificationsHandler{
		store:   store,
		service: service,
	}
}

type notificationChannelRequest struct {
	Name                  string    `json:"name"`
	URL                   string    `json:"url"`
	Enabled               *bool     `json:"enabled"`
	EventTypes            *[]string `json:"eventTypes"`
	IncludeHealthWarnings *bool     `json:"includeHealthWarnings"`
}

const maxNotificationBodySize = 1 << 20

// ListChannels handles GET /api/notifications
func (h *NotificationsHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("notifications: failed to list channels")
		RespondError(w, http.StatusInternalServerError, "failed to list notification channels")
		return
	}

	RespondJSON(w, http.StatusOK, channels)
}

// CreateChannel handles POST /api/notifications
func (h *NotificationsHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxNotificationBodySize)
	dec := json.NewDecoder(r.Body)

	var req notificationChannelRequest
	if err := dec.Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		RespondError(w, http.StatusBadRequest, "name is required")
		return
	}

	url := strings.TrimSpace(req.URL)
	if url == "" {
		RespondError(w, http.StatusBadRequest, "url is required")
		return
	}

	if err := notifications.ValidateURL(url); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	var eventTypes []string
	if req.EventTypes != nil {
		eventTypes = *req.EventTypes
	}

	var includeHealthWarnings bool
	if req.IncludeHealthWarnings != nil {
		includeHealthWarnings = *req.IncludeHealthWarnings
	}

	created, err := h.store.Create(r.Context(), &models.NotificationChannelParams{
		Name:                  name,
		URL:                   url,
		Enabled:               enabled,
		EventTypes:            eventTypes,
		IncludeHealthWarnings: includeHealthWarnings,
	})
	if err != nil {
		log.Error().Err(err).Msg("notifications: failed to create channel")
		RespondError(w, http.StatusInternalServerError, "failed to create notification channel")
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}

// UpdateChannel handles PUT /api/notifications/{id}
func (h *NotificationsHandler) UpdateChannel(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid channel id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxNotificationBodySize)
	dec := json.NewDecoder(r.Body)

	var req notificationChannelRequest
	if err := dec.Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		RespondError(w, http.StatusBadRequest, "name is required")
		return
	}

	// An empty or redacted URL keeps the stored one; validate only
	// genuine replacements.
	url := strings.TrimSpace(req.URL)
	if url != "" && !domain.IsRedactedString(url) {
		if err := notifications.ValidateURL(url); err != nil {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	existing, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotificationChannelNotFound) {
			RespondError(w, http.StatusNotFound, "notification channel not found")
			return
		}
		log.Error().Err(err).Msg("notifications: failed to load channel")
		RespondError(w, http.StatusInternalServerError, "failed to load notification channel")
		return
	}

	enabled := existing.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	eventTypes := existing.EventTypes
	if req.EventTypes != nil {
		eventTypes = *req.EventTypes
	}

	includeHealthWarnings := existing.IncludeHealthWarnings
	if req.IncludeHealthWarnings != nil {
		includeHealthWarnings = *req.IncludeHealthWarnings
	}

	updated, err := h.store.Update(r.Context(), id, &models.NotificationChannelParams{
		Name:                  name,
		URL:                   url,
		Enabled:               enabled,
		EventTypes:            eventTypes,
		IncludeHealthWarnings: includeHealthWarnings,
	})
	if err != nil {
		if errors.Is(err, models.ErrNotificationChannelNotFound) {
			RespondError(w, http.StatusNotFound, "notification channel not found")
			return
		}
		log.Error().Err(err).Msg("notifications: failed to update channel")
		RespondError(w, http.StatusInternalServerError, "failed to update notification channel")
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}

// DeleteChannel handles DELETE /api/notifications/{id}
func (h *NotificationsHandler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid channel id")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotificationChannelNotFound) {
			RespondError(w, http.StatusNotFound, "notification channel not found")
			return
		}
		log.Error().Err(err).Msg("notifications: failed to delete channel")
		RespondError(w, http.StatusInternalServerError, "failed to delete notification channel")
		return
	}

	RespondJSON(w, http.StatusNoContent, nil)
}

// TestChannel handles POST /api/notifications/{id}/test
func (h *NotificationsHandler) TestChannel(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		RespondError(w, http.StatusInternalServerError, "notification service unavailable")
		return
	}

	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid channel id")
		return
	}

	channel, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotificationChannelNotFound) {
			RespondError(w, http.StatusNotFound, "notification channel not found")
			return
		}
		log.Error().Err(err).Msg("notifications: failed to load channel")
		RespondError(w, http.StatusInternalServerError, "failed to load notification channel")
		return
	}

	if err := h.service.Test(r.Context(), channel); err != nil {
		log.Error().Err(err).Str("channel", channel.Name).Msg("notifications: test send failed")
		RespondError(w, http.StatusBadGateway, "failed to send test notification")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
