// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dubarr/internal/models"
)

type SettingsHandler struct {
	settingStore *models.SettingStore
}

func NewSettingsHandler(settingStore *models.SettingStore) *SettingsHandler {
	return &SettingsHandler{settingStore: settingStore}
}

func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingStore.GetSettings(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings")
		RespondError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	RespondJSON(w, http.StatusOK, settings)
}

func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.Settings
	if !DecodeJSON(w, r, &req) {
		return
	}

	if req.ScanIntervalSeconds <= 0 || req.BackupIntervalSeconds <= 0 || req.BackupRetentionDays <= 0 {
		RespondError(w, http.StatusBadRequest, "Intervals and retention must be positive")
		return
	}

	if err := h.settingStore.UpdateSettings(r.Context(), &req); err != nil {
		log.Error().Err(err).Msg("Failed to update settings")
		RespondError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}

	updated, err := h.settingStore.GetSettings(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings")
		RespondError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}
