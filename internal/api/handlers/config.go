// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/internal/config"
	"github.com/autobrr/dubarr/internal/update"
)

// ConfigHandler exposes the server-level settings that live in
// config.toml rather than the settings table.
type ConfigHandler struct {
	cfg     *config.AppConfig
	version string
	updates *update.Service
}

// ConfigResponse is the config.toml view served to API consumers.
// Secrets (session secret, metrics credentials) never appear here.
type ConfigResponse struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	BaseURL         string `json:"base_url"`
	LogLevel        string `json:"log_level"`
	LogPath         string `json:"log_path"`
	LogMaxSize      int    `json:"log_max_size"`
	LogMaxBackups   int    `json:"log_max_backups"`
	FFProbePath     string `json:"ffprobe_path,omitempty"`
	CheckForUpdates bool   `json:"check_for_updates"`
	Version         string `json:"version"`
}

// ConfigUpdateRequest carries the keys PATCH /config may change at
// runtime. Absent fields are left untouched.
type ConfigUpdateRequest struct {
	CheckForUpdates *bool   `json:"check_for_updates"`
	LogLevel        *string `json:"log_level"`
}

func NewConfigHandler(cfg *config.AppConfig, version string, updates *update.Service) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, version: version, updates: updates}
}

func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Route("/config", func(r chi.Router) {
		r.Get("/", h.getConfig)
		r.Patch("/", h.updateConfig)
	})
}

func (h *ConfigHandler) getConfig(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.snapshot())
}

func (h *ConfigHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if req.LogLevel != nil {
		level := strings.ToLower(strings.TrimSpace(*req.LogLevel))
		if _, err := zerolog.ParseLevel(level); err != nil || level == "" {
			RespondError(w, http.StatusBadRequest, "invalid log level")
			return
		}

		cur := h.cfg.Config
		if err := h.cfg.UpdateLogSettings(level, cur.LogPath, cur.LogMaxSize, cur.LogMaxBackups); err != nil {
			RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	if req.CheckForUpdates != nil {
		h.cfg.Config.CheckForUpdates = *req.CheckForUpdates
		if h.updates != nil {
			h.updates.SetEnabled(*req.CheckForUpdates)
		}

		if err := h.cfg.UpdateConfig(); err != nil {
			RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	RespondJSON(w, http.StatusOK, h.snapshot())
}

func (h *ConfigHandler) snapshot() ConfigResponse {
	c := h.cfg.Config
	return ConfigResponse{
		Host:            c.Host,
		Port:            c.Port,
		BaseURL:         c.BaseURL,
		LogLevel:        c.LogLevel,
		LogPath:         c.LogPath,
		LogMaxSize:      c.LogMaxSize,
		LogMaxBackups:   c.LogMaxBackups,
		FFProbePath:     c.FFProbePath,
		CheckForUpdates: c.CheckForUpdates,
		Version:         h.version,
	}
}
