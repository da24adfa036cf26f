// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dubarr/internal/backups"
	"github.com/autobrr/dubarr/internal/models"
	"github.com/autobrr/dubarr/internal/services/commands"
)

type BackupsHandler struct {
	service      *backups.Service
	commandStore *models.CommandStore
}

func NewBackupsHandler(service *backups.Service, commandStore *models.CommandStore) *BackupsHandler {
	return &BackupsHandler{
		service:      service,
		commandStore: commandStore,
	}
}

type RestoreBackupResponse struct {
	Message         string `json:"message"`
	RestartRequired bool   `json:"restartRequired"`
}

func (h *BackupsHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list backups")
		RespondError(w, http.StatusInternalServerError, "Failed to list backups")
		return
	}

	RespondJSON(w, http.StatusOK, records)
}

// TriggerBackup enqueues a manual backup for the command processor. The
// scheduler runs backups directly, so every queued create-backup command
// originates here.
func (h *BackupsHandler) TriggerBackup(w http.ResponseWriter, r *http.Request) {
	command, err := h.commandStore.Enqueue(r.Context(), commands.CommandCreateBackup, nil, models.CommandTriggerManual)
	if err != nil {
		log.Error().Err(err).Msg("Failed to enqueue backup command")
		RespondError(w, http.StatusInternalServerError, "Failed to queue backup")
		return
	}

	RespondJSON(w, http.StatusAccepted, command)
}

func (h *BackupsHandler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "backupID", "backup ID")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrBackupNotFound) {
			RespondError(w, http.StatusNotFound, "Backup not found")
			return
		}
		log.Error().Err(err).Int("backupID", id).Msg("Failed to delete backup")
		RespondError(w, http.StatusInternalServerError, "Failed to delete backup")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"message": "Backup deleted successfully"})
}

// RestoreBackup swaps the database file under the running process. The
// open connection still serves the old data, so the response tells the
// caller to restart.
func (h *BackupsHandler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "backupID", "backup ID")
	if !ok {
		return
	}

	if err := h.service.Restore(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, models.ErrBackupNotFound):
			RespondError(w, http.StatusNotFound, "Backup not found")
		case errors.Is(err, backups.ErrArchiveMissing):
			RespondError(w, http.StatusNotFound, "Backup archive missing")
		case errors.Is(err, backups.ErrArchiveInvalid):
			RespondError(w, http.StatusConflict, "Backup archive is not restorable")
		default:
			log.Error().Err(err).Int("backupID", id).Msg("Failed to restore backup")
			RespondError(w, http.StatusInternalServerError, "Failed to restore backup")
		}
		return
	}

	RespondJSON(w, http.StatusOK, RestoreBackupResponse{
		Message:         "Backup restored. Restart the service to load the restored database.",
		RestartRequired: true,
	})
}

func (h *BackupsHandler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "backupID", "backup ID")
	if !ok {
		return
	}

	backup, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrBackupNotFound) {
			RespondError(w, http.StatusNotFound, "Backup not found")
			return
		}
		log.Error().Err(err).Int("backupID", id).Msg("Failed to load backup")
		RespondError(w, http.StatusInternalServerError, "Failed to load backup")
		return
	}

	file, err := os.Open(backup.ArchivePath)
	if err != nil {
		if os.IsNotExist(err) {
			RespondError(w, http.StatusNotFound, "Backup archive missing")
			return
		}
		log.Error().Err(err).Int("backupID", id).Msg("Failed to open backup archive")
		RespondError(w, http.StatusInternalServerError, "Failed to open backup archive")
		return
	}
	defer file.Close()

	name := filepath.Base(backup.ArchivePath)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	http.ServeContent(w, r, name, backup.CreatedAt, file)
}
