// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dubarr/internal/models"
)

const (
	defaultCommandListLimit = 50
	maxCommandListLimit     = 500
)

type CommandsHandler struct {
	commandStore *models.CommandStore
}

func NewCommandsHandler(commandStore *models.CommandStore) *CommandsHandler {
	return &CommandsHandler{
		commandStore: commandStore,
	}
}

// ListCommands returns the command history, newest first.
func (h *CommandsHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	pagination := ParsePagination(r, defaultCommandListLimit, maxCommandListLimit)

	commands, err := h.commandStore.List(r.Context(), pagination.Limit, pagination.Offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list commands")
		RespondError(w, http.StatusInternalServerError, "Failed to list commands")
		return
	}

	RespondJSON(w, http.StatusOK, commands)
}

func (h *CommandsHandler) GetCommand(w http.ResponseWriter, r *http.Request) {
	commandID, ok := ParseIntParam(w, r, "commandID", "command ID")
	if !ok {
		return
	}

	command, err := h.commandStore.Get(r.Context(), commandID)
	if err != nil {
		if errors.Is(err, models.ErrCommandNotFound) {
			RespondError(w, http.StatusNotFound, "Command not found")
			return
		}
		log.Error().Err(err).Int("commandID", commandID).Msg("Failed to get command")
		RespondError(w, http.StatusInternalServerError, "Failed to get command")
		return
	}

	RespondJSON(w, http.StatusOK, command)
}

// CancelCommand removes a queued command. Commands that have started
// cannot be canceled.
func (h *CommandsHandler) CancelCommand(w http.ResponseWriter, r *http.Request) {
	commandID, ok := ParseIntParam(w, r, "commandID", "command ID")
	if !ok {
		return
	}

	if err := h.commandStore.Delete(r.Context(), commandID); err != nil {
		if errors.Is(err, models.ErrCommandNotFound) {
			RespondError(w, http.StatusNotFound, "Command not found")
			return
		}
		if errors.Is(err, models.ErrCommandNotCancelable) {
			RespondError(w, http.StatusConflict, "Command is not queued and cannot be canceled")
			return
		}
		log.Error().Err(err).Int("commandID", commandID).Msg("Failed to cancel command")
		RespondError(w, http.StatusInternalServerError, "Failed to cancel command")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Command canceled successfully",
	})
}
