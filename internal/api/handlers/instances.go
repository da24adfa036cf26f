// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dubarr/internal/arr"
	"github.com/autobrr/dubarr/internal/buildinfo"
	"github.com/autobrr/dubarr/internal/models"
	"github.com/autobrr/dubarr/internal/scanner"
	"github.com/autobrr/dubarr/internal/services/commands"
)

type InstancesHandler struct {
	instanceStore *models.InstanceStore
	commandStore  *models.CommandStore
}

func NewInstancesHandler(instanceStore *models.InstanceStore, commandStore *models.CommandStore) *InstancesHandler {
	return &InstancesHandler{
		instanceStore: instanceStore,
		commandStore:  commandStore,
	}
}

type TestConnectionResponse struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type DeleteInstanceResponse struct {
	Message string `json:"message"`
}

// ScanTriggerRequest carries the optional write mode for a manual scan.
type ScanTriggerRequest struct {
	WriteMode string `json:"writeMode"`
}

// InstanceStateResponse is the persisted scan state for one instance.
type InstanceStateResponse struct {
	InstanceID int                            `json:"instanceId"`
	Records    map[string]*scanner.ScanRecord `json:"records"`
}

func (h *InstancesHandler) newCatalogClient(instance *models.Instance, apiKey string) *arr.Client {
	cfg := arr.Config{
		Host:      instance.BaseURL,
		APIKey:    apiKey,
		UserAgent: buildinfo.UserAgent,
	}
	if instance.Kind == models.InstanceKindMovie {
		return arr.NewMovieClient(cfg, log.Logger)
	}
	return arr.NewSeriesClient(cfg, log.Logger)
}

func (h *InstancesHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	var instances []*models.Instance
	var err error
	if enabledOnly {
		instances, err = h.instanceStore.ListEnabled(r.Context())
	} else {
		instances, err = h.instanceStore.List(r.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to list instances")
		RespondError(w, http.StatusInternalServerError, "Failed to list instances")
		return
	}

	RespondJSON(w, http.StatusOK, instances)
}

func (h *InstancesHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	instance, err := h.instanceStore.Get(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, models.ErrInstanceNotFound) {
			RespondError(w, http.StatusNotFound, "Instance not found")
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to get instance")
		RespondError(w, http.StatusInternalServerError, "Failed to get instance")
		return
	}

	RespondJSON(w, http.StatusOK, instance)
}

func (h *InstancesHandler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req models.InstanceCreateParams
	if !DecodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" || req.BaseURL == "" || req.APIKey == "" {
		RespondError(w, http.StatusBadRequest, "Name, base URL and API key are required")
		return
	}
	if req.LibraryRoot == "" {
		RespondError(w, http.StatusBadRequest, "Library root is required")
		return
	}
	if len(req.TargetLanguages) == 0 {
		RespondError(w, http.StatusBadRequest, "At least one target language is required")
		return
	}
	if _, err := models.ParseInstanceKind(string(req.Kind)); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	instance, err := h.instanceStore.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, models.ErrInstanceNameConflict) {
			RespondError(w, http.StatusConflict, "Instance name already in use")
			return
		}
		log.Error().Err(err).Msg("Failed to create instance")
		RespondError(w, http.StatusInternalServerError, "Failed to create instance")
		return
	}

	RespondJSON(w, http.StatusCreated, instance)
}

func (h *InstancesHandler) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	var req models.InstanceUpdateParams
	if !DecodeJSON(w, r, &req) {
		return
	}

	instance, err := h.instanceStore.Update(r.Context(), instanceID, &req)
	if err != nil {
		if errors.Is(err, models.ErrInstanceNotFound) {
			RespondError(w, http.StatusNotFound, "Instance not found")
			return
		}
		if errors.Is(err, models.ErrInstanceNameConflict) {
			RespondError(w, http.StatusConflict, "Instance name already in use")
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to update instance")
		RespondError(w, http.StatusInternalServerError, "Failed to update instance")
		return
	}

	RespondJSON(w, http.StatusOK, instance)
}

func (h *InstancesHandler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	if err := h.instanceStore.Delete(r.Context(), instanceID); err != nil {
		if errors.Is(err, models.ErrInstanceNotFound) {
			RespondError(w, http.StatusNotFound, "Instance not found")
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to delete instance")
		RespondError(w, http.StatusInternalServerError, "Failed to delete instance")
		return
	}

	response := DeleteInstanceResponse{
		Message: "Instance deleted successfully",
	}
	RespondJSON(w, http.StatusOK, response)
}

// TestConnection checks connectivity and minimum version of the catalog
// behind an instance. Failures respond 200 with connected=false so the
// caller can show the error inline.
func (h *InstancesHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	instance, err := h.instanceStore.Get(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, models.ErrInstanceNotFound) {
			RespondError(w, http.StatusNotFound, "Instance not found")
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to get instance")
		RespondError(w, http.StatusInternalServerError, "Failed to get instance")
		return
	}

	apiKey, err := h.instanceStore.GetDecryptedAPIKey(instance)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to decrypt instance API key")
		RespondJSON(w, http.StatusOK, TestConnectionResponse{
			Connected: false,
			Error:     err.Error(),
		})
		return
	}

	client := h.newCatalogClient(instance, apiKey)
	defer client.Close()

	if err := client.Test(r.Context()); err != nil {
		RespondJSON(w, http.StatusOK, TestConnectionResponse{
			Connected: false,
			Error:     err.Error(),
		})
		return
	}

	RespondJSON(w, http.StatusOK, TestConnectionResponse{
		Connected: true,
		Message:   "Connection successful",
	})
}

// TriggerScan queues a manual scan for the instance.
func (h *InstancesHandler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	instance, err := h.instanceStore.Get(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, models.ErrInstanceNotFound) {
			RespondError(w, http.StatusNotFound, "Instance not found")
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to get instance")
		RespondError(w, http.StatusInternalServerError, "Failed to get instance")
		return
	}

	if !instance.Enabled {
		RespondError(w, http.StatusConflict, "Instance is disabled")
		return
	}

	var req ScanTriggerRequest
	if !DecodeJSONOptional(w, r, &req) {
		return
	}

	payload := commands.ScanPayload{InstanceID: instanceID}
	if req.WriteMode != "" {
		mode, err := scanner.ParseWriteMode(req.WriteMode)
		if err != nil {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload.WriteMode = string(mode)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to encode scan payload")
		RespondError(w, http.StatusInternalServerError, "Failed to queue scan")
		return
	}

	command, err := h.commandStore.Enqueue(r.Context(), commands.CommandScanInstance, raw, models.CommandTriggerManual)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to queue scan")
		RespondError(w, http.StatusInternalServerError, "Failed to queue scan")
		return
	}

	RespondJSON(w, http.StatusAccepted, command)
}

// GetScanState returns the persisted per-title scan records for the
// instance's library.
func (h *InstancesHandler) GetScanState(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	instance, err := h.instanceStore.Get(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, models.ErrInstanceNotFound) {
			RespondError(w, http.StatusNotFound, "Instance not found")
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to get instance")
		RespondError(w, http.StatusInternalServerError, "Failed to get instance")
		return
	}

	store := scanner.NewStore(instance.LibraryRoot, log.Logger)

	records := make(map[string]*scanner.ScanRecord)
	for _, path := range store.Paths(instance.Kind) {
		if record, ok := store.Record(instance.Kind, path); ok {
			records[path] = record
		}
	}

	RespondJSON(w, http.StatusOK, InstanceStateResponse{
		InstanceID: instanceID,
		Records:    records,
	})
}
