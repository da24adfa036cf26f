// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/internal/arr"
	"github.com/autobrr/dubarr/internal/buildinfo"
	"github.com/autobrr/dubarr/internal/metrics/collector"
	"github.com/autobrr/dubarr/internal/models"
	"github.com/autobrr/dubarr/internal/scanner"
)

// Command names with registered handlers.
const (
	CommandScanInstance = "scan-instance"
	CommandCreateBackup = "create-backup"
)

// ScanPayload is the body of a scan-instance command.
type ScanPayload struct {
	InstanceID int    `json:"instanceId"`
	WriteMode  string `json:"writeMode,omitempty"`
}

// Scanner runs one reconciliation pass over an instance's library.
type Scanner interface {
	Scan(ctx context.Context, instance *models.Instance, client scanner.CatalogClient, mode scanner.WriteMode) (*scanner.Summary, error)
}

// catalogClient adds lifecycle management to the scanner's view of the
// arr client.
type catalogClient interface {
	scanner.CatalogClient
	Close()
}

// ScanHandler executes scan-instance commands. Each command gets a
// fresh catalog client so one instance's caches never leak into
// another's pass.
type ScanHandler struct {
	instances  *models.InstanceStore
	scanner    Scanner
	notifier   scanner.Notifier
	metrics    *collector.CatalogCollector
	newCatalog func(instance *models.Instance, apiKey string) catalogClient
}

// NewScanHandler builds the scan-instance handler. The notifier may be
// nil; failed passes then go unannounced.
func NewScanHandler(instances *models.InstanceStore, scan Scanner, notifier scanner.Notifier, logger zerolog.Logger) *ScanHandler {
	h := &ScanHandler{
		instances: instances,
		scanner:   scan,
		notifier:  notifier,
	}
	h.newCatalog = func(instance *models.Instance, apiKey string) catalogClient {
		cfg := arr.Config{
			Host:      instance.BaseURL,
			APIKey:    apiKey,
			UserAgent: buildinfo.UserAgent,
			Metrics:   h.metrics,
		}
		if instance.Kind == models.InstanceKindMovie {
			return arr.NewMovieClient(cfg, logger)
		}
		return arr.NewSeriesClient(cfg, logger)
	}
	return h
}

// SetMetrics attaches catalog counters to the clients built for each
// pass. May be left unset.
func (h *ScanHandler) SetMetrics(m *collector.CatalogCollector) {
	h.metrics = m
}

// Handle runs one scan pass for the instance named by the payload.
func (h *ScanHandler) Handle(ctx context.Context, cmd *models.Command) (string, error) {
	var payload ScanPayload
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return "", fmt.Errorf("invalid scan payload: %w", err)
	}

	mode, err := scanner.ParseWriteMode(payload.WriteMode)
	if err != nil {
		return "", err
	}

	instance, err := h.instances.Get(ctx, payload.InstanceID)
	if err != nil {
		return "", fmt.Errorf("failed to load instance %d: %w", payload.InstanceID, err)
	}

	apiKey, err := h.instances.GetDecryptedAPIKey(instance)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt API key for %s: %w", instance.Name, err)
	}

	client := h.newCatalog(instance, apiKey)
	defer client.Close()

	summary, err := h.scanner.Scan(ctx, instance, client, mode)
	if err != nil {
		h.notifyHealth(instance.Name, err)
		return "", err
	}

	return fmt.Sprintf("%s: %d scanned, %d skipped, %d failed, %d removed",
		instance.Name, summary.Scanned, summary.Skipped, summary.Failed, summary.Removed), nil
}

// notifyHealth raises a health warning for a pass that failed outright.
// Per-title failures are summary counts, not health events.
func (h *ScanHandler) notifyHealth(instanceName string, scanErr error) {
	if h.notifier == nil {
		return
	}
	h.notifier.Dispatch(models.EventHealthWarning, instanceName, fmt.Sprintf("Scan failed: %v", scanErr))
}

// BackupRunner creates database backup archives.
type BackupRunner interface {
	Create(ctx context.Context, kind models.BackupKind) (*models.Backup, error)
}

// BackupHandler executes create-backup commands.
type BackupHandler struct {
	backups BackupRunner
}

func NewBackupHandler(backups BackupRunner) *BackupHandler {
	return &BackupHandler{backups: backups}
}

// Handle creates one backup archive. The backup scheduler bypasses the
// queue, so the trigger source normally reads manual here.
func (h *BackupHandler) Handle(ctx context.Context, cmd *models.Command) (string, error) {
	kind := models.BackupKindManual
	if cmd.TriggeredBy == models.CommandTriggerScheduled {
		kind = models.BackupKindScheduled
	}

	backup, err := h.backups.Create(ctx, kind)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("created %s (%s)",
		filepath.Base(backup.ArchivePath), humanize.Bytes(uint64(backup.SizeBytes))), nil
}
