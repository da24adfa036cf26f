// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics assembles the Prometheus registry served at /metrics:
// runtime collectors, scrape-time status gauges, and the counters the
// scanner and catalog clients increment as they work.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/internal/metrics/collector"
	"github.com/autobrr/dubarr/internal/models"
)

type Manager struct {
	registry         *prometheus.Registry
	statusCollector  *StatusCollector
	scanCollector    *collector.ScanCollector
	catalogCollector *collector.CatalogCollector
}

func NewManager(instances *models.InstanceStore, commands *models.CommandStore, channels *models.NotificationChannelStore, logger zerolog.Logger) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	statusCollector := NewStatusCollector(instances, commands, channels, logger)
	registry.MustRegister(statusCollector)

	logger.Info().Str("component", "metrics").Msg("Metrics manager initialized with status collector")

	return &Manager{
		registry:         registry,
		statusCollector:  statusCollector,
		scanCollector:    collector.NewScanCollector(registry),
		catalogCollector: collector.NewCatalogCollector(registry),
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// GetScanCollector returns the counters the scanner increments.
func (m *Manager) GetScanCollector() *collector.ScanCollector {
	return m.scanCollector
}

// GetCatalogCollector returns the counters the catalog clients
// increment.
func (m *Manager) GetCatalogCollector() *collector.CatalogCollector {
	return m.catalogCollector
}
