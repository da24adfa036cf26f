// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/internal/models"
	"github.com/autobrr/dubarr/internal/scanner"
)

// StatusCollector exports point-in-time state on every scrape: tracked
// titles by tag decision, the newest scan per instance, command counts,
// and notification delivery health. Values come from the stores and the
// per-root state files, so a scrape agrees with what the API reports.
type StatusCollector struct {
	instances *models.InstanceStore
	commands  *models.CommandStore
	channels  *models.NotificationChannelStore
	log       zerolog.Logger

	titlesDesc          *prometheus.Desc
	lastScanDesc        *prometheus.Desc
	commandsDesc        *prometheus.Desc
	channelFailuresDesc *prometheus.Desc
}

func NewStatusCollector(instances *models.InstanceStore, commands *models.CommandStore, channels *models.NotificationChannelStore, logger zerolog.Logger) *StatusCollector {
	return &StatusCollector{
		instances: instances,
		commands:  commands,
		channels:  channels,
		log:       logger.With().Str("component", "metrics").Logger(),

		titlesDesc: prometheus.NewDesc(
			"dubarr_titles",
			"Number of tracked titles by tag decision and instance",
			[]string{"instance_id", "instance_name", "decision"},
			nil,
		),
		lastScanDesc: prometheus.NewDesc(
			"dubarr_last_scan_timestamp_seconds",
			"Unix time of the newest title scan per instance",
			[]string{"instance_id", "instance_name"},
			nil,
		),
		commandsDesc: prometheus.NewDesc(
			"dubarr_commands",
			"Number of commands by status",
			[]string{"status"},
			nil,
		),
		channelFailuresDesc: prometheus.NewDesc(
			"dubarr_notification_consecutive_failures",
			"Consecutive delivery failures per notification channel",
			[]string{"channel"},
			nil,
		),
	}
}

func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.titlesDesc
	ch <- c.lastScanDesc
	ch <- c.commandsDesc
	ch <- c.channelFailuresDesc
}

func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if c.instances == nil || c.commands == nil || c.channels == nil {
		c.log.Debug().Msg("Stores are nil, skipping metrics collection")
		return
	}

	c.collectTitles(ctx, ch)
	c.collectCommands(ctx, ch)
	c.collectChannels(ctx, ch)
}

// scrapeDecisions is the fixed decision set every instance exports, so
// a decision that never occurs still shows up as zero.
var scrapeDecisions = []scanner.TagDecision{
	scanner.DecisionFully,
	scanner.DecisionPartial,
	scanner.DecisionWrong,
	scanner.DecisionNone,
}

func (c *StatusCollector) collectTitles(ctx context.Context, ch chan<- prometheus.Metric) {
	instances, err := c.instances.List(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to list instances for metrics")
		return
	}

	for _, instance := range instances {
		store := scanner.NewStore(instance.LibraryRoot, c.log)

		counts := make(map[scanner.TagDecision]int, len(scrapeDecisions))
		var newest time.Time
		for _, path := range store.Paths(instance.Kind) {
			record, ok := store.Record(instance.Kind, path)
			if !ok {
				continue
			}
			counts[record.Decision]++
			if record.LastScanned.After(newest) {
				newest = record.LastScanned
			}
		}

		idStr := strconv.Itoa(instance.ID)
		for _, decision := range scrapeDecisions {
			ch <- prometheus.MustNewConstMetric(
				c.titlesDesc,
				prometheus.GaugeValue,
				float64(counts[decision]),
				idStr,
				instance.Name,
				string(decision),
			)
		}

		if !newest.IsZero() {
			ch <- prometheus.MustNewConstMetric(
				c.lastScanDesc,
				prometheus.GaugeValue,
				float64(newest.Unix()),
				idStr,
				instance.Name,
			)
		}
	}
}

func (c *StatusCollector) collectCommands(ctx context.Context, ch chan<- prometheus.Metric) {
	counts, err := c.commands.CountByStatus(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to count commands for metrics")
		return
	}

	for status, count := range counts {
		ch <- prometheus.MustNewConstMetric(
			c.commandsDesc,
			prometheus.GaugeValue,
			float64(count),
			string(status),
		)
	}
}

func (c *StatusCollector) collectChannels(ctx context.Context, ch chan<- prometheus.Metric) {
	channels, err := c.channels.List(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to list notification channels for metrics")
		return
	}

	for _, channel := range channels {
		ch <- prometheus.MustNewConstMetric(
			c.channelFailuresDesc,
			prometheus.GaugeValue,
			float64(channel.ConsecutiveFailures),
			channel.Name,
		)
	}
}
