// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package commands

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/internal/models"
)

// ScanScheduler keeps periodic scans flowing. Each wake-up enqueues one
// scan per enabled instance unless an identical scan is already queued,
// so a pass outlasting the interval never stacks duplicates.
type ScanScheduler struct {
	commands  *models.CommandStore
	instances *models.InstanceStore
	settings  *models.SettingStore
	log       zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewScanScheduler(commands *models.CommandStore, instances *models.InstanceStore, settings *models.SettingStore, logger zerolog.Logger) *ScanScheduler {
	return &ScanScheduler{
		commands:  commands,
		instances: instances,
		settings:  settings,
		log:       logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches the scheduler loop.
func (s *ScanScheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (s *ScanScheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run sleeps the configured interval, then enqueues. The interval is
// re-read every cycle, so settings changes apply on the next wake-up.
func (s *ScanScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.interval(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.enqueueScans(ctx)
			timer.Reset(s.interval(ctx))
		}
	}
}

func (s *ScanScheduler) interval(ctx context.Context) time.Duration {
	seconds, err := s.settings.GetInt(ctx, models.SettingScanIntervalSeconds, models.DefaultScanIntervalSeconds)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read scan interval, using default")
		seconds = models.DefaultScanIntervalSeconds
	}
	if seconds <= 0 {
		seconds = models.DefaultScanIntervalSeconds
	}

	return time.Duration(seconds) * time.Second
}

func (s *ScanScheduler) enqueueScans(ctx context.Context) {
	instances, err := s.instances.ListEnabled(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list enabled instances")
		return
	}

	for _, instance := range instances {
		log := s.log.With().Int("instanceID", instance.ID).Str("instance", instance.Name).Logger()

		payload, err := json.Marshal(ScanPayload{InstanceID: instance.ID})
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode scan payload")
			continue
		}

		queued, err := s.commands.HasQueued(ctx, CommandScanInstance, payload)
		if err != nil {
			log.Error().Err(err).Msg("Failed to check queued scans")
			continue
		}
		if queued {
			log.Debug().Msg("Scan already queued, skipping")
			continue
		}

		if _, err := s.commands.Enqueue(ctx, CommandScanInstance, payload, models.CommandTriggerScheduled); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue scan")
			continue
		}

		log.Info().Msg("Scheduled scan enqueued")
	}
}
