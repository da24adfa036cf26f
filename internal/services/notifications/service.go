// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications fans scan events out to configured shoutrrr
// channels. Delivery runs behind a buffered queue so a slow or dead
// endpoint never stalls the scanner.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/internal/models"
)

const (
	queueSize   = 100
	workerCount = 2

	maxMessageLength = 420
	maxTitleLength   = 80

	testTitle   = "dubarr"
	testMessage = "Test notification from dubarr"
)

type event struct {
	kind    models.NotificationEvent
	title   string
	message string
}

// senderFunc delivers one message to a shoutrrr service URL.
type senderFunc func(serviceURL, title, message string) error

// Service is the notification dispatcher. Dispatch enqueues, workers
// deliver, and every delivery attempt lands in the channel's status
// columns.
type Service struct {
	store  *models.NotificationChannelStore
	log    zerolog.Logger
	queue  chan event
	sender senderFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewService(store *models.NotificationChannelStore, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		log:    logger.With().Str("component", "notifications").Logger(),
		queue:  make(chan event, queueSize),
		sender: sendShoutrrr,
	}
}

// ValidateURL reports whether shoutrrr recognizes the service URL.
func ValidateURL(rawURL string) error {
	_, err := router.New(nil, rawURL)
	return err
}

// Dispatch queues an event for asynchronous delivery. When the queue is
// full the event is dropped with a warning rather than blocking the
// caller.
func (s *Service) Dispatch(eventType models.NotificationEvent, title, message string) {
	select {
	case s.queue <- event{kind: eventType, title: title, message: message}:
	default:
		s.log.Warn().Str("event", string(eventType)).Msg("Notification queue full, dropping event")
	}
}

// Test sends a fixed probe message through the channel and returns the
// delivery outcome without touching the status columns.
func (s *Service) Test(ctx context.Context, channel *models.NotificationChannel) error {
	if channel == nil {
		return errors.New("notification channel required")
	}
	return s.send(channel, testTitle, testMessage)
}

// Start launches the delivery workers.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for range workerCount {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.log.Debug().Msg("Notification consumer started")
}

// Stop halts the workers and waits for deliveries in flight to finish.
func (s *Service) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.log.Debug().Msg("Notification consumer stopped")
	})
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			s.deliver(ctx, ev)
		}
	}
}

// deliver sends one event to every enabled channel subscribed to it. A
// failing channel never aborts the remaining ones.
func (s *Service) deliver(ctx context.Context, ev event) {
	if strings.TrimSpace(ev.message) == "" {
		return
	}

	channels, err := s.store.ListEnabled(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list notification channels")
		return
	}

	for _, channel := range channels {
		if !channel.Subscribed(ev.kind) {
			continue
		}
		s.sendToChannel(ctx, channel, ev)
	}
}

func (s *Service) sendToChannel(ctx context.Context, channel *models.NotificationChannel, ev event) {
	err := s.send(channel, ev.title, ev.message)

	// The status update must land even when the send finished during
	// shutdown.
	markCtx := context.WithoutCancel(ctx)

	if err != nil {
		s.log.Error().
			Err(err).
			Str("channel", channel.Name).
			Str("event", string(ev.kind)).
			Msg("Notification send failed")

		if markErr := s.store.MarkSendFailure(markCtx, channel.ID, err.Error()); markErr != nil {
			s.log.Error().Err(markErr).Str("channel", channel.Name).Msg("Failed to record notification failure")
		}
		return
	}

	if markErr := s.store.MarkSendSuccess(markCtx, channel.ID); markErr != nil {
		s.log.Error().Err(markErr).Str("channel", channel.Name).Msg("Failed to record notification success")
	}
}

func (s *Service) send(channel *models.NotificationChannel, title, message string) error {
	serviceURL, err := s.store.GetDecryptedURL(channel)
	if err != nil {
		return fmt.Errorf("failed to decrypt service URL: %w", err)
	}

	return s.sender(serviceURL, title, message)
}

func sendShoutrrr(serviceURL, title, message string) error {
	sender, err := router.New(nil, serviceURL)
	if err != nil {
		return err
	}

	params := types.Params{}
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		params.SetTitle(truncateMessage(trimmed, maxTitleLength))
	}

	results := sender.Send(truncateMessage(message, maxMessageLength), &params)
	var errs []error
	for _, sendErr := range results {
		if sendErr != nil {
			errs = append(errs, sendErr)
		}
	}
	if len(errs) == 0 {
		return nil
	}

	return errors.Join(errs...)
}

func truncateMessage(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if utf8.RuneCountInString(trimmed) <= limit {
		return trimmed
	}
	runes := []rune(trimmed)
	if limit <= 1 {
		return string(runes[:limit])
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
