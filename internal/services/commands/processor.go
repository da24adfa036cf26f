// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package commands runs the durable background job queue. A single
// processor goroutine drains commands in enqueue order and dispatches
// them to named handlers, and a scheduler keeps periodic scans queued.
package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/dubarr/internal/models"
)

// Handler executes one claimed command and returns the message recorded
// on completion.
type Handler func(ctx context.Context, cmd *models.Command) (string, error)

// Config tunes the processor loop.
type Config struct {
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
	}
}

// Processor is the queue's only consumer. Commands run one at a time in
// enqueue order; a failed command stays failed, retry is a fresh
// enqueue.
type Processor struct {
	cfg      Config
	store    *models.CommandStore
	handlers map[string]Handler
	log      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewProcessor(cfg Config, store *models.CommandStore, logger zerolog.Logger) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	return &Processor{
		cfg:      cfg,
		store:    store,
		handlers: make(map[string]Handler),
		log:      logger.With().Str("component", "commands").Logger(),
	}
}

// Register binds a handler to a command name. Must be called before
// Start.
func (p *Processor) Register(name string, handler Handler) {
	p.handlers[name] = handler
}

// Start launches the poll loop.
func (p *Processor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop cancels the loop and waits for the in-flight command to finish.
func (p *Processor) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	p.recoverStuckCommands(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// recoverStuckCommands fails commands left started by a previous crash.
// The queue has a single consumer, so nothing can legitimately be
// started before the loop runs.
func (p *Processor) recoverStuckCommands(ctx context.Context) {
	count, err := p.store.FailStarted(ctx, "interrupted by restart")
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to recover stuck commands")
		return
	}
	if count > 0 {
		p.log.Warn().Int("count", count).Msg("Failed commands interrupted by restart")
	}
}

// tick claims and runs at most one command.
func (p *Processor) tick(ctx context.Context) {
	cmd, err := p.store.NextQueued(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrCommandNotFound) {
			p.log.Error().Err(err).Msg("Failed to poll command queue")
		}
		return
	}

	claimed, err := p.store.Claim(ctx, cmd.ID)
	if err != nil {
		p.log.Error().Err(err).Int("commandID", cmd.ID).Msg("Failed to claim command")
		return
	}
	if !claimed {
		// Canceled between the poll and the claim.
		return
	}

	p.execute(ctx, cmd)
}

func (p *Processor) execute(ctx context.Context, cmd *models.Command) {
	log := p.log.With().
		Int("commandID", cmd.ID).
		Str("name", cmd.Name).
		Str("triggeredBy", string(cmd.TriggeredBy)).
		Logger()

	log.Info().Msg("Command started")
	start := time.Now()

	// The terminal status must land even when the handler returned
	// because the shutdown context was canceled mid-command.
	markCtx := context.WithoutCancel(ctx)

	message, err := p.dispatch(ctx, cmd)
	if err != nil {
		if markErr := p.store.MarkFailed(markCtx, cmd.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("Failed to record command failure")
		}
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Command failed")
		return
	}

	if markErr := p.store.MarkCompleted(markCtx, cmd.ID, message); markErr != nil {
		log.Error().Err(markErr).Msg("Failed to record command completion")
	}
	log.Info().Str("result", message).Dur("elapsed", time.Since(start)).Msg("Command completed")
}

func (p *Processor) dispatch(ctx context.Context, cmd *models.Command) (message string, err error) {
	handler, ok := p.handlers[cmd.Name]
	if !ok {
		return "", fmt.Errorf("unknown command: %s", cmd.Name)
	}

	// A panicking handler fails its command, not the loop.
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Int("commandID", cmd.ID).
				Str("name", cmd.Name).
				Interface("recover_info", r).
				Bytes("debug_stack", debug.Stack()).
				Msg("Command handler panicked")
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return handler(ctx, cmd)
}
