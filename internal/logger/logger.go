// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/dubarr/internal/domain"
)

// Setup configures the global logger: pretty console output on stderr,
// plus a rotated log file when logPath is set.
func Setup(cfg *domain.Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	writers := []io.Writer{
		zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		},
	}

	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
			log.Error().Err(err).Msgf("Failed to create log directory for %s", cfg.LogPath)
		} else {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.LogPath,
				MaxSize:    cfg.LogMaxSize,
				MaxBackups: cfg.LogMaxBackups,
			})
		}
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(writers...))
	SetLogLevel(cfg.LogLevel)
}

// SetLogLevel applies a level by name; unknown names fall back to info.
// Safe to call at runtime for dynamic level changes.
func SetLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(parsed)
}
