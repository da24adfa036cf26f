// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dubarr/internal/crypto"
	"github.com/autobrr/dubarr/internal/domain"
)

const defaultConfigTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "127.0.0.1"
host = "127.0.0.1"

# Port
# Default: 7272
port = 7272

# Base URL
# Serve the application under a path prefix, e.g. /dubarr/
# Optional
#baseUrl = "/dubarr/"

# Session secret
# Used to sign sessions and derive the at-rest encryption key for
# instance API keys and notification URLs. Changing it invalidates both.
sessionSecret = "{{sessionSecret}}"

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/dubarr.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Data directory
# Backups and other runtime data live here
# Default: the config directory
#dataDir = "/var/lib/dubarr"

# Database path
# Default: next to the config file
#databasePath = "/var/db/dubarr/dubarr.db"

# Check for updates
# Default: true
checkForUpdates = true

# ffprobe invocation used for audio-track inspection.
# May include leading arguments, e.g. "ffprobe -threads 1"
# Default: "ffprobe"
#ffprobePath = "ffprobe"

# Prometheus metrics endpoint at /metrics
# Default: false
#metricsEnabled = true

# Basic auth for the metrics endpoint, "user:bcryptHash" pairs separated by commas
# Optional
#metricsBasicAuthUsers = ""

# Disable authentication entirely (reverse-proxy deployments only).
# Requests must then originate from authDisabledAllowedCIDRs.
#authDisabled = true
#authDisabledAllowedCIDRs = ["127.0.0.1/32"]
`

// WriteDefaultConfig writes the commented default config template to path,
// substituting a freshly generated session secret.
func WriteDefaultConfig(path string) error {
	secret, err := crypto.GenerateSecureToken(32)
	if err != nil {
		return fmt.Errorf("failed to generate session secret: %w", err)
	}

	content := strings.Replace(defaultConfigTemplate, "{{sessionSecret}}", secret, 1)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

// UpdateConfig persists the runtime-mutable settings into the config file,
// rewriting the existing (possibly commented) keys in place so the file
// keeps its structure and comments.
func (c *AppConfig) UpdateConfig() error {
	raw, err := os.ReadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", c.configPath, err)
	}

	c.mu.RLock()
	checkForUpdates := c.Config.CheckForUpdates
	c.mu.RUnlock()

	lines := setTOMLKey(strings.Split(string(raw), "\n"), "checkForUpdates", fmt.Sprintf("checkForUpdates = %t", checkForUpdates))

	return c.writeConfigText(strings.Join(lines, "\n"))
}

// UpdateLogSettings persists new log settings into the config file,
// rewriting the existing (possibly commented) keys in place so the file
// keeps its structure and comments.
func (c *AppConfig) UpdateLogSettings(logLevel, logPath string, maxSize, maxBackups int) error {
	raw, err := os.ReadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", c.configPath, err)
	}

	updated := updateLogSettingsInTOML(string(raw), logLevel, logPath, maxSize, maxBackups)
	if err := c.writeConfigText(updated); err != nil {
		return err
	}

	c.mu.Lock()
	changed := c.Config.LogLevel != logLevel
	c.Config.LogLevel = logLevel
	c.Config.LogPath = logPath
	c.Config.LogMaxSize = maxSize
	c.Config.LogMaxBackups = maxBackups
	listeners := make([]func(string), len(c.levelListeners))
	copy(listeners, c.levelListeners)
	c.mu.Unlock()

	// The file watcher will see the write too, but by then the struct
	// already matches and reloadDynamic treats it as a no-op. Notify
	// here so an API-driven level change takes effect immediately.
	if changed {
		log.Info().Msgf("Log level changed to %s", logLevel)
		for _, fn := range listeners {
			fn(logLevel)
		}
	}

	return nil
}

// writeConfigText replaces the config file with content, refusing text that
// no longer parses as TOML. An in-place edit must never leave behind a file
// the watcher cannot reload.
func (c *AppConfig) writeConfigText(content string) error {
	if err := validateConfigTOML(content); err != nil {
		return fmt.Errorf("refusing to write invalid config: %w", err)
	}

	if err := os.WriteFile(c.configPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", c.configPath, err)
	}

	return nil
}

func validateConfigTOML(content string) error {
	var cfg domain.Config
	return toml.Unmarshal([]byte(content), &cfg)
}

// updateLogSettingsInTOML replaces the log-related keys in the TOML text,
// matching commented-out keys too so defaults written by the template get
// activated in place rather than appended as duplicates.
func updateLogSettingsInTOML(content, logLevel, logPath string, maxSize, maxBackups int) string {
	settings := []struct {
		key  string
		line string
	}{
		{"logLevel", fmt.Sprintf("logLevel = %q", logLevel)},
		{"logPath", fmt.Sprintf("logPath = %q", logPath)},
		{"logMaxSize", fmt.Sprintf("logMaxSize = %d", maxSize)},
		{"logMaxBackups", fmt.Sprintf("logMaxBackups = %d", maxBackups)},
	}

	lines := strings.Split(content, "\n")
	for _, s := range settings {
		lines = setTOMLKey(lines, s.key, s.line)
	}

	return strings.Join(lines, "\n")
}

func setTOMLKey(lines []string, key, replacement string) []string {
	for i, line := range lines {
		candidate := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if !strings.HasPrefix(candidate, key) {
			continue
		}
		rest := strings.TrimSpace(candidate[len(key):])
		if strings.HasPrefix(rest, "=") {
			lines[i] = replacement
			return lines
		}
	}

	// key absent entirely: insert before the first table header so the
	// value stays in the top-level block
	insertAt := len(lines)
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "[") {
			insertAt = i
			break
		}
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:insertAt]...)
	out = append(out, replacement)
	out = append(out, lines[insertAt:]...)
	return out
}
