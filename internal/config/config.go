// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and persists the application configuration from a
// TOML file with DUBARR__ environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/dubarr/internal/crypto"
	"github.com/autobrr/dubarr/internal/domain"
	"github.com/autobrr/dubarr/pkg/debounce"
)

const (
	configFileName = "config.toml"
	databaseName   = "dubarr.db"

	reloadDebounceDelay = 500 * time.Millisecond
)

// envBoundKeys are the configuration keys that can be overridden via
// DUBARR__ environment variables (camelCase converted to upper snake).
var envBoundKeys = []string{
	"host",
	"port",
	"baseUrl",
	"sessionSecret",
	"logLevel",
	"logPath",
	"logMaxSize",
	"logMaxBackups",
	"dataDir",
	"databasePath",
	"checkForUpdates",
	"pprofEnabled",
	"metricsEnabled",
	"metricsBasicAuthUsers",
	"ffprobePath",
	"authDisabled",
	"authDisabledAllowedCIDRs",
}

// AppConfig wraps the parsed configuration plus the viper instance that
// produced it, so dynamic settings can be reloaded when the file changes.
type AppConfig struct {
	Config *domain.Config

	viper      *viper.Viper
	configPath string
	configDir  string

	mu             sync.RWMutex
	levelListeners []func(level string)
	reloadDebounce *debounce.Debouncer
}

// New loads the configuration. configPath may be empty (the OS config dir
// is used), a directory, or a path to the config file itself. A missing
// file is generated with defaults and a fresh session secret.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		Config: &domain.Config{},
		viper:  viper.New(),
	}

	if err := c.resolvePaths(configPath); err != nil {
		return nil, err
	}

	if err := c.load(); err != nil {
		return nil, err
	}

	c.reloadDebounce = debounce.New(reloadDebounceDelay)
	c.watch()

	return c, nil
}

func (c *AppConfig) resolvePaths(configPath string) error {
	switch {
	case configPath == "":
		c.configDir = getDefaultConfigDir()
	case strings.HasSuffix(configPath, ".toml"):
		c.configDir = filepath.Dir(configPath)
	default:
		c.configDir = configPath
	}

	if err := os.MkdirAll(c.configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir %s: %w", c.configDir, err)
	}

	c.configPath = filepath.Join(c.configDir, configFileName)
	return nil
}

// getDefaultConfigDir resolves the config directory used when no
// --config-dir is given. The container images set XDG_CONFIG_HOME=/config
// and mount it; that mount is used directly rather than nesting a dubarr
// subdirectory inside it.
func getDefaultConfigDir() string {
	if os.Getenv("XDG_CONFIG_HOME") == "/config" {
		return "/config"
	}

	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}

	return filepath.Join(userConfigDir, "dubarr")
}

func (c *AppConfig) load() error {
	c.setDefaults()

	for _, key := range envBoundKeys {
		if err := c.viper.BindEnv(key, envKey(key)); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if _, err := os.Stat(c.configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(c.configPath); err != nil {
			return err
		}
		log.Info().Msgf("Generated default config file: %s", c.configPath)
	}

	c.viper.SetConfigFile(c.configPath)
	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", c.configPath, err)
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(c.Config.SessionSecret) == "" {
		secret, err := crypto.GenerateSecureToken(32)
		if err != nil {
			return fmt.Errorf("failed to generate session secret: %w", err)
		}
		c.Config.SessionSecret = secret
		log.Warn().Msg("No session secret configured, generated an ephemeral one; sessions will not survive restarts")
	}

	if c.Config.DataDir == "" {
		c.Config.DataDir = c.configDir
	}

	return nil
}

func (c *AppConfig) setDefaults() {
	c.viper.SetDefault("host", "127.0.0.1")
	c.viper.SetDefault("port", 7272)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("checkForUpdates", true)
	c.viper.SetDefault("ffprobePath", "ffprobe")
}

// watch reloads dynamic settings when the config file changes on disk.
// Only the log settings are applied at runtime; everything else requires
// a restart.
func (c *AppConfig) watch() {
	c.viper.OnConfigChange(func(_ fsnotify.Event) {
		c.reloadDebounce.Do(c.reloadDynamic)
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) reloadDynamic() {
	if err := c.viper.ReadInConfig(); err != nil {
		log.Warn().Err(err).Msg("Failed to re-read changed config file")
		return
	}

	fresh := &domain.Config{}
	if err := c.viper.Unmarshal(fresh); err != nil {
		log.Warn().Err(err).Msg("Failed to parse changed config file")
		return
	}

	c.mu.Lock()
	changed := fresh.LogLevel != c.Config.LogLevel
	c.Config.LogLevel = fresh.LogLevel
	c.Config.CheckForUpdates = fresh.CheckForUpdates
	listeners := make([]func(string), len(c.levelListeners))
	copy(listeners, c.levelListeners)
	c.mu.Unlock()

	if changed {
		log.Info().Msgf("Log level changed to %s", fresh.LogLevel)
		for _, fn := range listeners {
			fn(fresh.LogLevel)
		}
	}
}

// OnLogLevelChange registers a callback invoked when the configured log
// level changes through a config file edit.
func (c *AppConfig) OnLogLevelChange(fn func(level string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levelListeners = append(c.levelListeners, fn)
}

// ConfigDir returns the directory holding the config file.
func (c *AppConfig) ConfigDir() string {
	return c.configDir
}

// ConfigPath returns the path of the loaded config file.
func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

// GetDatabasePath returns the SQLite database location: the databasePath
// key (or DUBARR__DATABASE_PATH) when set, otherwise dubarr.db inside the
// data directory.
func (c *AppConfig) GetDatabasePath() string {
	if p := strings.TrimSpace(c.viper.GetString("databasePath")); p != "" {
		return p
	}
	return filepath.Join(c.Config.DataDir, databaseName)
}

// envKey converts a camelCase config key to its DUBARR__ environment
// variable name, e.g. databasePath -> DUBARR__DATABASE_PATH.
func envKey(key string) string {
	var b strings.Builder
	b.WriteString("DUBARR__")

	prev := rune(0)
	for i, r := range key {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(prev) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
		prev = r
	}

	return b.String()
}
