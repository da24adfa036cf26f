// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// Config is the parsed config.toml. Fields tagged toml/mapstructure are
// file-backed; Version is stamped from build info at startup.
type Config struct {
	Version               string
	Host                  string `toml:"host" mapstructure:"host"`
	Port                  int    `toml:"port" mapstructure:"port"`
	BaseURL               string `toml:"baseUrl" mapstructure:"baseUrl"`
	SessionSecret         string `toml:"sessionSecret" mapstructure:"sessionSecret"`
	LogLevel              string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath               string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize            int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups         int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir               string `toml:"dataDir" mapstructure:"dataDir"`
	CheckForUpdates       bool   `toml:"checkForUpdates" mapstructure:"checkForUpdates"`
	PprofEnabled          bool   `toml:"pprofEnabled" mapstructure:"pprofEnabled"`
	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	// FFProbePath overrides the ffprobe invocation used for audio-track
	// inspection. It may carry leading arguments ("ffprobe -threads 1");
	// the default is plain "ffprobe" resolved from PATH.
	FFProbePath string `toml:"ffprobePath" mapstructure:"ffprobePath"`

	// AuthDisabled disables all authentication. Intended for deployments
	// behind a reverse proxy that handles authentication; requests must
	// then originate from AuthDisabledAllowedCIDRs.
	AuthDisabled             bool     `toml:"authDisabled" mapstructure:"authDisabled"`
	AuthDisabledAllowedCIDRs []string `toml:"authDisabledAllowedCIDRs" mapstructure:"authDisabledAllowedCIDRs"`
}

// ParseAuthDisabledAllowedCIDRs parses the allowlist into prefixes. A bare
// address counts as a single-host prefix; blank entries are skipped.
func (c *Config) ParseAuthDisabledAllowedCIDRs() ([]netip.Prefix, error) {
	var prefixes []netip.Prefix

	for _, raw := range c.AuthDisabledAllowedCIDRs {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		prefix, err := parseAllowlistEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid authDisabledAllowedCIDRs entry %q: %w", entry, err)
		}
		prefixes = append(prefixes, prefix)
	}

	return prefixes, nil
}

func parseAllowlistEntry(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// ValidateAuthDisabledConfig rejects an auth-disabled setup without a
// usable allowlist, so the serve command fails fast instead of running
// an instance every caller gets a 403 from.
func (c *Config) ValidateAuthDisabledConfig() error {
	if !c.AuthDisabled {
		return nil
	}

	prefixes, err := c.ParseAuthDisabledAllowedCIDRs()
	if err != nil {
		return err
	}
	if len(prefixes) == 0 {
		return errors.New("authDisabledAllowedCIDRs is required when authentication is disabled")
	}

	return nil
}
