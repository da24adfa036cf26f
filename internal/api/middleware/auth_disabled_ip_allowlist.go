// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dubarr/internal/domain"
)

// RequireAuthDisabledIPAllowlist gates requests by client IP while
// built-in authentication is off. A missing or unparseable allowlist
// fails closed: running without auth and without an allowlist is a
// misconfiguration, not an open door.
func RequireAuthDisabledIPAllowlist(cfg *domain.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.AuthDisabled {
				next.ServeHTTP(w, r)
				return
			}

			prefixes, err := cfg.ParseAuthDisabledAllowedCIDRs()
			if err != nil || len(prefixes) == 0 {
				log.Error().Err(err).Msg("auth-disabled mode requires a valid authDisabledAllowedCIDRs list")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			addr, err := clientAddr(r.RemoteAddr)
			if err != nil {
				log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Could not determine client IP for auth-disabled allowlist")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			allowed := slices.ContainsFunc(prefixes, func(p netip.Prefix) bool {
				return p.Contains(addr)
			})
			if !allowed {
				log.Warn().
					Str("remote_addr", r.RemoteAddr).
					Str("ip", addr.String()).
					Msg("auth-disabled allowlist rejected client IP")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr parses the request's RemoteAddr, which normally carries a
// port but may be a bare address under some reverse proxy setups.
// Mapped IPv4-in-IPv6 addresses are unmapped so they match v4 prefixes.
func clientAddr(remoteAddr string) (netip.Addr, error) {
	remoteAddr = strings.TrimSpace(remoteAddr)

	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}

	addr, err := netip.ParseAddr(strings.Trim(remoteAddr, "[]"))
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap(), nil
}
