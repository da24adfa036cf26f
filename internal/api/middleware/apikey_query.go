// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import "net/http"

// APIKeyFromQuery lifts an API key passed as a query parameter into the
// X-API-Key header, for endpoints fetched by tools that cannot set
// headers. A header already present wins. Mount only on routes that opt
// in; everywhere else query keys stay ignored.
func APIKeyFromQuery(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.URL.Query().Get(param); key != "" && r.Header.Get("X-API-Key") == "" {
				r.Header.Set("X-API-Key", key)
			}
			next.ServeHTTP(w, r)
		})
	}
}
