// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/stretchr/testify/assert"
)

func TestAPIKeyFromQuery(t *testing.T) {
	authService, apiKey := newAuthFixture(t)
	sessionManager := scs.New()

	handler := sessionManager.LoadAndSave(
		APIKeyFromQuery("apikey")(
			IsAuthenticated(authService, sessionManager, nil)(okHandler())))

	t.Run("query key admitted on opted-in route", func(t *testing.T) {
		req := httptest.NewRequestWithContext(t.Context(),
			http.MethodPost, "/api/instances/1/scan?apikey="+apiKey, nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("header wins over query", func(t *testing.T) {
		req := httptest.NewRequestWithContext(t.Context(),
			http.MethodPost, "/api/instances/1/scan?apikey="+apiKey, nil)
		req.Header.Set("X-API-Key", "bogus")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
