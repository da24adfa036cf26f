// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dubarr/internal/auth"
	"github.com/autobrr/dubarr/internal/database"
	"github.com/autobrr/dubarr/internal/domain"
)

// setupAuthTest creates a test database and auth handler for testing
func setupAuthTest(t *testing.T) (*AuthHandler, *scs.SessionManager, *database.DB) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	authService := auth.NewService(db)
	sessionManager := scs.New()

	config := &domain.Config{}

	handler := &AuthHandler{
		authService:    authService,
		sessionManager: sessionManager,
		config:         config,
	}

	return handler, sessionManager, db
}

func TestAuthHandler_CheckSetupRequired(t *testing.T) {
	t.Parallel()

	t.Run("returns setupRequired true when no user exists", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/check-setup", nil)
		rec := httptest.NewRecorder()

		// Wrap with session manager middleware
		sessionManager.LoadAndSave(http.HandlerFunc(handler.CheckSetupRequired)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"setupRequired":true`)
	})

	t.Run("returns setupRequired false when user exists", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Create a user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "testuser", "password123")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/check-setup", nil)
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.CheckSetupRequired)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"setupRequired":false`)
	})

	t.Run("returns setupRequired false when auth is disabled", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)
		handler.config = &domain.Config{AuthDisabled: true}

		req := httptest.NewRequest(http.MethodGet, "/api/auth/check-setup", nil)
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.CheckSetupRequired)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"setupRequired":false`)
	})
}

func TestAuthHandler_Setup(t *testing.T) {
	t.Parallel()

	t.Run("successful setup", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		body := `{"username":"admin","password":"password123"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Setup)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"message":"Setup completed successfully"`)
		assert.Contains(t, rec.Body.String(), `"username":"admin"`)
	})

	t.Run("setup already completed", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		body := `{"username":"admin2","password":"password456"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Setup)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Setup already completed")
	})

	t.Run("missing username", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		body := `{"password":"password123"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Setup)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Username and password are required")
	})

	t.Run("missing password", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		body := `{"username":"admin"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Setup)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Username and password are required")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		body := `{invalid json`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Setup)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthHandler_Login(t *testing.T) {
	t.Parallel()

	t.Run("successful login", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		body := `{"username":"admin","password":"password123"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Login)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"message":"Login successful"`)
		assert.Contains(t, rec.Body.String(), `"username":"admin"`)
	})

	t.Run("invalid password", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		body := `{"username":"admin","password":"wrongpassword"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Login)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid credentials")
	})

	t.Run("invalid username", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		body := `{"username":"wronguser","password":"password123"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Login)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid credentials")
	})

	t.Run("setup not complete", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		body := `{"username":"admin","password":"password123"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Login)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
		assert.Contains(t, rec.Body.String(), "Initial setup required")
	})

	t.Run("remember me functionality", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		body := `{"username":"admin","password":"password123","remember_me":true}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Login)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"message":"Login successful"`)
	})
}

func TestAuthHandler_Logout(t *testing.T) {
	t.Parallel()

	t.Run("successful logout", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Logout)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"message":"Logged out successfully"`)
	})
}

func TestAuthHandler_ChangePassword(t *testing.T) {
	t.Parallel()

	t.Run("successful password change", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		body := `{"currentPassword":"password123","newPassword":"newpassword456"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.ChangePassword)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"message":"Password changed successfully"`)

		// Verify old password no longer works
		_, err = authService.Login(t.Context(), "admin", "password123")
		assert.Error(t, err)

		// Verify new password works
		_, err = authService.Login(t.Context(), "admin", "newpassword456")
		assert.NoError(t, err)
	})

	t.Run("wrong current password", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		body := `{"currentPassword":"wrongpassword","newPassword":"newpassword456"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.ChangePassword)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid current password")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		body := `{invalid json`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.ChangePassword)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthHandler_GetCurrentUser(t *testing.T) {
	t.Parallel()

	t.Run("not authenticated", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.GetCurrentUser)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Not authenticated")
	})
}

func TestAuthHandler_Validate(t *testing.T) {
	t.Parallel()

	t.Run("not authenticated", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/validate", nil)
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.Validate)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Not authenticated")
	})
}

func TestAuthHandler_CreateAPIKey(t *testing.T) {
	t.Parallel()

	t.Run("successful API key creation", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		body := `{"name":"test-key"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/api-keys", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.CreateAPIKey)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"name":"test-key"`)
		assert.Contains(t, rec.Body.String(), `"key"`)
		assert.Contains(t, rec.Body.String(), `"message":"Save this key securely`)
	})

	t.Run("missing name", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		body := `{}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/api-keys", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.CreateAPIKey)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "API key name is required")
	})
}

func TestAuthHandler_ListAPIKeys(t *testing.T) {
	t.Parallel()

	t.Run("returns empty list when no keys", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/api-keys", nil)
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.ListAPIKeys)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		// Empty list or null
		body := rec.Body.String()
		assert.True(t, body == "[]" || body == "null" || body == "[]\n" || body == "null\n")
	})

	t.Run("returns list of keys", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		// Create an API key
		_, _, err = authService.CreateAPIKey(t.Context(), "test-key")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/api-keys", nil)
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.ListAPIKeys)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"name":"test-key"`)
	})
}

func TestAuthHandler_DeleteAPIKey(t *testing.T) {
	t.Parallel()

	t.Run("successful deletion", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		// Create an API key
		_, apiKey, err := authService.CreateAPIKey(t.Context(), "test-key")
		require.NoError(t, err)

		// Create a chi router to set URL params
		r := chi.NewRouter()
		r.Delete("/api/auth/api-keys/{id}", func(w http.ResponseWriter, r *http.Request) {
			sessionManager.LoadAndSave(http.HandlerFunc(handler.DeleteAPIKey)).ServeHTTP(w, r)
		})

		req := httptest.NewRequest(http.MethodDelete, "/api/auth/api-keys/"+strconv.Itoa(apiKey.ID), nil)
		rec := httptest.NewRecorder()

		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "API key deleted successfully")
	})

	t.Run("missing id", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		req := httptest.NewRequest(http.MethodDelete, "/api/auth/api-keys/", nil)
		rec := httptest.NewRecorder()

		sessionManager.LoadAndSave(http.HandlerFunc(handler.DeleteAPIKey)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "API key ID is required")
	})

	t.Run("invalid id format", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, _ := setupAuthTest(t)

		// Create router with path parameter
		r := chi.NewRouter()
		r.Delete("/api/auth/api-keys/{id}", func(w http.ResponseWriter, r *http.Request) {
			sessionManager.LoadAndSave(http.HandlerFunc(handler.DeleteAPIKey)).ServeHTTP(w, r)
		})

		req := httptest.NewRequest(http.MethodDelete, "/api/auth/api-keys/abc", nil)
		rec := httptest.NewRecorder()

		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid API key ID")
	})

	t.Run("api key not found", func(t *testing.T) {
		t.Parallel()

		handler, sessionManager, db := setupAuthTest(t)

		// Setup user first
		authService := auth.NewService(db)
		_, err := authService.SetupUser(t.Context(), "admin", "password123")
		require.NoError(t, err)

		// Create router with path parameter
		r := chi.NewRouter()
		r.Delete("/api/auth/api-keys/{id}", func(w http.ResponseWriter, r *http.Request) {
			sessionManager.LoadAndSave(http.HandlerFunc(handler.DeleteAPIKey)).ServeHTTP(w, r)
		})

		req := httptest.NewRequest(http.MethodDelete, "/api/auth/api-keys/99999", nil)
		rec := httptest.NewRecorder()

		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "API key not found")
	})
}
