// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dubarr/internal/auth"
	"github.com/autobrr/dubarr/internal/domain"
	"github.com/autobrr/dubarr/internal/models"
)

// Session keys shared with the auth middleware.
const (
	sessionKeyAuthenticated = "authenticated"
	sessionKeyUserID        = "user_id"
	sessionKeyUsername      = "username"
	sessionKeyAuthMethod    = "auth_method"
)

// AuthHandler serves setup, login and API key management.
type AuthHandler struct {
	authService    *auth.Service
	sessionManager *scs.SessionManager
	config         *domain.Config
}

func NewAuthHandler(authService *auth.Service, sessionManager *scs.SessionManager, config *domain.Config) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		sessionManager: sessionManager,
		config:         config,
	}
}

type SetupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

type sessionUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type sessionResponse struct {
	Message string      `json:"message"`
	User    sessionUser `json:"user"`
}

type currentUserResponse struct {
	Username   string `json:"username"`
	ID         int    `json:"id,omitempty"`
	AuthMethod string `json:"auth_method,omitempty"`
}

type apiKeyCreatedResponse struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
	Message   string    `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// establishSession rotates the session token and binds it to user.
// Rotation keeps a cookie issued before login from being promoted to
// an authenticated one.
func (h *AuthHandler) establishSession(r *http.Request, user *models.User) {
	if err := h.sessionManager.RenewToken(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to renew session token")
	}

	h.sessionManager.Put(r.Context(), sessionKeyAuthenticated, true)
	h.sessionManager.Put(r.Context(), sessionKeyUserID, user.ID)
	h.sessionManager.Put(r.Context(), sessionKeyUsername, user.Username)
}

// CheckSetupRequired tells the UI whether the first-run setup screen
// should be shown. With auth disabled no local user is ever needed.
func (h *AuthHandler) CheckSetupRequired(w http.ResponseWriter, r *http.Request) {
	if h.config != nil && h.config.AuthDisabled {
		RespondJSON(w, http.StatusOK, map[string]any{"setupRequired": false})
		return
	}

	complete, err := h.authService.IsSetupComplete(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to check setup status")
		RespondError(w, http.StatusInternalServerError, "Failed to check setup status")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{"setupRequired": !complete})
}

// Setup creates the one and only local user and logs it in.
func (h *AuthHandler) Setup(w http.ResponseWriter, r *http.Request) {
	complete, err := h.authService.IsSetupComplete(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to check setup status")
		RespondError(w, http.StatusInternalServerError, "Failed to check setup status")
		return
	}
	if complete {
		RespondError(w, http.StatusBadRequest, "Setup already completed")
		return
	}

	var req SetupRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		RespondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.authService.SetupUser(r.Context(), req.Username, req.Password)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create user")
		RespondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	h.establishSession(r, user)

	RespondJSON(w, http.StatusCreated, sessionResponse{
		Message: "Setup completed successfully",
		User:    sessionUser{ID: user.ID, Username: user.Username},
	})
}

// Login authenticates the local user and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	user, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			RespondError(w, http.StatusUnauthorized, "Invalid credentials")
		case errors.Is(err, auth.ErrNotSetup):
			RespondError(w, http.StatusPreconditionRequired, "Initial setup required")
		default:
			log.Error().Err(err).Msg("Login failed")
			RespondError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	h.establishSession(r, user)
	h.sessionManager.Put(r.Context(), sessionKeyAuthMethod, "password")
	h.sessionManager.RememberMe(r.Context(), req.RememberMe)

	RespondJSON(w, http.StatusOK, sessionResponse{
		Message: "Login successful",
		User:    sessionUser{ID: user.ID, Username: user.Username},
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionManager.Destroy(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to destroy session")
		RespondError(w, http.StatusInternalServerError, "Failed to logout")
		return
	}

	RespondJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// GetCurrentUser reports who the session belongs to. ID and auth
// method are omitted when the session never recorded them, which is
// the case for auth-disabled mode.
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	if !h.sessionManager.GetBool(r.Context(), sessionKeyAuthenticated) {
		RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	username := h.sessionManager.GetString(r.Context(), sessionKeyUsername)
	if username == "" {
		RespondError(w, http.StatusInternalServerError, "Invalid session data")
		return
	}

	RespondJSON(w, http.StatusOK, currentUserResponse{
		Username:   username,
		ID:         h.sessionManager.GetInt(r.Context(), sessionKeyUserID),
		AuthMethod: h.sessionManager.GetString(r.Context(), sessionKeyAuthMethod),
	})
}

// Validate confirms the session cookie is still good.
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if !h.sessionManager.GetBool(r.Context(), sessionKeyAuthenticated) {
		RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"username":    h.sessionManager.GetString(r.Context(), sessionKeyUsername),
		"auth_method": h.sessionManager.GetString(r.Context(), sessionKeyAuthMethod),
	})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.authService.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			RespondError(w, http.StatusUnauthorized, "Invalid current password")
			return
		}
		log.Error().Err(err).Msg("Failed to change password")
		RespondError(w, http.StatusInternalServerError, "Failed to change password")
		return
	}

	RespondJSON(w, http.StatusOK, messageResponse{Message: "Password changed successfully"})
}

// CreateAPIKey mints a key for Sonarr, Radarr or scripts to call the
// API with. The raw key appears in this response only.
func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		RespondError(w, http.StatusBadRequest, "API key name is required")
		return
	}

	rawKey, apiKey, err := h.authService.CreateAPIKey(r.Context(), req.Name)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create API key")
		RespondError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	RespondJSON(w, http.StatusCreated, apiKeyCreatedResponse{
		ID:        apiKey.ID,
		Name:      apiKey.Name,
		Key:       rawKey,
		CreatedAt: apiKey.CreatedAt,
		Message:   "Save this key securely - it will not be shown again",
	})
}

func (h *AuthHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.authService.ListAPIKeys(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list API keys")
		RespondError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}

	RespondJSON(w, http.StatusOK, keys)
}

func (h *AuthHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "id", "API key ID")
	if !ok {
		return
	}

	if err := h.authService.DeleteAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrAPIKeyNotFound) {
			RespondError(w, http.StatusNotFound, "API key not found")
			return
		}
		log.Error().Err(err).Msg("Failed to delete API key")
		RespondError(w, http.StatusInternalServerError, "Failed to delete API key")
		return
	}

	RespondJSON(w, http.StatusOK, messageResponse{Message: "API key deleted successfully"})
}
