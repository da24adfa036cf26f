// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api assembles the HTTP surface: route tree, session handling,
// authentication middleware, CORS, and compression.
package api

import (
	"net/http"
	"strings"

	"github.com/CAFxX/httpcompression"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/autobrr/dubarr/internal/api/handlers"
	"github.com/autobrr/dubarr/internal/api/middleware"
	"github.com/autobrr/dubarr/internal/auth"
	"github.com/autobrr/dubarr/internal/backups"
	"github.com/autobrr/dubarr/internal/config"
	"github.com/autobrr/dubarr/internal/database"
	"github.com/autobrr/dubarr/internal/metrics"
	"github.com/autobrr/dubarr/internal/models"
	"github.com/autobrr/dubarr/internal/services/notifications"
	"github.com/autobrr/dubarr/internal/update"
)

// Dependencies carries everything the router needs. Optional services may
// be nil; the affected routes then respond with an error instead of
// panicking at build time.
type Dependencies struct {
	Config         *config.AppConfig
	DB             *database.DB
	AuthService    *auth.Service
	SessionManager *scs.SessionManager

	InstanceStore            *models.InstanceStore
	CommandStore             *models.CommandStore
	NotificationChannelStore *models.NotificationChannelStore
	SettingStore             *models.SettingStore

	BackupService       *backups.Service
	NotificationService *notifications.Service
	UpdateService       *update.Service
	MetricsManager      *metrics.Manager
}

// Server builds the HTTP handler from its dependencies.
type Server struct {
	deps *Dependencies
}

func NewServer(deps *Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler returns the complete handler tree with response compression
// wrapped around the router.
func (s *Server) Handler() (http.Handler, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	return compress(NewRouter(s.deps)), nil
}

// NewRouter builds the chi route tree.
func NewRouter(deps *Dependencies) *chi.Mux {
	cfg := deps.Config.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(corsMiddleware().Handler)

	base := normalizeBaseURL(cfg.BaseURL)
	if base == "/" {
		registerRoutes(r, deps)
	} else {
		r.Route(strings.TrimSuffix(base, "/"), func(r chi.Router) {
			registerRoutes(r, deps)
		})
		r.Get("/", http.RedirectHandler(base, http.StatusTemporaryRedirect).ServeHTTP)
	}

	return r
}

func registerRoutes(r chi.Router, deps *Dependencies) {
	cfg := deps.Config.Config

	authHandler := handlers.NewAuthHandler(deps.AuthService, deps.SessionManager, cfg)
	instancesHandler := handlers.NewInstancesHandler(deps.InstanceStore, deps.CommandStore)
	commandsHandler := handlers.NewCommandsHandler(deps.CommandStore)
	notificationsHandler := handlers.NewNotificationsHandler(deps.NotificationChannelStore, deps.NotificationService)
	backupsHandler := handlers.NewBackupsHandler(deps.BackupService, deps.CommandStore)
	settingsHandler := handlers.NewSettingsHandler(deps.SettingStore)
	configHandler := handlers.NewConfigHandler(deps.Config, cfg.Version, deps.UpdateService)
	updateHandler := handlers.NewUpdateHandler(deps.UpdateService)
	versionHandler := handlers.NewVersionHandler(deps.UpdateService)
	healthHandler := handlers.NewHealthHandler(deps.DB)

	r.Route("/health", healthHandler.Routes)

	if cfg.MetricsEnabled && deps.MetricsManager != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler(deps))
	}

	if cfg.PprofEnabled {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.SessionManager.LoadAndSave)
		r.Use(middleware.RequireSetup(deps.AuthService, cfg))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/setup", authHandler.Setup)
			r.Get("/check-setup", authHandler.CheckSetupRequired)
			r.Post("/login", authHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuthDisabledIPAllowlist(cfg))
				r.Use(middleware.IsAuthenticated(deps.AuthService, deps.SessionManager, cfg))

				r.Post("/logout", authHandler.Logout)
				r.Get("/me", authHandler.GetCurrentUser)
				r.Get("/validate", authHandler.Validate)
				r.Post("/change-password", authHandler.ChangePassword)

				r.Route("/api-keys", func(r chi.Router) {
					r.Get("/", authHandler.ListAPIKeys)
					r.Post("/", authHandler.CreateAPIKey)
					r.Delete("/{id}", authHandler.DeleteAPIKey)
				})
			})
		})

		r.Group(func(r chi.Router) {
			// Archive downloads open as plain browser links, so the API key
			// may arrive as a query parameter here.
			r.Use(middleware.APIKeyFromQuery("apikey"))
			r.Use(middleware.RequireAuthDisabledIPAllowlist(cfg))
			r.Use(middleware.IsAuthenticated(deps.AuthService, deps.SessionManager, cfg))

			r.Route("/instances", func(r chi.Router) {
				r.Get("/", instancesHandler.ListInstances)
				r.Post("/", instancesHandler.CreateInstance)

				r.Route("/{instanceID}", func(r chi.Router) {
					r.Get("/", instancesHandler.GetInstance)
					r.Put("/", instancesHandler.UpdateInstance)
					r.Delete("/", instancesHandler.DeleteInstance)
					r.Post("/test", instancesHandler.TestConnection)
					r.Post("/scan", instancesHandler.TriggerScan)
					r.Get("/state", instancesHandler.GetScanState)
				})
			})

			r.Route("/commands", func(r chi.Router) {
				r.Get("/", commandsHandler.ListCommands)

				r.Route("/{commandID}", func(r chi.Router) {
					r.Get("/", commandsHandler.GetCommand)
					r.Delete("/", commandsHandler.CancelCommand)
				})
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationsHandler.ListChannels)
				r.Post("/", notificationsHandler.CreateChannel)

				r.Route("/{id}", func(r chi.Router) {
					r.Put("/", notificationsHandler.UpdateChannel)
					r.Delete("/", notificationsHandler.DeleteChannel)
					r.Post("/test", notificationsHandler.TestChannel)
				})
			})

			r.Route("/backups", func(r chi.Router) {
				r.Get("/", backupsHandler.ListBackups)
				r.Post("/", backupsHandler.TriggerBackup)

				r.Route("/{backupID}", func(r chi.Router) {
					r.Delete("/", backupsHandler.DeleteBackup)
					r.Post("/restore", backupsHandler.RestoreBackup)
					r.Get("/download", backupsHandler.DownloadBackup)
				})
			})

			r.Get("/settings", settingsHandler.GetSettings)
			r.Put("/settings", settingsHandler.UpdateSettings)

			configHandler.RegisterRoutes(r)
			updateHandler.RegisterRoutes(r)
			r.Get("/version/latest", versionHandler.GetLatestVersion)
		})
	})
}

func corsMiddleware() *cors.Cors {
	return cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-API-Key",
			"X-Requested-With",
		},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func normalizeBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return "/"
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func metricsHandler(deps *Dependencies) http.Handler {
	promHandler := promhttp.HandlerFor(deps.MetricsManager.GetRegistry(), promhttp.HandlerOpts{})

	users := parseBasicAuthUsers(deps.Config.Config.MetricsBasicAuthUsers)
	if len(users) == 0 {
		return promHandler
	}

	return metricsBasicAuth(users, promHandler)
}

// parseBasicAuthUsers splits "user:bcryptHash,user2:bcryptHash" pairs.
func parseBasicAuthUsers(raw string) map[string]string {
	users := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		name, hash, ok := strings.Cut(pair, ":")
		if !ok || name == "" || hash == "" {
			log.Warn().Str("entry", pair).Msg("Ignoring malformed metricsBasicAuthUsers entry")
			continue
		}

		users[name] = hash
	}

	return users
}

func metricsBasicAuth(users map[string]string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok {
			if hash, found := users[username]; found {
				if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}
