// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/dubarr/internal/api"
	"github.com/autobrr/dubarr/internal/auth"
	"github.com/autobrr/dubarr/internal/backups"
	"github.com/autobrr/dubarr/internal/buildinfo"
	"github.com/autobrr/dubarr/internal/config"
	"github.com/autobrr/dubarr/internal/database"
	"github.com/autobrr/dubarr/internal/logger"
	"github.com/autobrr/dubarr/internal/mediainfo"
	"github.com/autobrr/dubarr/internal/metrics"
	"github.com/autobrr/dubarr/internal/models"
	"github.com/autobrr/dubarr/internal/scanner"
	"github.com/autobrr/dubarr/internal/services/commands"
	"github.com/autobrr/dubarr/internal/services/notifications"
	"github.com/autobrr/dubarr/internal/update"
	"github.com/autobrr/dubarr/pkg/sqlite3store"
)

const shutdownTimeout = 15 * time.Second

func RunServeCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dubarr server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configDir)
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory holding config.toml (default: OS config dir)")

	return cmd
}

func runServe(ctx context.Context, configDir string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New(configDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Config.Version = buildinfo.Version

	logger.Setup(cfg.Config)
	cfg.OnLogLevelChange(logger.SetLogLevel)

	if err := cfg.Config.ValidateAuthDisabledConfig(); err != nil {
		return err
	}

	log.Info().Msgf("Starting dubarr %s", buildinfo.Version)
	log.Info().Msgf("Config dir: %s", cfg.ConfigDir())

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Instance API keys and channel URLs are encrypted under a key
	// derived from the session secret.
	encryptionKey := sha256.Sum256([]byte(cfg.Config.SessionSecret))

	instanceStore, err := models.NewInstanceStore(db, encryptionKey[:])
	if err != nil {
		return fmt.Errorf("failed to create instance store: %w", err)
	}

	channelStore, err := models.NewNotificationChannelStore(db, encryptionKey[:])
	if err != nil {
		return fmt.Errorf("failed to create notification channel store: %w", err)
	}

	commandStore := models.NewCommandStore(db)
	settingStore := models.NewSettingStore(db)
	backupStore := models.NewBackupStore(db)

	authService := auth.NewService(db)
	sessionManager := newSessionManager(db, cfg.Config.BaseURL)

	notificationService := notifications.NewService(channelStore, log.Logger)
	notificationService.Start(ctx)
	defer notificationService.Stop()

	backupService := backups.NewService(db, backupStore, settingStore, cfg.Config.DataDir, log.Logger)
	backupService.Start(ctx)
	defer backupService.Stop()

	var metricsManager *metrics.Manager
	if cfg.Config.MetricsEnabled {
		metricsManager = metrics.NewManager(instanceStore, commandStore, channelStore, log.Logger)
	}

	inspector, err := mediainfo.NewInspector(cfg.Config.FFProbePath, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize ffprobe: %w", err)
	}

	scanService := scanner.NewService(inspector, notificationService, log.Logger)
	scanHandler := commands.NewScanHandler(instanceStore, scanService, notificationService, log.Logger)
	if metricsManager != nil {
		scanService.SetMetrics(metricsManager.GetScanCollector())
		scanHandler.SetMetrics(metricsManager.GetCatalogCollector())
	}

	processor := commands.NewProcessor(commands.DefaultConfig(), commandStore, log.Logger)
	processor.Register(commands.CommandScanInstance, scanHandler.Handle)
	processor.Register(commands.CommandCreateBackup, commands.NewBackupHandler(backupService).Handle)
	processor.Start(ctx)
	defer processor.Stop()

	scheduler := commands.NewScanScheduler(commandStore, instanceStore, settingStore, log.Logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	updateService := update.NewService(log.Logger, cfg.Config.CheckForUpdates, buildinfo.Version, buildinfo.UserAgent)
	updateService.Start(ctx)

	server := api.NewServer(&api.Dependencies{
		Config:         cfg,
		DB:             db,
		AuthService:    authService,
		SessionManager: sessionManager,

		InstanceStore:            instanceStore,
		CommandStore:             commandStore,
		NotificationChannelStore: channelStore,
		SettingStore:             settingStore,

		BackupService:       backupService,
		NotificationService: notificationService,
		UpdateService:       updateService,
		MetricsManager:      metricsManager,
	})

	handler, err := server.Handler()
	if err != nil {
		return fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Config.Host, strconv.Itoa(cfg.Config.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Msgf("Listening on http://%s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

// newSessionManager configures scs with the SQLite-backed store. The
// cookie path follows baseUrl so subpath deployments scope their cookie.
func newSessionManager(db *database.DB, baseURL string) *scs.SessionManager {
	sessionManager := scs.New()
	sessionManager.Store = sqlite3store.New(db.Conn())
	sessionManager.Lifetime = 30 * 24 * time.Hour
	sessionManager.Cookie.Name = "dubarr_session"
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	sessionManager.Cookie.Path = "/"
	if baseURL != "" {
		sessionManager.Cookie.Path = baseURL
	}

	return sessionManager
}
