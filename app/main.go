package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/rpde-comb/app/api"
	"github.com/lysyi3m/rpde-comb/app/cfg"
	"github.com/lysyi3m/rpde-comb/app/database"
	"github.com/lysyi3m/rpde-comb/app/feed"
	"github.com/lysyi3m/rpde-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting RPDE Comb", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "migration_version", version, "dirty", dirty)

	configCache := feed.NewConfigCache(appCfg.FeedsDir, appCfg.EnabledFeeds)
	if err := configCache.Run(); err != nil {
		slog.Error("Failed to load feed configurations", "feeds_dir", appCfg.FeedsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Feed configurations loaded", "count", configCache.GetConfigCount(), "enabled", len(configCache.GetEnabledConfigs()))

	feedRepo := database.NewFeedRepository(db)
	snapshotRepo := database.NewSnapshotRepository(db)

	httpClient := &http.Client{Timeout: appCfg.GetFetchTimeout()}
	limiter := feed.NewHostLimiter(appCfg.GetMinFetchInterval())
	fetcher := feed.NewFetcher(httpClient, limiter, feed.NewParser(), appCfg.UserAgent, appCfg.GetFetchTimeout())

	scheduler := tasks.NewScheduler(configCache, feedRepo, snapshotRepo, fetcher, tasks.OptionsFromConfig(appCfg))
	scheduler.Start()
	slog.Info("Scheduler started",
		"workers", appCfg.WorkerCount,
		"interval", appCfg.GetSchedulerInterval(),
		"min_fetch_interval", appCfg.GetMinFetchInterval())

	handler := api.NewHandler(configCache, feedRepo, snapshotRepo, scheduler, limiter)
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	scheduler.Stop()
	slog.Info("Shutdown complete")
}
