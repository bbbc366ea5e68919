package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/fjmerc/mediavault/internal/app"
	"github.com/fjmerc/mediavault/internal/backup"
	"github.com/fjmerc/mediavault/internal/config"
	"github.com/fjmerc/mediavault/internal/device"
	"github.com/fjmerc/mediavault/internal/handlers"
	"github.com/fjmerc/mediavault/internal/metrics"
	"github.com/fjmerc/mediavault/internal/middleware"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/storage/filesystem"
	"github.com/fjmerc/mediavault/internal/upload"
	"github.com/fjmerc/mediavault/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("starting mediavault",
		"port", cfg.Port,
		"db_type", cfg.DBType,
		"archive_dir", cfg.ArchiveDir,
		"fingerprint_mode", cfg.FingerprintMode,
		"encryption_enabled", cfg.EncryptionEnabled,
		"max_concurrent_uploads", cfg.MaxConcurrentUploads,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	chunks, err := filesystem.NewChunkStore(cfg.TempDir)
	if err != nil {
		return fmt.Errorf("failed to create chunk store: %w", err)
	}

	assembler, err := upload.NewAssembler(upload.Config{
		Sessions:     a.Repos.Sessions,
		Chunks:       chunks,
		Sink:         a.Coordinator,
		Hasher:       a.Hasher,
		MaxChunkSize: cfg.UploadChunkSize,
		MaxTotalSize: cfg.MaxUploadSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create upload assembler: %w", err)
	}

	if n, err := assembler.Recover(ctx); err != nil {
		slog.Error("failed to recover upload sessions", "error", err)
	} else if n > 0 {
		slog.Info("upload sessions recovered", "sessions_changed", n)
	}

	go assembler.StartSweepWorker(ctx, upload.SweepOptions{
		Interval:  cfg.SweepInterval(),
		StaleAge:  cfg.SessionStaleAfter(),
		Retention: cfg.SessionRetention(),
	})

	schedCfg := backup.SchedulerConfig{
		Runner:            a.Coordinator,
		Syncs:             a.Repos.Syncs,
		Interval:          cfg.SyncInterval(),
		DeviceRoot:        cfg.SyncDeviceRoot,
		Workers:           cfg.IngestWorkers,
		DeleteAfterVerify: cfg.DeleteFromDeviceAfterVerify,
	}
	if cfg.VerifyAfterSync {
		schedCfg.Maintainer = a.Maintainer
	}

	// Started before the scheduler so its deferred Shutdown runs after
	// scheduler.Stop has emitted the last run's events.
	if cfg.Webhook != nil {
		hookCfg, err := webhooks.ConfigFromSettings(cfg.Webhook)
		if err != nil {
			return fmt.Errorf("invalid webhook configuration: %w", err)
		}
		dispatcher := webhooks.NewDispatcher(hookCfg, 2, 100, webhooks.NewPrometheusMetrics())
		dispatcher.Start()
		defer dispatcher.Shutdown()
		schedCfg.Events = dispatcher
		slog.Info("sync notifications enabled", "format", hookCfg.Format, "events", cfg.Webhook.Events)
	}

	scheduler, err := backup.NewScheduler(schedCfg)
	if err != nil {
		return fmt.Errorf("failed to create sync scheduler: %w", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync scheduler: %w", err)
	}
	defer scheduler.Stop()

	if cfg.DeviceWatchDir != "" {
		watcher := device.NewWatcher(cfg.DeviceWatchDir, 0)
		go func() {
			err := watcher.Run(ctx, func(dev models.DeviceInfo) {
				runID, err := scheduler.Trigger(dev, models.SyncScheduled)
				if err != nil {
					slog.Warn("device sync not started", "device_id", dev.ID, "error", err)
					return
				}
				slog.Info("device sync started", "device_id", dev.ID, "run_id", runID)
			})
			if err != nil {
				slog.Error("device watcher stopped", "error", err)
			}
		}()
	}

	startTime := time.Now()
	mux := http.NewServeMux()

	// Network upload pipeline
	mux.HandleFunc("/upload/session", handlers.UploadSessionHandler(cfg))
	mux.HandleFunc("/upload/chunk", handlers.UploadChunkHandler(assembler, cfg))
	mux.HandleFunc("/upload/finalize/", handlers.UploadFinalizeHandler(assembler))
	mux.HandleFunc("/upload/status/", handlers.UploadStatusHandler(assembler))
	mux.HandleFunc("/upload/cancel/", handlers.UploadCancelHandler(assembler))
	mux.HandleFunc("/upload/pause/", handlers.UploadPauseHandler(assembler))
	mux.HandleFunc("/upload/resume/", handlers.UploadResumeHandler(assembler))

	// Bulk runs and archive queries
	mux.HandleFunc("/api/sync", handlers.SyncHandler(scheduler, a.Repos.Syncs))
	mux.HandleFunc("/api/sync/stats", handlers.SyncStatsHandler(a.Repos.Syncs))
	mux.HandleFunc("/api/files", handlers.FilesHandler(a.Repos.Files))
	mux.HandleFunc("/api/stats", handlers.StatsHandler(a.Maintainer))

	mux.HandleFunc("/health", handlers.HealthHandler(a.Repos, cfg, startTime))
	if a.Repos.DB != nil {
		mux.Handle("/metrics", handlers.MetricsHandler(a.Repos.DB))
	}

	// Order: Recovery -> Logging -> Metrics -> Security -> handlers
	handler := middleware.RecoveryMiddleware(
		middleware.LoggingMiddleware(
			metrics.Middleware(
				middleware.SecurityHeadersMiddleware(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}
	if cfg.MaxConcurrentUploads > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConcurrentUploads)
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "address", server.Addr)
		serverErrors <- server.Serve(listener)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case sig := <-shutdown:
		slog.Info("shutdown signal received", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// In-flight chunk writes and finalizations finish before the database closes.
	if !assembler.Shutdown(shutdownCtx) {
		slog.Warn("upload operations still running at shutdown deadline")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		if err := server.Close(); err != nil {
			slog.Error("server close failed", "error", err)
		}
	}

	cancel()
	scheduler.Stop()

	slog.Info("server shutdown complete")
	return nil
}
