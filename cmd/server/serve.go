package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zynqcloud/go-upload/internal/cleanup"
	"github.com/zynqcloud/go-upload/internal/handler"
)

func runServe(ctx context.Context, configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	if cfg.ServiceToken == "" {
		logger.Warn("SERVICE_TOKEN is not set, all requests will be accepted (dev mode only)")
	}
	if err := a.storage.Setup(ctx); err != nil {
		// Setup is retried on first use; a backend that is down at boot
		// should not keep the process from starting.
		logger.Warn("storage setup failed", "storage", cfg.Storage, "err", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := handler.NewMetrics(reg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals...)
	defer stop()

	cleanup.RunPeriodic(ctx, cfg.CleanupInterval, func(ctx context.Context) (int, error) {
		return a.uploader.CleanCachedFiles(ctx, cfg.CacheTTL)
	}, metrics.ObserveSweep, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler.New(cfg, a.uploader, logger, metrics, reg),
		// Large timeouts accommodate slow disks, image processing and very
		// large files.
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("upload service starting",
			"port", cfg.Port, "root", cfg.StoragePath, "storage", cfg.Storage, "cache", a.uploader.CacheRoot())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
		return err
	}
	logger.Info("upload service stopped")
	return nil
}
