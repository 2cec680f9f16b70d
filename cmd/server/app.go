package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/zynqcloud/go-upload/internal/config"
	"github.com/zynqcloud/go-upload/internal/download"
	"github.com/zynqcloud/go-upload/internal/store"
	"github.com/zynqcloud/go-upload/internal/uploader"
)

// app is the wiring shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	storage  store.Storage
	uploader *uploader.Uploader
}

func newLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// newApp loads configuration from path and builds the storage backend and
// the uploader described by its profile.
func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)

	fs := afero.NewOsFs()
	opts := cfg.StoreOptions()
	opts.FS = fs
	storage, err := store.NewRegistry().Open(cfg.Storage, opts)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	profile, err := cfg.Upload.Options()
	if err != nil {
		return nil, fmt.Errorf("upload profile: %w", err)
	}
	maxDownload := cfg.Upload.MaxSize
	if maxDownload == 0 {
		maxDownload = cfg.MaxRequestSize
	}
	spool := filepath.Join(os.TempDir(), "go-upload")
	up, err := uploader.New(append(profile,
		uploader.WithFS(fs),
		uploader.WithRoot(cfg.StoragePath),
		uploader.WithAssetHost(cfg.AssetHost),
		uploader.WithStorage(storage),
		uploader.WithDownloader(download.New(fs, spool, maxDownload, logger)),
		uploader.WithLogger(logger),
	)...)
	if err != nil {
		return nil, fmt.Errorf("build uploader: %w", err)
	}
	return &app{cfg: cfg, logger: logger, storage: storage, uploader: up}, nil
}
