// Package cleanup reclaims disk space from abandoned cache directories.
//
// Every cache transaction writes into <cache root>/<cache id>/. Files that
// are cached but never stored (a form that failed validation elsewhere, a
// client that went away between the two steps) stay there forever. Chunked
// upload sessions that are never completed leave their parts behind the
// same way. Sweep removes directories older than a TTL.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// CreatedFunc reports the creation time encoded in a directory name, if
// the name carries one.
type CreatedFunc func(name string) (time.Time, bool)

// age returns how old a directory is: the time created reads from its
// name, else its modification time.
func age(info os.FileInfo, now time.Time, created CreatedFunc) time.Duration {
	if created != nil {
		if t, ok := created(info.Name()); ok {
			return now.Sub(t)
		}
	}
	return now.Sub(info.ModTime())
}

// Sweep removes the subdirectories of dir that are older than ttl and
// returns how many it removed. created, when non-nil, dates directories by
// name; the rest are dated by mtime. A missing dir is not an error.
// Directories that fail to delete are logged and skipped.
func Sweep(ctx context.Context, fs afero.Fs, dir string, ttl time.Duration, created CreatedFunc, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := afero.ReadDir(fs, dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	now := time.Now()
	var removed int
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !e.IsDir() {
			continue
		}
		a := age(e, now, created)
		if a <= ttl {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := fs.RemoveAll(path); err != nil {
			logger.Warn("cleanup: remove failed", "dir", path, "err", err)
			continue
		}
		removed++
		logger.Info("cleanup: removed stale directory", "dir", e.Name(), "age", a.Round(time.Minute))
	}
	if removed > 0 {
		logger.Info("cleanup: cycle complete", "dir", dir, "removed", removed)
	}
	return removed, nil
}

// SweepFunc performs one cleanup pass.
type SweepFunc func(ctx context.Context) (int, error)

// RunPeriodic starts a goroutine calling sweep every interval until ctx is
// cancelled. A first pass runs immediately to flush leftovers from a
// previous run. onSweep, when non-nil, receives every pass's result.
func RunPeriodic(ctx context.Context, interval time.Duration, sweep SweepFunc, onSweep func(removed int, err error), logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	pass := func() {
		n, err := sweep(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("cleanup: pass failed", "err", err)
		}
		if onSweep != nil {
			onSweep(n, err)
		}
	}
	go func() {
		pass()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pass()
			case <-ctx.Done():
				return
			}
		}
	}()
}
