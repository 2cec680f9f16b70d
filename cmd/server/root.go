package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/zynqcloud/go-upload/internal/uploader"
)

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "upload-server",
		Short:        "File upload service: validate, cache, process and store uploads",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML, JSON or TOML)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP upload service",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), configPath)
			},
		},
		newCleanCacheCommand(&configPath),
		newRecreateCommand(&configPath),
	)
	return root
}

func newCleanCacheCommand(configPath *string) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "clean-cache",
		Short: "Remove cached uploads older than the TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = a.cfg.CacheTTL
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
			defer stop()
			n, err := a.uploader.CleanCachedFiles(ctx, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cache directories from %s\n", n, a.uploader.CacheRoot())
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "maximum cache age (defaults to cache_ttl from config)")
	return cmd
}

func newRecreateCommand(configPath *string) *cobra.Command {
	var versions []string
	cmd := &cobra.Command{
		Use:   "recreate IDENTIFIER...",
		Short: "Regenerate versions of stored files from their originals",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
			defer stop()
			return recreateAll(ctx, a.uploader, args, versions, func(id string, err error) {
				if err != nil {
					a.logger.Error("recreate failed", "identifier", id, "err", err)
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recreated %s\n", id)
			})
		},
	}
	cmd.Flags().StringSliceVar(&versions, "version", nil, "version names to recreate (default: all)")
	return cmd
}

// recreateAll recreates versions for every identifier, reporting each
// result. It stops early only when ctx is cancelled.
func recreateAll(ctx context.Context, up *uploader.Uploader, ids, versions []string, report func(id string, err error)) error {
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		u := up.Upload(nil, "")
		err := u.RetrieveFromStore(ctx, id)
		if err == nil {
			err = u.RecreateVersions(ctx, versions...)
		}
		report(id, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
