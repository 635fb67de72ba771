package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediacatalog/internal/app"
	"mediacatalog/internal/config"
	"mediacatalog/internal/scheduler"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var threshold time.Duration

	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Delete pending uploads that were never attached",
		Long: "reclaim removes objects and records of files that stayed pending longer than the threshold.\n" +
			"Each run logs one JSON summary line; storage failures are logged per file and retried by the next run.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.LogFormat = "json"
			logger := config.SetupLogger(cfg).With(slog.String("component", "reclaim"))

			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.ReclaimThreshold
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, threshold, logger); err != nil {
				logger.Error("reclaim run failed", slog.Any("error", err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&threshold, "threshold", 24*time.Hour, "age after which a pending file counts as orphaned")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, threshold time.Duration, logger *slog.Logger) error {
	application, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer application.Close()

	_, err = scheduler.Reclaim(ctx, application.Files, threshold, logger)
	return err
}
