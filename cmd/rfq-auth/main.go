package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pipetrade/rfq-auth/internal/app"
	"github.com/pipetrade/rfq-auth/internal/config"
	"github.com/pipetrade/rfq-auth/internal/observability"
)

func main() {
	root := &cobra.Command{
		Use:   "rfq-auth",
		Short: "Device-bound authentication service for the RFQ platform",
	}
	root.AddCommand(serveCmd(), sessionsCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			a, err := app.Build(ctx, cfg, bootLogger)
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg, a.Observability.LoggerProvider)
			slog.SetDefault(logger)
			a.Logger = logger
			return a.Run(ctx)
		},
	}
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Mark expired sessions invalidated",
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			a, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			n, err := a.Sessions.ReapExpired(ctx)
			if err != nil {
				return err
			}
			logger.Info("cleanup complete", "sessions_marked", n)
			return nil
		},
	})
	return cmd
}
