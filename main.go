package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"voltassist/internal/app"
	"voltassist/internal/config"
	"voltassist/internal/logger"
)

func main() {
	// Structured JSON logs carrying correlation and session ids.
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(ctx, cfg, deps, nil)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "knowledge index ready", "location", cfg.IndexLocation(), "chunks", application.Index.Current().Len())

	return application.Run(ctx)
}
