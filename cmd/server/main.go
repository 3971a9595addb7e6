// Package main implements the entry point for the Fields of the World
// inference API server, which serves field boundary detection over
// satellite imagery through synchronous example requests and durable
// background processing projects.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/config"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, assembles the application and serves until a
// shutdown signal arrives. Split from main so it can return errors.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.Config{Level: cfg.Server.LogLevel})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.Int("max_concurrent", cfg.Processing.MaxConcurrent),
		slog.Bool("auth_disabled", cfg.Auth.Disabled),
		slog.Int("models", len(cfg.Models)))

	ctx := context.Background()

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	return app.Run(ctx)
}
