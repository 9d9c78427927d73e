package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/netgrid/cmdb/internal/config"
	"github.com/netgrid/cmdb/internal/ingest"
	"github.com/netgrid/cmdb/internal/logging"
	"github.com/netgrid/cmdb/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"max_file_size", cfg.Ingest.MaxFileSize,
		"error_threshold", cfg.Ingest.ErrorThreshold,
		"memory_limit_mb", cfg.Ingest.MemoryLimitMB,
		"max_concurrent_imports", cfg.Ingest.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Load the optional field profile extending the canonical device schema
	var fields []ingest.FieldDefinition
	if cfg.Ingest.FieldProfile != "" {
		data, err := os.ReadFile(cfg.Ingest.FieldProfile)
		if err != nil {
			slog.Error("failed to read field profile", "path", cfg.Ingest.FieldProfile, "error", err)
			os.Exit(1)
		}
		fields, err = ingest.LoadFieldProfile(data)
		if err != nil {
			slog.Error("failed to parse field profile", "path", cfg.Ingest.FieldProfile, "error", err)
			os.Exit(1)
		}
		slog.Info("field profile loaded", "path", cfg.Ingest.FieldProfile, "fields", len(fields))
	}

	factory := ingest.NewFactory(slog.Default())
	limiter := ingest.NewImportLimiter(cfg.Ingest.MaxConcurrent, cfg.Ingest.MaxWaitTime)

	server := web.NewServer(cfg, factory, limiter, fields)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active imports to complete (with timeout), then stop the
		// stragglers.
		if active := limiter.ActiveCount(); active > 0 {
			slog.Info("waiting for imports to complete", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time, cancelling", "error", err)
				factory.CancelAll()
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil && err != http.ErrServerClosed {
		slog.Info("server stopped", "error", err)
	}
}
