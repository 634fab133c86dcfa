// Package main is the entry point of the GA4 gateway.
//
// The main package stays minimal. Its job is to:
//  1. Read configuration (environment, optionally seeded from .env)
//  2. Create the logger
//  3. Build and start the server
//
// All actual logic lives in the internal packages.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/darwin7381/ga4-realtime-api/internal/config"
	"github.com/darwin7381/ga4-realtime-api/internal/repository/sqlstore"
	"github.com/darwin7381/ga4-realtime-api/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_LEVEL picks the minimum level (debug, info, warn, error).
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	// === 3. DATABASE DIRECTORY ===
	// Only the SQLite backend needs a directory on disk.
	if !sqlstore.IsPostgresDSN(cfg.DatabaseURL) {
		dbPath := cfg.DBPath
		if cfg.DatabaseURL != "" {
			dbPath = cfg.DatabaseURL
		}
		if dbPath != ":memory:" {
			dbDir := filepath.Dir(dbPath)
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				logger.Error("failed to create database directory",
					slog.String("dir", dbDir),
					slog.String("error", err.Error()),
				)
				os.Exit(1)
			}
		}
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
