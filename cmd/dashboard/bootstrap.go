package main

import (
	"context"
	"fmt"
	"os"

	"livedash/internal/chart"
	"livedash/internal/credential"
	"livedash/internal/dashboard"
	"livedash/internal/logger"
	"livedash/internal/store"
	"livedash/internal/trace"

	"github.com/joho/godotenv"
)

var version = "dev"

// initializeSystem initializes environment, logger and tracer
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(version); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

// loadConfig loads the configuration named by DASH_CONFIG, or config.yaml
func loadConfig(ctx context.Context) (*store.Config, error) {
	path := os.Getenv("DASH_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// initializeSession builds the dashboard session over the file token slot
func initializeSession(ctx context.Context, cfg *store.Config) *dashboard.Session {
	creds := credential.NewFile(cfg.TokenFile)
	if _, ok := creds.Token(); !ok {
		logger.Warn(ctx, "No stored token; run the login command first", "token_file", creds.Path())
	}

	return dashboard.NewSession(dashboard.Options{
		WSBase:         cfg.WSBase,
		RetryDelay:     cfg.RetryDelay(),
		BufferCapacity: cfg.BufferCapacity,
		Chart: chart.Options{
			Width:  cfg.Chart.Width,
			Height: cfg.Chart.Height,
			Ticks:  cfg.Chart.Ticks,
		},
	}, creds)
}
