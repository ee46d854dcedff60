// Fraud radar - synthetic transaction stream with live risk scoring
package main

import (
	"context"
	"os"

	"github.com/mbd888/fraudradar/internal/config"
	"github.com/mbd888/fraudradar/internal/logging"
	"github.com/mbd888/fraudradar/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	logger.Info("starting fraudradar",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"model_path", cfg.ModelPath,
		"strict_catalog", cfg.StrictCatalog,
		"tick_interval", cfg.TickInterval.String(),
		"kafka", len(cfg.KafkaBrokers) > 0,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
