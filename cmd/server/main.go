// ecml-risk - HTTP fraud scoring service
package main

import (
	"context"
	"os"

	"github.com/Muneeb-Masood/EC-ML/internal/config"
	"github.com/Muneeb-Masood/EC-ML/internal/logging"
	"github.com/Muneeb-Masood/EC-ML/internal/server"
	"github.com/Muneeb-Masood/EC-ML/internal/traces"
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
	logger.Info("starting ecml-risk",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	scoring := config.LoadScoring(cfg.ScoringConfig, logger)

	ctx := context.Background()
	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Create and run server
	srv, err := server.New(cfg,
		server.WithLogger(logger),
		server.WithScoring(scoring),
		server.WithVersion(Version),
		server.WithTracing(shutdownTracing),
	)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
