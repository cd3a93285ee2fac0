// Package bootstrap handles application initialization and lifecycle management
// for the serp-tracker service.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/api"
	infralogger "github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/storage"
)

// Start initializes and runs the serp-tracker service until shutdown.
func Start() error {
	// Phase 1: Load config and create logger
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := CreateLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// Phase 2: Open local state storage
	adapter, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if closeErr := adapter.Close(); closeErr != nil {
			log.Error("Failed to close storage", infralogger.Error(closeErr))
		}
	}()
	log.Info("Storage opened", infralogger.String("driver", cfg.Storage.Driver))

	// Phase 3: Wire the tracking core and start background sync
	core := NewComponents(cfg, adapter, nil, log)
	core.Start()
	defer core.Stop()

	// Phase 4: Setup and run HTTP server
	done := make(chan struct{})
	defer close(done)

	server := api.NewServer(core.Handlers(log), core.Checks(), cfg, log, done)

	log.Info("Serp-tracker starting",
		infralogger.Int("port", cfg.Service.Port),
		infralogger.String("backend", cfg.Backend.BaseURL),
	)

	if runErr := server.Run(context.Background()); runErr != nil {
		log.Error("Server error", infralogger.Error(runErr))
		return fmt.Errorf("server error: %w", runErr)
	}

	log.Info("Serp-tracker exited cleanly")
	return nil
}
