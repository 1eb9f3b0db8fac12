package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/config"
	"github.com/1sub-io/vendor-api/internal/services"
	"github.com/1sub-io/vendor-api/internal/workers"
	"github.com/1sub-io/vendor-api/pkg/database"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("environment", cfg.Environment).Msg("Starting 1Sub Vendor Workers")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Create services
	keyService := services.NewKeyService(db, cfg)

	// Create workers
	dispatcher := workers.NewWebhookDispatcher(db.Pool, keyService, cfg)

	// Start workers in goroutines
	go dispatcher.Start(ctx)

	log.Info().Msg("All workers started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received, stopping workers...")
	cancel()

	log.Info().Msg("Workers stopped")
}
