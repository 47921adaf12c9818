package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockledger/inventory/config"
	"github.com/stockledger/inventory/internal/api"
	"github.com/stockledger/inventory/internal/consumer"
	"github.com/stockledger/inventory/internal/database"
	"github.com/stockledger/inventory/internal/eventbus"
	"github.com/stockledger/inventory/internal/handler"
	"github.com/stockledger/inventory/internal/metric"
	"github.com/stockledger/inventory/internal/processor"
	"github.com/stockledger/inventory/internal/sweeper"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level from config
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("appName", cfg.AppName).Msg("Application starting")

	// --- Initializations ---

	// Initialize Database
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Database")
	}
	defer db.Close()

	// Initialize RabbitMQ Connection Manager
	rmqManager, err := eventbus.NewRabbitMQManager(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ Manager")
	}
	defer rmqManager.Close()

	// Wire the event pipeline
	metrics := metric.NewSet()
	registry := handler.NewDefaultRegistry()
	engine := processor.NewEngine(db, processor.NewTxStore(db), registry,
		processor.Config{MaxAttempts: cfg.MaxAttempts}, metrics)
	gate := processor.NewGate(db, engine, metrics)
	swp := sweeper.New(db, engine, sweeper.Config{ChunkSize: cfg.ChunkSize, Interval: cfg.SweepInterval}, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the consumer
	if err := rmqManager.StartConsuming(ctx, consumer.New(gate).Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start consumer")
	}

	// Start the reprocessing sweep
	go swp.Run(ctx)

	// Start the HTTP API
	apiServer := api.NewServer(cfg.HTTPAddr, rmqManager, db, swp, metrics)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Msg("Application setup complete. Running and waiting for messages.")

	// --- Wait for shutdown signal ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// --- Graceful Shutdown ---
	log.Info().Msg("Application shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
