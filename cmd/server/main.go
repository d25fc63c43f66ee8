package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pharmgx-risk-server/internal/api"
	"github.com/pharmgx-risk-server/internal/app"
	"github.com/pharmgx-risk-server/internal/config"
	"github.com/pharmgx-risk-server/internal/logging"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	log.Printf("Starting pharmacogenomic risk server on %s:%d", cfg.Server.Host, cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := app.New(ctx, cfg, logger, app.Options{Explain: true, Feedback: true})
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	defer services.Close()

	services.Health.Start()
	defer services.Health.Stop()

	opts := []api.ServerOption{
		api.WithHealthChecker(services.Health),
		api.WithMetrics(services.Metrics),
	}
	if services.Feedback != nil {
		opts = append(opts, api.WithFeedbackStore(services.Feedback))
	}
	server := api.NewServer(configManager, services.Analyzer, logger, opts...)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}
