// Package main is the entry point for the development alert feed server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantumlayerhq/ql-threatwatch/internal/feedsim"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/alertgen"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/config"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/kafka"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/metrics"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/multitenancy"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/telemetry"
)

// Build information (set via ldflags).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const serviceName = "feedsim"

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log = log.WithService(serviceName)

	log.Info("starting alert feed simulator",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"env", cfg.Env,
		"publish_to_kafka", cfg.FeedSim.PublishToKafka,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	telemetryCfg := telemetry.FromConfig(cfg.Telemetry, version, cfg.Env)
	telemetryCfg.ServiceName = serviceName
	tp, err := telemetry.NewProvider(telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error("failed to shut down telemetry", "error", err)
		}
	}()

	catalog, err := multitenancy.NewCatalog(multitenancy.DemoTenants())
	if err != nil {
		return fmt.Errorf("failed to build tenant catalog: %w", err)
	}

	// Optional Kafka publisher for generated alerts
	var publisher feedsim.Publisher
	if cfg.Kafka.Enabled && cfg.FeedSim.PublishToKafka {
		if err := kafka.Health(ctx, cfg.Kafka.Brokers); err != nil {
			log.Warn("kafka brokers unreachable, running without publishing", "error", err)
		} else {
			producer, err := kafka.NewProducer(cfg.Kafka, log)
			if err != nil {
				return fmt.Errorf("failed to create kafka producer: %w", err)
			}
			defer producer.Close()
			publisher = producer
			log.Info("publishing generated alerts to kafka", "topic", cfg.Kafka.Topics.Alerts)
		}
	}

	handler := feedsim.New(feedsim.Config{
		Catalog:     catalog,
		Generator:   alertgen.New(),
		Logger:      log,
		Publisher:   publisher,
		Topic:       cfg.Kafka.Topics.Alerts,
		Metrics:     metrics.New(),
		ServiceName: serviceName,
		BuildInfo: feedsim.BuildInfo{
			Version:   version,
			BuildTime: buildTime,
			GitCommit: gitCommit,
		},
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.FeedSim.Address(),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.FeedSim.ReadTimeout,
		WriteTimeout: cfg.FeedSim.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.FeedSim.ShutdownTimeout)
		defer shutdownCancel()

		// Attempt graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				return fmt.Errorf("forced shutdown error: %w", err)
			}
		}

		log.Info("server shutdown complete")
	}

	return nil
}
