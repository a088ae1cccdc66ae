// Package main is the entry point for the headless threat dashboard session.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/alertstore"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/config"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/dashboard"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/feed"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/kafka"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/metrics"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/notify"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/resilience"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/telemetry"
)

// Build information (set via ldflags).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

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
	log = log.WithService("threatwatch")

	log.Info("starting threatwatch session",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"env", cfg.Env,
		"feed_endpoint", cfg.Feed.Endpoint,
		"assistant_endpoint", cfg.Assistant.Endpoint,
	)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	tp, err := telemetry.NewProvider(telemetry.FromConfig(cfg.Telemetry, version, cfg.Env))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down telemetry", "error", err)
		}
	}()

	// Kafka notification sink
	var notifiers []alertstore.Notifier
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to create kafka producer, notifications stay local", "error", err)
		} else {
			defer producer.Close()
			notifiers = append(notifiers, notify.NewKafkaNotifier(producer, cfg.Kafka.Topics.Notifications, log))
			log.Info("publishing notifications to kafka", "topic", cfg.Kafka.Topics.Notifications)
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	session, err := dashboard.NewSession(dashboard.Options{
		Config:    cfg,
		Notifiers: notifiers,
		Logger:    log,
		Metrics:   m,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if err := session.Start(); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.Stop()

	// Prometheus endpoint
	if m != nil {
		server := metricsServer(cfg.Metrics.Address(), m)
		go func() {
			log.Info("starting metrics server", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("graceful metrics shutdown failed", "error", err)
				_ = server.Close()
			}
		}()
	}

	var wg sync.WaitGroup

	// Kafka alert ingestion runs alongside polling
	if cfg.Kafka.Enabled && cfg.Kafka.ConsumeAlerts {
		consumer, err := kafka.NewConsumer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to create kafka consumer, polling only", "error", err)
		} else {
			ingestor := feed.NewIngestor(session.Store, log)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer consumer.Close()
				if err := ingestor.Run(ctx, consumer, cfg.Kafka.Topics.Alerts); err != nil {
					log.Error("kafka alert ingestion stopped", "error", err)
				}
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportLoop(ctx, session, cfg.Session.ReportInterval, log)
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	sig := <-shutdown
	log.Info("shutdown signal received", "signal", sig.String())

	cancel()
	wg.Wait()

	log.Info("session shutdown complete")
	return nil
}

func metricsServer(addr string, m *metrics.Metrics) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", m.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// reportLoop logs the session's derived view every interval.
func reportLoop(ctx context.Context, s *dashboard.Session, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logView(s.View(), log)
		}
	}
}

func logView(v dashboard.View, log *logger.Logger) {
	log.Info("dashboard view",
		"tenant_id", v.TenantID,
		"project_id", v.ProjectID,
		"total_alerts", v.TotalAlerts,
		"scoped_alerts", v.ScopedAlerts,
		"filtered_alerts", len(v.Filtered),
		"critical_alerts", len(v.Critical),
		"selected", v.Selected,
		"feed_state", v.FeedState.String(),
		"feed_polls", v.FeedStats.Polls,
		"feed_received", v.FeedStats.Received,
		"feed_failures", v.FeedStats.Failures,
		"feed_skipped", v.FeedStats.Skipped,
		"notifications", len(v.Notifications),
	)

	for _, c := range v.Categories {
		log.Debug("category breakdown", "category", c.Category, "count", c.Count)
	}
	if len(v.Trend) > 0 {
		last := v.Trend[len(v.Trend)-1]
		log.Debug("alert trend", "days", len(v.Trend), "latest", last.Timestamp,
			"critical", last.Critical, "high", last.High, "medium", last.Medium, "low", last.Low)
	}
	for _, b := range v.Breakers {
		if b.State == resilience.StateOpen.String() {
			log.Warn("circuit breaker open", "breaker", b.Name, "current_failures", b.CurrentFailures)
		}
	}
}
