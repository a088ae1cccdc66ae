//go:build integration

// Package integration contains end-to-end tests for a threatwatch session
// running against the feed simulator.
package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/ql-threatwatch/internal/feedsim"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/alertgen"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/config"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/dashboard"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/feed"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/kafka"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

// =============================================================================
// Helpers
// =============================================================================

func startFeedSim(t *testing.T, pub feedsim.Publisher, topic string) *httptest.Server {
	t.Helper()
	h := feedsim.New(feedsim.Config{
		Logger:    logger.New("error", "text"),
		Publisher: pub,
		Topic:     topic,
	})
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func startChat(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !assert.True(t, ok) {
			return
		}
		for _, word := range strings.SplitAfter(reply, " ") {
			_, _ = w.Write([]byte(word))
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sessionConfig(feedURL, chatURL string, interval time.Duration) *config.Config {
	return &config.Config{
		Env: "test",
		Feed: config.FeedConfig{
			Endpoint:           feedURL + "/api/create-alert",
			Interval:           interval,
			Timeout:            2 * time.Second,
			BreakerMaxFailures: 5,
			BreakerTimeout:     time.Second,
		},
		Assistant: config.AssistantConfig{
			Endpoint:           chatURL,
			Timeout:            10 * time.Second,
			HistoryLimit:       5,
			BreakerMaxFailures: 3,
			BreakerTimeout:     time.Second,
		},
		Session: config.SessionConfig{
			SeedAlerts: true,
			Timezone:   "UTC",
		},
	}
}

// =============================================================================
// Session Tests
// =============================================================================

func TestSessionAgainstFeedSim(t *testing.T) {
	feedSrv := startFeedSim(t, nil, "")
	chatSrv := startChat(t, "Rotate the service account credentials.")

	session, err := dashboard.NewSession(dashboard.Options{
		Config:         sessionConfig(feedSrv.URL, chatSrv.URL, 50*time.Millisecond),
		Generator:      alertgen.NewSeeded(42, time.Now),
		Logger:         logger.New("error", "text"),
		IsolationDelay: -1,
	})
	require.NoError(t, err)
	t.Cleanup(session.Stop)

	require.NoError(t, session.Start())
	seeded := session.Store.Len()

	t.Run("PollsLiveAlerts", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return session.Feed.Stats().Received >= 3
		}, 5*time.Second, 10*time.Millisecond)
		assert.Greater(t, session.Store.Len(), seeded)
		assert.Zero(t, session.Feed.Stats().Failures)
	})

	t.Run("LiveAlertsBelongToTenant", func(t *testing.T) {
		for _, a := range session.Store.AlertsForCurrentScope() {
			assert.Equal(t, "t1", a.TenantID)
		}
	})

	t.Run("SwitchTenant", func(t *testing.T) {
		require.NoError(t, session.SelectTenant("t2"))

		require.Eventually(t, func() bool {
			return session.Store.Alerts()[0].TenantID == "t2"
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, "t2", session.Feed.TenantID())
	})

	t.Run("AskAssistant", func(t *testing.T) {
		scoped := session.Store.AlertsForCurrentScope()
		require.NotEmpty(t, scoped)
		_, err := session.ToggleSelection(scoped[0].ID)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, session.Ask(ctx, "What should I do first?"))

		msgs := session.Conversation.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, models.RoleUser, msgs[0].Role)
		assert.Equal(t, "Rotate the service account credentials.", msgs[1].Content)
	})

	t.Run("Isolate", func(t *testing.T) {
		alert := session.Store.AlertsForCurrentScope()[0]
		done, err := session.Isolate(context.Background(), alert.ID)
		require.NoError(t, err)
		assert.True(t, done)

		got, ok := session.Store.Alert(alert.ID)
		require.True(t, ok)
		assert.True(t, got.IsIsolated)
	})

	t.Run("Stop", func(t *testing.T) {
		session.Stop()
		assert.Equal(t, feed.StateIdle, session.Feed.State())
	})
}

// =============================================================================
// Kafka Tests
// =============================================================================

func TestKafkaAlertIngestion(t *testing.T) {
	brokers := os.Getenv("TW_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("Skipping Kafka test: TW_KAFKA_BROKERS not configured")
	}

	log := logger.New("error", "text")
	kcfg := config.KafkaConfig{
		Enabled:       true,
		Brokers:       strings.Split(brokers, ","),
		ConsumerGroup: "threatwatch-it-" + time.Now().Format("150405"),
	}
	kcfg.Topics.Alerts = "alerts.created.it"

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := kafka.Health(ctx, kcfg.Brokers); err != nil {
		t.Skipf("Cannot reach Kafka: %v", err)
	}

	producer, err := kafka.NewProducer(kcfg, log)
	require.NoError(t, err)
	defer producer.Close()

	consumer, err := kafka.NewConsumer(kcfg, log)
	require.NoError(t, err)
	defer consumer.Close()

	feedSrv := startFeedSim(t, producer, kcfg.Topics.Alerts)
	chatSrv := startChat(t, "ok")

	cfg := sessionConfig(feedSrv.URL, chatSrv.URL, time.Hour)
	cfg.Session.SeedAlerts = false
	cfg.Kafka = kcfg

	session, err := dashboard.NewSession(dashboard.Options{Config: cfg, Logger: log})
	require.NoError(t, err)
	defer session.Stop()

	ingestor := feed.NewIngestor(session.Store, log)
	go func() {
		_ = ingestor.Run(ctx, consumer, kcfg.Topics.Alerts)
	}()

	resp, err := http.Post(feedSrv.URL+"/api/create-alert", "application/json", strings.NewReader(`{"tenantId":"t3"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		for _, a := range session.Store.Alerts() {
			if a.TenantID == "t3" {
				return true
			}
		}
		return false
	}, 45*time.Second, 100*time.Millisecond)
}
