// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxHistoryLimit is the most prior messages sent with an assistant query.
const MaxHistoryLimit = 5

// Config holds all configuration for the application.
type Config struct {
	Env       string `mapstructure:"env"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Feed      FeedConfig      `mapstructure:"feed"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	FeedSim   FeedSimConfig   `mapstructure:"feedsim"`
	Session   SessionConfig   `mapstructure:"session"`
}

// FeedConfig holds alert feed polling configuration.
type FeedConfig struct {
	Endpoint string        `mapstructure:"endpoint"` // URL of the create-alert endpoint
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"` // Per-request timeout

	BreakerMaxFailures int           `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

// AssistantConfig holds streaming assistant configuration.
type AssistantConfig struct {
	Endpoint     string        `mapstructure:"endpoint"` // URL of the token-streaming chat endpoint
	Timeout      time.Duration `mapstructure:"timeout"`  // Upper bound for a whole streamed response
	HistoryLimit int           `mapstructure:"history_limit"`

	BreakerMaxFailures int           `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

// KafkaConfig holds Kafka configuration.
type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ConsumeAlerts bool     `mapstructure:"consume_alerts"` // Ingest alerts from Topics.Alerts in addition to polling
	Topics        struct {
		Notifications string `mapstructure:"notifications"`
		Alerts        string `mapstructure:"alerts"`
	} `mapstructure:"topics"`
}

// TelemetryConfig holds OpenTelemetry tracing configuration.
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Exporter     string  `mapstructure:"exporter"` // stdout, otlp_grpc, otlp_http
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// MetricsConfig holds the Prometheus endpoint configuration of the session.
// The feed simulator always serves /metrics on its own port.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// FeedSimConfig holds configuration for the development alert feed server.
type FeedSimConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PublishToKafka  bool          `mapstructure:"publish_to_kafka"` // Also publish generated alerts to Kafka
}

// SessionConfig holds headless dashboard session configuration.
type SessionConfig struct {
	TenantID       string        `mapstructure:"tenant_id"`  // Empty selects the first catalog tenant
	ProjectID      string        `mapstructure:"project_id"` // Optional project within the tenant
	SeedAlerts     bool          `mapstructure:"seed_alerts"`
	Timezone       string        `mapstructure:"timezone"` // IANA name used for trend day buckets
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

// Location resolves the configured timezone. An empty value or "Local" means
// the process's local zone.
func (c *SessionConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid session timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Address returns the metrics server address.
func (c *MetricsConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Address returns the feed server address.
func (c *FeedSimConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	// Set prefix for environment variables
	v.SetEnvPrefix("TW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind env vars: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := cfg.validateProduction(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks invariants that hold in every environment.
func (c *Config) validate() error {
	if c.Feed.Interval <= 0 {
		return fmt.Errorf("feed.interval must be positive, got %s", c.Feed.Interval)
	}
	if c.Assistant.HistoryLimit < 0 || c.Assistant.HistoryLimit > MaxHistoryLimit {
		return fmt.Errorf("assistant.history_limit must be between 0 and %d, got %d",
			MaxHistoryLimit, c.Assistant.HistoryLimit)
	}
	if _, err := c.Session.Location(); err != nil {
		return err
	}
	return nil
}

// validateProduction ensures critical configuration is set for non-development environments.
func (c *Config) validateProduction() error {
	// Skip validation in development mode
	if c.Env == "development" || c.Env == "dev" || c.Env == "test" {
		return nil
	}

	var missingConfig []string

	if strings.Contains(c.Feed.Endpoint, "localhost") {
		missingConfig = append(missingConfig, "TW_FEED_ENDPOINT (must not point at localhost)")
	}
	if strings.Contains(c.Assistant.Endpoint, "localhost") {
		missingConfig = append(missingConfig, "TW_ASSISTANT_ENDPOINT (must not point at localhost)")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		missingConfig = append(missingConfig, "TW_KAFKA_BROKERS")
	}

	if len(missingConfig) > 0 {
		return fmt.Errorf("missing required configuration for %s environment: %s",
			c.Env, strings.Join(missingConfig, ", "))
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Application
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	// Feed
	v.SetDefault("feed.endpoint", "http://localhost:8090/api/create-alert")
	v.SetDefault("feed.interval", "10s")
	v.SetDefault("feed.timeout", "5s")
	v.SetDefault("feed.breaker_max_failures", 5)
	v.SetDefault("feed.breaker_timeout", "30s")

	// Assistant
	v.SetDefault("assistant.endpoint", "http://localhost:3000/api/openai-chat")
	v.SetDefault("assistant.timeout", "120s")
	v.SetDefault("assistant.history_limit", MaxHistoryLimit)
	v.SetDefault("assistant.breaker_max_failures", 3)
	v.SetDefault("assistant.breaker_timeout", "60s")

	// Kafka
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "threatwatch")
	v.SetDefault("kafka.consume_alerts", false)
	v.SetDefault("kafka.topics.notifications", "alerts.notifications")
	v.SetDefault("kafka.topics.alerts", "alerts.created")

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "threatwatch")
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)

	// Metrics
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.host", "0.0.0.0")
	v.SetDefault("metrics.port", 9091)

	// Feed simulator
	v.SetDefault("feedsim.host", "0.0.0.0")
	v.SetDefault("feedsim.port", 8090)
	v.SetDefault("feedsim.read_timeout", "10s")
	v.SetDefault("feedsim.write_timeout", "10s")
	v.SetDefault("feedsim.shutdown_timeout", "10s")
	v.SetDefault("feedsim.publish_to_kafka", false)

	// Session
	v.SetDefault("session.tenant_id", "")
	v.SetDefault("session.project_id", "")
	v.SetDefault("session.seed_alerts", true)
	v.SetDefault("session.timezone", "Local")
	v.SetDefault("session.report_interval", "30s")
}

func bindEnvVars(v *viper.Viper) error {
	envVars := []string{
		"env",
		"log_level",
		"log_format",
		// Feed
		"feed.endpoint",
		"feed.interval",
		"feed.timeout",
		"feed.breaker_max_failures",
		"feed.breaker_timeout",
		// Assistant
		"assistant.endpoint",
		"assistant.timeout",
		"assistant.history_limit",
		"assistant.breaker_max_failures",
		"assistant.breaker_timeout",
		// Kafka
		"kafka.enabled",
		"kafka.brokers",
		"kafka.consumer_group",
		"kafka.consume_alerts",
		"kafka.topics.notifications",
		"kafka.topics.alerts",
		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.exporter",
		"telemetry.otlp_endpoint",
		"telemetry.otlp_insecure",
		"telemetry.sample_rate",
		// Metrics
		"metrics.enabled",
		"metrics.host",
		"metrics.port",
		// Feed simulator
		"feedsim.host",
		"feedsim.port",
		"feedsim.read_timeout",
		"feedsim.write_timeout",
		"feedsim.shutdown_timeout",
		"feedsim.publish_to_kafka",
		// Session
		"session.tenant_id",
		"session.project_id",
		"session.seed_alerts",
		"session.timezone",
		"session.report_interval",
	}

	for _, key := range envVars {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
