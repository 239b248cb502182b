// Package config loads engine configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full engine configuration.
type Config struct {
	// Service identification
	ServiceName string
	Environment string
	Version     string

	// Ops HTTP server
	HTTPPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Observability
	LogLevel  string
	LogFormat string

	// Storage backend: "memory", "redis", or "postgres"
	StoreBackend string
	Redis        RedisConfig
	Postgres     PostgresConfig

	// Event ingest and incident publishing
	Kafka KafkaConfig

	// Notification channels
	SMTP         SMTPConfig
	Slack        SlackConfig
	PagerDutyKey string
	ReportingURL string
	ReportingKey string

	// Correlation
	CorrelationWindow time.Duration
	SweepInterval     time.Duration

	// Classifier rule overrides, optional YAML path
	RulesPath string

	// Health monitoring
	HealthInterval time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	DSN string
}

// KafkaConfig holds broker and topic settings.
type KafkaConfig struct {
	Brokers       []string
	GroupID       string
	EventsTopic   string
	IncidentTopic string
	Enabled       bool
}

// SMTPConfig holds email channel settings.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	FromEmail  string
	FromName   string
	SecurityTo []string
	ManagerTo  []string
	ExecTo     []string
}

// SlackConfig holds the incoming webhook for the security channel.
type SlackConfig struct {
	WebhookURL string
}

// Load builds a Config from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:  getEnv("SERVICE_NAME", "reliability-engine"),
		Environment:  getEnv("ENVIRONMENT", "development"),
		Version:      getEnv("VERSION", "0.0.0"),
		HTTPPort:     getEnvAsInt("HTTP_PORT", 8080),
		ReadTimeout:  getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout: getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:  getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		StoreBackend: getEnv("STORE_BACKEND", "memory"),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			DSN: getEnv("POSTGRES_DSN", ""),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID:       getEnv("KAFKA_GROUP_ID", "reliability-engine"),
			EventsTopic:   getEnv("KAFKA_EVENTS_TOPIC", "security.events"),
			IncidentTopic: getEnv("KAFKA_INCIDENTS_TOPIC", "security.incidents"),
			Enabled:       getEnvAsBool("KAFKA_ENABLED", false),
		},
		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnvAsInt("SMTP_PORT", 587),
			Username:   getEnv("SMTP_USERNAME", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			FromEmail:  getEnv("SMTP_FROM_EMAIL", "incidents@example.com"),
			FromName:   getEnv("SMTP_FROM_NAME", "Reliability Engine"),
			SecurityTo: getEnvAsSlice("EMAIL_SECURITY_TEAM", nil),
			ManagerTo:  getEnvAsSlice("EMAIL_MANAGEMENT", nil),
			ExecTo:     getEnvAsSlice("EMAIL_EXECUTIVES", nil),
		},
		Slack: SlackConfig{
			WebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
		},
		PagerDutyKey:      getEnv("PAGERDUTY_ROUTING_KEY", ""),
		ReportingURL:      getEnv("EXTERNAL_REPORTING_URL", ""),
		ReportingKey:      getEnv("EXTERNAL_REPORTING_TOKEN", ""),
		CorrelationWindow: getEnvAsDuration("CORRELATION_WINDOW", 10*time.Minute),
		SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		RulesPath:         getEnv("CLASSIFIER_RULES_PATH", ""),
		HealthInterval:    getEnvAsDuration("HEALTH_INTERVAL", 30*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreBackend == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required with the postgres backend")
	}
	if c.CorrelationWindow <= 0 {
		return fmt.Errorf("CORRELATION_WINDOW must be positive")
	}
	if c.IsProduction() && c.StoreBackend == "memory" {
		return fmt.Errorf("memory backend is not allowed in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
