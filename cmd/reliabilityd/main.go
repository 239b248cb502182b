// Command reliabilityd runs the incident correlation and reliability
// engine: it ingests security events, correlates them into incidents,
// drives automated response, and serves the ops API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/pam-platform/reliability/internal/api"
	"github.com/pam-platform/reliability/internal/breaker"
	"github.com/pam-platform/reliability/internal/classifier"
	"github.com/pam-platform/reliability/internal/config"
	"github.com/pam-platform/reliability/internal/consumer"
	"github.com/pam-platform/reliability/internal/correlation"
	"github.com/pam-platform/reliability/internal/engine"
	"github.com/pam-platform/reliability/internal/health"
	"github.com/pam-platform/reliability/internal/incident"
	"github.com/pam-platform/reliability/internal/notify"
	"github.com/pam-platform/reliability/internal/recovery"
	"github.com/pam-platform/reliability/internal/response"
	"github.com/pam-platform/reliability/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(nil).Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	})
	log.SetDefault()

	log.Info("starting reliability engine",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
		"store_backend", cfg.StoreBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Incident store.
	store, redisClient, err := buildStore(cfg, log)
	if err != nil {
		log.Error("failed to initialize incident store", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	// Classification rules, with optional YAML overrides.
	table := classifier.DefaultTable()
	if cfg.RulesPath != "" {
		table, err = classifier.LoadTable(cfg.RulesPath)
		if err != nil {
			log.Error("failed to load classifier rules", "path", cfg.RulesPath, "error", err.Error())
			os.Exit(1)
		}
		log.Info("classifier rules loaded", "path", cfg.RulesPath)
	}

	// Response workflows with the builtin action set.
	registry := response.NewRegistry()
	response.RegisterBuiltins(registry)
	responder := response.NewEngine(nil, registry, log)

	// Notification channels per configuration.
	dispatcher := notify.NewDispatcher(nil, log)
	registerChannels(cfg, dispatcher)

	// Reliability plumbing.
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	coordinator := recovery.NewCoordinator(nil, breakers, log)

	// Health monitoring.
	tracker := health.NewTracker()
	monitor := health.NewMonitor(health.Config{Interval: cfg.HealthInterval}, tracker, nil, log)
	if redisClient != nil {
		monitor.RegisterCheck("redis_connection", health.RedisCheck(redisPinger{redisClient}))
	}
	monitor.Start(ctx)
	defer monitor.Stop()

	// Kafka incident publishing, optional.
	var publisher engine.Publisher
	var kafkaPublisher *consumer.Publisher
	if cfg.Kafka.Enabled {
		kafkaPublisher, err = consumer.NewPublisher(cfg.Kafka, log)
		if err != nil {
			log.Error("failed to create kafka publisher", "error", err.Error())
			os.Exit(1)
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	// Core pipeline.
	buffer := correlation.NewBuffer(cfg.CorrelationWindow)
	eng := engine.New(buffer, classifier.New(table), store, responder, dispatcher, publisher, tracker, log)
	eng.StartSweeper(ctx, cfg.SweepInterval)

	// Kafka event ingest, optional.
	if cfg.Kafka.Enabled {
		cons, err := consumer.New(cfg.Kafka, eng, log)
		if err != nil {
			log.Error("failed to create kafka consumer", "error", err.Error())
			os.Exit(1)
		}
		cons.Start()
		defer cons.Stop()
	}

	// Ops API.
	handler := api.NewHandler(eng, store, monitor, breakers, coordinator, log)
	server := api.NewServer(cfg, handler, tracker, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Error("http server error", "error", err.Error())
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err.Error())
	}
	log.Info("reliability engine stopped")
}

// buildStore creates the configured incident store. The Redis client is
// returned separately so the health monitor can probe it.
func buildStore(cfg *config.Config, log *logger.Logger) (incident.Store, *redis.Client, error) {
	switch cfg.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return incident.NewRedisStore(client), client, nil

	case "postgres":
		db, err := sqlx.Connect("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		store, err := incident.NewPostgresStore(db)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	default:
		log.Warn("using in-memory incident store, incidents will not survive restarts")
		return incident.NewMemoryStore(), nil, nil
	}
}

// registerChannels wires the configured notification channels into the
// dispatcher. Unconfigured channels stay unregistered and report failures
// only when an escalation level actually routes to them.
func registerChannels(cfg *config.Config, d *notify.Dispatcher) {
	if cfg.Slack.WebhookURL != "" {
		d.Register(notify.NewSlackChannel(notify.ChannelSecuritySlack, cfg.Slack.WebhookURL))
	}

	email := notify.EmailConfig{
		SMTPHost:  cfg.SMTP.Host,
		SMTPPort:  cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		FromEmail: cfg.SMTP.FromEmail,
		FromName:  cfg.SMTP.FromName,
	}
	if cfg.SMTP.Host != "" {
		d.Register(notify.NewEmailChannel(notify.ChannelSecurityEmail, email, cfg.SMTP.SecurityTo))
		d.Register(notify.NewEmailChannel(notify.ChannelManagementEmail, email, cfg.SMTP.ManagerTo))
		d.Register(notify.NewEmailChannel(notify.ChannelExecutiveEmail, email, cfg.SMTP.ExecTo))
	}

	if cfg.PagerDutyKey != "" {
		d.Register(notify.NewPagerDutyChannel(cfg.PagerDutyKey))
	}
	if cfg.ReportingURL != "" {
		d.Register(notify.NewWebhookChannel(notify.ChannelExternalReporting, cfg.ReportingURL, cfg.ReportingKey))
	}
}

// redisPinger adapts go-redis's Ping to the health check interface.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
