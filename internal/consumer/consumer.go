// Package consumer ingests security events from Kafka and feeds them to the
// engine.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/pam-platform/reliability/internal/config"
	"github.com/pam-platform/reliability/internal/engine"
	"github.com/pam-platform/reliability/internal/event"
	"github.com/pam-platform/reliability/pkg/logger"
)

// Consumer polls the events topic and runs each event through the engine.
type Consumer struct {
	cfg    config.KafkaConfig
	client *kgo.Client
	engine *engine.Engine
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	eventsConsumed   atomic.Uint64
	incidentsCreated atomic.Uint64
	parseErrors      atomic.Uint64
	errors           atomic.Uint64
}

// New creates a consumer for the configured events topic.
func New(cfg config.KafkaConfig, eng *engine.Engine, log *logger.Logger) (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.EventsTopic),
		kgo.FetchMaxWait(500 * time.Millisecond),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.DisableAutoCommit(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		cfg:    cfg,
		client: client,
		engine: eng,
		log:    log.Component("consumer"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the poll loop.
func (c *Consumer) Start() {
	c.log.Info("kafka consumer started",
		"brokers", c.cfg.Brokers,
		"topic", c.cfg.EventsTopic,
		"group", c.cfg.GroupID,
	)
	c.wg.Add(1)
	go c.run()
}

// Stop shuts the consumer down and waits for the poll loop to exit.
func (c *Consumer) Stop() {
	c.cancel()
	c.wg.Wait()
	c.client.Close()
	c.log.Info("kafka consumer stopped",
		"events_consumed", c.eventsConsumed.Load(),
		"incidents_created", c.incidentsCreated.Load(),
		"parse_errors", c.parseErrors.Load(),
		"errors", c.errors.Load(),
	)
}

func (c *Consumer) run() {
	defer c.wg.Done()

	for {
		fetches := c.client.PollRecords(c.ctx, 256)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}
		if err := fetches.Err(); err != nil {
			if c.ctx.Err() == nil {
				c.log.Error("fetch error", "error", err.Error())
				c.errors.Add(1)
			}
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			c.eventsConsumed.Add(1)
			c.handleRecord(record)
		})

		if err := c.client.CommitUncommittedOffsets(c.ctx); err != nil && c.ctx.Err() == nil {
			c.log.Error("failed to commit offsets", "error", err.Error())
			c.errors.Add(1)
		}
	}
}

func (c *Consumer) handleRecord(record *kgo.Record) {
	var ev event.SecurityEvent
	if err := json.Unmarshal(record.Value, &ev); err != nil {
		c.parseErrors.Add(1)
		c.log.Warn("failed to parse security event",
			"error", err.Error(),
			"partition", record.Partition,
			"offset", record.Offset,
		)
		return
	}

	inc, err := c.engine.ProcessEvent(c.ctx, ev)
	if err != nil {
		c.errors.Add(1)
		c.log.Error("event processing failed",
			"event_id", ev.EventID,
			"error", err.Error(),
		)
		return
	}
	if inc != nil {
		c.incidentsCreated.Add(1)
	}
}

// Stats reports consumer counters.
type Stats struct {
	EventsConsumed   uint64 `json:"events_consumed"`
	IncidentsCreated uint64 `json:"incidents_created"`
	ParseErrors      uint64 `json:"parse_errors"`
	Errors           uint64 `json:"errors"`
}

// Stats returns the current counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		EventsConsumed:   c.eventsConsumed.Load(),
		IncidentsCreated: c.incidentsCreated.Load(),
		ParseErrors:      c.parseErrors.Load(),
		Errors:           c.errors.Load(),
	}
}
