package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/pam-platform/reliability/internal/config"
	"github.com/pam-platform/reliability/internal/incident"
	"github.com/pam-platform/reliability/pkg/logger"
)

// Publisher produces created incidents to the incidents topic.
type Publisher struct {
	client *kgo.Client
	topic  string
	log    *logger.Logger
}

// NewPublisher creates a Kafka incident publisher.
func NewPublisher(cfg config.KafkaConfig, log *logger.Logger) (*Publisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.IncidentTopic),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Publisher{
		client: client,
		topic:  cfg.IncidentTopic,
		log:    log.Component("publisher"),
	}, nil
}

// PublishIncident implements engine.Publisher.
func (p *Publisher) PublishIncident(ctx context.Context, inc *incident.Incident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("failed to marshal incident: %w", err)
	}

	record := &kgo.Record{
		Key:   []byte(inc.IncidentID),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(inc.Category)},
			{Key: "severity", Value: []byte(inc.Severity)},
			{Key: "escalation_level", Value: []byte(inc.EscalationLevel.String())},
		},
	}

	results := p.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce incident %s: %w", inc.IncidentID, err)
	}

	p.log.Debug("incident published",
		"incident_id", inc.IncidentID,
		"topic", p.topic,
	)
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() {
	p.client.Close()
}
