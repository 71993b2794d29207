package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// Producer handles Kafka event and delivery command emission
type Producer struct {
	writer        *kafka.Writer
	logger        logging.Logger
	eventTopic    string
	deliveryTopic string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers       []string
	EventTopic    string
	DeliveryTopic string
	BatchSize     int
	BatchTimeout  time.Duration
	RequiredAcks  int
	Compression   string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger logging.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer:        writer,
		logger:        logger,
		eventTopic:    cfg.EventTopic,
		deliveryTopic: cfg.DeliveryTopic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishExecutionEvent publishes a journey execution lifecycle event
func (p *Producer) PublishExecutionEvent(ctx context.Context, event *ExecutionEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishExecutionEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.eventTopic,
		Key:   []byte(event.ExecutionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
			{Key: "journey_id", Value: []byte(event.JourneyID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish execution event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":   event.EventType,
		"execution_id": event.ExecutionID,
		"journey_id":   event.JourneyID,
	}).Debug("Published execution event")

	return nil
}

// PublishDeliveryCommand publishes an outbound message delivery command
func (p *Producer) PublishDeliveryCommand(ctx context.Context, cmd *DeliveryCommand) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishDeliveryCommand")
	defer span.End()

	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.deliveryTopic,
		Key:   []byte(cmd.ContactID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "channel", Value: []byte(cmd.Channel)},
			{Key: "tenant_id", Value: []byte(cmd.TenantID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish delivery command")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"channel":      cmd.Channel,
		"execution_id": cmd.ExecutionID,
		"step_id":      cmd.StepID,
	}).Debug("Published delivery command")

	return nil
}
