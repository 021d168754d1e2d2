// Package kafka publishes catalog change events
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/metrics"
)

// SchemaVersion is stamped on every message header.
const SchemaVersion = "1.0"

// MessageWriter is the part of kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles Kafka event emission
type Producer struct {
	writer MessageWriter
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string      `mapstructure:"KAFKA_BROKERS"`
	Topic        string        `mapstructure:"KAFKA_TOPIC"`
	BatchSize    int           `mapstructure:"KAFKA_BATCH_SIZE"`
	BatchTimeout time.Duration `mapstructure:"KAFKA_BATCH_TIMEOUT"`
	RequiredAcks int           `mapstructure:"KAFKA_REQUIRED_ACKS"`
	Compression  string        `mapstructure:"KAFKA_COMPRESSION"`
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
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
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

// NewProducerWithWriter creates a producer over an existing writer.
func NewProducerWithWriter(writer MessageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Topic returns the topic messages are written to.
func (p *Producer) Topic() string {
	return p.topic
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// EntityEvent describes a change to one unified building.
type EntityEvent struct {
	EventType     string          `json:"event_type"`
	EntityID      string          `json:"entity_id"`
	Name          string          `json:"name,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	SourceRecords []string        `json:"source_records,omitempty"`
	ChangedFields []string        `json:"changed_fields,omitempty"`
	Policy        string          `json:"policy,omitempty"`
	Added         int             `json:"added_apartments"`
	Fingerprint   string          `json:"fingerprint"`
	Timestamp     time.Time       `json:"timestamp"`
}

// CollapseEvent describes duplicate source records folded into one.
type CollapseEvent struct {
	EventType   string    `json:"event_type"`
	Source      string    `json:"source"`
	CanonicalID string    `json:"canonical_id"`
	RemovedIDs  []string  `json:"removed_ids"`
	Timestamp   time.Time `json:"timestamp"`
}

// PublishEntityEvent publishes an entity event keyed by entity id, so every
// event for one building lands on the same partition.
func (p *Producer) PublishEntityEvent(ctx context.Context, event *EntityEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishEntityEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := p.message(ctx, event.EntityID, event.EventType, data)
	if err := p.write(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("event_type", event.EventType).Error("Failed to publish entity event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"entity_id":  event.EntityID,
	}).Debug("Published entity event")

	return nil
}

// PublishCollapseEvent publishes a collapse event keyed by the surviving record id.
func (p *Producer) PublishCollapseEvent(ctx context.Context, event *CollapseEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishCollapseEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := p.message(ctx, event.Source+"/"+event.CanonicalID, event.EventType, data)
	if err := p.write(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish collapse event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"source":       event.Source,
		"canonical_id": event.CanonicalID,
		"removed":      len(event.RemovedIDs),
	}).Debug("Published collapse event")

	return nil
}

// PublishEntityEvents publishes multiple entity events in a batch
func (p *Producer) PublishEntityEvents(ctx context.Context, events []*EntityEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishEntityEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		messages[i] = p.message(ctx, event.EntityID, event.EventType, data)
	}

	if err := p.write(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish entity events batch")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published entity events batch")

	return nil
}

func (p *Producer) message(ctx context.Context, key, eventType string, value []byte) kafka.Message {
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "schema_version", Value: []byte(SchemaVersion)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier{Message: &msg})
	return msg
}

func (p *Producer) write(ctx context.Context, msgs ...kafka.Message) error {
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		metrics.RecordKafkaPublish(p.topic, "error")
		return err
	}
	metrics.RecordKafkaPublish(p.topic, "ok")
	return nil
}

// HeaderCarrier adapts message headers to an otel TextMapCarrier.
type HeaderCarrier struct {
	Message *kafka.Message
}

func (c HeaderCarrier) Get(key string) string {
	for _, h := range c.Message.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c HeaderCarrier) Set(key, value string) {
	for i, h := range c.Message.Headers {
		if h.Key == key {
			c.Message.Headers[i].Value = []byte(value)
			return
		}
	}
	c.Message.Headers = append(c.Message.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, len(c.Message.Headers))
	for i, h := range c.Message.Headers {
		keys[i] = h.Key
	}
	return keys
}
