package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/straye-as/pipeline-engine/internal/auth"
	"github.com/straye-as/pipeline-engine/internal/config"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"go.uber.org/zap"
)

// WorkflowEvent is the message handed to the workflow engine
type WorkflowEvent struct {
	ID         uuid.UUID         `json:"id"`
	Event      string            `json:"event"`
	TenantID   string            `json:"tenant_id,omitempty"`
	EntityType domain.EntityType `json:"entity_type"`
	EntityID   uuid.UUID         `json:"entity_id"`
	ActorID    *uuid.UUID        `json:"actor_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
}

// NewWorkflowEvent builds an event for an entity, taking tenant and actor from the context
func NewWorkflowEvent(ctx context.Context, ref domain.EntityRef, eventName string, payload interface{}) (*WorkflowEvent, error) {
	evt := &WorkflowEvent{
		ID:         uuid.New(),
		Event:      eventName,
		EntityType: ref.Type,
		EntityID:   ref.ID,
		ActorID:    auth.ActorFromContext(ctx),
		OccurredAt: time.Now().UTC(),
	}
	if tenantID, ok := auth.TenantFromContext(ctx); ok {
		evt.TenantID = tenantID.String()
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal workflow payload: %w", err)
		}
		evt.Payload = raw
	}
	return evt, nil
}

// MessageWriter is the subset of *kafka.Writer used by the publisher
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes workflow triggers to a Kafka topic
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher backed by a kafka.Writer
func NewKafkaPublisher(cfg *config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeoutDuration(),
		WriteTimeout:           cfg.WriteTimeoutDuration(),
		MaxAttempts:            cfg.MaxAttempts,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Async:                  cfg.Async,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisherWithWriter(writer, cfg.Topic, logger)
}

// NewKafkaPublisherWithWriter creates a publisher over any MessageWriter
func NewKafkaPublisherWithWriter(writer MessageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// Trigger publishes one workflow event keyed by tenant and entity so events
// for the same entity stay ordered within a partition
func (p *KafkaPublisher) Trigger(ctx context.Context, ref domain.EntityRef, eventName string, payload interface{}) error {
	evt, err := NewWorkflowEvent(ctx, ref, eventName, payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow event: %w", err)
	}

	key := fmt.Sprintf("%s:%s", evt.TenantID, evt.EntityID)
	headers := []kafka.Header{
		{Key: "event", Value: []byte(evt.Event)},
		{Key: "entity_type", Value: []byte(evt.EntityType)},
		{Key: "tenant_id", Value: []byte(evt.TenantID)},
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}); err != nil {
		return fmt.Errorf("failed to publish %s to topic %s: %w", eventName, p.topic, err)
	}

	p.logger.Debug("workflow event published",
		zap.String("event", eventName),
		zap.String("entity_type", string(ref.Type)),
		zap.String("entity_id", ref.ID.String()),
	)
	return nil
}

// Close flushes and closes the underlying writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogTrigger records workflow triggers in the log when no broker is configured
type LogTrigger struct {
	logger *zap.Logger
}

func NewLogTrigger(logger *zap.Logger) *LogTrigger {
	return &LogTrigger{logger: logger}
}

func (l *LogTrigger) Trigger(ctx context.Context, ref domain.EntityRef, eventName string, payload interface{}) error {
	l.logger.Info("workflow trigger",
		zap.String("event", eventName),
		zap.String("entity_type", string(ref.Type)),
		zap.String("entity_id", ref.ID.String()),
		zap.Any("payload", payload),
	)
	return nil
}
