package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/upb/repairdesk-core/models"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit entries as JSON, keyed by organization so one
// tenant's entries stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaSink creates a sink writing to topic on brokers
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info("audit kafka sink initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic))

	return &KafkaSink{writer: writer, logger: logger}
}

// Name identifies the sink in metrics
func (k *KafkaSink) Name() string {
	return "kafka"
}

// Publish writes one entry
func (k *KafkaSink) Publish(ctx context.Context, entry *models.AuditLog) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}

	key := "platform"
	if entry.OrganizationID != nil {
		key = entry.OrganizationID.String()
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  entry.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
			{Key: "outcome", Value: []byte(entry.Outcome)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

// Close flushes pending messages
func (k *KafkaSink) Close() error {
	if err := k.writer.Close(); err != nil {
		k.logger.Error("failed to close audit kafka sink", zap.Error(err))
		return err
	}
	return nil
}
