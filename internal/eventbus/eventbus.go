// Package eventbus implements the event bus: a durable
// producer over Kafka and consumer groups with at-least-once delivery,
// per-key ordering, and commit-after-success semantics, serving the eight
// named topics this system needs.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/routecore/platform/internal/config"

	"github.com/segmentio/kafka-go"
)

// Topic names published and consumed across the platform.
const (
	TopicBookingCreated   = "booking.created"
	TopicBookingConfirmed = "booking.confirmed"
	TopicBookingCancelled = "booking.cancelled"
	TopicBookingCompleted = "booking.completed"
	TopicPaymentSuccess   = "payment.success"
	TopicPaymentFailed    = "payment.failed"
	TopicTripCompleted    = "trip.completed"
	TopicTicketIssued     = "ticket.issued"
)

// Event is the envelope published to every topic.
type Event struct {
	Type      string                 `json:"type"`
	Key       string                 `json:"key"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// Producer publishes events durably — WriteMessages does not return until
// the broker has acknowledged the write: publishing enqueues an event
// durably before returning.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Producer. Messages are partitioned by a hash of
// their key (kafka.Hash balancer), so events sharing a key keep their
// order, and each write waits for all in-sync replicas to acknowledge it.
func NewProducer(cfg *config.KafkaConfig) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{writer: writer}
}

// Publish sends one event to topic, keyed by key, for per-key ordering.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload map[string]interface{}) error {
	event := Event{Type: topic, Key: key, Payload: payload, Timestamp: time.Now().UTC()}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", topic, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: body,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler processes one consumed event. Returning an error leaves the
// offset uncommitted: Run reports the error and hands the same event to the
// handler again after one second, until it succeeds or ctx is cancelled —
// handlers must be idempotent, typically via internal/idempotency.
type Handler func(ctx context.Context, event Event) error

// ConsumerGroup wraps a kafka.Reader configured with GroupID so multiple
// process instances share partitions and each event is delivered to each
// group at least once.
type ConsumerGroup struct {
	reader  *kafka.Reader
	handler Handler
	topic   string
}

// NewConsumerGroup creates a ConsumerGroup for one topic.
func NewConsumerGroup(cfg *config.KafkaConfig, topic string, handler Handler) *ConsumerGroup {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &ConsumerGroup{reader: reader, handler: handler, topic: topic}
}

// Run blocks consuming messages until ctx is cancelled or a fatal read
// error occurs. Offsets commit only after the handler returns nil —
// FetchMessage + explicit CommitMessages (rather than ReadMessage, which
// auto-commits) is what gives commit-after-success semantics.
func (c *ConsumerGroup) Run(ctx context.Context, onHandlerError func(topic string, err error)) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch message from %s: %w", c.topic, err)
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			if onHandlerError != nil {
				onHandlerError(c.topic, fmt.Errorf("failed to decode event: %w", err))
			}
			continue
		}

		for {
			err := c.handler(ctx, event)
			if err == nil {
				break
			}
			if onHandlerError != nil {
				onHandlerError(c.topic, err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if onHandlerError != nil {
				onHandlerError(c.topic, fmt.Errorf("failed to commit offset: %w", err))
			}
		}
	}
}

// Close releases the reader's connections.
func (c *ConsumerGroup) Close() error {
	return c.reader.Close()
}
