package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Envelope is one record published to downstream consumers.
type Envelope struct {
	Kind    string    `json:"kind"` // event, conversion or form_interaction
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Forwarder publishes stored records to downstream consumers. Failures
// never affect the intake response.
type Forwarder interface {
	Forward(ctx context.Context, items []Envelope) error
}

// KafkaForwarder publishes envelopes to a Kafka topic, keyed by record ID.
type KafkaForwarder struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaForwarder creates an asynchronous writer for topic. Delivery
// errors are reported through logger.
func NewKafkaForwarder(brokers []string, topic string, logger *zap.Logger) *KafkaForwarder {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to write kafka messages",
					zap.Error(err),
					zap.Int("message_count", len(messages)),
				)
			}
		},
	}
	return &KafkaForwarder{writer: writer, logger: logger}
}

func (f *KafkaForwarder) Forward(ctx context.Context, items []Envelope) error {
	msgs, err := Messages(items)
	if err != nil {
		return err
	}
	if err := f.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}

// Messages encodes envelopes as Kafka messages.
func Messages(items []Envelope) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", it.Kind, it.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(it.ID),
			Value: b,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(it.Kind)},
			},
		})
	}
	return msgs, nil
}
