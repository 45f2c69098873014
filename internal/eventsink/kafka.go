package eventsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/wolfeidau/ding/internal/models"
)

const defaultWriteTimeout = 5 * time.Second

var ErrKafkaNotConfigured = errors.New("eventsink: kafka brokers and topic are required")

// Kafka writes events as JSON to a topic, keyed by session ID so every event for a session
// lands on the same partition in order. Writes are asynchronous; delivery failures are
// logged from the writer's completion hook.
type Kafka struct {
	writer       *kafka.Writer
	writeTimeout time.Duration
}

var _ Sink = (*Kafka)(nil)

// NewKafka creates the writer. Call Close when shutting down.
func NewKafka(brokers []string, topic string, logger zerolog.Logger) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, ErrKafkaNotConfigured
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn().Err(err).Int("messages", len(messages)).Str("topic", topic).Msg("kafka write failed")
			}
		},
	}

	return &Kafka{writer: writer, writeTimeout: defaultWriteTimeout}, nil
}

// Emit queues the event on the writer. The timeout only bounds the enqueue.
func (k *Kafka) Emit(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventsink: failed to marshal event: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, k.writeTimeout)
	defer cancel()

	err = k.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("eventsink: kafka write failed: %w", err)
	}

	return nil
}

// Close flushes pending writes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
