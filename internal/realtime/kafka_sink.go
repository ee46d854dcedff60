package realtime

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink is a Subscriber that republishes every event to a Kafka topic.
// The writer is asynchronous, so Deliver only enqueues; broker errors are
// reported through the completion callback and logged.
type KafkaSink struct {
	writer messageWriter
	topic  string
	closed atomic.Bool
}

// Compile-time check.
var _ Subscriber = (*KafkaSink)(nil)

// NewKafkaSink creates a sink publishing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka publish failed", "topic", topic, "messages", len(messages), "error", err)
			}
		},
	}
	logger.Info("kafka sink created", "brokers", brokers, "topic", topic)
	return &KafkaSink{writer: w, topic: topic}
}

func (s *KafkaSink) ID() string { return "kafka:" + s.topic }

// Deliver enqueues msg on the async writer.
func (s *KafkaSink) Deliver(msg []byte) error {
	if s.closed.Load() {
		return ErrSubscriberClosed
	}
	return s.writer.WriteMessages(context.Background(), kafka.Message{Value: msg})
}

// Close flushes pending messages and closes the writer.
func (s *KafkaSink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.writer.Close()
}
