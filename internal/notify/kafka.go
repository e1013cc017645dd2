package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"google.golang.org/protobuf/proto"
)

var _ port.Notifier = (*KafkaSink)(nil)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaSink appends every event to a topic as a protobuf Struct keyed by
// channel, so one channel's events stay ordered within a partition. A
// circuit breaker stops the engines from waiting on an unreachable broker.
type KafkaSink struct {
	writer  MessageWriter
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
	now     func() time.Time
}

func NewKafkaSink(w MessageWriter, log *slog.Logger) *KafkaSink {
	if log == nil {
		log = slog.Default()
	}
	s := &KafkaSink{writer: w, log: log.With(slog.String("component", "kafka")), now: time.Now}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-events",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return s
}

func (s *KafkaSink) Notify(ctx context.Context, channel domain.Channel, event string, payload map[string]any) error {
	msg, err := NewEnvelope(channel, event, payload, s.now()).Proto()
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", event, err)
	}
	value, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka: marshal %s: %w", event, err)
	}
	_, err = s.breaker.Execute(func() (any, error) {
		return nil, s.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(channel),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(event)},
			},
		})
	})
	if err != nil {
		return fmt.Errorf("kafka: publish %s: %w", event, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
