package events

import (
	"context"
	"fmt"
	"time"

	"appointly/internal/config"
	"appointly/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	kafkaWriteTimeout = 5 * time.Second
	// Handle writes one message synchronously on the transition path; the
	// writer must flush it right away instead of waiting for a batch.
	kafkaBatchSize    = 1
	kafkaBatchTimeout = 10 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards bus events to a topic keyed by booking id, so all
// events of one booking land on the same partition in order.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, logger *zerolog.Logger) *KafkaPublisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    kafkaBatchSize,
		BatchTimeout: kafkaBatchTimeout,
		WriteTimeout: kafkaWriteTimeout,
		Dialer:       &kafka.Dialer{ClientID: cfg.ClientID, Timeout: kafkaWriteTimeout},
	})
	return newKafkaPublisher(writer, logger)
}

func newKafkaPublisher(w messageWriter, logger *zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: kafkaWriteTimeout, logger: logger}
}

// Handle is an EventHandler.
func (p *KafkaPublisher) Handle(event *Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.BookingID()),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.ObserveEvent("kafka", false)
		return fmt.Errorf("failed to publish %s to kafka: %w", event.Type, err)
	}
	metrics.ObserveEvent("kafka", true)
	p.logger.Debug().Str("event_id", event.ID).Str("event_type", event.Type).Msg("event published to kafka")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
