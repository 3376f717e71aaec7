package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/rl1809/order-service/internal/core/domain"
)

const eventTypeHeader = "event-type"

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

// KafkaPublisher writes order-placed events as JSON, keyed by order number
// so every event for an order lands on the same partition.
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, event domain.OrderPlacedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %w", domain.ErrPublish, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(event.OrderNumber),
		Value: payload,
		Headers: injectHeaders(ctx, []kafka.Header{
			{Key: eventTypeHeader, Value: []byte(domain.OrderPlacedEventType)},
		}),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func injectHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
