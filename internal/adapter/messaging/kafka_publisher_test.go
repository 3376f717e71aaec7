package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/order-service/internal/core/domain"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublish_WritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	err := p.Publish(context.Background(), "orderServiceNotification", domain.OrderPlacedEvent{OrderNumber: "abc-123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "orderServiceNotification" || string(msg.Key) != "abc-123" {
		t.Errorf("unexpected topic/key %s/%s", msg.Topic, msg.Key)
	}

	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if event.OrderNumber != "abc-123" {
		t.Errorf("unexpected payload %s", msg.Value)
	}
	if header(msg, "event-type") != domain.OrderPlacedEventType {
		t.Errorf("missing event-type header")
	}
}

func TestPublish_PropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	w := &fakeWriter{}
	if err := NewKafkaPublisher(w).Publish(ctx, "t", domain.OrderPlacedEvent{OrderNumber: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if got := header(w.msgs[0], "traceparent"); got != want {
		t.Errorf("traceparent = %q, want %q", got, want)
	}
}

func TestPublish_WriterFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	err := NewKafkaPublisher(w).Publish(context.Background(), "t", domain.OrderPlacedEvent{OrderNumber: "a"})
	if !errors.Is(err, domain.ErrPublish) {
		t.Errorf("expected ErrPublish, got: %v", err)
	}
}

func TestClose_ClosesWriter(t *testing.T) {
	w := &fakeWriter{}
	NewKafkaPublisher(w).Close()
	if !w.closed {
		t.Error("writer not closed")
	}
}
