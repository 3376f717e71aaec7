package port

import (
	"context"

	"github.com/rl1809/order-service/internal/core/domain"
)

type EventPublisher interface {
	// Publish delivers the event to the topic at least once, best effort
	Publish(ctx context.Context, topic string, event domain.OrderPlacedEvent) error
}
