package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-service/internal/core/domain"
	"github.com/rl1809/order-service/internal/port"
)

const (
	DefaultNotificationTopic = "orderServiceNotification"
	confirmationMessage      = "Order placed successfully"
	idempotencyKeyPrefix     = "order:idempotency:"
)

// Recorder receives one observation per placement attempt.
type Recorder interface {
	ObservePlacement(outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObservePlacement(string, time.Duration) {}

type Config struct {
	Topic          string
	PublishTimeout time.Duration
}

type OrderService struct {
	store     port.OrderStore
	inventory port.InventoryChecker
	publisher port.EventPublisher
	guard     port.IdempotencyGuard
	recorder  Recorder
	logger    *zap.Logger
	tracer    trace.Tracer
	cfg       Config
	newNumber func() string
}

func NewOrderService(store port.OrderStore, inventory port.InventoryChecker, publisher port.EventPublisher, logger *zap.Logger, cfg Config) *OrderService {
	if cfg.Topic == "" {
		cfg.Topic = DefaultNotificationTopic
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = time.Second
	}
	return &OrderService{
		store:     store,
		inventory: inventory,
		publisher: publisher,
		recorder:  nopRecorder{},
		logger:    logger,
		tracer:    otel.Tracer("order-service/service"),
		cfg:       cfg,
		newNumber: uuid.NewString,
	}
}

// WithIdempotencyGuard makes requests carrying an idempotency key place at
// most one order per key.
func (s *OrderService) WithIdempotencyGuard(guard port.IdempotencyGuard) *OrderService {
	s.guard = guard
	return s
}

func (s *OrderService) WithRecorder(r Recorder) *OrderService {
	if r != nil {
		s.recorder = r
	}
	return s
}

// PlaceOrder validates the request, confirms stock for every distinct SKU,
// persists the order and announces it. The announcement never changes the
// outcome once the order is stored.
func (s *OrderService) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.Confirmation, error) {
	start := time.Now()
	// A placement runs to completion once started; only the inventory
	// timeout cancels work.
	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "order.place", trace.WithAttributes(
		attribute.Int("order.lines", len(req.Lines)),
	))
	defer span.End()

	conf, err := s.placeOrder(ctx, req)

	s.recorder.ObservePlacement(domain.Kind(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Kind(err))
		return domain.Confirmation{}, err
	}
	span.SetAttributes(
		attribute.String("order.number", conf.OrderNumber),
		attribute.Int64("order.id", conf.OrderID),
	)
	return conf, nil
}

func (s *OrderService) placeOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.Confirmation, error) {
	if err := req.Validate(); err != nil {
		return domain.Confirmation{}, err
	}

	release, err := s.claim(ctx, req.IdempotencyKey)
	if err != nil {
		return domain.Confirmation{}, err
	}

	conf, err := s.commit(ctx, req)
	if err != nil {
		release()
		return domain.Confirmation{}, err
	}
	return conf, nil
}

func (s *OrderService) commit(ctx context.Context, req domain.PlaceOrderRequest) (domain.Confirmation, error) {
	order, err := domain.NewOrder(s.newNumber(), req.Lines)
	if err != nil {
		return domain.Confirmation{}, err
	}
	logger := s.logger.With(zap.String("order_number", order.Number))

	skus := order.SKUSet()
	availability, err := s.inventory.Check(ctx, skus)
	if err != nil {
		logger.Warn("inventory check failed", zap.Error(err))
		if !errors.Is(err, domain.ErrInventoryUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrInventoryUnavailable, err)
		}
		return domain.Confirmation{}, err
	}

	unavailable, unconfirmed := availability.Confirm(skus)
	if len(unavailable) > 0 || len(unconfirmed) > 0 {
		logger.Info("order rejected, stock not confirmed",
			zap.Strings("unavailable", unavailable),
			zap.Strings("unconfirmed", unconfirmed),
		)
		return domain.Confirmation{}, &domain.OutOfStockError{Unavailable: unavailable, Unconfirmed: unconfirmed}
	}

	saved, err := s.store.Save(ctx, order)
	if err != nil {
		logger.Error("failed to save order", zap.Error(err))
		return domain.Confirmation{}, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	s.announce(ctx, logger, saved)

	logger.Info("order placed", zap.Int64("order_id", saved.ID), zap.Int("lines", len(saved.Lines)))
	return domain.Confirmation{
		OrderID:     saved.ID,
		OrderNumber: saved.Number,
		Message:     confirmationMessage,
	}, nil
}

// announce publishes the order-placed event. Failures are logged and dropped:
// the order is already committed.
func (s *OrderService) announce(ctx context.Context, logger *zap.Logger, order domain.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()

	event := domain.OrderPlacedEvent{OrderNumber: order.Number}
	if err := s.publisher.Publish(ctx, s.cfg.Topic, event); err != nil {
		if !errors.Is(err, domain.ErrPublish) {
			err = fmt.Errorf("%w: %w", domain.ErrPublish, err)
		}
		logger.Warn("order placed but notification not sent",
			zap.String("topic", s.cfg.Topic),
			zap.Error(err),
		)
	}
}

// claim reserves the idempotency key, if any. The returned func gives the key
// back so a failed placement can be retried.
func (s *OrderService) claim(ctx context.Context, key string) (func(), error) {
	if key == "" || s.guard == nil {
		return func() {}, nil
	}

	fullKey := idempotencyKeyPrefix + key
	ok, err := s.guard.SetIdempotency(ctx, fullKey)
	if err != nil {
		return nil, fmt.Errorf("%w: idempotency check: %w", domain.ErrPersistence, err)
	}
	if !ok {
		return nil, domain.ErrDuplicateRequest
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.guard.ReleaseIdempotency(ctx, fullKey); err != nil {
			s.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	order, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return orders, nil
}

func (s *OrderService) DeleteOrder(ctx context.Context, id int64) error {
	exists, err := s.store.ExistsByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if !exists {
		return domain.ErrNotFound
	}

	if err := s.store.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	s.logger.Info("order deleted", zap.Int64("order_id", id))
	return nil
}
