package resilience

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-service/internal/core/domain"
	"github.com/rl1809/order-service/internal/port"
)

const inventoryDependency = "inventory"

type Config struct {
	Timeout time.Duration
	Retry   RetryPolicy
	Breaker BreakerSettings
}

// InventoryClient guards the inventory oracle with a per-attempt timeout,
// bounded retries and a circuit breaker. The breaker sees one outcome per
// Check, after retries.
type InventoryClient struct {
	oracle  port.InventoryOracle
	breaker *CircuitBreaker
	retry   RetryPolicy
	timeout time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewInventoryClient(oracle port.InventoryOracle, cfg Config, logger *zap.Logger) *InventoryClient {
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = inventoryDependency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	logger = logger.With(zap.String("dependency", cfg.Breaker.Name))
	hook := cfg.Breaker.OnStateChange
	cfg.Breaker.OnStateChange = func(name string, from, to State) {
		logger.Warn("circuit breaker state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if hook != nil {
			hook(name, from, to)
		}
	}

	return &InventoryClient{
		oracle:  oracle,
		breaker: NewCircuitBreaker(cfg.Breaker),
		retry:   cfg.Retry,
		timeout: cfg.Timeout,
		logger:  logger,
		tracer:  otel.Tracer("order-service/resilience"),
	}
}

func (c *InventoryClient) Breaker() *CircuitBreaker { return c.breaker }

// Check asks the oracle about skus. Every failure path, including an open
// breaker, surfaces as domain.ErrInventoryUnavailable.
func (c *InventoryClient) Check(ctx context.Context, skus []string) (domain.Availability, error) {
	ctx, span := c.tracer.Start(ctx, "inventory.check", trace.WithAttributes(
		attribute.StringSlice("inventory.skus", skus),
		attribute.String("breaker.state", c.breaker.State().String()),
	))
	defer span.End()

	var availability domain.Availability
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retry.Do(ctx, func(ctx context.Context) error {
			a, err := WithTimeout(ctx, c.timeout, func(ctx context.Context) (domain.Availability, error) {
				return c.oracle.InStock(ctx, skus)
			})
			if err != nil {
				return err
			}
			availability = a
			return nil
		}, func(attempt int, err error, wait time.Duration) {
			c.logger.Warn("inventory check failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		})
	})
	if err != nil {
		c.logger.Error("inventory check unavailable",
			zap.Strings("skus", skus),
			zap.Stringer("breaker_state", c.breaker.State()),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "inventory unavailable")
		return nil, fmt.Errorf("%w: %w", domain.ErrInventoryUnavailable, err)
	}

	if availability == nil {
		availability = domain.Availability{}
	}
	span.SetAttributes(attribute.Int("inventory.answered", len(availability)))
	return availability, nil
}
