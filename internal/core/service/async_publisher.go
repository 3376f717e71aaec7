package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-service/internal/core/domain"
	"github.com/rl1809/order-service/internal/port"
)

var (
	ErrQueueFull       = errors.New("notification queue full")
	ErrPublisherClosed = errors.New("notification publisher closed")
)

type publishJob struct {
	topic  string
	event  domain.OrderPlacedEvent
	span   trace.SpanContext
	queued time.Time
}

// AsyncPublisher hands events to a pool of workers so that callers never
// wait on the broker. Events still queued when the process dies are lost.
type AsyncPublisher struct {
	next    port.EventPublisher
	queue   chan publishJob
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncPublisher(next port.EventPublisher, queueSize int, timeout time.Duration, logger *zap.Logger) *AsyncPublisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncPublisher{
		next:    next,
		queue:   make(chan publishJob, queueSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Start launches the worker pool.
func (p *AsyncPublisher) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(id)
		}(i)
	}
	p.logger.Info("started notification workers", zap.Int("workers", workers))
}

// Publish enqueues the event and returns immediately.
func (p *AsyncPublisher) Publish(ctx context.Context, topic string, event domain.OrderPlacedEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("%w: %w", domain.ErrPublish, ErrPublisherClosed)
	}

	job := publishJob{
		topic:  topic,
		event:  event,
		span:   trace.SpanContextFromContext(ctx),
		queued: time.Now(),
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return fmt.Errorf("%w: %w", domain.ErrPublish, ErrQueueFull)
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *AsyncPublisher) workerLoop(id int) {
	for job := range p.queue {
		ctx := trace.ContextWithSpanContext(context.Background(), job.span)
		ctx, cancel := context.WithTimeout(ctx, p.timeout)

		if err := p.next.Publish(ctx, job.topic, job.event); err != nil {
			p.logger.Error("failed to publish order notification",
				zap.Int("worker", id),
				zap.String("order_number", job.event.OrderNumber),
				zap.String("topic", job.topic),
				zap.Error(err),
			)
		} else {
			p.logger.Debug("published order notification",
				zap.Int("worker", id),
				zap.String("order_number", job.event.OrderNumber),
				zap.Duration("queued_for", time.Since(job.queued)),
			)
		}

		cancel()
	}
}
