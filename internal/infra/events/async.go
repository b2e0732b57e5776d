package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/adapter"
	"crm-licensing/internal/infra/logging"
	"crm-licensing/internal/infra/metrics"
	"crm-licensing/internal/infra/worker"
)

// AsyncPublisher hands events to a worker pool so broker latency stays off
// the request path. Publish reports only whether the event was queued.
type AsyncPublisher struct {
	inner   adapter.EventPublisher
	pool    *worker.Pool
	timeout time.Duration
	log     *zerolog.Logger
}

var _ adapter.EventPublisher = (*AsyncPublisher)(nil)

func NewAsyncPublisher(inner adapter.EventPublisher, pool *worker.Pool, timeout time.Duration, logger *zerolog.Logger) *AsyncPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncPublisher{inner: inner, pool: pool, timeout: timeout, log: logging.Component(logger, "async_publisher")}
}

func (a *AsyncPublisher) Publish(ctx context.Context, ev model.DomainEvent) error {
	err := a.pool.Submit(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		if err := a.inner.Publish(ctx, ev); err != nil {
			metrics.IncEventPublished(ev.Type, "dropped")
			return fmt.Errorf("publish %s %s: %w", ev.Type, ev.ID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue event %s: %w", ev.ID, err)
	}
	return nil
}

// Close drains queued events, then closes the inner publisher.
func (a *AsyncPublisher) Close() error {
	a.pool.Stop()
	return a.inner.Close()
}
