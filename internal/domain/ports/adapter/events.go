package adapter

import (
	"context"

	"crm-licensing/internal/domain/model"
)

// EventPublisher is the port for outbound domain events.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.DomainEvent) error
	Close() error
}
