package events

import (
	"context"

	"github.com/rs/zerolog"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*LogPublisher)(nil)

// LogPublisher writes events to the structured log. Used when no broker is configured.
type LogPublisher struct {
	log *zerolog.Logger
}

func NewLogPublisher(logger *zerolog.Logger) *LogPublisher {
	l := logger.With().Str("component", "events").Logger()
	return &LogPublisher{log: &l}
}

func (p *LogPublisher) Publish(_ context.Context, ev model.DomainEvent) error {
	p.log.Info().
		Str("event_id", ev.ID).
		Str("event_type", ev.Type).
		Int64("tenant_id", ev.TenantID).
		Time("occurred_at", ev.OccurredAt).
		Interface("payload", ev.Payload).
		Msg("domain event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
