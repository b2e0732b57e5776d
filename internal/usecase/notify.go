package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/adapter"
	"crm-licensing/internal/infra/metrics"
)

// TenantInvalidator drops cached entitlement state for a tenant.
type TenantInvalidator interface {
	Invalidate(ctx context.Context, tenantID int64) error
}

// outbox collects side effects produced inside a transaction. They are
// flushed only after commit so a rolled-back redemption never announces itself.
type outbox struct {
	events      []model.DomainEvent
	transitions []model.SubscriptionTransition
	tenants     map[int64]struct{}
}

func newOutbox() *outbox {
	return &outbox{tenants: make(map[int64]struct{})}
}

func (o *outbox) add(ev model.DomainEvent) {
	o.events = append(o.events, ev)
}

func (o *outbox) transition(t model.SubscriptionTransition) {
	o.transitions = append(o.transitions, t)
	o.add(model.NewTransitionEvent(t))
	o.tenants[t.TenantID] = struct{}{}
}

// reset discards everything collected by a failed attempt.
func (o *outbox) reset() {
	o.events = o.events[:0]
	o.transitions = o.transitions[:0]
	for k := range o.tenants {
		delete(o.tenants, k)
	}
}

type notifier struct {
	pub adapter.EventPublisher
	inv TenantInvalidator
	log *zerolog.Logger
}

func (n *notifier) flush(ctx context.Context, ob *outbox) {
	// invalidation must not be skipped because the request context was cancelled after commit
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	for _, t := range ob.transitions {
		metrics.IncTransition(string(t.From), string(t.To))
	}
	if n.inv != nil {
		for tenantID := range ob.tenants {
			if err := n.inv.Invalidate(bg, tenantID); err != nil {
				n.log.Error().Err(err).Int64("tenant_id", tenantID).Msg("failed to invalidate entitlement cache")
			}
		}
	}
	if n.pub == nil {
		return
	}
	for _, ev := range ob.events {
		if err := n.pub.Publish(bg, ev); err != nil {
			metrics.IncEventPublished(ev.Type, "failed")
			n.log.Error().Err(err).Str("event_type", ev.Type).Str("event_id", ev.ID).Msg("failed to publish domain event")
			continue
		}
		metrics.IncEventPublished(ev.Type, "ok")
	}
}
