package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	EventTypeCodeRedeemed           = "code.redeemed"
	EventTypeSubscriptionTransition = "subscription.transitioned"
)

// DomainEvent is published after the transaction that produced it commits.
type DomainEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TenantID   int64          `json:"tenant_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

func newEvent(typ string, tenantID int64, at time.Time, payload map[string]any) DomainEvent {
	return DomainEvent{
		ID:         ulid.Make().String(),
		Type:       typ,
		TenantID:   tenantID,
		OccurredAt: at.UTC(),
		Payload:    payload,
	}
}

// NewCodeRedeemedEvent carries {tenantId, tierId, trialDays, source: "code"} for activation codes,
// and the discount percentage for discount codes.
func NewCodeRedeemedEvent(r *RedemptionResult, at time.Time) DomainEvent {
	p := map[string]any{
		"code":       r.Code,
		"kind":       string(r.Kind),
		"tier_id":    r.TierID,
		"trial_days": r.TrialDays,
		"source":     string(ActivationViaCode),
	}
	if r.Kind == CodeKindDiscount {
		p["discount_percentage"] = r.DiscountPercentage
	}
	if r.SubscriptionID != "" {
		p["subscription_id"] = r.SubscriptionID
	}
	return newEvent(EventTypeCodeRedeemed, r.TenantID, at, p)
}

func NewTransitionEvent(t SubscriptionTransition) DomainEvent {
	return newEvent(EventTypeSubscriptionTransition, t.TenantID, t.At, map[string]any{
		"subscription_id": t.SubscriptionID,
		"tier_id":         t.TierID,
		"from":            string(t.From),
		"to":              string(t.To),
		"event":           string(t.Event),
	})
}
