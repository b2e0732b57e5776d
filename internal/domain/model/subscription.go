package model

import (
	"fmt"
	"sort"
	"time"

	"crm-licensing/internal/domain"
)

type SubscriptionStatus string

const (
	// SubscriptionStatusNone is the state before a tenant has any subscription.
	SubscriptionStatusNone      SubscriptionStatus = ""
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// IsLive reports whether the status still occupies the tenant's single subscription slot.
func (s SubscriptionStatus) IsLive() bool {
	switch s {
	case SubscriptionStatusPending, SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusSuspended:
		return true
	}
	return false
}

func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusExpired || s == SubscriptionStatusCancelled
}

// GrantsAccess reports whether the status entitles the tenant to its tier's modules.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == SubscriptionStatusTrial || s == SubscriptionStatusActive
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentFailed  PaymentStatus = "failed"
)

type ActivationMethod string

const (
	ActivationAPI     ActivationMethod = "api"
	ActivationManual  ActivationMethod = "manual"
	ActivationStripe  ActivationMethod = "stripe"
	ActivationViaCode ActivationMethod = "code"
)

func (m ActivationMethod) Valid() bool {
	switch m {
	case ActivationAPI, ActivationManual, ActivationStripe, ActivationViaCode:
		return true
	}
	return false
}

// LifecycleEvent is an input to the subscription state machine.
type LifecycleEvent string

const (
	EventActivated        LifecycleEvent = "activated"
	EventTrialStarted     LifecycleEvent = "trial_started"
	EventCheckoutOpened   LifecycleEvent = "checkout_opened"
	EventPaymentSucceeded LifecycleEvent = "payment_succeeded"
	EventPaymentFailed    LifecycleEvent = "payment_failed"
	EventTrialEnded       LifecycleEvent = "trial_ended"
	EventTermEnded        LifecycleEvent = "term_ended"
	EventGraceElapsed     LifecycleEvent = "grace_elapsed"
	EventExtended         LifecycleEvent = "extended"
	EventCancelled        LifecycleEvent = "cancelled"
)

type transitionKey struct {
	From  SubscriptionStatus
	Event LifecycleEvent
}

// transitions is the complete table of legal moves. Anything absent is rejected.
var transitions = map[transitionKey]SubscriptionStatus{
	{SubscriptionStatusNone, EventActivated}:        SubscriptionStatusActive,
	{SubscriptionStatusNone, EventTrialStarted}:     SubscriptionStatusTrial,
	{SubscriptionStatusNone, EventCheckoutOpened}:   SubscriptionStatusPending,
	{SubscriptionStatusNone, EventPaymentSucceeded}: SubscriptionStatusActive,

	{SubscriptionStatusPending, EventPaymentSucceeded}: SubscriptionStatusActive,
	{SubscriptionStatusPending, EventPaymentFailed}:    SubscriptionStatusPending,
	{SubscriptionStatusPending, EventCancelled}:        SubscriptionStatusCancelled,

	{SubscriptionStatusTrial, EventPaymentSucceeded}: SubscriptionStatusActive,
	{SubscriptionStatusTrial, EventPaymentFailed}:    SubscriptionStatusTrial,
	{SubscriptionStatusTrial, EventTrialEnded}:       SubscriptionStatusExpired,
	{SubscriptionStatusTrial, EventCancelled}:        SubscriptionStatusCancelled,

	{SubscriptionStatusActive, EventPaymentSucceeded}: SubscriptionStatusActive, // renewal
	{SubscriptionStatusActive, EventPaymentFailed}:    SubscriptionStatusActive, // still inside grace
	{SubscriptionStatusActive, EventGraceElapsed}:     SubscriptionStatusSuspended,
	{SubscriptionStatusActive, EventTermEnded}:        SubscriptionStatusExpired,
	{SubscriptionStatusActive, EventExtended}:         SubscriptionStatusActive,
	{SubscriptionStatusActive, EventCancelled}:        SubscriptionStatusCancelled,

	{SubscriptionStatusSuspended, EventPaymentSucceeded}: SubscriptionStatusActive,
	{SubscriptionStatusSuspended, EventPaymentFailed}:    SubscriptionStatusSuspended,
	{SubscriptionStatusSuspended, EventCancelled}:        SubscriptionStatusCancelled,
}

// Transition is the single authority on subscription state changes.
func Transition(from SubscriptionStatus, ev LifecycleEvent) (SubscriptionStatus, error) {
	to, ok := transitions[transitionKey{from, ev}]
	if !ok {
		return from, fmt.Errorf("%s on %q: %w", ev, from, domain.ErrInvalidTransition)
	}
	return to, nil
}

// EventsFrom lists the events accepted in the given state, sorted.
func EventsFrom(from SubscriptionStatus) []LifecycleEvent {
	out := make([]LifecycleEvent, 0, 4)
	for k := range transitions {
		if k.From == from {
			out = append(out, k.Event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Subscription is one tenant's tier subscription. History rows are kept after they end.
type Subscription struct {
	ID               string
	TenantID         int64
	TierID           string
	StartAt          time.Time
	EndAt            *time.Time // nil for lifetime
	Status           SubscriptionStatus
	PaymentStatus    PaymentStatus
	ActivationMethod ActivationMethod
	AutoRenew        bool
	Source           string
	ProofPath        string
	Note             string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Apply runs ev through Transition and updates Status on success.
// The previous status is returned for event emission.
func (s *Subscription) Apply(ev LifecycleEvent, now time.Time) (SubscriptionStatus, error) {
	prev := s.Status
	next, err := Transition(prev, ev)
	if err != nil {
		return prev, err
	}
	s.Status = next
	s.UpdatedAt = now
	return prev, nil
}

// Ended reports whether the current term is over at now.
func (s *Subscription) Ended(now time.Time) bool {
	return s.EndAt != nil && !now.Before(*s.EndAt)
}

// GrantsAccessAt reports whether the subscription unlocks its tier at now.
// Auto-renewing active terms keep access through the grace period.
func (s *Subscription) GrantsAccessAt(now time.Time, grace time.Duration) bool {
	return s != nil && StateOf(s.TenantID, s).GrantsAccessAt(now, grace)
}

// Extend pushes the end date by d, counting from the later of the current end and now.
func (s *Subscription) Extend(d Duration, now time.Time) {
	if d.IsLifetime() {
		s.EndAt = nil
		return
	}
	from := now
	if s.EndAt != nil && s.EndAt.After(now) {
		from = *s.EndAt
	}
	s.EndAt = d.EndFrom(from)
}

// Clone returns a deep copy so stores never share pointers with callers.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndAt != nil {
		end := *s.EndAt
		c.EndAt = &end
	}
	return &c
}

// SubscriptionTransition describes one applied state change.
type SubscriptionTransition struct {
	SubscriptionID string
	TenantID       int64
	TierID         string
	From           SubscriptionStatus
	To             SubscriptionStatus
	Event          LifecycleEvent
	At             time.Time
}
