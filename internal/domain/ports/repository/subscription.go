package repository

import (
	"context"
	"time"

	"crm-licensing/internal/domain/model"
)

// SubscriptionRepository is the port for tenant subscriptions and their history.
type SubscriptionRepository interface {
	// LockTenant serializes lifecycle writes for one tenant until tx ends.
	// It must be called with a live transaction.
	LockTenant(ctx context.Context, tx Tx, tenantID int64) error
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	// FindLiveByTenant returns the tenant's pending/trial/active/suspended
	// subscription or domain.ErrNotFound.
	FindLiveByTenant(ctx context.Context, tx Tx, tenantID int64) (*model.Subscription, error)
	// ListByTenant returns the tenant's history, newest first.
	ListByTenant(ctx context.Context, tx Tx, tenantID int64) ([]*model.Subscription, error)
	// HasPaidHistory reports whether the tenant ever had a paid period.
	HasPaidHistory(ctx context.Context, tx Tx, tenantID int64) (bool, error)
	// ListDue returns subscriptions the sweeper must act on at now: trials past
	// their end, non-renewing terms past their end, and renewing terms past end+grace.
	ListDue(ctx context.Context, tx Tx, now time.Time, grace time.Duration, limit int) ([]*model.Subscription, error)
}
