package adapter

import (
	"context"
	"time"

	"crm-licensing/internal/domain/model"
)

// TenantStateCache caches the projection EntitlementResolver reads per tenant.
//
// Fills are guarded by a per-tenant generation: read Generation before the
// store, then Set with that value. Invalidate bumps the generation, so a fill
// that read the store before a transition committed is discarded.
type TenantStateCache interface {
	// Get reports found=false on a miss; errors are cache failures, never misses.
	Get(ctx context.Context, tenantID int64) (st *model.TenantState, found bool, err error)
	Generation(ctx context.Context, tenantID int64) (uint64, error)
	// Set stores st only while the tenant's generation still equals gen.
	// stored=false means an invalidation won the race.
	Set(ctx context.Context, st *model.TenantState, gen uint64) (stored bool, err error)
	Invalidate(ctx context.Context, tenantID int64) error
}

// Locker guards work that must run on one replica at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
