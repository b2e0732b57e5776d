package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/adapter"
	"crm-licensing/internal/domain/ports/repository"
	"crm-licensing/internal/infra/logging"
	"crm-licensing/internal/infra/metrics"
)

const tenantCacheName = "tenant_state"

// EntitlementUseCase resolves what a tenant may use right now. It never takes
// the tenant lock; the only write it performs is filling the cache.
type EntitlementUseCase struct {
	subs  repository.SubscriptionRepository
	tiers *TierUseCase
	cache adapter.TenantStateCache
	free  model.FreePlan
	grace time.Duration
	now   func() time.Time
	log   *zerolog.Logger
}

// NewEntitlementUseCase builds the resolver. cache may be nil.
func NewEntitlementUseCase(
	subs repository.SubscriptionRepository,
	tiers *TierUseCase,
	cache adapter.TenantStateCache,
	free model.FreePlan,
	logger *zerolog.Logger,
) *EntitlementUseCase {
	return &EntitlementUseCase{
		subs:  subs,
		tiers: tiers,
		cache: cache,
		free:  free,
		now:   time.Now,
		log:   logging.Component(logger, "entitlement_uc"),
	}
}

// WithGrace sets how long an auto-renewing active term keeps access past its end.
func (uc *EntitlementUseCase) WithGrace(grace time.Duration) *EntitlementUseCase {
	uc.grace = grace
	return uc
}

func (uc *EntitlementUseCase) WithClock(now func() time.Time) *EntitlementUseCase {
	uc.now = now
	return uc
}

// Entitlements returns the module set and limits of the tenant's live tier,
// or the free plan when the tenant has no subscription granting access.
func (uc *EntitlementUseCase) Entitlements(ctx context.Context, tenantID int64) (*model.Entitlements, error) {
	if tenantID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	st, err := uc.state(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	// the end date is checked here too: a cached trial may have run out before the sweeper saw it
	if !st.GrantsAccessAt(uc.now(), uc.grace) {
		return uc.free.For(tenantID), nil
	}

	tier, err := uc.tiers.Resolve(ctx, st.TierID)
	if errors.Is(err, domain.ErrTierNotFound) {
		logging.With(ctx, uc.log).Warn().Int64("tenant_id", tenantID).Str("tier_id", st.TierID).
			Msg("subscription references unknown tier, serving free plan")
		return uc.free.For(tenantID), nil
	}
	if err != nil {
		return nil, err
	}

	mods := make([]model.Module, len(tier.Modules))
	copy(mods, tier.Modules)
	return &model.Entitlements{
		TenantID: tenantID,
		TierID:   tier.TierID,
		Status:   st.Status,
		Modules:  mods,
		Limits:   tier.Limits,
		EndAt:    st.EndAt,
	}, nil
}

func (uc *EntitlementUseCase) HasModule(ctx context.Context, tenantID int64, module model.Module) (bool, error) {
	if !module.Valid() {
		return false, domain.ErrInvalidArgument
	}
	ent, err := uc.Entitlements(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return ent.Has(module), nil
}

// Invalidate drops the cached state for tenantID. The lifecycle calls it after
// every committed transition.
func (uc *EntitlementUseCase) Invalidate(ctx context.Context, tenantID int64) error {
	if uc.cache == nil {
		return nil
	}
	return uc.cache.Invalidate(ctx, tenantID)
}

func (uc *EntitlementUseCase) state(ctx context.Context, tenantID int64) (*model.TenantState, error) {
	fill := false
	var gen uint64
	if uc.cache != nil {
		st, found, err := uc.cache.Get(ctx, tenantID)
		switch {
		case err != nil:
			metrics.IncCacheRequest(tenantCacheName, "error")
			uc.log.Warn().Err(err).Int64("tenant_id", tenantID).Msg("tenant cache read failed")
		case found:
			metrics.IncCacheRequest(tenantCacheName, "hit")
			return st, nil
		default:
			metrics.IncCacheRequest(tenantCacheName, "miss")
		}
		// the generation must be read before the store
		if gen, err = uc.cache.Generation(ctx, tenantID); err == nil {
			fill = true
		}
	}

	live, err := uc.subs.FindLiveByTenant(ctx, repository.NoTX, tenantID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	st := model.StateOf(tenantID, live)
	if fill {
		stored, err := uc.cache.Set(ctx, st, gen)
		switch {
		case err != nil:
			uc.log.Warn().Err(err).Int64("tenant_id", tenantID).Msg("tenant cache write failed")
		case !stored:
			uc.log.Debug().Int64("tenant_id", tenantID).Msg("tenant cache fill superseded by invalidation")
		}
	}
	return st, nil
}
