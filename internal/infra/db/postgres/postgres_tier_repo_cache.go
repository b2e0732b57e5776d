package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
	"crm-licensing/internal/infra/metrics"
	red "crm-licensing/internal/infra/redis"
)

var _ repository.TierRepository = (*tierRepoCacheDecorator)(nil)

const tierListKey = "tiers:all"

func tierKey(id string) string { return fmt.Sprintf("tier:%s", id) }

// tierRepoCacheDecorator serves tier reads from Redis. Reads inside a
// transaction bypass the cache so they see uncommitted writes.
type tierRepoCacheDecorator struct {
	inner repository.TierRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewTierRepoCacheDecorator(inner repository.TierRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.TierRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "tier_cache").Logger()
	return &tierRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func (d *tierRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Tier, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := tierKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var tier model.Tier
		if json.Unmarshal([]byte(val), &tier) == nil {
			metrics.IncCacheRequest("tier", "hit")
			return &tier, nil
		}
	} else if !errors.Is(err, red.Nil) {
		d.log.Warn().Err(err).Str("key", key).Msg("tier cache read failed")
	}

	metrics.IncCacheRequest("tier", "miss")
	tier, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(tier); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("key", key).Msg("tier cache write failed")
		}
	}
	return tier, nil
}

func (d *tierRepoCacheDecorator) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Tier, error) {
	if tx != nil {
		return d.inner.ListAll(ctx, tx)
	}
	val, err := d.cache.Get(ctx, tierListKey)
	if err == nil {
		var tiers []*model.Tier
		if json.Unmarshal([]byte(val), &tiers) == nil {
			metrics.IncCacheRequest("tier_list", "hit")
			return tiers, nil
		}
	} else if !errors.Is(err, red.Nil) {
		d.log.Warn().Err(err).Msg("tier list cache read failed")
	}

	metrics.IncCacheRequest("tier_list", "miss")
	tiers, err := d.inner.ListAll(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(tiers) > 0 {
		if b, err := json.Marshal(tiers); err == nil {
			if err := d.cache.Set(ctx, tierListKey, b, d.ttl); err != nil {
				d.log.Warn().Err(err).Msg("tier list cache write failed")
			}
		}
	}
	return tiers, nil
}

// Save drops the tier and list keys on both sides of the write.
func (d *tierRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, tier *model.Tier) error {
	d.invalidate(ctx, tier.ID)
	if err := d.inner.Save(ctx, tx, tier); err != nil {
		return err
	}
	d.invalidate(ctx, tier.ID)
	return nil
}

func (d *tierRepoCacheDecorator) invalidate(ctx context.Context, id string) {
	if err := d.cache.Del(ctx, tierKey(id), tierListKey); err != nil {
		d.log.Warn().Err(err).Str("tier_id", id).Msg("tier cache invalidation failed")
	}
}
