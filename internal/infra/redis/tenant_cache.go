package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/adapter"
)

var _ adapter.TenantStateCache = (*TenantStateCache)(nil)

// TenantStateCache stores the per-tenant subscription projection as JSON.
type TenantStateCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewTenantStateCache(client RedisClient, ttl time.Duration) *TenantStateCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TenantStateCache{client: client, ttl: ttl}
}

// generations outlive any cached entry; a lost counter only resets fills in flight
const tenantGenTTL = 24 * time.Hour

func tenantStateKey(tenantID int64) string {
	return fmt.Sprintf("tenant_state:%d", tenantID)
}

func tenantGenKey(tenantID int64) string {
	return fmt.Sprintf("tenant_state_gen:%d", tenantID)
}

func (c *TenantStateCache) Get(ctx context.Context, tenantID int64) (*model.TenantState, bool, error) {
	val, err := c.client.Get(ctx, tenantStateKey(tenantID))
	if errors.Is(err, Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var st model.TenantState
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		// a corrupt entry is treated as a miss and overwritten on the next fill
		return nil, false, nil
	}
	return &st, true, nil
}

func (c *TenantStateCache) Generation(ctx context.Context, tenantID int64) (uint64, error) {
	val, err := c.client.Get(ctx, tenantGenKey(tenantID))
	if errors.Is(err, Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(val, 10, 64)
}

func (c *TenantStateCache) Set(ctx context.Context, st *model.TenantState, gen uint64) (bool, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return false, err
	}
	return c.client.SetIfEquals(ctx, tenantGenKey(st.TenantID), strconv.FormatUint(gen, 10), tenantStateKey(st.TenantID), string(b), c.ttl)
}

// Invalidate bumps the generation before deleting, so a fill racing this
// call either fails its guard or is removed by the delete.
func (c *TenantStateCache) Invalidate(ctx context.Context, tenantID int64) error {
	gk := tenantGenKey(tenantID)
	if _, err := c.client.Incr(ctx, gk); err != nil {
		return err
	}
	if err := c.client.Expire(ctx, gk, tenantGenTTL); err != nil {
		return err
	}
	return c.client.Del(ctx, tenantStateKey(tenantID))
}
