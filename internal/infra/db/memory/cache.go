package memory

import (
	"context"
	"sync"
	"time"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/adapter"
)

var _ adapter.TenantStateCache = (*TenantStateCache)(nil)

type cachedState struct {
	st      model.TenantState
	expires time.Time
}

// TenantStateCache is the in-process entitlement cache used when Redis is not
// configured. Entries expire after ttl even without an invalidation.
type TenantStateCache struct {
	mu      sync.RWMutex
	entries map[int64]cachedState
	gens    map[int64]uint64
	ttl     time.Duration
	now     func() time.Time
}

func NewTenantStateCache(ttl time.Duration) *TenantStateCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TenantStateCache{
		entries: make(map[int64]cachedState),
		gens:    make(map[int64]uint64),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *TenantStateCache) Get(_ context.Context, tenantID int64) (*model.TenantState, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return nil, false, nil
	}
	st := e.st
	if e.st.EndAt != nil {
		end := *e.st.EndAt
		st.EndAt = &end
	}
	return &st, true, nil
}

func (c *TenantStateCache) Generation(_ context.Context, tenantID int64) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[tenantID], nil
}

func (c *TenantStateCache) Set(_ context.Context, st *model.TenantState, gen uint64) (bool, error) {
	if st == nil {
		return false, nil
	}
	cp := *st
	if st.EndAt != nil {
		end := *st.EndAt
		cp.EndAt = &end
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[st.TenantID] != gen {
		return false, nil
	}
	c.entries[st.TenantID] = cachedState{st: cp, expires: c.now().Add(c.ttl)}
	return true, nil
}

func (c *TenantStateCache) Invalidate(_ context.Context, tenantID int64) error {
	c.mu.Lock()
	c.gens[tenantID]++
	delete(c.entries, tenantID)
	c.mu.Unlock()
	return nil
}

// Len is the number of entries, expired or not.
func (c *TenantStateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
