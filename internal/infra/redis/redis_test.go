//go:build !integration

package redis

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
)

// fakeRedis is a map-backed RedisClient; expirations are recorded, not enforced.
type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	expires map[string]time.Duration
	GetErr  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, expires: map[string]time.Duration{}}
}

func (f *fakeRedis) Ping(ctx context.Context) error { return nil }

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, exp time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	default:
		return errors.New("unsupported value type")
	}
	f.expires[key] = exp
	return nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	if f.GetErr != nil {
		return "", f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", Nil
	}
	return v, nil
}

func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := strconv.ParseInt(f.data[key], 10, 64)
	n++
	f.data[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (f *fakeRedis) Expire(ctx context.Context, key string, exp time.Duration) error {
	f.mu.Lock()
	f.expires[key] = exp
	f.mu.Unlock()
	return nil
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	f.expires[key] = exp
	return true, nil
}

func (f *fakeRedis) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[key] != value {
		return false, nil
	}
	delete(f.data, key)
	return true, nil
}

func (f *fakeRedis) SetIfEquals(ctx context.Context, guardKey, guardValue, key string, value interface{}, exp time.Duration) (bool, error) {
	f.mu.Lock()
	g, ok := f.data[guardKey]
	f.mu.Unlock()
	if !ok {
		g = "0"
	}
	if g != guardValue {
		return false, nil
	}
	return true, f.Set(ctx, key, value, exp)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	l := NewLocker(fr)

	tok, err := l.TryLock(ctx, "lock:sweep", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, fr.expires["lock:sweep"])

	_, err = l.TryLock(ctx, "lock:sweep", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	// a stale token must not release someone else's lock
	require.NoError(t, l.Unlock(ctx, "lock:sweep", "not-the-token"))
	_, err = l.TryLock(ctx, "lock:sweep", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	require.NoError(t, l.Unlock(ctx, "lock:sweep", tok))
	_, err = l.TryLock(ctx, "lock:sweep", time.Minute)
	assert.NoError(t, err)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	rl := NewRateLimiter(fr)
	key := TenantActionKey(7, "purchase")
	assert.Equal(t, "rate_limit:7:purchase", key)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, fr.expires[key])
}

func TestTenantStateCache(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	c := NewTenantStateCache(fr, time.Hour)

	_, found, err := c.Get(ctx, 9)
	require.NoError(t, err)
	assert.False(t, found)

	end := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	gen, err := c.Generation(ctx, 9)
	require.NoError(t, err)
	stored, err := c.Set(ctx, &model.TenantState{TenantID: 9, TierID: "pro", Status: model.SubscriptionStatusActive, EndAt: &end}, gen)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, time.Hour, fr.expires["tenant_state:9"])

	st, found, err := c.Get(ctx, 9)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "pro", st.TierID)
	assert.True(t, st.EndAt.Equal(end))

	require.NoError(t, c.Invalidate(ctx, 9))
	_, found, err = c.Get(ctx, 9)
	require.NoError(t, err)
	assert.False(t, found)

	fr.data["tenant_state:10"] = "{not json"
	_, found, err = c.Get(ctx, 10)
	require.NoError(t, err)
	assert.False(t, found)

	fr.GetErr = errors.New("connection refused")
	_, _, err = c.Get(ctx, 9)
	assert.Error(t, err)
}

func TestTenantStateCache_FillAfterInvalidateIsDropped(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	c := NewTenantStateCache(fr, time.Hour)

	gen, err := c.Generation(ctx, 11)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, 11))
	assert.Equal(t, tenantGenTTL, fr.expires["tenant_state_gen:11"])

	stored, err := c.Set(ctx, &model.TenantState{TenantID: 11}, gen)
	require.NoError(t, err)
	assert.False(t, stored)
	_, found, err := c.Get(ctx, 11)
	require.NoError(t, err)
	assert.False(t, found)

	gen, err = c.Generation(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
	stored, err = c.Set(ctx, &model.TenantState{TenantID: 11, TierID: "pro", Status: model.SubscriptionStatusActive}, gen)
	require.NoError(t, err)
	assert.True(t, stored)
}
