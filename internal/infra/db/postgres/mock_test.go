//go:build !integration

package postgres

import (
	"context"
	"time"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
	red "crm-licensing/internal/infra/redis"
)

// mockRedisClient mocks the Redis wrapper. Unset funcs behave like an empty cache.
type mockRedisClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", red.Nil
	}
	return m.GetFunc(ctx, key)
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}

func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}

func (m *mockRedisClient) Ping(ctx context.Context) error                      { return nil }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) { return 0, nil }
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) SetIfEquals(ctx context.Context, guardKey, guardValue, key string, value interface{}, expiration time.Duration) (bool, error) {
	return true, m.Set(ctx, key, value, expiration)
}
func (m *mockRedisClient) Close() error { return nil }

type mockInnerTierRepo struct {
	SaveFunc     func(ctx context.Context, tx repository.Tx, tier *model.Tier) error
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.Tier, error)
	ListAllFunc  func(ctx context.Context, tx repository.Tx) ([]*model.Tier, error)
}

var _ repository.TierRepository = &mockInnerTierRepo{}

func (m *mockInnerTierRepo) Save(ctx context.Context, tx repository.Tx, tier *model.Tier) error {
	return m.SaveFunc(ctx, tx, tier)
}

func (m *mockInnerTierRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Tier, error) {
	if m.FindByIDFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.FindByIDFunc(ctx, tx, id)
}

func (m *mockInnerTierRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Tier, error) {
	return m.ListAllFunc(ctx, tx)
}
