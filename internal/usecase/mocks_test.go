//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/adapter"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// testClock is a settable time source shared by every use case in a harness.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// --- MockEventPublisher ---

var _ adapter.EventPublisher = (*MockEventPublisher)(nil)

type MockEventPublisher struct {
	mu          sync.Mutex
	events      []model.DomainEvent
	PublishFunc func(ctx context.Context, ev model.DomainEvent) error
}

func (m *MockEventPublisher) Publish(ctx context.Context, ev model.DomainEvent) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, ev); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *MockEventPublisher) Close() error { return nil }

func (m *MockEventPublisher) OfType(typ string) []model.DomainEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DomainEvent
	for _, ev := range m.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// --- MockProofStore ---

var _ adapter.ProofStore = (*MockProofStore)(nil)

type MockProofStore struct {
	PutFunc func(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

func (m *MockProofStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, key, r, size, contentType)
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return "proofs/" + key, nil
}

// --- MockTenantStateCache ---

var _ adapter.TenantStateCache = (*MockTenantStateCache)(nil)

type MockTenantStateCache struct {
	GetFunc        func(ctx context.Context, tenantID int64) (*model.TenantState, bool, error)
	GenerationFunc func(ctx context.Context, tenantID int64) (uint64, error)
	SetFunc        func(ctx context.Context, st *model.TenantState, gen uint64) (bool, error)
	InvalidateFunc func(ctx context.Context, tenantID int64) error
}

func (m *MockTenantStateCache) Get(ctx context.Context, tenantID int64) (*model.TenantState, bool, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, tenantID)
	}
	return nil, false, nil
}

func (m *MockTenantStateCache) Generation(ctx context.Context, tenantID int64) (uint64, error) {
	if m.GenerationFunc != nil {
		return m.GenerationFunc(ctx, tenantID)
	}
	return 0, nil
}

func (m *MockTenantStateCache) Set(ctx context.Context, st *model.TenantState, gen uint64) (bool, error) {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, st, gen)
	}
	return true, nil
}

func (m *MockTenantStateCache) Invalidate(ctx context.Context, tenantID int64) error {
	if m.InvalidateFunc != nil {
		return m.InvalidateFunc(ctx, tenantID)
	}
	return nil
}
