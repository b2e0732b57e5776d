//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
)

func newSub(tenantID int64, tierID string, status model.SubscriptionStatus, end *time.Time) *model.Subscription {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.Subscription{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		TierID:           tierID,
		StartAt:          now,
		EndAt:            end,
		Status:           status,
		PaymentStatus:    model.PaymentPaid,
		ActivationMethod: model.ActivationAPI,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestTierRepo_Integration(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewTierRepo(testPool)
	tier := seedTier(t, "Pro")

	got, err := repo.FindByID(ctx, nil, tier.ID)
	require.NoError(t, err)
	assert.Equal(t, tier.Modules, got.Modules)
	require.NotNil(t, got.Limits.MaxSalesReps)
	assert.Equal(t, int64(5), *got.Limits.MaxSalesReps)
	assert.Nil(t, got.Limits.MaxContacts)
	assert.Equal(t, model.Duration{Amount: 30, Unit: model.DurationDays}, got.Duration)

	tier.Price = 5900
	tier.Status = model.TierInactive
	require.NoError(t, repo.Save(ctx, nil, tier))
	got, err = repo.FindByID(ctx, nil, tier.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5900), got.Price)
	assert.Equal(t, model.TierInactive, got.Status)

	clash, err := model.NewTier("", "PRO", 1, model.Duration{Unit: model.DurationLifetime}, nil, model.Limits{})
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Save(ctx, nil, clash), domain.ErrAlreadyExists)

	_, err = repo.FindByID(ctx, nil, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := repo.ListAll(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSubscriptionRepo_Integration(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewSubscriptionRepo(testPool)
	tier := seedTier(t, "Pro")
	end := time.Now().Add(30 * 24 * time.Hour)

	live := newSub(1, tier.ID, model.SubscriptionStatusActive, &end)
	require.NoError(t, repo.Save(ctx, nil, live))

	t.Run("one live subscription per tenant", func(t *testing.T) {
		assert.ErrorIs(t, repo.Save(ctx, nil, newSub(1, tier.ID, model.SubscriptionStatusPending, nil)), domain.ErrAlreadyExists)
		require.NoError(t, repo.Save(ctx, nil, newSub(1, tier.ID, model.SubscriptionStatusExpired, &end)))

		got, err := repo.FindLiveByTenant(ctx, nil, 1)
		require.NoError(t, err)
		assert.Equal(t, live.ID, got.ID)

		_, err = repo.FindLiveByTenant(ctx, nil, 2)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		hist, err := repo.ListByTenant(ctx, nil, 1)
		require.NoError(t, err)
		assert.Len(t, hist, 2)

		paid, err := repo.HasPaidHistory(ctx, nil, 1)
		require.NoError(t, err)
		assert.True(t, paid)
		paid, err = repo.HasPaidHistory(ctx, nil, 2)
		require.NoError(t, err)
		assert.False(t, paid)
	})

	t.Run("due subscriptions", func(t *testing.T) {
		now := time.Now()
		past := now.Add(-time.Hour)
		longAgo := now.Add(-72 * time.Hour)

		trial := newSub(10, tier.ID, model.SubscriptionStatusTrial, &past)
		plain := newSub(11, tier.ID, model.SubscriptionStatusActive, &past)
		inGrace := newSub(12, tier.ID, model.SubscriptionStatusActive, &past)
		inGrace.AutoRenew = true
		graceOver := newSub(13, tier.ID, model.SubscriptionStatusActive, &longAgo)
		graceOver.AutoRenew = true
		lifetime := newSub(14, tier.ID, model.SubscriptionStatusActive, nil)
		for _, s := range []*model.Subscription{trial, plain, inGrace, graceOver, lifetime} {
			require.NoError(t, repo.Save(ctx, nil, s))
		}

		due, err := repo.ListDue(ctx, nil, now, 48*time.Hour, 10)
		require.NoError(t, err)
		ids := make([]string, 0, len(due))
		for _, s := range due {
			ids = append(ids, s.ID)
		}
		assert.ElementsMatch(t, []string{trial.ID, plain.ID, graceOver.ID}, ids)
	})

	t.Run("tenant lock needs a transaction", func(t *testing.T) {
		assert.ErrorIs(t, repo.LockTenant(ctx, nil, 1), domain.ErrInvalidExecContext)
	})

	t.Run("tenant lock serializes writers", func(t *testing.T) {
		tm := NewTxManager(testPool)
		var (
			mu     sync.Mutex
			inside int
			peak   int
			wg     sync.WaitGroup
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
					if err := repo.LockTenant(ctx, tx, 42); err != nil {
						return err
					}
					mu.Lock()
					inside++
					if inside > peak {
						peak = inside
					}
					mu.Unlock()
					time.Sleep(20 * time.Millisecond)
					mu.Lock()
					inside--
					mu.Unlock()
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, peak)
	})
}

func TestInvoiceRepo_Integration(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	tier := seedTier(t, "Pro")
	sub := newSub(7, tier.ID, model.SubscriptionStatusPending, nil)
	require.NoError(t, NewSubscriptionRepo(testPool).Save(ctx, nil, sub))
	repo := NewInvoiceRepo(testPool)

	now := time.Now().UTC()
	first := model.NewInvoice(sub, 4900, model.InvoicePending, now)
	require.NoError(t, repo.Save(ctx, nil, first))

	got, err := repo.FindPendingBySubscription(ctx, nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	first.Status = model.InvoiceSuccessful
	require.NoError(t, repo.Save(ctx, nil, first))
	_, err = repo.FindPendingBySubscription(ctx, nil, sub.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	second := model.NewInvoice(sub, 4900, model.InvoiceFailed, now.Add(time.Minute))
	require.NoError(t, repo.Save(ctx, nil, second))
	list, err := repo.ListByTenant(ctx, nil, 7, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest invoice number first")
}

func TestTxManager_RollsBack(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	tm := NewTxManager(testPool)
	issued := NewIssuedCodeRepo(testPool)

	err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := issued.Reserve(ctx, tx, "ROLL-BACK", model.CodeKindActivation); err != nil {
			return err
		}
		return domain.ErrOperationFailed
	})
	assert.ErrorIs(t, err, domain.ErrOperationFailed)

	got, err := issued.Existing(ctx, nil, []string{"ROLL-BACK"})
	require.NoError(t, err)
	assert.Empty(t, got)
}
