//go:build integration

package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
)

func seedTier(t *testing.T, name string) *model.Tier {
	t.Helper()
	reps := int64(5)
	tier, err := model.NewTier("", name, 4900, model.Duration{Amount: 30, Unit: model.DurationDays},
		[]model.Module{model.ModuleCRMCore, model.ModuleLeadManagement}, model.Limits{MaxSalesReps: &reps})
	require.NoError(t, err)
	require.NoError(t, NewTierRepo(testPool).Save(context.Background(), nil, tier))
	return tier
}

func issueActivation(t *testing.T, tm *TxManager, tierID, code string) *model.ActivationCode {
	t.Helper()
	ac := &model.ActivationCode{Code: code, TierID: tierID, Status: model.CodeActive, Source: "admin"}
	err := tm.WithTx(context.Background(), pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := NewIssuedCodeRepo(testPool).Reserve(ctx, tx, code, model.CodeKindActivation); err != nil {
			return err
		}
		return NewActivationCodeRepo(testPool).Create(ctx, tx, ac)
	})
	require.NoError(t, err)
	return ac
}

func TestIssuedCodeRepo_Integration(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewIssuedCodeRepo(testPool)
	tm := NewTxManager(testPool)

	require.NoError(t, repo.Reserve(ctx, nil, "AAAA-BBBB", model.CodeKindActivation))
	assert.ErrorIs(t, repo.Reserve(ctx, nil, "AAAA-BBBB", model.CodeKindDiscount), domain.ErrCodeAlreadyExists)

	// a collision must not poison the surrounding transaction
	err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := repo.Reserve(ctx, tx, "AAAA-BBBB", model.CodeKindDiscount); err != domain.ErrCodeAlreadyExists {
			t.Errorf("expected collision, got %v", err)
		}
		return repo.Reserve(ctx, tx, "CCCC-DDDD", model.CodeKindDiscount)
	})
	require.NoError(t, err)

	got, err := repo.Existing(ctx, nil, []string{"AAAA-BBBB", "CCCC-DDDD", "EEEE-FFFF"})
	require.NoError(t, err)
	assert.Equal(t, map[string]model.CodeKind{
		"AAAA-BBBB": model.CodeKindActivation,
		"CCCC-DDDD": model.CodeKindDiscount,
	}, got)
}

func TestActivationCodeRepo_Integration(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	tm := NewTxManager(testPool)
	repo := NewActivationCodeRepo(testPool)
	tier := seedTier(t, "Pro")
	ac := issueActivation(t, tm, tier.ID, "PRO1-0001")

	found, err := repo.FindByCode(ctx, nil, "PRO1-0001")
	require.NoError(t, err)
	assert.Equal(t, tier.ID, found.TierID)
	assert.Nil(t, found.UsedAt)

	_, err = repo.FindByCode(ctx, nil, "MISSING")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	t.Run("only one concurrent MarkUsed wins", func(t *testing.T) {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(tenant int64) {
				defer wg.Done()
				ok, err := repo.MarkUsed(ctx, nil, ac.ID, tenant, time.Now())
				if err != nil {
					t.Errorf("MarkUsed: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}(int64(100 + i))
		}
		wg.Wait()
		assert.EqualValues(t, 1, wins.Load())

		used, err := repo.FindByCode(ctx, nil, "PRO1-0001")
		require.NoError(t, err)
		require.NotNil(t, used.UsedAt)
		require.NotNil(t, used.RedeemedByTenant)
	})

	t.Run("status and listing", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, nil, "PRO1-0001", model.CodeInactive))
		assert.ErrorIs(t, repo.UpdateStatus(ctx, nil, "MISSING", model.CodeInactive), domain.ErrNotFound)

		issueActivation(t, tm, tier.ID, "PRO1-0002")
		list, err := repo.ListByTier(ctx, nil, tier.ID, 0, 0)
		require.NoError(t, err)
		assert.Len(t, list, 2)
		page, err := repo.ListByTier(ctx, nil, tier.ID, 1, 1)
		require.NoError(t, err)
		assert.Len(t, page, 1)
	})
}

func TestDiscountCodeRepo_Integration(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewDiscountCodeRepo(testPool)
	issued := NewIssuedCodeRepo(testPool)
	tier := seedTier(t, "Pro")

	create := func(code string, usage model.UsageType, max int) *model.DiscountCode {
		require.NoError(t, issued.Reserve(ctx, nil, code, model.CodeKindDiscount))
		dc := &model.DiscountCode{
			Code: code, TierID: tier.ID, Status: model.CodeActive, Source: "admin",
			DiscountPercentage: 20, UsageType: usage, MaxUses: max,
		}
		require.NoError(t, repo.Create(ctx, nil, dc))
		return dc
	}

	hammer := func(id string, n int) int32 {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.IncrementUsage(ctx, nil, id, time.Now())
				if err != nil {
					t.Errorf("IncrementUsage: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		return wins.Load()
	}

	once := create("ONCE-0001", model.UsageOneTime, 0)
	multi := create("MULT-0001", model.UsageMultiUse, 3)
	free := create("FREE-0001", model.UsageUnlimited, 0)

	assert.EqualValues(t, 1, hammer(once.ID, 10))
	assert.EqualValues(t, 3, hammer(multi.ID, 10))
	assert.EqualValues(t, 10, hammer(free.ID, 10))

	got, err := repo.FindByCode(ctx, nil, "MULT-0001")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TimesUsed)
	assert.True(t, got.Exhausted())

	require.NoError(t, repo.UpdateStatus(ctx, nil, "FREE-0001", model.CodeInactive))
	list, err := repo.ListByTier(ctx, nil, tier.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
