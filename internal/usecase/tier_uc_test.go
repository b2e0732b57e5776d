//go:build !integration

package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/infra/db/memory"
	"crm-licensing/internal/usecase"
)

func TestTierUseCase(t *testing.T) {
	ctx := context.Background()
	uc := usecase.NewTierUseCase(memory.NewTierRepo(memory.NewStore()), newTestLogger())
	month := model.Duration{Amount: 1, Unit: model.DurationMonths}

	basic, err := uc.Create(ctx, usecase.TierInput{Name: "Basic", Price: 900, Duration: month, Modules: []string{"CRM_CORE"}})
	require.NoError(t, err)
	assert.Equal(t, []model.Module{model.ModuleCRMCore}, basic.Modules)
	assert.Equal(t, model.TierActive, basic.Status)
	assert.Equal(t, model.TierPublic, basic.Availability)

	t.Run("rejects invalid input", func(t *testing.T) {
		for name, in := range map[string]usecase.TierInput{
			"unknown module":   {Name: "X", Price: 1, Duration: month, Modules: []string{"teleport"}},
			"negative price":   {Name: "X", Price: -1, Duration: month},
			"missing name":     {Name: " ", Price: 1, Duration: month},
			"zero duration":    {Name: "X", Price: 1, Duration: model.Duration{Unit: model.DurationDays}},
			"bad availability": {Name: "X", Price: 1, Duration: month, Availability: "secret"},
		} {
			_, err := uc.Create(ctx, in)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument, name)
		}
	})

	t.Run("names are unique", func(t *testing.T) {
		_, err := uc.Create(ctx, usecase.TierInput{Name: "Basic", Price: 1, Duration: month})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("update replaces configuration", func(t *testing.T) {
		got, err := uc.Update(ctx, basic.ID, usecase.TierInput{
			Name: "Basic", Price: 1200, Duration: month, Modules: []string{"crm_core", "contact_management"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1200), got.Price)

		snap, err := uc.Resolve(ctx, basic.ID)
		require.NoError(t, err)
		assert.Equal(t, []model.Module{model.ModuleCRMCore, model.ModuleContactManagement}, snap.Modules)

		_, err = uc.Update(ctx, "missing", usecase.TierInput{Name: "Y", Price: 1, Duration: month})
		assert.ErrorIs(t, err, domain.ErrTierNotFound)
	})

	t.Run("inactive tiers resolve but are not purchasable", func(t *testing.T) {
		_, err := uc.SetStatus(ctx, basic.ID, model.TierInactive)
		require.NoError(t, err)

		_, err = uc.Resolve(ctx, basic.ID)
		require.NoError(t, err)
		_, err = uc.ResolvePurchasable(ctx, basic.ID)
		assert.ErrorIs(t, err, domain.ErrTierInactive)

		public, err := uc.ListPublic(ctx)
		require.NoError(t, err)
		assert.Empty(t, public)
		all, err := uc.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = uc.SetStatus(ctx, basic.ID, "deleted")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}
