//go:build !integration

package usecase_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/usecase"
)

const day = 24 * time.Hour

func TestSubscriptionUseCase_Activate(t *testing.T) {
	ctx := context.Background()

	t.Run("manual activation bills the tier price", func(t *testing.T) {
		h := newHarness(t)
		pro := h.proTier(t)

		sub, err := h.lifecycle.Activate(ctx, usecase.ActivationInput{
			TenantID: 3, TierID: pro.ID, Method: model.ActivationManual, Source: "bank transfer", Note: "paid offline",
		})
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
		assert.Equal(t, model.PaymentPaid, sub.PaymentStatus)
		assert.Equal(t, "paid offline", sub.Note)

		invs, err := h.lifecycle.Invoices(ctx, 3, 10, 0)
		require.NoError(t, err)
		require.Len(t, invs, 1)
		assert.Equal(t, model.InvoiceSuccessful, invs[0].Status)
		assert.Equal(t, int64(4900), invs[0].Amount)
	})

	t.Run("code activation has no invoice", func(t *testing.T) {
		h := newHarness(t)
		pro := h.proTier(t)
		_, err := h.redemption.Redeem(ctx, h.activationCode(t, pro.ID, 0), 3)
		require.NoError(t, err)

		invs, err := h.lifecycle.Invoices(ctx, 3, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, invs)
	})

	t.Run("invalid input", func(t *testing.T) {
		h := newHarness(t)
		pro := h.proTier(t)
		cases := []usecase.ActivationInput{
			{TenantID: 0, TierID: pro.ID, Method: model.ActivationManual},
			{TenantID: 1, TierID: "", Method: model.ActivationManual},
			{TenantID: 1, TierID: pro.ID, Method: "carrier-pigeon"},
			{TenantID: 1, TierID: pro.ID, Method: model.ActivationManual, TrialDays: -1},
		}
		for _, in := range cases {
			_, err := h.lifecycle.Activate(ctx, in)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		}
		_, err := h.lifecycle.Activate(ctx, usecase.ActivationInput{TenantID: 1, TierID: "missing", Method: model.ActivationManual})
		assert.ErrorIs(t, err, domain.ErrTierNotFound)
	})

	t.Run("lifetime tier never ends", func(t *testing.T) {
		h := newHarness(t)
		life, err := h.tiers.Create(ctx, usecase.TierInput{
			Name: "Forever", Price: 99900,
			Duration: model.Duration{Unit: model.DurationLifetime},
			Modules:  []string{"crm_core", "api_access"},
		})
		require.NoError(t, err)

		sub, err := h.lifecycle.Activate(ctx, usecase.ActivationInput{TenantID: 4, TierID: life.ID, Method: model.ActivationAPI})
		require.NoError(t, err)
		assert.Nil(t, sub.EndAt)

		h.clock.Advance(10 * 365 * day)
		changed, err := h.lifecycle.Sweep(ctx, 100)
		require.NoError(t, err)
		assert.Zero(t, changed)
		ent, err := h.entitlements.Entitlements(ctx, 4)
		require.NoError(t, err)
		assert.True(t, ent.Has(model.ModuleAPIAccess))
	})
}

func TestSubscriptionUseCase_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("active past end without auto-renew expires", func(t *testing.T) {
		h := newHarness(t)
		pro := h.proTier(t)
		_, err := h.redemption.Redeem(ctx, h.activationCode(t, pro.ID, 0), 11)
		require.NoError(t, err)

		h.clock.Advance(29 * day)
		changed, err := h.lifecycle.Sweep(ctx, 100)
		require.NoError(t, err)
		assert.Zero(t, changed)

		h.clock.Advance(day)
		changed, err = h.lifecycle.Sweep(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, 1, changed)

		_, err = h.lifecycle.Current(ctx, 11)
		assert.ErrorIs(t, err, domain.ErrNoSubscription)
		history, err := h.lifecycle.History(ctx, 11)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, model.SubscriptionStatusExpired, history[0].Status)

		ent, err := h.entitlements.Entitlements(ctx, 11)
		require.NoError(t, err)
		assert.True(t, ent.Free)
		assert.Equal(t, testFreePlan.Modules, ent.Modules)
	})

	t.Run("trial past end expires", func(t *testing.T) {
		h := newHarness(t)
		pro := h.proTier(t)
		res, err := h.redemption.Redeem(ctx, h.activationCode(t, pro.ID, 7), 12)
		require.NoError(t, err)

		h.clock.Advance(7 * day)
		sub, err := h.lifecycle.Evaluate(ctx, res.SubscriptionID)
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionStatusExpired, sub.Status)
	})

	t.Run("auto-renew waits for the grace period then suspends", func(t *testing.T) {
		h := newHarness(t)
		pro := h.proTier(t)
		sub, err := h.lifecycle.Activate(ctx, usecase.ActivationInput{
			TenantID: 13, TierID: pro.ID, Method: model.ActivationAPI, AutoRenew: true,
		})
		require.NoError(t, err)

		h.clock.Advance(30*day + testGrace - time.Minute)
		_, err = h.lifecycle.Sweep(ctx, 100)
		require.NoError(t, err)
		cur, err := h.lifecycle.Current(ctx, 13)
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionStatusActive, cur.Status)

		// inside grace an auto-renewing tenant keeps its modules
		ent, err := h.entitlements.Entitlements(ctx, 13)
		require.NoError(t, err)
		assert.False(t, ent.Free)
		assert.True(t, ent.Has(model.ModuleLeadManagement))

		h.clock.Advance(time.Minute)
		// grace elapsed: access ends even before the sweeper runs
		ent, err = h.entitlements.Entitlements(ctx, 13)
		require.NoError(t, err)
		assert.True(t, ent.Free)

		changed, err := h.lifecycle.Sweep(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, 1, changed)
		cur, err = h.lifecycle.Current(ctx, 13)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, cur.ID)
		assert.Equal(t, model.SubscriptionStatusSuspended, cur.Status)
		assert.Equal(t, model.PaymentUnpaid, cur.PaymentStatus)
	})
}

func TestSubscriptionUseCase_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelled is terminal", func(t *testing.T) {
		h := newHarness(t)
		pro := h.proTier(t)
		res, err := h.redemption.Redeem(ctx, h.activationCode(t, pro.ID, 0), 21)
		require.NoError(t, err)

		sub, err := h.lifecycle.Cancel(ctx, 21, "customer request")
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionStatusCancelled, sub.Status)
		assert.False(t, sub.AutoRenew)

		_, err = h.lifecycle.CancelByID(ctx, res.SubscriptionID, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		h.clock.Advance(60 * day)
		changed, err := h.lifecycle.Sweep(ctx, 100)
		require.NoError(t, err)
		assert.Zero(t, changed)

		_, err = h.payments.HandleCallback(ctx, usecase.PaymentCallback{
			TenantID: 21, SubscriptionID: res.SubscriptionID, Outcome: usecase.PaymentSucceeded, Amount: 4900,
		})
		assert.ErrorIs(t, err, domain.ErrPaymentCallbackUnrecognized)

		history, err := h.lifecycle.History(ctx, 21)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, model.SubscriptionStatusCancelled, history[0].Status)

		ent, err := h.entitlements.Entitlements(ctx, 21)
		require.NoError(t, err)
		assert.True(t, ent.Free)
	})

	t.Run("nothing to cancel", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.lifecycle.Cancel(ctx, 22, "")
		assert.ErrorIs(t, err, domain.ErrNoSubscription)
	})

	t.Run("transitions are published", func(t *testing.T) {
		h := newHarness(t)
		pro := h.proTier(t)
		_, err := h.redemption.Redeem(ctx, h.activationCode(t, pro.ID, 0), 23)
		require.NoError(t, err)
		_, err = h.lifecycle.Cancel(ctx, 23, "")
		require.NoError(t, err)

		evs := h.events.OfType(model.EventTypeSubscriptionTransition)
		require.Len(t, evs, 2)
		assert.Equal(t, string(model.SubscriptionStatusActive), evs[1].Payload["from"])
		assert.Equal(t, string(model.SubscriptionStatusCancelled), evs[1].Payload["to"])
	})
}

func TestSubscriptionUseCase_AttachProof(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pro := h.proTier(t)
	sub, err := h.lifecycle.Activate(ctx, usecase.ActivationInput{TenantID: 31, TierID: pro.ID, Method: model.ActivationManual})
	require.NoError(t, err)

	got, err := h.lifecycle.AttachProof(ctx, sub.ID, "Receipt.PDF", strings.NewReader("%PDF-1.4"), 8, "application/pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.ProofPath, "proofs/tenants/31/subscriptions/"+sub.ID+"/"))
	assert.True(t, strings.HasSuffix(got.ProofPath, ".pdf"))

	_, err = h.lifecycle.AttachProof(ctx, "missing", "x.png", strings.NewReader("x"), 1, "image/png")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
