//go:build !integration

package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/usecase"
)

func TestBuyTier_WithActivationCode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pro := h.proTier(t)
	code := h.activationCode(t, pro.ID, 0)

	res, err := h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 60, ActivationCode: code})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusActive, res.Subscription.Status)
	assert.Nil(t, res.Invoice)
	require.NotNil(t, res.Redemption)
	assert.Equal(t, model.CodeKindActivation, res.Redemption.Kind)
}

func TestBuyTier_DiscountCodeIsNotAnActivationCode(t *testing.T) {
	h := newHarness(t)
	pro := h.proTier(t)
	dc := h.discountCode(t, pro.ID, 50, model.UsageUnlimited, 0)

	_, err := h.purchase.BuyTier(context.Background(), usecase.PurchaseRequest{TenantID: 61, ActivationCode: dc})
	assert.ErrorIs(t, err, domain.ErrCodeNotFound)
}

func TestBuyTier_RejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pro := h.proTier(t)
	other, err := h.tiers.Create(ctx, usecase.TierInput{
		Name: "Team", Price: 1900,
		Duration: model.Duration{Amount: 1, Unit: model.DurationMonths},
		Modules:  []string{"crm_core", "task_management"},
	})
	require.NoError(t, err)

	code := h.activationCode(t, pro.ID, 0)
	dc := h.discountCode(t, pro.ID, 10, model.UsageOneTime, 0)

	t.Run("activation and discount together", func(t *testing.T) {
		_, err := h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 62, ActivationCode: code, DiscountCode: dc})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("activation code for another tier", func(t *testing.T) {
		_, err := h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 62, ActivationCode: code, TierID: other.ID})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		ac, err := h.codesRepo.FindByCode(ctx, nil, code)
		require.NoError(t, err)
		assert.Nil(t, ac.UsedAt)
	})

	t.Run("discount code for another tier", func(t *testing.T) {
		_, err := h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 62, TierID: other.ID, DiscountCode: dc})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		got, err := h.discountRepo.FindByCode(ctx, nil, dc)
		require.NoError(t, err)
		assert.Zero(t, got.TimesUsed)
	})

	t.Run("unknown discount code", func(t *testing.T) {
		_, err := h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 62, TierID: pro.ID, DiscountCode: "NOPE"})
		assert.ErrorIs(t, err, domain.ErrCodeNotFound)
	})

	t.Run("nothing to buy", func(t *testing.T) {
		_, err := h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 62})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("inactive tier", func(t *testing.T) {
		_, err := h.tiers.SetStatus(ctx, other.ID, model.TierInactive)
		require.NoError(t, err)
		_, err = h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 62, TierID: other.ID})
		assert.ErrorIs(t, err, domain.ErrTierInactive)
	})
}

func TestBuyTier_DiscountedCheckout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pro := h.proTier(t)
	dc := h.discountCode(t, pro.ID, 20, model.UsageOneTime, 0)

	res, err := h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 63, TierID: pro.ID, DiscountCode: dc})
	require.NoError(t, err)
	assert.Equal(t, int64(3920), res.AmountDue)
	assert.Equal(t, int64(3920), res.Invoice.Amount)
	assert.Equal(t, model.InvoicePending, res.Invoice.Status)
	require.NotNil(t, res.Redemption)
	assert.Equal(t, 20, res.Redemption.DiscountPercentage)

	_, err = h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 64, TierID: pro.ID, DiscountCode: dc})
	assert.ErrorIs(t, err, domain.ErrCodeUsageExceeded)

	paid, err := h.payments.HandleCallback(ctx, callback(63, res.Subscription.ID, usecase.PaymentSucceeded, 3920))
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusActive, paid.Subscription.Status)
}

func TestBuyTier_FullDiscountSettlesImmediately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pro := h.proTier(t)
	dc := h.discountCode(t, pro.ID, 100, model.UsageMultiUse, 5)

	res, err := h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 65, TierID: pro.ID, DiscountCode: dc})
	require.NoError(t, err)
	assert.Zero(t, res.AmountDue)
	assert.Equal(t, model.SubscriptionStatusActive, res.Subscription.Status)
	assert.Equal(t, model.InvoiceSuccessful, res.Invoice.Status)

	ent, err := h.entitlements.Entitlements(ctx, 65)
	require.NoError(t, err)
	assert.True(t, ent.Has(model.ModuleLeadManagement))
}

func TestBuyTier_RenewalCheckoutReusesLiveSubscription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pro := h.proTier(t)
	sub, err := h.lifecycle.Activate(ctx, usecase.ActivationInput{TenantID: 66, TierID: pro.ID, Method: model.ActivationAPI})
	require.NoError(t, err)

	first, err := h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 66, TierID: pro.ID})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, first.Subscription.ID)
	assert.Equal(t, model.SubscriptionStatusActive, first.Subscription.Status)

	second, err := h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 66, TierID: pro.ID})
	require.NoError(t, err)
	assert.NotEqual(t, first.Invoice.ID, second.Invoice.ID)

	invs, err := h.lifecycle.Invoices(ctx, 66, 10, 0)
	require.NoError(t, err)
	byID := make(map[string]model.InvoiceStatus, len(invs))
	for _, inv := range invs {
		byID[inv.ID] = inv.Status
	}
	assert.Equal(t, model.InvoiceFailed, byID[first.Invoice.ID])
	assert.Equal(t, model.InvoicePending, byID[second.Invoice.ID])
}

func TestBuyTier_PrivateTierIsPurchasableButNotListed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.proTier(t)
	vip, err := h.tiers.Create(ctx, usecase.TierInput{
		Name: "Partner", Price: 0,
		Duration:     model.Duration{Amount: 1, Unit: model.DurationYears},
		Modules:      []string{"crm_core", "api_access"},
		Availability: model.TierPrivate,
	})
	require.NoError(t, err)

	public, err := h.tiers.ListPublic(ctx)
	require.NoError(t, err)
	for _, tier := range public {
		assert.NotEqual(t, vip.ID, tier.ID)
	}

	res, err := h.purchase.BuyTier(ctx, usecase.PurchaseRequest{TenantID: 67, TierID: vip.ID})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusActive, res.Subscription.Status, "a free tier settles at checkout")
}
