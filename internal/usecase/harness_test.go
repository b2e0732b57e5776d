//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/infra/db/memory"
	"crm-licensing/internal/usecase"
)

const testGrace = 3 * 24 * time.Hour

// harness wires every use case against one in-memory store.
type harness struct {
	store        *memory.Store
	clock        *testClock
	events       *MockEventPublisher
	cache        *memory.TenantStateCache
	codesRepo    *memory.ActivationCodeRepo
	discountRepo *memory.DiscountCodeRepo
	subsRepo     *memory.SubscriptionRepo
	invoiceRepo  *memory.InvoiceRepo

	tiers        *usecase.TierUseCase
	lifecycle    *usecase.SubscriptionUseCase
	redemption   *usecase.RedemptionUseCase
	purchase     *usecase.PurchaseUseCase
	payments     *usecase.PaymentUseCase
	codes        *usecase.CodeUseCase
	entitlements *usecase.EntitlementUseCase
}

var testFreePlan = model.FreePlan{
	Modules: []model.Module{model.ModuleCRMCore},
	Limits:  model.Limits{MaxSalesReps: ptr(int64(1)), MaxContacts: ptr(int64(100))},
}

func ptr[T any](v T) *T { return &v }

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := newTestLogger()
	s := memory.NewStore()
	tm := memory.NewTxManager(s)
	clock := newTestClock()

	h := &harness{
		store:        s,
		clock:        clock,
		events:       &MockEventPublisher{},
		cache:        memory.NewTenantStateCache(time.Hour),
		codesRepo:    memory.NewActivationCodeRepo(s),
		discountRepo: memory.NewDiscountCodeRepo(s),
		subsRepo:     memory.NewSubscriptionRepo(s),
		invoiceRepo:  memory.NewInvoiceRepo(s),
	}
	issued := memory.NewIssuedCodeRepo(s)

	h.tiers = usecase.NewTierUseCase(memory.NewTierRepo(s), log)
	h.entitlements = usecase.NewEntitlementUseCase(h.subsRepo, h.tiers, h.cache, testFreePlan, log).
		WithGrace(testGrace).WithClock(clock.Now)
	h.lifecycle = usecase.NewSubscriptionUseCase(h.subsRepo, h.invoiceRepo, h.tiers, tm, &MockProofStore{},
		usecase.Notifications{Publisher: h.events, Invalidator: h.entitlements}, testGrace, log).WithClock(clock.Now)
	h.redemption = usecase.NewRedemptionUseCase(h.codesRepo, h.discountRepo, h.lifecycle, tm, 3, log).WithClock(clock.Now)
	h.purchase = usecase.NewPurchaseUseCase(h.redemption, h.lifecycle, log)
	h.payments = usecase.NewPaymentUseCase(h.lifecycle, log)
	h.codes = usecase.NewCodeUseCase(h.codesRepo, h.discountRepo, issued, h.tiers, tm, model.DefaultCodePolicy(), log).WithClock(clock.Now)
	return h
}

// proTier creates the 30-day Pro tier with crm_core and lead_management.
func (h *harness) proTier(t *testing.T) *model.Tier {
	t.Helper()
	tier, err := h.tiers.Create(context.Background(), usecase.TierInput{
		Name:     "Pro",
		Price:    4900,
		Duration: model.Duration{Amount: 30, Unit: model.DurationDays},
		Modules:  []string{"crm_core", "lead_management"},
		Limits:   model.Limits{MaxSalesReps: ptr(int64(10))},
	})
	require.NoError(t, err)
	return tier
}

func (h *harness) activationCode(t *testing.T, tierID string, trialDays int) string {
	t.Helper()
	codes, err := h.codes.GenerateActivationCodes(context.Background(), usecase.BulkActivationRequest{
		Count:     1,
		TierID:    tierID,
		Source:    "admin",
		TrialDays: trialDays,
	})
	require.NoError(t, err)
	require.Len(t, codes, 1)
	return codes[0].Code
}

func (h *harness) discountCode(t *testing.T, tierID string, pct int, usage model.UsageType, maxUses int) string {
	t.Helper()
	dc, err := h.codes.CreateDiscountCode(context.Background(), usecase.DiscountCodeInput{
		TierID:             tierID,
		Source:             "promotion",
		DiscountPercentage: pct,
		UsageType:          usage,
		MaxUses:            maxUses,
	})
	require.NoError(t, err)
	return dc.Code
}
