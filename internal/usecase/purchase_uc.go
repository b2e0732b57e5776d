// File: internal/usecase/purchase_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
	"crm-licensing/internal/infra/logging"
	"crm-licensing/internal/infra/metrics"
)

// PurchaseRequest is the inbound BuyTier payload: either an activation code,
// or a tier with an optional discount code.
type PurchaseRequest struct {
	TenantID       int64
	ActivationCode string
	TierID         string
	DiscountCode   string
	Source         string
}

type PurchaseResult struct {
	Subscription *model.Subscription
	Redemption   *model.RedemptionResult // nil for a direct purchase without discount
	Invoice      *model.Invoice          // nil for code activation
	AmountDue    int64
}

// PurchaseUseCase is the BuyTier entry point.
type PurchaseUseCase struct {
	redemption *RedemptionUseCase
	lifecycle  *SubscriptionUseCase
	log        *zerolog.Logger
}

func NewPurchaseUseCase(redemption *RedemptionUseCase, lifecycle *SubscriptionUseCase, logger *zerolog.Logger) *PurchaseUseCase {
	return &PurchaseUseCase{redemption: redemption, lifecycle: lifecycle, log: logging.Component(logger, "purchase_uc")}
}

func (uc *PurchaseUseCase) BuyTier(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	defer logging.TraceDuration(uc.log, "PurchaseUC.BuyTier")()

	if req.TenantID <= 0 {
		return nil, fmt.Errorf("tenant id must be positive: %w", domain.ErrInvalidArgument)
	}
	req.ActivationCode = strings.TrimSpace(req.ActivationCode)
	req.DiscountCode = strings.TrimSpace(req.DiscountCode)
	req.TierID = strings.TrimSpace(req.TierID)

	if req.ActivationCode != "" {
		if req.DiscountCode != "" {
			return nil, fmt.Errorf("discount codes cannot be combined with activation codes: %w", domain.ErrInvalidArgument)
		}
		return uc.viaActivationCode(ctx, req)
	}
	if req.TierID == "" {
		return nil, fmt.Errorf("either activation_code or tier_id is required: %w", domain.ErrInvalidArgument)
	}
	return uc.direct(ctx, req)
}

func (uc *PurchaseUseCase) viaActivationCode(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.TierID != "" {
		// a code's tier never changes, so this check can run before consumption
		ac, err := uc.redemption.activation.FindByCode(ctx, repository.NoTX, model.NormalizeCode(req.ActivationCode))
		if err == nil && ac.TierID != req.TierID {
			return nil, fmt.Errorf("activation code is for another tier: %w", domain.ErrInvalidArgument)
		}
	}
	res, err := uc.redemption.redeem(ctx, req.ActivationCode, req.TenantID, model.CodeKindActivation)
	if err != nil {
		return nil, err
	}
	return &PurchaseResult{Subscription: res.Subscription, Redemption: res}, nil
}

// direct opens a checkout for the tier price minus an optional discount. A
// fully discounted purchase settles immediately.
func (uc *PurchaseUseCase) direct(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	lc := uc.lifecycle
	rd := uc.redemption
	source := req.Source
	if source == "" {
		source = string(model.ActivationAPI)
	}

	ob := newOutbox()
	var out *PurchaseResult
	err := rd.withRetry(ctx, func() error {
		return lc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
			ob.reset()
			tier, err := lc.tiers.resolvePurchasable(ctx, tx, req.TierID)
			if err != nil {
				return err
			}
			amount := tier.Price
			var redemption *model.RedemptionResult

			if req.DiscountCode != "" {
				code := model.NormalizeCode(req.DiscountCode)
				dc, err := rd.discount.FindByCode(ctx, tx, code)
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("discount code: %w", domain.ErrCodeNotFound)
				}
				if err != nil {
					return err
				}
				if dc.TierID != tier.TierID {
					return fmt.Errorf("discount code is for another tier: %w", domain.ErrInvalidArgument)
				}
				if redemption, err = rd.redeemDiscountTx(ctx, tx, dc, req.TenantID, ob); err != nil {
					return err
				}
				amount = dc.Apply(amount)
			}

			sub, inv, err := lc.checkoutTx(ctx, tx, req.TenantID, tier, amount, source, ob)
			if err != nil {
				return err
			}
			if amount == 0 {
				if inv, err = lc.applyPaymentTx(ctx, tx, sub, true, 0, ob); err != nil {
					return err
				}
			}
			out = &PurchaseResult{Subscription: sub, Redemption: redemption, Invoice: inv, AmountDue: amount}
			return nil
		})
	})
	if req.DiscountCode != "" {
		metrics.IncRedemption(string(model.CodeKindDiscount), redemptionResult(err))
	}
	if err != nil {
		return nil, err
	}
	lc.notify.flush(ctx, ob)
	logging.With(ctx, uc.log).Info().Int64("tenant_id", req.TenantID).Str("tier_id", req.TierID).
		Int64("amount_due", out.AmountDue).Str("subscription_id", out.Subscription.ID).Msg("checkout opened")
	return out, nil
}
