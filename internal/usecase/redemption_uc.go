// File: internal/usecase/redemption_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
	"crm-licensing/internal/infra/logging"
	"crm-licensing/internal/infra/metrics"
)

const defaultRedemptionAttempts = 3

// RedemptionUseCase validates and consumes codes. Consumption is a
// compare-and-swap in the store; losing the swap is retried, and the retry
// reads the winner's write and reports the usual rejection.
type RedemptionUseCase struct {
	activation repository.ActivationCodeRepository
	discount   repository.DiscountCodeRepository
	lifecycle  *SubscriptionUseCase
	tm         repository.TransactionManager
	attempts   int
	now        func() time.Time
	dev        bool
	log        *zerolog.Logger
}

func NewRedemptionUseCase(
	activation repository.ActivationCodeRepository,
	discount repository.DiscountCodeRepository,
	lifecycle *SubscriptionUseCase,
	tm repository.TransactionManager,
	attempts int,
	logger *zerolog.Logger,
) *RedemptionUseCase {
	if attempts <= 0 {
		attempts = defaultRedemptionAttempts
	}
	return &RedemptionUseCase{
		activation: activation,
		discount:   discount,
		lifecycle:  lifecycle,
		tm:         tm,
		attempts:   attempts,
		now:        time.Now,
		log:        logging.Component(logger, "redemption_uc"),
	}
}

func (uc *RedemptionUseCase) WithClock(now func() time.Time) *RedemptionUseCase {
	uc.now = now
	return uc
}

// WithDevLogging disables code redaction in logs.
func (uc *RedemptionUseCase) WithDevLogging(dev bool) *RedemptionUseCase {
	uc.dev = dev
	return uc
}

// Redeem consumes code for tenantID. Activation codes start or extend the
// tenant's subscription in the same transaction; discount codes only report
// their percentage and tier.
func (uc *RedemptionUseCase) Redeem(ctx context.Context, code string, tenantID int64) (*model.RedemptionResult, error) {
	defer logging.TraceDuration(uc.log, "RedemptionUC.Redeem")()
	return uc.redeem(ctx, code, tenantID, "")
}

// redeem restricts the lookup to one namespace when only is set.
func (uc *RedemptionUseCase) redeem(ctx context.Context, code string, tenantID int64, only model.CodeKind) (*model.RedemptionResult, error) {
	code = model.NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("code is required: %w", domain.ErrInvalidArgument)
	}
	if tenantID <= 0 {
		return nil, fmt.Errorf("tenant id must be positive: %w", domain.ErrInvalidArgument)
	}

	ob := newOutbox()
	var res *model.RedemptionResult
	err := uc.withRetry(ctx, func() error {
		return uc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
			ob.reset()
			var err error
			res, err = uc.redeemTx(ctx, tx, code, tenantID, only, ob)
			return err
		})
	})

	kind := "unknown"
	if res != nil {
		kind = string(res.Kind)
	}
	metrics.IncRedemption(kind, redemptionResult(err))

	log := logging.With(logging.WithTenantID(ctx, tenantID), uc.log)
	if err != nil {
		log.Info().Err(err).Str("code", logging.Redact(code, uc.dev)).Msg("redemption rejected")
		return nil, err
	}
	uc.lifecycle.notify.flush(ctx, ob)
	log.Info().Str("code", logging.Redact(code, uc.dev)).Str("kind", kind).Str("tier_id", res.TierID).Msg("code redeemed")
	return res, nil
}

// withRetry reruns fn while it loses a redemption race, up to uc.attempts times.
func (uc *RedemptionUseCase) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < uc.attempts; i++ {
		if err = fn(); !errors.Is(err, domain.ErrConcurrentRedemptionConflict) {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		uc.log.Debug().Int("attempt", i+1).Msg("redemption conflict, retrying")
	}
	return err
}

func (uc *RedemptionUseCase) redeemTx(ctx context.Context, tx repository.Tx, code string, tenantID int64, only model.CodeKind, ob *outbox) (*model.RedemptionResult, error) {
	if only != model.CodeKindDiscount {
		ac, err := uc.activation.FindByCode(ctx, tx, code)
		switch {
		case err == nil:
			return uc.redeemActivationTx(ctx, tx, ac, tenantID, ob)
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}
	if only != model.CodeKindActivation {
		dc, err := uc.discount.FindByCode(ctx, tx, code)
		switch {
		case err == nil:
			return uc.redeemDiscountTx(ctx, tx, dc, tenantID, ob)
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}
	return nil, fmt.Errorf("code %s: %w", logging.Redact(code, uc.dev), domain.ErrCodeNotFound)
}

func (uc *RedemptionUseCase) redeemActivationTx(ctx context.Context, tx repository.Tx, ac *model.ActivationCode, tenantID int64, ob *outbox) (*model.RedemptionResult, error) {
	now := uc.now()
	if err := ac.CheckRedeemable(now); err != nil {
		return nil, err
	}
	won, err := uc.activation.MarkUsed(ctx, tx, ac.ID, tenantID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrConcurrentRedemptionConflict
	}

	sub, err := uc.lifecycle.activateTx(ctx, tx, ActivationInput{
		TenantID:  tenantID,
		TierID:    ac.TierID,
		TrialDays: ac.TrialDays,
		Method:    model.ActivationViaCode,
		Source:    ac.Source,
	}, ob)
	if err != nil {
		return nil, err
	}

	res := &model.RedemptionResult{
		Code:           ac.Code,
		Kind:           model.CodeKindActivation,
		TenantID:       tenantID,
		TierID:         ac.TierID,
		TrialDays:      ac.TrialDays,
		SubscriptionID: sub.ID,
		Subscription:   sub,
	}
	ob.add(model.NewCodeRedeemedEvent(res, now))
	return res, nil
}

func (uc *RedemptionUseCase) redeemDiscountTx(ctx context.Context, tx repository.Tx, dc *model.DiscountCode, tenantID int64, ob *outbox) (*model.RedemptionResult, error) {
	now := uc.now()
	if err := dc.CheckRedeemable(now); err != nil {
		return nil, err
	}
	won, err := uc.discount.IncrementUsage(ctx, tx, dc.ID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrConcurrentRedemptionConflict
	}
	res := &model.RedemptionResult{
		Code:               dc.Code,
		Kind:               model.CodeKindDiscount,
		TenantID:           tenantID,
		TierID:             dc.TierID,
		TrialDays:          dc.TrialDays,
		DiscountPercentage: dc.DiscountPercentage,
	}
	ob.add(model.NewCodeRedeemedEvent(res, now))
	return res, nil
}

func redemptionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrCodeInactive):
		return "inactive"
	case errors.Is(err, domain.ErrCodeExpired):
		return "expired"
	case errors.Is(err, domain.ErrCodeAlreadyUsed):
		return "already_used"
	case errors.Is(err, domain.ErrCodeUsageExceeded):
		return "usage_exceeded"
	case errors.Is(err, domain.ErrConcurrentRedemptionConflict):
		return "conflict"
	case errors.Is(err, domain.ErrTierInactive), errors.Is(err, domain.ErrTierNotFound):
		return "tier_unavailable"
	default:
		return "error"
	}
}
