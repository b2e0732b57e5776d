// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
	"crm-licensing/internal/infra/logging"
	"crm-licensing/internal/infra/metrics"
)

type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "success"
	PaymentFailed    PaymentOutcome = "failure"
)

// PaymentCallback is what the external payment collaborator reports.
type PaymentCallback struct {
	TenantID       int64
	SubscriptionID string
	Outcome        PaymentOutcome
	Amount         int64
}

type PaymentResult struct {
	Subscription *model.Subscription
	Invoice      *model.Invoice
}

// PaymentUseCase turns payment callbacks into lifecycle transitions.
type PaymentUseCase struct {
	lifecycle *SubscriptionUseCase
	log       *zerolog.Logger
}

func NewPaymentUseCase(lifecycle *SubscriptionUseCase, logger *zerolog.Logger) *PaymentUseCase {
	return &PaymentUseCase{lifecycle: lifecycle, log: logging.Component(logger, "payment_uc")}
}

// HandleCallback applies cb. Callbacks that name an unknown subscription, a
// subscription of another tenant, a cancelled subscription or a wrong amount
// fail with domain.ErrPaymentCallbackUnrecognized and change nothing.
func (uc *PaymentUseCase) HandleCallback(ctx context.Context, cb PaymentCallback) (*PaymentResult, error) {
	defer logging.TraceDuration(uc.log, "PaymentUC.HandleCallback")()

	if cb.Outcome != PaymentSucceeded && cb.Outcome != PaymentFailed {
		return nil, fmt.Errorf("unknown payment outcome %q: %w", cb.Outcome, domain.ErrInvalidArgument)
	}
	if cb.TenantID <= 0 || cb.SubscriptionID == "" || cb.Amount < 0 {
		return nil, fmt.Errorf("tenant, subscription and amount are required: %w", domain.ErrInvalidArgument)
	}

	lc := uc.lifecycle
	ob := newOutbox()
	var res *PaymentResult
	err := lc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
		ob.reset()
		if err := lc.subs.LockTenant(ctx, tx, cb.TenantID); err != nil {
			return err
		}
		sub, err := lc.subs.FindByID(ctx, tx, cb.SubscriptionID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("subscription %s: %w", cb.SubscriptionID, domain.ErrPaymentCallbackUnrecognized)
		}
		if err != nil {
			return err
		}
		if sub.TenantID != cb.TenantID {
			return fmt.Errorf("subscription %s belongs to another tenant: %w", sub.ID, domain.ErrPaymentCallbackUnrecognized)
		}
		// a trial that ran out before the sweeper saw it is expired, not payable
		if _, err := lc.applyDueTx(ctx, tx, sub, ob); err != nil {
			return err
		}

		switch sub.Status {
		case model.SubscriptionStatusCancelled:
			return fmt.Errorf("subscription %s is cancelled: %w", sub.ID, domain.ErrPaymentCallbackUnrecognized)
		case model.SubscriptionStatusExpired:
			res, err = uc.settleExpired(ctx, tx, sub, cb, ob)
			return err
		}

		inv, err := lc.applyPaymentTx(ctx, tx, sub, cb.Outcome == PaymentSucceeded, cb.Amount, ob)
		if err != nil {
			return err
		}
		res = &PaymentResult{Subscription: sub, Invoice: inv}
		return nil
	})
	recognized := err == nil || !errors.Is(err, domain.ErrPaymentCallbackUnrecognized)
	metrics.IncPaymentCallback(string(cb.Outcome), recognized)
	if err != nil {
		logging.With(ctx, uc.log).Warn().Err(err).Int64("tenant_id", cb.TenantID).
			Str("subscription_id", cb.SubscriptionID).Msg("payment callback rejected")
		return nil, err
	}
	lc.notify.flush(ctx, ob)
	return res, nil
}

// settleExpired handles a payment for a subscription that already expired.
// A success starts a fresh active subscription on the same tier; a failure is
// only recorded.
func (uc *PaymentUseCase) settleExpired(ctx context.Context, tx repository.Tx, old *model.Subscription, cb PaymentCallback, ob *outbox) (*PaymentResult, error) {
	lc := uc.lifecycle
	now := lc.now()
	tier, err := lc.tiers.resolvePurchasable(ctx, tx, old.TierID)
	if err != nil {
		return nil, err
	}
	if cb.Amount != tier.Price {
		return nil, fmt.Errorf("amount %d does not match price %d: %w", cb.Amount, tier.Price, domain.ErrPaymentCallbackUnrecognized)
	}

	if cb.Outcome == PaymentFailed {
		inv := model.NewInvoice(old, cb.Amount, model.InvoiceFailed, now)
		if err := lc.saveInvoice(ctx, tx, inv); err != nil {
			return nil, err
		}
		return &PaymentResult{Subscription: old, Invoice: inv}, nil
	}

	live, err := lc.findLive(ctx, tx, old.TenantID)
	if err != nil {
		return nil, err
	}
	if live != nil {
		return nil, fmt.Errorf("tenant %d already has live subscription %s: %w", old.TenantID, live.ID, domain.ErrPaymentCallbackUnrecognized)
	}
	fresh := &model.Subscription{
		ID:               uuid.NewString(),
		TenantID:         old.TenantID,
		TierID:           old.TierID,
		StartAt:          now,
		ActivationMethod: old.ActivationMethod,
		AutoRenew:        old.AutoRenew,
		Source:           old.Source,
		CreatedAt:        now,
	}
	inv, err := lc.applyPaymentTx(ctx, tx, fresh, true, cb.Amount, ob)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Subscription: fresh, Invoice: inv}, nil
}
