// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/adapter"
	"crm-licensing/internal/domain/ports/repository"
	"crm-licensing/internal/infra/logging"
	"crm-licensing/internal/infra/metrics"
)

// Notifications are the post-commit side effects shared by the lifecycle,
// redemption and purchase flows. Both fields are optional.
type Notifications struct {
	Publisher   adapter.EventPublisher
	Invalidator TenantInvalidator
}

// ActivationInput starts or extends a tenant's subscription.
type ActivationInput struct {
	TenantID  int64
	TierID    string
	TrialDays int
	Method    model.ActivationMethod
	Source    string
	AutoRenew bool
	Note      string
}

func (in ActivationInput) validate() error {
	if in.TenantID <= 0 {
		return fmt.Errorf("tenant id must be positive: %w", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.TierID) == "" {
		return fmt.Errorf("tier id is required: %w", domain.ErrInvalidArgument)
	}
	if in.TrialDays < 0 {
		return fmt.Errorf("trial days must not be negative: %w", domain.ErrInvalidArgument)
	}
	if !in.Method.Valid() {
		return fmt.Errorf("unknown activation method %q: %w", in.Method, domain.ErrInvalidArgument)
	}
	return nil
}

const noteSuperseded = "superseded"

// SubscriptionUseCase owns the subscription state machine. Every write takes
// the tenant lock first, so transitions for one tenant never interleave.
type SubscriptionUseCase struct {
	subs     repository.SubscriptionRepository
	invoices repository.InvoiceRepository
	tiers    *TierUseCase
	tm       repository.TransactionManager
	proofs   adapter.ProofStore
	notify   *notifier
	grace    time.Duration
	now      func() time.Time
	log      *zerolog.Logger
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	invoices repository.InvoiceRepository,
	tiers *TierUseCase,
	tm repository.TransactionManager,
	proofs adapter.ProofStore,
	n Notifications,
	grace time.Duration,
	logger *zerolog.Logger,
) *SubscriptionUseCase {
	log := logging.Component(logger, "subscription_uc")
	return &SubscriptionUseCase{
		subs:     subs,
		invoices: invoices,
		tiers:    tiers,
		tm:       tm,
		proofs:   proofs,
		notify:   &notifier{pub: n.Publisher, inv: n.Invalidator, log: log},
		grace:    grace,
		now:      time.Now,
		log:      log,
	}
}

// WithClock replaces the time source; used by tests and the sweeper tests.
func (uc *SubscriptionUseCase) WithClock(now func() time.Time) *SubscriptionUseCase {
	uc.now = now
	return uc
}

func txOpts() pgx.TxOptions {
	return pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
}

func (uc *SubscriptionUseCase) transition(ctx context.Context, tx repository.Tx, sub *model.Subscription, ev model.LifecycleEvent, now time.Time, ob *outbox) error {
	prev, err := sub.Apply(ev, now)
	if err != nil {
		return err
	}
	if err := uc.subs.Save(ctx, tx, sub); err != nil {
		return err
	}
	ob.transition(model.SubscriptionTransition{
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		TierID:         sub.TierID,
		From:           prev,
		To:             sub.Status,
		Event:          ev,
		At:             now,
	})
	return nil
}

func (uc *SubscriptionUseCase) findLive(ctx context.Context, tx repository.Tx, tenantID int64) (*model.Subscription, error) {
	live, err := uc.subs.FindLiveByTenant(ctx, tx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return live, err
}

func (uc *SubscriptionUseCase) saveInvoice(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	if err := uc.invoices.Save(ctx, tx, inv); err != nil {
		return err
	}
	metrics.IncInvoice(string(inv.Status))
	if inv.Status == model.InvoiceSuccessful {
		metrics.AddRevenue(inv.Amount)
	}
	return nil
}

func appendNote(note, add string) string {
	if note == "" {
		return add
	}
	return note + "; " + add
}

// activateTx runs inside the caller's transaction; redemption relies on this
// so that consuming the code and creating the subscription commit together.
func (uc *SubscriptionUseCase) activateTx(ctx context.Context, tx repository.Tx, in ActivationInput, ob *outbox) (*model.Subscription, error) {
	if err := uc.subs.LockTenant(ctx, tx, in.TenantID); err != nil {
		return nil, err
	}
	tier, err := uc.tiers.resolvePurchasable(ctx, tx, in.TierID)
	if err != nil {
		return nil, err
	}
	now := uc.now()
	bills := in.Method != model.ActivationViaCode

	live, err := uc.findLive(ctx, tx, in.TenantID)
	if err != nil {
		return nil, err
	}
	if live != nil {
		if live.TierID == tier.TierID && live.Status == model.SubscriptionStatusActive {
			live.Extend(tier.Duration, now)
			live.PaymentStatus = model.PaymentPaid
			if in.Note != "" {
				live.Note = appendNote(live.Note, in.Note)
			}
			if err := uc.transition(ctx, tx, live, model.EventExtended, now, ob); err != nil {
				return nil, err
			}
			if bills {
				if err := uc.saveInvoice(ctx, tx, model.NewInvoice(live, tier.Price, model.InvoiceSuccessful, now)); err != nil {
					return nil, err
				}
			}
			return live, nil
		}
		if err := uc.closeOpenInvoice(ctx, tx, live.ID, now); err != nil {
			return nil, err
		}
		live.Note = appendNote(live.Note, noteSuperseded)
		if err := uc.transition(ctx, tx, live, model.EventCancelled, now, ob); err != nil {
			return nil, err
		}
	}

	hasPaid, err := uc.subs.HasPaidHistory(ctx, tx, in.TenantID)
	if err != nil {
		return nil, err
	}
	sub := &model.Subscription{
		ID:               uuid.NewString(),
		TenantID:         in.TenantID,
		TierID:           tier.TierID,
		StartAt:          now,
		ActivationMethod: in.Method,
		AutoRenew:        in.AutoRenew,
		Source:           in.Source,
		Note:             in.Note,
		CreatedAt:        now,
	}
	ev := model.EventActivated
	if in.TrialDays > 0 && !hasPaid {
		ev = model.EventTrialStarted
		end := now.AddDate(0, 0, in.TrialDays)
		sub.EndAt = &end
		sub.PaymentStatus = model.PaymentPending
	} else {
		sub.EndAt = tier.Duration.EndFrom(now)
		sub.PaymentStatus = model.PaymentPaid
	}
	if err := uc.transition(ctx, tx, sub, ev, now, ob); err != nil {
		return nil, err
	}
	if bills && sub.PaymentStatus == model.PaymentPaid {
		if err := uc.saveInvoice(ctx, tx, model.NewInvoice(sub, tier.Price, model.InvoiceSuccessful, now)); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// Activate starts a subscription outside of code redemption, e.g. a manual
// activation by an admin after an offline payment.
func (uc *SubscriptionUseCase) Activate(ctx context.Context, in ActivationInput) (*model.Subscription, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.Activate")()
	if err := in.validate(); err != nil {
		return nil, err
	}

	ob := newOutbox()
	var sub *model.Subscription
	err := uc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
		ob.reset()
		s, err := uc.activateTx(ctx, tx, in, ob)
		sub = s
		return err
	})
	if err != nil {
		return nil, err
	}
	uc.notify.flush(ctx, ob)
	logging.With(ctx, uc.log).Info().Int64("tenant_id", sub.TenantID).Str("subscription_id", sub.ID).
		Str("status", string(sub.Status)).Str("method", string(in.Method)).Msg("subscription activated")
	return sub, nil
}

// checkoutTx opens a direct purchase: a pending invoice for amount against
// either the tenant's live subscription of the same tier (renewal) or a new
// pending subscription.
func (uc *SubscriptionUseCase) checkoutTx(ctx context.Context, tx repository.Tx, tenantID int64, tier *model.TierSnapshot, amount int64, source string, ob *outbox) (*model.Subscription, *model.Invoice, error) {
	if err := uc.subs.LockTenant(ctx, tx, tenantID); err != nil {
		return nil, nil, err
	}
	now := uc.now()
	live, err := uc.findLive(ctx, tx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	sub := live
	if live == nil || live.Status == model.SubscriptionStatusPending || live.TierID != tier.TierID {
		if live != nil {
			if err := uc.closeOpenInvoice(ctx, tx, live.ID, now); err != nil {
				return nil, nil, err
			}
			live.Note = appendNote(live.Note, noteSuperseded)
			if err := uc.transition(ctx, tx, live, model.EventCancelled, now, ob); err != nil {
				return nil, nil, err
			}
		}
		sub = &model.Subscription{
			ID:               uuid.NewString(),
			TenantID:         tenantID,
			TierID:           tier.TierID,
			StartAt:          now,
			PaymentStatus:    model.PaymentPending,
			ActivationMethod: model.ActivationAPI,
			AutoRenew:        true,
			Source:           source,
			CreatedAt:        now,
		}
		if err := uc.transition(ctx, tx, sub, model.EventCheckoutOpened, now, ob); err != nil {
			return nil, nil, err
		}
	} else if err := uc.closeOpenInvoice(ctx, tx, sub.ID, now); err != nil {
		return nil, nil, err
	}

	inv := model.NewInvoice(sub, amount, model.InvoicePending, now)
	if err := uc.saveInvoice(ctx, tx, inv); err != nil {
		return nil, nil, err
	}
	return sub, inv, nil
}

// closeOpenInvoice fails a still-pending invoice replaced by a newer checkout.
func (uc *SubscriptionUseCase) closeOpenInvoice(ctx context.Context, tx repository.Tx, subscriptionID string, now time.Time) error {
	open, err := uc.invoices.FindPendingBySubscription(ctx, tx, subscriptionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	open.Status = model.InvoiceFailed
	open.UpdatedAt = now
	return uc.saveInvoice(ctx, tx, open)
}

// applyPaymentTx settles a payment outcome against sub. The amount must match
// the open invoice, or the tier price for a renewal without one.
func (uc *SubscriptionUseCase) applyPaymentTx(ctx context.Context, tx repository.Tx, sub *model.Subscription, success bool, amount int64, ob *outbox) (*model.Invoice, error) {
	tier, err := uc.tiers.resolve(ctx, tx, sub.TierID)
	if err != nil {
		return nil, err
	}
	now := uc.now()

	var inv *model.Invoice
	if sub.Status != model.SubscriptionStatusNone {
		inv, err = uc.invoices.FindPendingBySubscription(ctx, tx, sub.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	expected := tier.Price
	if inv != nil {
		expected = inv.Amount
	}
	if amount != expected {
		return nil, fmt.Errorf("amount %d does not match expected %d: %w", amount, expected, domain.ErrPaymentCallbackUnrecognized)
	}
	if inv == nil {
		inv = model.NewInvoice(sub, amount, model.InvoicePending, now)
	}

	if success {
		sub.Extend(tier.Duration, now)
		sub.PaymentStatus = model.PaymentPaid
		if err := uc.transition(ctx, tx, sub, model.EventPaymentSucceeded, now, ob); err != nil {
			return nil, err
		}
		inv.Status = model.InvoiceSuccessful
	} else {
		ev := model.EventPaymentFailed
		if sub.Status == model.SubscriptionStatusActive && sub.EndAt != nil && !now.Before(sub.EndAt.Add(uc.grace)) {
			ev = model.EventGraceElapsed
		}
		sub.PaymentStatus = model.PaymentFailed
		if err := uc.transition(ctx, tx, sub, ev, now, ob); err != nil {
			return nil, err
		}
		inv.Status = model.InvoiceFailed
	}
	inv.UpdatedAt = now
	if err := uc.saveInvoice(ctx, tx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Cancel ends the tenant's live subscription. Cancelled is terminal.
func (uc *SubscriptionUseCase) Cancel(ctx context.Context, tenantID int64, note string) (*model.Subscription, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.Cancel")()
	return uc.cancel(ctx, tenantID, func(ctx context.Context, tx repository.Tx) (*model.Subscription, error) {
		live, err := uc.findLive(ctx, tx, tenantID)
		if err != nil {
			return nil, err
		}
		if live == nil {
			return nil, domain.ErrNoSubscription
		}
		return live, nil
	}, note)
}

// CancelByID cancels a specific subscription; cancelling a terminal one is
// domain.ErrInvalidTransition.
func (uc *SubscriptionUseCase) CancelByID(ctx context.Context, subscriptionID, note string) (*model.Subscription, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.CancelByID")()
	sub, err := uc.subs.FindByID(ctx, repository.NoTX, subscriptionID)
	if err != nil {
		return nil, err
	}
	return uc.cancel(ctx, sub.TenantID, func(ctx context.Context, tx repository.Tx) (*model.Subscription, error) {
		return uc.subs.FindByID(ctx, tx, subscriptionID)
	}, note)
}

func (uc *SubscriptionUseCase) cancel(ctx context.Context, tenantID int64, load func(ctx context.Context, tx repository.Tx) (*model.Subscription, error), note string) (*model.Subscription, error) {
	ob := newOutbox()
	var out *model.Subscription
	err := uc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
		ob.reset()
		if err := uc.subs.LockTenant(ctx, tx, tenantID); err != nil {
			return err
		}
		sub, err := load(ctx, tx)
		if err != nil {
			return err
		}
		now := uc.now()
		if err := uc.closeOpenInvoice(ctx, tx, sub.ID, now); err != nil {
			return err
		}
		if note != "" {
			sub.Note = appendNote(sub.Note, note)
		}
		sub.AutoRenew = false
		if err := uc.transition(ctx, tx, sub, model.EventCancelled, now, ob); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.notify.flush(ctx, ob)
	return out, nil
}

// evaluateTx applies whatever time-driven transition is due for one subscription.
func (uc *SubscriptionUseCase) evaluateTx(ctx context.Context, tx repository.Tx, id string, tenantID int64, ob *outbox) (model.SubscriptionStatus, bool, error) {
	if err := uc.subs.LockTenant(ctx, tx, tenantID); err != nil {
		return "", false, err
	}
	// reload under the lock; a payment may have landed since ListDue
	sub, err := uc.subs.FindByID(ctx, tx, id)
	if err != nil {
		return "", false, err
	}
	changed, err := uc.applyDueTx(ctx, tx, sub, ob)
	if err != nil {
		return "", false, err
	}
	return sub.Status, changed, nil
}

// applyDueTx moves an already loaded and locked subscription through the
// time-driven transition due at now, if any.
func (uc *SubscriptionUseCase) applyDueTx(ctx context.Context, tx repository.Tx, sub *model.Subscription, ob *outbox) (bool, error) {
	now := uc.now()
	var ev model.LifecycleEvent
	switch {
	case sub.Status == model.SubscriptionStatusTrial && sub.Ended(now):
		ev = model.EventTrialEnded
	case sub.Status == model.SubscriptionStatusActive && !sub.AutoRenew && sub.Ended(now):
		ev = model.EventTermEnded
	case sub.Status == model.SubscriptionStatusActive && sub.AutoRenew && sub.EndAt != nil && !now.Before(sub.EndAt.Add(uc.grace)):
		ev = model.EventGraceElapsed
		sub.PaymentStatus = model.PaymentUnpaid
	default:
		return false, nil
	}
	if err := uc.transition(ctx, tx, sub, ev, now, ob); err != nil {
		return false, err
	}
	return true, nil
}

// Evaluate runs the time-driven lifecycle check for a single subscription.
func (uc *SubscriptionUseCase) Evaluate(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	sub, err := uc.subs.FindByID(ctx, repository.NoTX, subscriptionID)
	if err != nil {
		return nil, err
	}
	ob := newOutbox()
	err = uc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
		ob.reset()
		_, _, err := uc.evaluateTx(ctx, tx, sub.ID, sub.TenantID, ob)
		return err
	})
	if err != nil {
		return nil, err
	}
	uc.notify.flush(ctx, ob)
	return uc.subs.FindByID(ctx, repository.NoTX, subscriptionID)
}

// Sweep evaluates up to batch due subscriptions, each in its own transaction,
// and returns how many changed state.
func (uc *SubscriptionUseCase) Sweep(ctx context.Context, batch int) (int, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.Sweep")()

	due, err := uc.subs.ListDue(ctx, repository.NoTX, uc.now(), uc.grace, batch)
	if err != nil {
		return 0, err
	}
	var (
		changed int
		expired int
		errs    []error
	)
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ob := newOutbox()
		var to model.SubscriptionStatus
		var moved bool
		err := uc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
			ob.reset()
			var err error
			to, moved, err = uc.evaluateTx(ctx, tx, d.ID, d.TenantID, ob)
			return err
		})
		if err != nil {
			uc.log.Error().Err(err).Str("subscription_id", d.ID).Msg("lifecycle evaluation failed")
			errs = append(errs, err)
			continue
		}
		uc.notify.flush(ctx, ob)
		if moved {
			changed++
			if to == model.SubscriptionStatusExpired || to == model.SubscriptionStatusSuspended {
				expired++
			}
		}
	}
	metrics.IncSubscriptionsExpired(expired)
	if changed > 0 {
		uc.log.Info().Int("due", len(due)).Int("changed", changed).Msg("lifecycle sweep finished")
	}
	return changed, errors.Join(errs...)
}

// Current returns the tenant's live subscription or domain.ErrNoSubscription.
func (uc *SubscriptionUseCase) Current(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	live, err := uc.findLive(ctx, repository.NoTX, tenantID)
	if err != nil {
		return nil, err
	}
	if live == nil {
		return nil, domain.ErrNoSubscription
	}
	return live, nil
}

func (uc *SubscriptionUseCase) History(ctx context.Context, tenantID int64) ([]*model.Subscription, error) {
	return uc.subs.ListByTenant(ctx, repository.NoTX, tenantID)
}

func (uc *SubscriptionUseCase) Invoices(ctx context.Context, tenantID int64, limit, offset int) ([]*model.Invoice, error) {
	return uc.invoices.ListByTenant(ctx, repository.NoTX, tenantID, limit, offset)
}

// AttachProof stores a proof-of-payment file and records its path on the subscription.
func (uc *SubscriptionUseCase) AttachProof(ctx context.Context, subscriptionID, filename string, r io.Reader, size int64, contentType string) (*model.Subscription, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.AttachProof")()
	if uc.proofs == nil {
		return nil, domain.ErrProofStorageDisabled
	}
	sub, err := uc.subs.FindByID(ctx, repository.NoTX, subscriptionID)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("tenants/%d/subscriptions/%s/%s%s",
		sub.TenantID, sub.ID, ulid.Make().String(), strings.ToLower(path.Ext(filename)))
	stored, err := uc.proofs.Put(ctx, key, r, size, contentType)
	if err != nil {
		return nil, fmt.Errorf("store proof: %w", err)
	}

	err = uc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
		if err := uc.subs.LockTenant(ctx, tx, sub.TenantID); err != nil {
			return err
		}
		cur, err := uc.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		cur.ProofPath = stored
		cur.UpdatedAt = uc.now()
		if err := uc.subs.Save(ctx, tx, cur); err != nil {
			return err
		}
		sub = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}
