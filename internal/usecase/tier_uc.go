package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
	"crm-licensing/internal/infra/logging"
)

// TierInput is the admin payload for creating or replacing a tier.
type TierInput struct {
	Name             string
	Price            int64
	Duration         model.Duration
	RefundPeriodDays int
	Limits           model.Limits
	Modules          []string
	Availability     model.TierAvailability
}

// TierUseCase is the tier catalog: resolution for the lifecycle and
// entitlement paths, and administration. Tiers are never deleted.
type TierUseCase struct {
	repo repository.TierRepository
	log  *zerolog.Logger
}

func NewTierUseCase(repo repository.TierRepository, logger *zerolog.Logger) *TierUseCase {
	return &TierUseCase{repo: repo, log: logging.Component(logger, "tier_uc")}
}

func (uc *TierUseCase) find(ctx context.Context, tx repository.Tx, id string) (*model.Tier, error) {
	t, err := uc.repo.FindByID(ctx, tx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("tier %q: %w", id, domain.ErrTierNotFound)
	}
	return t, err
}

// Resolve returns the tier configuration regardless of its status; inactive
// tiers stay resolvable for subscriptions that already reference them.
func (uc *TierUseCase) Resolve(ctx context.Context, tierID string) (*model.TierSnapshot, error) {
	return uc.resolve(ctx, repository.NoTX, tierID)
}

func (uc *TierUseCase) resolve(ctx context.Context, tx repository.Tx, tierID string) (*model.TierSnapshot, error) {
	t, err := uc.find(ctx, tx, tierID)
	if err != nil {
		return nil, err
	}
	return t.Snapshot(), nil
}

// ResolvePurchasable additionally rejects inactive tiers with domain.ErrTierInactive.
func (uc *TierUseCase) ResolvePurchasable(ctx context.Context, tierID string) (*model.TierSnapshot, error) {
	return uc.resolvePurchasable(ctx, repository.NoTX, tierID)
}

func (uc *TierUseCase) resolvePurchasable(ctx context.Context, tx repository.Tx, tierID string) (*model.TierSnapshot, error) {
	t, err := uc.find(ctx, tx, tierID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return nil, fmt.Errorf("tier %q: %w", tierID, domain.ErrTierInactive)
	}
	return t.Snapshot(), nil
}

func (uc *TierUseCase) Get(ctx context.Context, id string) (*model.Tier, error) {
	return uc.find(ctx, repository.NoTX, id)
}

func (uc *TierUseCase) Create(ctx context.Context, in TierInput) (*model.Tier, error) {
	defer logging.TraceDuration(uc.log, "TierUC.Create")()

	mods, err := model.ParseModules(in.Modules)
	if err != nil {
		return nil, err
	}
	t, err := model.NewTier("", in.Name, in.Price, in.Duration, mods, in.Limits)
	if err != nil {
		return nil, err
	}
	t.RefundPeriodDays = in.RefundPeriodDays
	if in.Availability != "" {
		t.Availability = in.Availability
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := uc.repo.Save(ctx, repository.NoTX, t); err != nil {
		return nil, err
	}
	uc.log.Info().Str("tier_id", t.ID).Str("name", t.Name).Msg("tier created")
	return t, nil
}

// Update replaces the tier's configuration. Existing subscriptions pick the
// new modules and limits up on their next entitlement resolution.
func (uc *TierUseCase) Update(ctx context.Context, id string, in TierInput) (*model.Tier, error) {
	defer logging.TraceDuration(uc.log, "TierUC.Update")()

	t, err := uc.find(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	mods, err := model.ParseModules(in.Modules)
	if err != nil {
		return nil, err
	}
	t.Name = strings.TrimSpace(in.Name)
	t.Price = in.Price
	t.Duration = in.Duration
	t.RefundPeriodDays = in.RefundPeriodDays
	t.Limits = in.Limits
	t.Modules = mods
	if in.Availability != "" {
		t.Availability = in.Availability
	}
	t.UpdatedAt = time.Now()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := uc.repo.Save(ctx, repository.NoTX, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (uc *TierUseCase) SetStatus(ctx context.Context, id string, status model.TierStatus) (*model.Tier, error) {
	if status != model.TierActive && status != model.TierInactive {
		return nil, fmt.Errorf("unknown tier status %q: %w", status, domain.ErrInvalidArgument)
	}
	t, err := uc.find(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	if err := uc.repo.Save(ctx, repository.NoTX, t); err != nil {
		return nil, err
	}
	uc.log.Info().Str("tier_id", t.ID).Str("status", string(status)).Msg("tier status changed")
	return t, nil
}

func (uc *TierUseCase) ListAll(ctx context.Context) ([]*model.Tier, error) {
	return uc.repo.ListAll(ctx, repository.NoTX)
}

// ListPublic returns active public tiers for the storefront.
func (uc *TierUseCase) ListPublic(ctx context.Context) ([]*model.Tier, error) {
	all, err := uc.repo.ListAll(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Tier, 0, len(all))
	for _, t := range all {
		if t.IsActive() && t.IsPublic() {
			out = append(out, t)
		}
	}
	return out, nil
}
