package repository

import (
	"context"

	"crm-licensing/internal/domain/model"
)

// TierRepository is the port for tier persistence. Tiers are never deleted.
type TierRepository interface {
	// Save upserts by id; a name clash with another tier is domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, tier *model.Tier) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Tier, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Tier, error)
}
