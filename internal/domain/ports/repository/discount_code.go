package repository

import (
	"context"
	"time"

	"crm-licensing/internal/domain/model"
)

type DiscountCodeRepository interface {
	Create(ctx context.Context, tx Tx, code *model.DiscountCode) error
	FindByCode(ctx context.Context, tx Tx, code string) (*model.DiscountCode, error)
	// IncrementUsage bumps times_used by one only while the usage cap allows it.
	// A false result means the cap was reached by a concurrent redemption.
	IncrementUsage(ctx context.Context, tx Tx, id string, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, tx Tx, code string, status model.CodeStatus) error
	ListByTier(ctx context.Context, tx Tx, tierID string, limit, offset int) ([]*model.DiscountCode, error)
}
