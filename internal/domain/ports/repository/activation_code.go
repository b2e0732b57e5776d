package repository

import (
	"context"
	"time"

	"crm-licensing/internal/domain/model"
)

// ActivationCodeRepository is the port for single-use activation codes.
type ActivationCodeRepository interface {
	Create(ctx context.Context, tx Tx, code *model.ActivationCode) error
	// FindByCode returns domain.ErrNotFound when the code does not exist.
	FindByCode(ctx context.Context, tx Tx, code string) (*model.ActivationCode, error)
	// MarkUsed sets used_at only while it is still NULL. A false result means
	// another redemption consumed the code first.
	MarkUsed(ctx context.Context, tx Tx, id string, tenantID int64, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, tx Tx, code string, status model.CodeStatus) error
	ListByTier(ctx context.Context, tx Tx, tierID string, limit, offset int) ([]*model.ActivationCode, error)
}
