package repository

import (
	"context"

	"crm-licensing/internal/domain/model"
)

type InvoiceRepository interface {
	Save(ctx context.Context, tx Tx, inv *model.Invoice) error
	// FindPendingBySubscription returns the open checkout invoice or domain.ErrNotFound.
	FindPendingBySubscription(ctx context.Context, tx Tx, subscriptionID string) (*model.Invoice, error)
	ListByTenant(ctx context.Context, tx Tx, tenantID int64, limit, offset int) ([]*model.Invoice, error)
}
