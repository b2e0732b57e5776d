package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
)

var _ repository.InvoiceRepository = (*invoiceRepo)(nil)

type invoiceRepo struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepo(pool *pgxpool.Pool) repository.InvoiceRepository {
	return &invoiceRepo{pool: pool}
}

const invoiceColumns = `id, number, subscription_id, tenant_id, amount, status, due_date, created_at, updated_at`

func scanInvoice(row pgx.Row) (*model.Invoice, error) {
	var (
		inv    model.Invoice
		status string
	)
	if err := row.Scan(&inv.ID, &inv.Number, &inv.SubscriptionID, &inv.TenantID, &inv.Amount,
		&status, &inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	inv.Status = model.InvoiceStatus(status)
	return &inv, nil
}

// Save upserts by id; only the status and updated_at of an issued invoice change.
func (r *invoiceRepo) Save(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	const q = `
INSERT INTO invoices (` + invoiceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE
  SET status     = EXCLUDED.status,
      updated_at = EXCLUDED.updated_at;
`
	_, err := execSQL(ctx, r.pool, tx, q,
		inv.ID, inv.Number, inv.SubscriptionID, inv.TenantID, inv.Amount,
		string(inv.Status), inv.DueDate, inv.CreatedAt, inv.UpdatedAt,
	)
	return mapErr("Save invoice", err)
}

func (r *invoiceRepo) FindPendingBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.Invoice, error) {
	const q = `
SELECT ` + invoiceColumns + `
  FROM invoices
 WHERE subscription_id = $1 AND status = 'pending'
 ORDER BY created_at DESC
 LIMIT 1;
`
	row, err := pickRow(ctx, r.pool, tx, q, subscriptionID)
	if err != nil {
		return nil, err
	}
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, scanErr(err)
	}
	return inv, nil
}

func (r *invoiceRepo) ListByTenant(ctx context.Context, tx repository.Tx, tenantID int64, limit, offset int) ([]*model.Invoice, error) {
	const q = `
SELECT ` + invoiceColumns + `
  FROM invoices
 WHERE tenant_id = $1
 ORDER BY number DESC
 LIMIT $2 OFFSET $3;
`
	rows, err := queryRows(ctx, r.pool, tx, q, tenantID, limitOrAll(limit), offset)
	if err != nil {
		return nil, mapErr("ListByTenant invoices", err)
	}
	defer rows.Close()
	out := make([]*model.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, scanErr(err)
		}
		out = append(out, inv)
	}
	return out, mapErr("ListByTenant invoices", rows.Err())
}
