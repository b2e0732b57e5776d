package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
)

var _ repository.TierRepository = (*tierRepo)(nil)

type tierRepo struct {
	pool *pgxpool.Pool
}

func NewTierRepo(pool *pgxpool.Pool) repository.TierRepository {
	return &tierRepo{pool: pool}
}

const tierColumns = `id, name, price, duration_amount, duration_unit, refund_period_days, modules,
       max_sales_reps, max_contacts, storage_bytes, status, availability, created_at, updated_at`

func scanTier(row pgx.Row) (*model.Tier, error) {
	var (
		t                          model.Tier
		unit, status, availability string
		modules                    []string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Price, &t.Duration.Amount, &unit, &t.RefundPeriodDays, &modules,
		&t.Limits.MaxSalesReps, &t.Limits.MaxContacts, &t.Limits.StorageBytes,
		&status, &availability, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Duration.Unit = model.DurationUnit(unit)
	t.Status = model.TierStatus(status)
	t.Availability = model.TierAvailability(availability)
	t.Modules = make([]model.Module, len(modules))
	for i, m := range modules {
		t.Modules[i] = model.Module(m)
	}
	return &t, nil
}

func (r *tierRepo) Save(ctx context.Context, tx repository.Tx, tier *model.Tier) error {
	const q = `
INSERT INTO tiers (` + tierColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE
  SET name               = EXCLUDED.name,
      price              = EXCLUDED.price,
      duration_amount    = EXCLUDED.duration_amount,
      duration_unit      = EXCLUDED.duration_unit,
      refund_period_days = EXCLUDED.refund_period_days,
      modules            = EXCLUDED.modules,
      max_sales_reps     = EXCLUDED.max_sales_reps,
      max_contacts       = EXCLUDED.max_contacts,
      storage_bytes      = EXCLUDED.storage_bytes,
      status             = EXCLUDED.status,
      availability       = EXCLUDED.availability,
      updated_at         = EXCLUDED.updated_at;
`
	modules := make([]string, len(tier.Modules))
	for i, m := range tier.Modules {
		modules[i] = string(m)
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		tier.ID, tier.Name, tier.Price, tier.Duration.Amount, string(tier.Duration.Unit), tier.RefundPeriodDays, modules,
		tier.Limits.MaxSalesReps, tier.Limits.MaxContacts, tier.Limits.StorageBytes,
		string(tier.Status), string(tier.Availability), tier.CreatedAt, tier.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return mapErr("Save tier", err)
}

func (r *tierRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Tier, error) {
	const q = `SELECT ` + tierColumns + ` FROM tiers WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	t, err := scanTier(row)
	if err != nil {
		return nil, scanErr(err)
	}
	return t, nil
}

func (r *tierRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Tier, error) {
	const q = `SELECT ` + tierColumns + ` FROM tiers ORDER BY price, name;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, mapErr("ListAll tiers", err)
	}
	defer rows.Close()
	out := make([]*model.Tier, 0)
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, scanErr(err)
		}
		out = append(out, t)
	}
	return out, mapErr("ListAll tiers", rows.Err())
}
